package cmd

import (
	"fmt"
	"math/rand"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/profile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newProfilesCmd() *cobra.Command {
	var samples int
	var seed int64

	profilesCmd := &cobra.Command{
		Use:   "profiles [user_type...]",
		Short: "Prints sample session profiles for each user type",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			types := schemas.ScenarioOrder
			if len(args) > 0 {
				types = nil
				for _, arg := range args {
					ut, err := schemas.ParseUserType(arg)
					if err != nil {
						return err
					}
					types = append(types, ut)
				}
			}
			if samples < 1 {
				return fmt.Errorf("--samples must be at least 1")
			}

			var rng *rand.Rand
			if seed != 0 {
				rng = rand.New(rand.NewSource(seed))
			}
			provider := profile.NewProvider(cfg.UserAgents(), rng)

			out := make(map[schemas.UserType][]schemas.SessionProfile, len(types))
			for _, ut := range types {
				for i := 0; i < samples; i++ {
					out[ut] = append(out[ut], provider.ContextOptions(ut))
				}
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding profiles: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	profilesCmd.Flags().IntVarP(&samples, "samples", "n", 1, "profiles to draw per user type")
	profilesCmd.Flags().Int64Var(&seed, "seed", 0, "fix the random source (0 seeds from the clock)")
	return profilesCmd
}
