package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/rbaprobe/internal/config"
	"github.com/xkilldash9x/rbaprobe/internal/observability"
)

const envPrefix = "RBAPROBE"

type contextKey string

const configKey contextKey = "config"

// app carries what PersistentPreRunE sets up for the subcommands.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
	closer io.Closer
}

func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
		a.closer = nil
	}
}

// NewRootCommand builds the command tree. Every call returns an independent
// tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	return newRootCmd(defaultComponents{}, NewStoreProvider())
}

func newRootCmd(comps components, provider storeProvider) *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)
	var cfgFile string

	root := &cobra.Command{
		Use:   "rbaprobe",
		Short: "Measures when a login provider's risk-based authentication steps in.",
		Long: `rbaprobe drives a real browser through the login flow of a web mail provider
as different simulated user classes (normal, high risk, new device) and records
whether a verification challenge was raised.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(a.v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(a.v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			a.cfg = cfg
			a.logger, a.closer = observability.NewLogger(cfg.Logger(), zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
			a.logger.Debug("Starting rbaprobe.", zap.String("version", Version))
			for _, w := range cfg.Warnings() {
				a.logger.Warn(w)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newRunCmd(a, comps),
		newProfilesCmd(),
		newProxyCmd(a),
		newResultsCmd(a, provider),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree with ctx, which main cancels on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// initializeConfig reads the config file, if any, and binds RBAPROBE_*
// environment variables (e.g. RBAPROBE_CREDENTIALS_PASSWORD).
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
