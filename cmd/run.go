package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/browser/session"
	"github.com/xkilldash9x/rbaprobe/internal/config"
	"github.com/xkilldash9x/rbaprobe/internal/diagnostics"
	"github.com/xkilldash9x/rbaprobe/internal/orchestrator"
	"github.com/xkilldash9x/rbaprobe/internal/profile"
	"github.com/xkilldash9x/rbaprobe/internal/proxy"
	"github.com/xkilldash9x/rbaprobe/internal/results"
	"github.com/xkilldash9x/rbaprobe/internal/store"
)

var _ orchestrator.Page = (*session.Page)(nil)

// components builds the collaborators of a run. Tests swap in fakes.
type components interface {
	Browser(cfg config.Interface, logger *zap.Logger) orchestrator.Browser
	// Sink returns the result sink and a cleanup that flushes and closes it.
	Sink(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.ResultSink, func(), error)
}

type defaultComponents struct{}

func (defaultComponents) Browser(cfg config.Interface, logger *zap.Logger) orchestrator.Browser {
	launcher := session.NewLauncher(cfg.Browser(), logger)
	return orchestrator.BrowserFunc(func(ctx context.Context, p schemas.SessionProfile, proxy string) (orchestrator.Page, error) {
		page, err := launcher.Open(ctx, p, proxy)
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// Sink writes to the results directory and, when a DSN is configured, to
// PostgreSQL as well.
func (defaultComponents) Sink(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.ResultSink, func(), error) {
	files := results.NewFileSink(cfg.Output(), cfg.Logger(), logger)
	sinks := results.Multi{files}
	cleanup := func() {
		if err := files.Close(); err != nil {
			logger.Warn("Failed to close summary log.", zap.Error(err))
		}
	}

	if dsn := cfg.Output().PostgresDSN; dsn != "" {
		db, err := store.Connect(ctx, dsn, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to initialize result store: %w", err)
		}
		sinks = append(sinks, db)
		fileCleanup := cleanup
		cleanup = func() {
			db.Close()
			fileCleanup()
		}
	}
	return sinks, cleanup, nil
}

func newRunCmd(a *app, comps components) *cobra.Command {
	var scenarios []string
	var headless bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the login scenarios and records their outcomes",
		Long: `Runs every enabled scenario (normal, high_risk, new_device) in that order,
one fresh browsing context each, and records whether the provider raised a
verification challenge. --scenario restricts the run to the named user types.`,
		Example: `  rbaprobe run
  rbaprobe run --scenario high_risk --headless`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.BrowserCfg.Headless = headless
			}
			selected, err := selectScenarios(cfg.Scenarios(), scenarios)
			if err != nil {
				return err
			}
			return runScenarios(ctx, cmd, a.logger, cfg, selected, comps)
		},
	}
	runCmd.Flags().StringSliceVarP(&scenarios, "scenario", "s", nil, "user types to run (normal, high_risk, new_device); defaults to the enabled scenarios")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	return runCmd
}

// selectScenarios returns the requested user types in driver order, or the
// configured ones when none were requested.
func selectScenarios(sc config.ScenariosConfig, requested []string) ([]schemas.UserType, error) {
	if len(requested) == 0 {
		return sc.Enabled(), nil
	}
	want := make(map[schemas.UserType]bool, len(requested))
	for _, r := range requested {
		ut, err := schemas.ParseUserType(r)
		if err != nil {
			return nil, err
		}
		want[ut] = true
	}
	var out []schemas.UserType
	for _, ut := range schemas.ScenarioOrder {
		if want[ut] {
			out = append(out, ut)
		}
	}
	return out, nil
}

func runScenarios(ctx context.Context, cmd *cobra.Command, logger *zap.Logger, cfg *config.Config, scenarios []schemas.UserType, comps components) error {
	var rng *rand.Rand
	if seed := cfg.Behavior().Seed; seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	}

	ledger := proxy.NewLedger(cfg.Proxy().LedgerPath, cfg.Proxy().LedgerCap)
	proxies := proxy.NewProvider(cfg.Proxy(), ledger, rng, logger)
	profiles := profile.NewProvider(cfg.UserAgents(), rng)
	diag := diagnostics.NewSink(cfg.Output().ScreenshotsDir, logger)

	sink, cleanup, err := comps.Sink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := orchestrator.New(cfg, logger, comps.Browser(cfg, logger), profiles, proxies, diag)
	if err != nil {
		return err
	}
	driver := orchestrator.NewDriver(orch, sink, scenarios, cfg.Scenarios().Cooldown, logger)

	logger.Info("Starting RBA measurement.",
		zap.String("login_url", cfg.Target().LoginURL),
		zap.Int("scenarios", len(scenarios)),
		zap.Bool("proxy", cfg.Proxy().Active()),
	)
	outcomes, err := driver.RunAll(ctx)
	for _, o := range outcomes {
		fmt.Fprintln(cmd.OutOrStdout(), results.SummaryLine(o.FinishedAt, o.UserType, o))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Measurement interrupted.", zap.Int("completed", len(outcomes)))
		}
		return err
	}
	logger.Info("Measurement complete.", zap.Int("runs", len(outcomes)), zap.Duration("cooldown", cfg.Scenarios().Cooldown.Round(time.Second)))
	return nil
}
