package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
	"github.com/xkilldash9x/rbaprobe/internal/results"
	"github.com/xkilldash9x/rbaprobe/internal/store"
)

// outcomeReader is the read side of the result store.
type outcomeReader interface {
	Recent(ctx context.Context, limit int) ([]schemas.LoginOutcome, error)
}

// storeProvider opens the result store. Tests inject a fake instead of a
// live database.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (outcomeReader, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that connects to PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (outcomeReader, func(), error) {
	dsn := cfg.Output().PostgresDSN
	if dsn == "" {
		return nil, nil, fmt.Errorf("database DSN is not configured (RBAPROBE_OUTPUT_POSTGRES_DSN)")
	}
	s, err := store.Connect(ctx, dsn, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to result store: %w", err)
	}
	return s, s.Close, nil
}

func newResultsCmd(a *app, provider storeProvider) *cobra.Command {
	var (
		limit  int
		fromDB bool
		follow bool
	)
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Prints recorded outcomes",
		Long: `Prints one summary line per recorded run, newest last. Records are read from
the results directory, or from PostgreSQL with --db. --follow keeps printing
new summary lines as runs finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var outcomes []schemas.LoginOutcome
			if fromDB {
				outcomes, err = recentFromStore(ctx, cfg, a.logger, provider, limit)
			} else {
				outcomes, err = recentFromFiles(cfg.Output().ResultsDir, limit)
			}
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				fmt.Fprintln(out, results.SummaryLine(o.FinishedAt, o.UserType, o))
			}

			if follow {
				return followSummary(ctx, cfg.Output().SummaryLog, out, false)
			}
			return nil
		},
	}
	resultsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "outcomes to show")
	resultsCmd.Flags().BoolVar(&fromDB, "db", false, "read from the PostgreSQL result store")
	resultsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing summary lines as they are written")
	return resultsCmd
}

func recentFromFiles(dir string, limit int) ([]schemas.LoginOutcome, error) {
	all, err := results.Load(dir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func recentFromStore(ctx context.Context, cfg config.Interface, logger *zap.Logger, provider storeProvider, limit int) ([]schemas.LoginOutcome, error) {
	reader, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	recent, err := reader.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	// Recent is newest first; print oldest first like the files.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// followSummary copies lines appended to the summary log to w until ctx ends.
func followSummary(ctx context.Context, path string, w io.Writer, fromStart bool) error {
	whence := io.SeekEnd
	if fromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow summary log: %w", err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
