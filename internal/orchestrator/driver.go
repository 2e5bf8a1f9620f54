package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// Runner performs a single login run.
type Runner interface {
	Run(ctx context.Context, userType schemas.UserType) schemas.LoginOutcome
}

var _ Runner = (*Orchestrator)(nil)

// Driver runs the enabled scenarios one after another, spaced by a cooldown,
// and hands every outcome to the result sink.
type Driver struct {
	runner    Runner
	results   schemas.ResultSink
	scenarios []schemas.UserType
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewDriver creates a Driver. A zero cooldown runs scenarios back to back.
func NewDriver(runner Runner, results schemas.ResultSink, scenarios []schemas.UserType, cooldown time.Duration, logger *zap.Logger) *Driver {
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	return &Driver{
		runner:    runner,
		results:   results,
		scenarios: scenarios,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.Named("driver"),
	}
}

// RunAll executes every scenario in order and returns the outcomes. Sink
// failures are logged and do not stop the sequence; a cancelled ctx does.
func (d *Driver) RunAll(ctx context.Context) ([]schemas.LoginOutcome, error) {
	if len(d.scenarios) == 0 {
		return nil, ErrNoScenarios
	}

	outcomes := make([]schemas.LoginOutcome, 0, len(d.scenarios))
	for i, ut := range d.scenarios {
		if err := d.limiter.Wait(ctx); err != nil {
			return outcomes, fmt.Errorf("waiting for cooldown before %s: %w", ut, err)
		}
		d.logger.Info("Starting scenario.", zap.Int("index", i+1), zap.Int("total", len(d.scenarios)), zap.String("user_type", string(ut)))

		out := d.runner.Run(ctx, ut)
		outcomes = append(outcomes, out)

		if d.results != nil {
			// Persist even when the run was cut short by cancellation.
			if err := d.results.Record(context.WithoutCancel(ctx), ut, out); err != nil {
				d.logger.Error("Failed to record outcome.", zap.String("run_id", out.RunID), zap.Error(err))
			}
		}
	}
	return outcomes, nil
}
