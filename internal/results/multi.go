package results

import (
	"context"
	"errors"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// Multi records every outcome in each of its sinks. All sinks are tried; the
// errors are joined.
type Multi []schemas.ResultSink

var _ schemas.ResultSink = Multi(nil)

// Record implements schemas.ResultSink.
func (m Multi) Record(ctx context.Context, userType schemas.UserType, o schemas.LoginOutcome) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, userType, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
