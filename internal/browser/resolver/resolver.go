package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// DOM is the view of a browsing context the resolver needs. Implementations
// must honor ctx deadlines: the resolver bounds every call with one.
type DOM interface {
	// Frames lists the iframes of the top document in document order.
	Frames(ctx context.Context) ([]schemas.Frame, error)
	// QueryVisible waits until an element matching selector is attached and
	// visible in frame (nil for the top document) and returns the first one.
	QueryVisible(ctx context.Context, frame *schemas.Frame, selector string) (schemas.ElementHandle, error)
	// FindByText returns the first visible link, button or label whose text
	// contains label.
	FindByText(ctx context.Context, frame *schemas.Frame, label string) (schemas.ElementHandle, error)
	// Activate performs a plain click on the element.
	Activate(ctx context.Context, handle schemas.ElementHandle) error
}

const defaultFramePoll = 100 * time.Millisecond

// Resolver resolves semantic targets through ordered strategy lists.
type Resolver struct {
	dom       DOM
	logger    *zap.Logger
	group     singleflight.Group
	framePoll time.Duration
}

// New creates a Resolver working against dom.
func New(dom DOM, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		dom:       dom,
		logger:    logger.Named("resolver"),
		framePoll: defaultFramePoll,
	}
}

// Resolve tries strategies strictly in order and stops at the first one that
// yields a visible element. Each strategy runs under the smaller of its own
// timeout and what is left of budget; strategies that no longer fit in the
// budget are recorded as BudgetExhausted without being attempted.
//
// Concurrent calls for the same target share a single resolution, which runs
// under the context of the caller that started it. A caller that joined a
// resolution cut short by someone else's context resolves again under its
// own.
func (r *Resolver) Resolve(ctx context.Context, target string, strategies []Strategy, budget time.Duration) Result {
	for {
		v, _, shared := r.group.Do(target, func() (interface{}, error) {
			return r.resolve(ctx, target, strategies, budget), nil
		})
		res := v.(Result)
		if !shared {
			return res
		}
		if res.interrupted && ctx.Err() == nil {
			r.logger.Debug("Joined resolution was interrupted; retrying.", zap.String("target", target))
			continue
		}
		res.Trace = append([]Attempt(nil), res.Trace...)
		return res
	}
}

func (r *Resolver) resolve(ctx context.Context, target string, strategies []Strategy, budget time.Duration) Result {
	deadline := time.Now().Add(budget)
	res := Result{Target: target, StrategyIndex: -1, Trace: make([]Attempt, 0, len(strategies))}
	log := r.logger.With(zap.String("target", target))

	for i, s := range strategies {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			err := ErrBudgetExhausted
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ErrBudgetExhausted, ctx.Err())
			}
			res.Trace = append(res.Trace, Attempt{Strategy: s, Outcome: BudgetExhausted, Err: err})
			continue
		}

		timeout := s.Timeout
		if timeout <= 0 || timeout > remaining {
			timeout = remaining
		}

		att, handle, frame := r.attempt(ctx, s, timeout)
		res.Trace = append(res.Trace, att)

		if att.Outcome == Found {
			res.Found = true
			res.StrategyIndex = i
			res.Handle = handle
			res.Frame = frame
			log.Info("Target resolved.",
				zap.Int("strategy", i+1),
				zap.String("via", s.String()),
				zap.Duration("elapsed", att.Elapsed))
			return res
		}
		log.Debug("Strategy missed.",
			zap.Int("strategy", i+1),
			zap.String("via", s.String()),
			zap.Stringer("outcome", att.Outcome),
			zap.Error(att.Err))
	}

	res.interrupted = ctx.Err() != nil
	log.Warn("All strategies exhausted.",
		zap.Int("strategies", len(strategies)),
		zap.Int("attempted", res.Attempted()))
	return res
}

// attempt evaluates one strategy. Panics from the DOM are recovered into a
// Fault so a single broken scope cannot abort the resolution.
func (r *Resolver) attempt(ctx context.Context, s Strategy, timeout time.Duration) (att Attempt, handle schemas.ElementHandle, frame *schemas.Frame) {
	start := time.Now()
	att.Strategy = s

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			att.Outcome = Fault
			att.Err = fmt.Errorf("%w: panic: %v", ErrStrategyFailure, p)
			handle, frame = schemas.ElementHandle{}, nil
		}
		att.Elapsed = time.Since(start)
	}()

	frame, err := r.scope(sctx, s.Scope)
	if err == nil {
		handle, err = r.evaluate(sctx, s, frame, timeout)
	}

	switch {
	case err == nil:
		att.Outcome = Found
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFrameNotFound):
		att.Outcome = NotFound
		att.Err = fmt.Errorf("%w: %w", ErrStrategyFailure, err)
	case errors.Is(err, context.DeadlineExceeded):
		att.Outcome = Timeout
		att.Err = fmt.Errorf("%w: %w after %s: %w", ErrStrategyFailure, ErrWaitTimeout, timeout, err)
	default:
		att.Outcome = Fault
		att.Err = fmt.Errorf("%w: %w", ErrStrategyFailure, err)
	}
	return att, handle, frame
}

func (r *Resolver) evaluate(ctx context.Context, s Strategy, frame *schemas.Frame, timeout time.Duration) (schemas.ElementHandle, error) {
	if s.PreAction != nil {
		if err := r.preAction(ctx, s.PreAction, frame, timeout); err != nil {
			return schemas.ElementHandle{}, err
		}
	}
	if ft, ok := s.Scope.(FreeTextMatch); ok {
		return r.dom.FindByText(ctx, frame, ft.Label)
	}
	return r.dom.QueryVisible(ctx, frame, s.Selector)
}

// preAction clicks the pre-action element when it shows up in time and waits
// for the scope to settle. Only a failed click or a cancelled wait is an error.
func (r *Resolver) preAction(ctx context.Context, pa *PreAction, frame *schemas.Frame, timeout time.Duration) error {
	lookup := pa.Timeout
	if lookup <= 0 {
		lookup = timeout / 2
	}
	lctx, cancel := context.WithTimeout(ctx, lookup)
	el, err := r.dom.QueryVisible(lctx, frame, pa.Selector)
	cancel()
	if err != nil {
		r.logger.Debug("Pre-action element not present.", zap.String("selector", pa.Selector), zap.Error(err))
		return nil
	}
	if err := r.dom.Activate(ctx, el); err != nil {
		return fmt.Errorf("pre-action click on '%s': %w", pa.Selector, err)
	}
	if pa.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(pa.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// scope locates the frame a strategy runs in. Frames are polled until one
// matches or ctx expires, since login iframes are often injected late.
func (r *Resolver) scope(ctx context.Context, sc Scope) (*schemas.Frame, error) {
	var match func(schemas.Frame) bool
	switch s := sc.(type) {
	case NamedFrame:
		match = s.matches
	case FrameByURLSubstring:
		match = s.matches
	default:
		return nil, nil
	}

	for {
		frames, err := r.dom.Frames(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing frames: %w", err)
		}
		for i := range frames {
			if match(frames[i]) {
				f := frames[i]
				return &f, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, sc)
		case <-time.After(r.framePoll):
		}
	}
}
