package humanoid

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RandomDelay pauses for a duration drawn uniformly from
// [MinDelay*minFactor, MaxDelay*maxFactor]. It is the settle delay used
// between steps.
func (h *Humanoid) RandomDelay(ctx context.Context, minFactor, maxFactor float64) error {
	h.mu.Lock()
	lo, hi := h.scaled(minFactor, maxFactor)
	d := h.uniformDuration(lo, hi)
	h.mu.Unlock()

	h.logger.Debug("Settle delay.", zap.Duration("delay", d))
	return h.executor.Sleep(ctx, d)
}

// Wander moves the pointer to a random point inside a width x height
// viewport. It is a no-op when mouse jitter is disabled.
func (h *Humanoid) Wander(ctx context.Context, width, height float64) error {
	if !h.cfg.MouseJitter || width <= 0 || height <= 0 {
		return nil
	}
	h.mu.Lock()
	// Keep clear of the window edges.
	target := Vector2D{
		X: width * (0.1 + 0.8*h.rng.Float64()),
		Y: height * (0.1 + 0.8*h.rng.Float64()),
	}
	h.mu.Unlock()
	return h.MoveTo(ctx, target)
}

func (h *Humanoid) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return h.executor.Sleep(ctx, d)
}
