package humanoid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ScrollPass is one planned reading scroll: the page is moved linearly from
// its current offset to Target through Offsets, then rests for ReadPause.
type ScrollPass struct {
	From       float64
	Target     float64
	Offsets    []float64
	StepDelays []time.Duration
	ReadPause  time.Duration
}

// PlanScroll draws a complete scroll schedule for a document of the given
// height, starting at offset. Each pass is assumed to start where the
// previous one ended.
func (h *Humanoid) PlanScroll(extent, offset float64) []ScrollPass {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.intBetween(h.cfg.ScrollMinPasses, h.cfg.ScrollMaxPasses)
	passes := make([]ScrollPass, 0, n)
	for i := 0; i < n; i++ {
		p := h.planPass(offset, extent)
		passes = append(passes, p)
		offset = p.Target
	}
	return passes
}

// planPass draws a single pass. The target is uniform in
// [ScrollFloor, max(2*ScrollFloor, extent-ScrollBottomSlack)]. The caller
// must hold h.mu.
func (h *Humanoid) planPass(from, extent float64) ScrollPass {
	upper := int(extent) - h.cfg.ScrollBottomSlack
	if upper < 2*h.cfg.ScrollFloor {
		upper = 2 * h.cfg.ScrollFloor
	}
	target := float64(h.intBetween(h.cfg.ScrollFloor, upper))

	steps := h.intBetween(h.cfg.ScrollMinSteps, h.cfg.ScrollMaxSteps)
	pass := ScrollPass{
		From:       from,
		Target:     target,
		Offsets:    make([]float64, 0, steps),
		StepDelays: make([]time.Duration, 0, steps),
	}
	for i := 1; i <= steps; i++ {
		progress := float64(i) / float64(steps)
		pass.Offsets = append(pass.Offsets, from+(target-from)*progress)
		pass.StepDelays = append(pass.StepDelays, h.uniformDuration(h.cfg.ScrollStepMin, h.cfg.ScrollStepMax))
	}
	pass.ReadPause = h.uniformDuration(h.cfg.ReadPauseMin, h.cfg.ReadPauseMax)
	return pass
}

// ScrollRandomly performs one to three reading passes over the page, as
// planned by PlanScroll from the current scroll metrics. It is a no-op when
// scrolling is disabled.
func (h *Humanoid) ScrollRandomly(ctx context.Context) error {
	if !h.cfg.Scroll {
		return nil
	}

	extent, offset, err := h.executor.ScrollMetrics(ctx)
	if err != nil {
		return fmt.Errorf("humanoid: failed to read scroll metrics: %w", err)
	}

	for i, pass := range h.PlanScroll(extent, offset) {
		h.logger.Debug("Scroll pass.",
			zap.Int("pass", i+1),
			zap.Float64("from", pass.From),
			zap.Float64("target", pass.Target),
			zap.Int("steps", len(pass.Offsets)),
		)
		if err := h.runPass(ctx, pass); err != nil {
			return err
		}
	}
	return nil
}

func (h *Humanoid) runPass(ctx context.Context, pass ScrollPass) error {
	for j, y := range pass.Offsets {
		if err := h.executor.ScrollTo(ctx, y); err != nil {
			return fmt.Errorf("humanoid: scroll failed: %w", err)
		}
		if err := h.sleep(ctx, pass.StepDelays[j]); err != nil {
			return err
		}
	}
	return h.sleep(ctx, pass.ReadPause)
}
