package humanoid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// Keystroke is one planned key dispatch. Delay elapses before the key is
// sent; ThinkPause, when non-zero, elapses after it.
type Keystroke struct {
	Char       rune
	Delay      time.Duration
	ThinkPause time.Duration
}

// ActionPlan is the full keystroke schedule for one TypeText call.
type ActionPlan []Keystroke

// ThinkPauses counts the keystrokes followed by a think pause.
func (p ActionPlan) ThinkPauses() int {
	n := 0
	for _, k := range p {
		if k.ThinkPause > 0 {
			n++
		}
	}
	return n
}

// Total is the summed duration of all delays and pauses in the plan.
func (p ActionPlan) Total() time.Duration {
	var d time.Duration
	for _, k := range p {
		d += k.Delay + k.ThinkPause
	}
	return d
}

// PlanTyping draws the keystroke schedule for text. Each inter-key delay is an
// independent draw from [MinDelay, MaxDelay] scaled by KeyDelayFactor; with
// probability ThinkPauseProbability a longer pause follows the key.
func (h *Humanoid) PlanTyping(text string) ActionPlan {
	h.mu.Lock()
	defer h.mu.Unlock()

	keyLo, keyHi := h.scaled(h.cfg.KeyDelayFactor, h.cfg.KeyDelayFactor)
	thinkLo, thinkHi := h.scaled(h.cfg.ThinkPauseMinFactor, h.cfg.ThinkPauseMaxFactor)

	runes := []rune(text)
	plan := make(ActionPlan, 0, len(runes))
	for _, r := range runes {
		k := Keystroke{Char: r, Delay: h.uniformDuration(keyLo, keyHi)}
		if h.rng.Float64() < h.cfg.ThinkPauseProbability {
			k.ThinkPause = h.uniformDuration(thinkLo, thinkHi)
		}
		plan = append(plan, k)
	}
	return plan
}

// TypeText focuses target, clears it, and types text one key at a time
// following a freshly drawn ActionPlan.
func (h *Humanoid) TypeText(ctx context.Context, target schemas.ElementHandle, text string) error {
	if err := h.executor.Focus(ctx, target); err != nil {
		return fmt.Errorf("humanoid: failed to focus '%s': %w", target.Selector, err)
	}
	if err := h.focusSettle(ctx); err != nil {
		return err
	}
	if err := h.executor.Clear(ctx, target); err != nil {
		return fmt.Errorf("humanoid: failed to clear '%s': %w", target.Selector, err)
	}
	if err := h.focusSettle(ctx); err != nil {
		return err
	}

	plan := h.PlanTyping(text)
	h.logger.Debug("Typing.",
		zap.String("selector", target.Selector),
		zap.Int("keys", len(plan)),
		zap.Int("think_pauses", plan.ThinkPauses()),
		zap.Duration("planned", plan.Total()),
	)

	for _, k := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.sleep(ctx, k.Delay); err != nil {
			return err
		}
		if err := h.executor.SendKeys(ctx, string(k.Char)); err != nil {
			return fmt.Errorf("humanoid: failed to send key: %w", err)
		}
		if k.ThinkPause > 0 {
			if err := h.sleep(ctx, k.ThinkPause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Humanoid) focusSettle(ctx context.Context) error {
	h.mu.Lock()
	lo, hi := h.scaled(h.cfg.FocusSettleMinFactor, h.cfg.FocusSettleMaxFactor)
	d := h.uniformDuration(lo, hi)
	h.mu.Unlock()
	return h.sleep(ctx, d)
}
