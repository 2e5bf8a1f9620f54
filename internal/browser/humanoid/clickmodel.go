package humanoid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// ClickWithJitter clicks target. With jitter enabled the click point is drawn
// from the central 40% of the element box on each axis and reached along a
// synthesized trajectory from the remembered pointer position. Without jitter
// the element centre is clicked directly.
func (h *Humanoid) ClickWithJitter(ctx context.Context, target schemas.ElementHandle) error {
	geo, err := h.executor.GetElementGeometry(ctx, target)
	if err != nil {
		return fmt.Errorf("humanoid: failed to get geometry for '%s': %w", target.Selector, err)
	}

	// Without jitter the click is a single press and release at the centre,
	// with no travel. The executor only dispatches at coordinates, so the
	// centre still comes from the element's geometry.
	if !h.cfg.MouseJitter {
		cx, cy := geo.Center()
		center := Vector2D{X: cx, Y: cy}
		h.setPosition(center)
		return h.press(ctx, center)
	}

	ox, oy := geo.Origin()
	bounds := box{
		Min: Vector2D{X: ox, Y: oy},
		Max: Vector2D{X: ox + float64(geo.Width), Y: oy + float64(geo.Height)},
	}
	aim := h.samplePoint(bounds)

	terminal, err := h.moveAlong(ctx, h.Trajectory(h.Position(), aim))
	if err != nil {
		return err
	}
	// Noise can carry the last step off a small control. The pointer then moves
	// on to the aim point and the press happens there.
	if !bounds.Contains(terminal) {
		h.logger.Debug("Correcting overshoot.", zap.String("selector", target.Selector))
		if terminal, err = h.moveAlong(ctx, []TrajectoryPoint{{X: aim.X, Y: aim.Y, Progress: 1}}); err != nil {
			return err
		}
	}
	return h.press(ctx, terminal)
}

// samplePoint picks a point at 0.3-0.7 of the box width and height.
func (h *Humanoid) samplePoint(b box) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := b.Size()
	return Vector2D{
		X: b.Min.X + size.X*(0.3+0.4*h.rng.Float64()),
		Y: b.Min.Y + size.Y*(0.3+0.4*h.rng.Float64()),
	}
}

// press dispatches a left button press and release at p with a short hold.
func (h *Humanoid) press(ctx context.Context, p Vector2D) error {
	down := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          p.X,
		Y:          p.Y,
		Button:     schemas.ButtonLeft,
		ClickCount: 1,
		Buttons:    1, // Bitfield: left button held.
	}
	if err := h.executor.DispatchMouseEvent(ctx, down); err != nil {
		return fmt.Errorf("humanoid: mouse press failed: %w", err)
	}

	h.mu.Lock()
	hold := h.uniformDuration(h.cfg.ClickHoldMin, h.cfg.ClickHoldMax)
	h.mu.Unlock()
	holdErr := h.sleep(ctx, hold)

	up := down
	up.Type = schemas.MouseRelease
	up.Buttons = 0
	// Release even if the hold was interrupted so the page never sees a stuck button.
	releaseCtx := ctx
	if holdErr != nil {
		releaseCtx = context.WithoutCancel(ctx)
	}
	if err := h.executor.DispatchMouseEvent(releaseCtx, up); err != nil {
		return fmt.Errorf("humanoid: mouse release failed: %w", err)
	}
	return holdErr
}
