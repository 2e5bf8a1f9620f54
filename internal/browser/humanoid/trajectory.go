package humanoid

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// TrajectoryPoint is one intermediate pointer position. Progress is the eased
// progress along the path, in (0, 1].
type TrajectoryPoint struct {
	X        float64
	Y        float64
	Progress float64
	Delay    time.Duration
}

// Vector returns the point's coordinates.
func (p TrajectoryPoint) Vector() Vector2D {
	return Vector2D{X: p.X, Y: p.Y}
}

// easeOutQuad decelerates towards the target: e = p(2-p).
func easeOutQuad(p float64) float64 {
	return p * (2 - p)
}

// Trajectory synthesizes the pointer path from start to end. The step count is
// drawn from [TrajectoryMinSteps, TrajectoryMaxSteps]; each point is the eased
// interpolation plus Gaussian noise whose standard deviation on each axis is
// NoiseRatio times the distance covered on that axis.
func (h *Humanoid) Trajectory(start, end Vector2D) []TrajectoryPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.intBetween(h.cfg.TrajectoryMinSteps, h.cfg.TrajectoryMaxSteps)
	if n < 1 {
		n = 1
	}
	span := end.Sub(start)
	sigma := span.Abs().Mul(h.cfg.NoiseRatio)

	points := make([]TrajectoryPoint, 0, n)
	for i := 1; i <= n; i++ {
		e := easeOutQuad(float64(i) / float64(n))
		base := start.Add(span.Mul(e))
		points = append(points, TrajectoryPoint{
			X:        base.X + h.rng.NormFloat64()*sigma.X,
			Y:        base.Y + h.rng.NormFloat64()*sigma.Y,
			Progress: e,
			Delay:    h.uniformDuration(h.cfg.StepDelayMin, h.cfg.StepDelayMax),
		})
	}
	return points
}

// MoveTo moves the pointer from its remembered position to end along a
// synthesized trajectory and returns once the last point has been dispatched.
func (h *Humanoid) MoveTo(ctx context.Context, end Vector2D) error {
	_, err := h.moveAlong(ctx, h.Trajectory(h.Position(), end))
	return err
}

// moveAlong dispatches a pointer move for every point and returns the
// terminal position. The remembered position tracks every dispatched point.
func (h *Humanoid) moveAlong(ctx context.Context, points []TrajectoryPoint) (Vector2D, error) {
	last := h.Position()
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		ev := schemas.MouseEventData{
			Type:   schemas.MouseMove,
			X:      p.X,
			Y:      p.Y,
			Button: schemas.ButtonNone,
		}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return last, fmt.Errorf("humanoid: pointer move failed: %w", err)
		}
		last = p.Vector()
		h.setPosition(last)
		if err := h.sleep(ctx, p.Delay); err != nil {
			return last, err
		}
	}
	return last, nil
}
