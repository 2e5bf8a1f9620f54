// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"time"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// Controller defines the high-level interface for human-like interactions.
// This is the interface implemented by the Humanoid struct itself.
type Controller interface {
	TypeText(ctx context.Context, target schemas.ElementHandle, text string) error
	ClickWithJitter(ctx context.Context, target schemas.ElementHandle) error
	MoveTo(ctx context.Context, end Vector2D) error
	ScrollRandomly(ctx context.Context) error
	RandomDelay(ctx context.Context, minFactor, maxFactor float64) error
}

var _ Controller = (*Humanoid)(nil)

// Executor defines the low-level interface required by the Humanoid controller.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	// SendKeys dispatches the key events for keys to the focused element.
	SendKeys(ctx context.Context, keys string) error
	Focus(ctx context.Context, target schemas.ElementHandle) error
	Clear(ctx context.Context, target schemas.ElementHandle) error
	GetElementGeometry(ctx context.Context, target schemas.ElementHandle) (*schemas.ElementGeometry, error)
	// ScrollMetrics returns the scrollable document height and the current
	// vertical offset.
	ScrollMetrics(ctx context.Context) (extent, offset float64, err error)
	ScrollTo(ctx context.Context, y float64) error
}
