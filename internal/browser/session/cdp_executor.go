package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/browser/humanoid"
)

var (
	mouseEventTimeout = 10 * time.Second
	keyEventTimeout   = 10 * time.Second
	geometryTimeout   = 10 * time.Second
	scriptTimeout     = 20 * time.Second
)

// ErrNotInteractable is returned when an element has no layout box.
var ErrNotInteractable = errors.New("session: element not visible or has no layout")

// cdpExecutor implements humanoid.Executor with chromedp actions. Every call
// goes through runActionsFunc, which binds the operational context to the tab.
type cdpExecutor struct {
	ctx            context.Context // the tab context
	logger         *zap.Logger
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

// Sleep pauses for d, respecting both contexts.
func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.runActionsFunc(ctx, chromedp.Sleep(d))
}

// DispatchMouseEvent dispatches a single mouse event via CDP.
func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))

	if data.Type == schemas.MouseWheel {
		p = p.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}

	opCtx, cancel := context.WithTimeout(ctx, mouseEventTimeout)
	defer cancel()

	err := e.runActionsFunc(opCtx, p)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		e.logger.Debug("Mouse event timed out.", zap.Duration("timeout", mouseEventTimeout))
		return fmt.Errorf("cdpExecutor DispatchMouseEvent timed out after %v: %w", mouseEventTimeout, opCtx.Err())
	}
	return err
}

// SendKeys types keys into the focused element.
func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, keyEventTimeout)
	defer cancel()

	err := e.runActionsFunc(opCtx, chromedp.KeyEvent(keys))
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		e.logger.Debug("Key event timed out.", zap.Duration("timeout", keyEventTimeout))
		return fmt.Errorf("cdpExecutor SendKeys timed out after %v: %w", keyEventTimeout, opCtx.Err())
	}
	return err
}

// Focus moves keyboard focus to the element. Node ids are global to the DOM
// agent, so this works for elements inside same-process iframes too.
func (e *cdpExecutor) Focus(ctx context.Context, target schemas.ElementHandle) error {
	node, err := nodeOf(target)
	if err != nil {
		return err
	}
	return e.runActionsFunc(ctx, dom.Focus().WithNodeID(node.NodeID))
}

// Clear empties an input's value and notifies the page.
func (e *cdpExecutor) Clear(ctx context.Context, target schemas.ElementHandle) error {
	node, err := nodeOf(target)
	if err != nil {
		return err
	}
	const clearJS = `function() { this.value = ''; this.dispatchEvent(new Event('input', {bubbles: true})); }`
	return e.runActionsFunc(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving node for clear: %w", err)
		}
		_, exc, err := runtime.CallFunctionOn(clearJS).WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("clearing element: %s", exc.Text)
		}
		return nil
	}))
}

// GetElementGeometry reads the element's first content quad. Quads are in
// top-level viewport coordinates, which is what mouse events expect.
func (e *cdpExecutor) GetElementGeometry(ctx context.Context, target schemas.ElementHandle) (*schemas.ElementGeometry, error) {
	node, err := nodeOf(target)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, geometryTimeout)
	defer cancel()

	var quads []dom.Quad
	err = e.runActionsFunc(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		quads, err = dom.GetContentQuads().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout getting geometry for '%s': %w", target.Selector, opCtx.Err())
		}
		return nil, fmt.Errorf("failed to get content quads for '%s': %w", target.Selector, err)
	}

	geo := geometryFromQuads(quads)
	if geo == nil {
		return nil, fmt.Errorf("element '%s': %w", target.Selector, ErrNotInteractable)
	}
	geo.TagName = node.NodeName
	geo.Type = node.AttributeValue("type")
	return geo, nil
}

// ScrollMetrics reports the scrollable height of the top document and the
// current vertical offset.
func (e *cdpExecutor) ScrollMetrics(ctx context.Context) (extent float64, offset float64, err error) {
	opCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	var res []float64
	const script = `[Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0), window.scrollY]`
	if err := e.runActionsFunc(opCtx, chromedp.Evaluate(script, &res)); err != nil {
		return 0, 0, fmt.Errorf("reading scroll metrics: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected scroll metrics payload: %v", res)
	}
	return res[0], res[1], nil
}

// ScrollTo scrolls the top document to the vertical offset y.
func (e *cdpExecutor) ScrollTo(ctx context.Context, y float64) error {
	opCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	return e.runActionsFunc(opCtx, chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", int64(math.Round(y))), nil))
}

// geometryFromQuads builds geometry from the first quad with a non-zero area.
func geometryFromQuads(quads []dom.Quad) *schemas.ElementGeometry {
	for _, q := range quads {
		if len(q) != 8 {
			continue
		}
		minX, maxX := math.Min(math.Min(q[0], q[2]), math.Min(q[4], q[6])), math.Max(math.Max(q[0], q[2]), math.Max(q[4], q[6]))
		minY, maxY := math.Min(math.Min(q[1], q[3]), math.Min(q[5], q[7])), math.Max(math.Max(q[1], q[3]), math.Max(q[5], q[7]))
		w, h := int64(math.Round(maxX-minX)), int64(math.Round(maxY-minY))
		if w <= 0 || h <= 0 {
			continue
		}
		return &schemas.ElementGeometry{
			Vertices: append([]float64(nil), q...),
			Width:    w,
			Height:   h,
		}
	}
	return nil
}

// nodeOf extracts the CDP node carried by a handle.
func nodeOf(h schemas.ElementHandle) (*cdp.Node, error) {
	node, ok := h.Ref.(*cdp.Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("session: handle for '%s' carries no DOM node", h.Selector)
	}
	return node, nil
}
