package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/browser/resolver"
)

// Page is one isolated browsing context: its own browser process, one tab and
// the emulated session profile. It implements resolver.DOM and
// humanoid.Executor.
type Page struct {
	*cdpExecutor

	ctx         context.Context // tab context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
	idle        *idleTracker

	closeOnce sync.Once
	closeErr  error
}

var _ resolver.DOM = (*Page)(nil)

func newPage(tabCtx context.Context, cancelTab, cancelAlloc context.CancelFunc, logger *zap.Logger) *Page {
	p := &Page{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		idle:        newIdleTracker(),
	}
	p.cdpExecutor = &cdpExecutor{ctx: tabCtx, logger: logger, runActionsFunc: p.RunActions}
	return p
}

// RunActions runs chromedp actions on the tab, bounded by ctx. When ctx ends
// first its own error is returned so callers can tell a deadline from a
// protocol failure.
func (p *Page) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	err := chromedp.Run(combined, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	return err
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.idle.reset()
	if err := p.RunActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// WaitNetworkIdle blocks until the main frame reports network idle or ctx ends.
func (p *Page) WaitNetworkIdle(ctx context.Context) error {
	select {
	case <-p.idle.wait():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for network idle: %w", ctx.Err())
	}
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// HasText reports whether text is part of the rendered text of the top document.
func (p *Page) HasText(ctx context.Context, text string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`!!document.body && document.body.innerText.includes(%s)`, jsString(text))
	if err := p.RunActions(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab and terminates the browser. It is safe to call more
// than once; later calls return the first result.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				p.closeErr = fmt.Errorf("closing tab: %w", err)
			}
		case <-ctx.Done():
			p.closeErr = fmt.Errorf("closing tab: %w", ctx.Err())
		}
		p.cancelTab()
		p.cancelAlloc()
		p.logger.Debug("Browsing context closed.", zap.Error(p.closeErr))
	})
	return p.closeErr
}

// -- resolver.DOM --

// Frames lists the iframes of the top document. Src prefers the loaded
// document URL since login frames redirect after insertion.
func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	var nodes []*cdp.Node
	if err := p.RunActions(ctx, chromedp.Nodes("iframe", &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	frames := make([]schemas.Frame, 0, len(nodes))
	for _, n := range nodes {
		src := n.AttributeValue("src")
		if n.ContentDocument != nil && n.ContentDocument.DocumentURL != "" {
			src = n.ContentDocument.DocumentURL
		}
		frames = append(frames, schemas.Frame{
			ID:   n.AttributeValue("id"),
			Name: n.AttributeValue("name"),
			Src:  src,
			Ref:  n,
		})
	}
	return frames, nil
}

// QueryVisible waits for the first element matching selector to be visible.
func (p *Page) QueryVisible(ctx context.Context, frame *schemas.Frame, selector string) (schemas.ElementHandle, error) {
	opts := []chromedp.QueryOption{chromedp.ByQuery, chromedp.NodeVisible}
	return p.query(ctx, frame, selector, selector, opts)
}

// FindByText waits for a visible link, button or label whose own text
// contains label. XPath search runs over the whole document, so frame is
// not used as a query root.
func (p *Page) FindByText(ctx context.Context, _ *schemas.Frame, label string) (schemas.ElementHandle, error) {
	opts := []chromedp.QueryOption{chromedp.BySearch, chromedp.NodeVisible}
	return p.query(ctx, nil, textXPath(label), "text="+label, opts)
}

func (p *Page) query(ctx context.Context, frame *schemas.Frame, sel, label string, opts []chromedp.QueryOption) (schemas.ElementHandle, error) {
	if frame != nil {
		fnode, ok := frame.Ref.(*cdp.Node)
		if !ok || fnode == nil {
			return schemas.ElementHandle{}, fmt.Errorf("frame %s carries no DOM node", frame.Describe())
		}
		opts = append(opts, chromedp.FromNode(fnode))
	}
	var nodes []*cdp.Node
	if err := p.RunActions(ctx, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return schemas.ElementHandle{}, err
	}
	if len(nodes) == 0 {
		return schemas.ElementHandle{}, resolver.ErrNotFound
	}
	return schemas.ElementHandle{Selector: label, Frame: frame, Ref: nodes[0]}, nil
}

// Activate clicks the element at the centre of its box.
func (p *Page) Activate(ctx context.Context, h schemas.ElementHandle) error {
	node, err := nodeOf(h)
	if err != nil {
		return err
	}
	return p.RunActions(ctx, chromedp.MouseClickNode(node))
}

// -- helpers --

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

// textXPath matches clickable elements whose direct text contains label.
func textXPath(label string) string {
	lit := xpathLiteral(label)
	return fmt.Sprintf(`//*[self::a or self::button or self::label or self::span or @role="button" or @role="tab"][contains(normalize-space(text()), %s)]`, lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	// Empty parts around a quote are dropped; concat needs no "" operands.
	var args []string
	for i, part := range strings.Split(s, `"`) {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if part != "" {
			args = append(args, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// idleTracker follows the main frame's lifecycle events.
type idleTracker struct {
	mu        sync.Mutex
	mainFrame cdp.FrameID
	ch        chan struct{}
	done      bool
}

func newIdleTracker() *idleTracker {
	return &idleTracker{ch: make(chan struct{})}
}

func (t *idleTracker) setMainFrame(id cdp.FrameID) {
	t.mu.Lock()
	t.mainFrame = id
	t.mu.Unlock()
}

func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		t.ch = make(chan struct{})
		t.done = false
	}
}

func (t *idleTracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

// handle consumes a lifecycle event. "init" starts a new document and
// "networkIdle" completes it.
func (t *idleTracker) handle(ev *page.EventLifecycleEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mainFrame != "" && ev.FrameID != t.mainFrame {
		return
	}
	switch ev.Name {
	case "init":
		if t.done {
			t.ch = make(chan struct{})
			t.done = false
		}
	case "networkIdle":
		if !t.done {
			close(t.ch)
			t.done = true
		}
	}
}
