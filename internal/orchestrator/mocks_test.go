package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/browser/resolver"
)

const oauthURL = "https://graph.qq.com/oauth2.0/authorize?response_type=code&client_id=101234"

// fakePage is an in-memory login surface. Elements are keyed by frame label
// and selector; clicking the submit button flips the page into its
// post-login state.
type fakePage struct {
	mu sync.Mutex

	frames   []schemas.Frame
	visible  map[string]bool
	texts    map[string]bool
	title    string
	navBlock bool
	navErr   error
	// panicOnKeys panics inside SendKeys.
	panicOnKeys bool
	// hangReads makes Title and HasText block until ctx is done.
	hangReads bool

	// Post-submit state.
	submitted      bool
	afterTitle     string
	afterText      string
	lastGeometry   string
	focused        string
	typed          map[string]string
	pressed        []string
	navigatedTo    string
	screenshots    int
	closed         int
	activatedNodes []string
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: map[string]bool{},
		texts:   map[string]bool{},
		typed:   map[string]string{},
		title:   "QQ邮箱",
	}
}

// oauthPage models the surface where only the OAuth frame carries the form.
func oauthPage() *fakePage {
	p := newFakePage()
	frame := schemas.Frame{Name: "ptlogin_iframe", Src: oauthURL}
	p.frames = []schemas.Frame{frame}
	for _, sel := range []string{toggleSelector, "#u", "#p", "#login_button"} {
		p.visible[key(&frame, sel)] = true
	}
	p.afterTitle = "QQ邮箱 - 收件箱"
	return p
}

func key(frame *schemas.Frame, selector string) string {
	return frame.Describe() + "|" + selector
}

func (p *fakePage) Frames(ctx context.Context) ([]schemas.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.Frame(nil), p.frames...), nil
}

func (p *fakePage) QueryVisible(ctx context.Context, frame *schemas.Frame, selector string) (schemas.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible[key(frame, selector)] {
		return schemas.ElementHandle{Selector: selector, Frame: frame}, nil
	}
	return schemas.ElementHandle{}, resolver.ErrNotFound
}

func (p *fakePage) FindByText(ctx context.Context, frame *schemas.Frame, label string) (schemas.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.texts[label] {
		return schemas.ElementHandle{Selector: "text=" + label}, nil
	}
	return schemas.ElementHandle{}, resolver.ErrNotFound
}

func (p *fakePage) Activate(ctx context.Context, h schemas.ElementHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activatedNodes = append(p.activatedNodes, key(h.Frame, h.Selector))
	return nil
}

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (p *fakePage) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if data.Type != schemas.MousePress {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, p.lastGeometry)
	switch p.lastGeometry {
	case "#login_button":
		p.submitted = true
	case toggleSelector:
		// The switcher hides itself once password mode is on.
		for k := range p.visible {
			if strings.HasSuffix(k, "|"+toggleSelector) {
				delete(p.visible, k)
			}
		}
	}
	return nil
}

func (p *fakePage) SendKeys(ctx context.Context, keys string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnKeys {
		panic("renderer crashed")
	}
	p.typed[p.focused] += keys
	return nil
}

func (p *fakePage) Focus(ctx context.Context, h schemas.ElementHandle) error {
	p.mu.Lock()
	p.focused = h.Selector
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Clear(ctx context.Context, h schemas.ElementHandle) error {
	p.mu.Lock()
	delete(p.typed, h.Selector)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) GetElementGeometry(ctx context.Context, h schemas.ElementHandle) (*schemas.ElementGeometry, error) {
	p.mu.Lock()
	p.lastGeometry = h.Selector
	p.mu.Unlock()
	return &schemas.ElementGeometry{
		Vertices: []float64{400, 300, 600, 300, 600, 340, 400, 340},
		Width:    200,
		Height:   40,
		TagName:  "INPUT",
	}, nil
}

func (p *fakePage) ScrollMetrics(ctx context.Context) (float64, float64, error) {
	return 2000, 0, nil
}

func (p *fakePage) ScrollTo(ctx context.Context, y float64) error { return nil }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigatedTo = url
	block, err := p.navBlock, p.navErr
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context) error { return ctx.Err() }

func (p *fakePage) hang(ctx context.Context) error {
	p.mu.Lock()
	hang := p.hangReads
	p.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Title(ctx context.Context) (string, error) {
	if err := p.hang(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitted && p.afterTitle != "" {
		return p.afterTitle, nil
	}
	return p.title, nil
}

func (p *fakePage) HasText(ctx context.Context, text string) (bool, error) {
	if err := p.hang(ctx); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted && p.afterText == text, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	p.screenshots++
	p.mu.Unlock()
	return []byte("\x89PNG"), nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) typedInto(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

func (p *fakePage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeBrowser hands out a single page and remembers how it was opened.
type fakeBrowser struct {
	page    *fakePage
	err     error
	proxy   string
	profile schemas.SessionProfile
	opened  int
}

func (b *fakeBrowser) Open(ctx context.Context, profile schemas.SessionProfile, proxy string) (Page, error) {
	b.opened++
	b.profile, b.proxy = profile, proxy
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

type fakeProfiles struct{}

func (fakeProfiles) ContextOptions(userType schemas.UserType) schemas.SessionProfile {
	return schemas.SessionProfile{
		Viewport:   schemas.Viewport{Width: 1366, Height: 768},
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		Platform:   "Windows",
		TimezoneID: "Asia/Shanghai",
		Locale:     "zh-CN",
	}
}

type fakeProxies struct {
	endpoint string
	ok       bool
	err      error
}

func (f fakeProxies) ProxyForRun(userType schemas.UserType) (string, bool, error) {
	return f.endpoint, f.ok, f.err
}

// fakeDiagnostics records snapshot names and events.
type fakeDiagnostics struct {
	mu     sync.Mutex
	shots  []string
	events []string
}

func (d *fakeDiagnostics) Capture(ctx context.Context, name string, src schemas.Snapshotter) (string, error) {
	if _, err := src.Screenshot(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots = append(d.shots, name)
	return "screenshots/" + name + ".png", nil
}

func (d *fakeDiagnostics) LogEvent(level zapcore.Level, message string, fields ...zap.Field) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, level.String()+": "+message)
}

func (d *fakeDiagnostics) snapshots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.shots...)
}

// fakeRunner stands in for the orchestrator in driver tests.
type fakeRunner struct {
	mu    sync.Mutex
	calls []schemas.UserType
	at    []time.Time
}

func (r *fakeRunner) Run(ctx context.Context, userType schemas.UserType) schemas.LoginOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userType)
	r.at = append(r.at, time.Now())
	return schemas.LoginOutcome{
		RunID:    string(userType) + "-run",
		UserType: userType,
		Kind:     schemas.OutcomeSuccess,
		Success:  true,
		Details:  schemas.NewDetails(),
	}
}

// fakeSink records outcomes and can be made to fail.
type fakeSink struct {
	mu       sync.Mutex
	recorded []schemas.UserType
	ctxErrs  []error
	err      error
}

func (s *fakeSink) Record(ctx context.Context, userType schemas.UserType, outcome schemas.LoginOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, userType)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

var errBoom = errors.New("boom")
