// Package orchestrator runs one login per simulated user class and classifies
// whether the provider's risk-based authentication stepped in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/browser/humanoid"
	"github.com/xkilldash9x/rbaprobe/internal/browser/resolver"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

// Page is one isolated browsing context.
type Page interface {
	resolver.DOM
	humanoid.Executor
	Navigate(ctx context.Context, url string) error
	WaitNetworkIdle(ctx context.Context) error
	Title(ctx context.Context) (string, error)
	HasText(ctx context.Context, text string) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Browser opens browsing contexts. proxy is empty for a direct connection.
type Browser interface {
	Open(ctx context.Context, profile schemas.SessionProfile, proxy string) (Page, error)
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context, profile schemas.SessionProfile, proxy string) (Page, error)

// Open implements Browser.
func (f BrowserFunc) Open(ctx context.Context, profile schemas.SessionProfile, proxy string) (Page, error) {
	return f(ctx, profile, proxy)
}

// Settle delays, as factors of the behavior's MinDelay and MaxDelay.
var (
	settleAfterLoad   = [2]float64{5, 8}
	settleAfterClick  = [2]float64{1, 2}
	settleAfterField  = [2]float64{1, 1}
	settleAfterSubmit = [2]float64{2, 5}
)

const defaultCloseTimeout = 10 * time.Second

// Orchestrator runs login attempts. It holds no per-run state; every Run
// owns its browsing context, resolver and humanoid.
type Orchestrator struct {
	creds        config.CredentialsConfig
	target       config.TargetConfig
	markers      config.MarkersConfig
	behavior     humanoid.Config
	closeTimeout time.Duration
	targets      Targets

	browser     Browser
	profiles    schemas.SessionProfileProvider
	proxies     schemas.ProxyProvider
	diagnostics schemas.DiagnosticsSink
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an Orchestrator. diagnostics may be nil.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	browser Browser,
	profiles schemas.SessionProfileProvider,
	proxies schemas.ProxyProvider,
	diagnostics schemas.DiagnosticsSink,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || browser == nil || profiles == nil || proxies == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	closeTimeout := cfg.Browser().CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	return &Orchestrator{
		creds:        cfg.Credentials(),
		target:       cfg.Target(),
		markers:      cfg.Markers(),
		behavior:     humanoid.ConfigFromBehavior(cfg.Behavior()),
		closeTimeout: closeTimeout,
		targets:      NewTargets(cfg.Target().StrategyTimeout),
		browser:      browser,
		profiles:     profiles,
		proxies:      proxies,
		diagnostics:  diagnostics,
		logger:       logger.Named("orchestrator"),
		now:          time.Now,
	}, nil
}

// run is the state of one login attempt.
type run struct {
	o        *Orchestrator
	userType schemas.UserType
	log      *zap.Logger
	out      schemas.LoginOutcome
	profile  schemas.SessionProfile

	page     Page
	resolver *resolver.Resolver
	human    *humanoid.Humanoid
}

// Run performs one login as userType. It never returns an error and never
// panics: every failure is folded into the outcome. The browsing context is
// closed on every path.
func (o *Orchestrator) Run(ctx context.Context, userType schemas.UserType) (outcome schemas.LoginOutcome) {
	r := &run{o: o, userType: userType}
	r.out = schemas.LoginOutcome{
		RunID:        uuid.NewString(),
		UserType:     userType,
		FurthestStep: schemas.StepInit,
		Details:      schemas.NewDetails(),
		StartedAt:    o.now(),
	}
	r.log = o.logger.With(zap.String("run_id", r.out.RunID), zap.String("user_type", string(userType)))
	r.out.Details.Set("run_id", r.out.RunID)
	r.out.Details.Set("user_type", string(userType))

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Recovered from panic during run.", zap.Any("panic", p), zap.Stack("stack"))
			r.fail(ctx, fmt.Errorf("%w: panic: %v", ErrUnexpectedFault, p))
		}
		r.release(ctx)
		r.out.FinishedAt = o.now()
		r.log.Info("Run finished.",
			zap.String("kind", string(r.out.Kind)),
			zap.String("furthest_step", string(r.out.FurthestStep)),
			zap.Duration("duration", r.out.Duration()),
		)
		outcome = r.out
	}()

	r.log.Info("Starting login run.")
	r.execute(ctx)
	return r.out
}

func (r *run) execute(ctx context.Context) {
	steps := []struct {
		step schemas.Step
		fn   func(context.Context) error
	}{
		{schemas.StepContext, r.openContext},
		{schemas.StepNavigate, r.navigate},
		{schemas.StepSettle, r.settle},
		{schemas.StepToggle, r.toggle},
		{schemas.StepUsername, r.username},
		{schemas.StepPassword, r.password},
		{schemas.StepSubmit, r.submit},
		{schemas.StepClassify, r.classify},
	}
	for _, s := range steps {
		r.out.FurthestStep = s.step
		if err := s.fn(ctx); err != nil {
			if errors.Is(err, ErrResolutionExhausted) {
				return
			}
			r.fail(ctx, err)
			return
		}
	}
}

// -- steps --

func (r *run) openContext(ctx context.Context) error {
	d := r.out.Details
	endpoint, ok, err := r.o.proxies.ProxyForRun(r.userType)
	if err != nil {
		if !ok {
			return fmt.Errorf("%w: selecting proxy: %w", ErrUnexpectedFault, err)
		}
		r.log.Warn("Proxy usage not recorded.", zap.Error(err))
	}
	if ok {
		d.Set("proxy", endpoint)
	} else {
		d.Set("proxy", "direct")
	}

	r.profile = r.o.profiles.ContextOptions(r.userType)
	d.Set("profile", r.profile.Summary())
	r.log.Info("Opening browsing context.", zap.String("profile", r.profile.Summary()), zap.Bool("proxied", ok))

	page, err := r.o.browser.Open(ctx, r.profile, endpoint)
	if err != nil {
		return r.stepError("opening browsing context", err)
	}
	r.page = page
	r.resolver = resolver.New(page, r.log)
	r.human = humanoid.New(r.o.behavior, r.log, page)
	return nil
}

func (r *run) navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, r.o.target.NavigationTimeout)
	defer cancel()
	r.log.Info("Navigating to login page.", zap.String("url", r.o.target.LoginURL))
	if err := r.page.Navigate(navCtx, r.o.target.LoginURL); err != nil {
		return r.stepError("navigating", err)
	}
	return nil
}

func (r *run) settle(ctx context.Context) error {
	if err := r.waitIdle(ctx); err != nil {
		return err
	}
	if err := r.human.RandomDelay(ctx, settleAfterLoad[0], settleAfterLoad[1]); err != nil {
		return r.stepError("settling", err)
	}
	r.survey(ctx)
	if err := r.human.ScrollRandomly(ctx); err != nil {
		return r.stepError("scrolling", err)
	}
	return nil
}

// survey records what the loaded page looks like. It never fails the run.
func (r *run) survey(ctx context.Context) {
	queryCtx, cancel := r.queryContext(ctx)
	defer cancel()
	if title, err := r.page.Title(queryCtx); err == nil {
		r.log.Info("Login page loaded.", zap.String("title", title))
	}
	frames, err := r.page.Frames(queryCtx)
	if err != nil {
		r.log.Debug("Could not list frames.", zap.Error(err))
	}
	for i, f := range frames {
		r.log.Info("Frame found.", zap.Int("index", i), zap.String("id", f.ID), zap.String("name", f.Name), zap.String("src", f.Src))
	}
	r.snapshot(ctx, "login_page_initial")
}

func (r *run) toggle(ctx context.Context) error {
	if sel := r.o.target.PreLoginTab; sel != "" {
		res := r.resolver.Resolve(ctx, TargetPreLoginTab, PreLoginTab(sel, r.o.target.StrategyTimeout), r.o.target.StrategyTimeout)
		if res.Found {
			if err := r.clickAndSettle(ctx, res.Handle); err != nil {
				return r.stepError("clicking the login tab", err)
			}
		} else {
			r.log.Debug("No pre-login tab on this surface.")
		}
	}

	res := r.resolve(ctx, TargetToggle, r.o.targets.Toggle)
	if !res.Found {
		// Some surfaces open in password mode already.
		r.log.Info("Password login toggle not found; assuming password mode.")
		return nil
	}
	if err := r.clickAndSettle(ctx, res.Handle); err != nil {
		return r.stepError("clicking the password toggle", err)
	}
	return nil
}

func (r *run) username(ctx context.Context) error {
	return r.fillField(ctx, TargetUsername, r.o.targets.Username, r.o.creds.Username())
}

func (r *run) password(ctx context.Context) error {
	return r.fillField(ctx, TargetPassword, r.o.targets.Password, r.o.creds.Password)
}

func (r *run) fillField(ctx context.Context, target string, strategies []resolver.Strategy, value string) error {
	if err := r.human.Wander(ctx, float64(r.profile.Viewport.Width), float64(r.profile.Viewport.Height)); err != nil {
		return r.stepError("moving the pointer", err)
	}
	res := r.resolve(ctx, target, strategies)
	if !res.Found {
		return r.resolutionFailed(ctx, target, res)
	}
	r.log.Info("Typing into field.", zap.String("target", target))
	if err := r.human.TypeText(ctx, res.Handle, value); err != nil {
		return r.stepError("typing "+target, err)
	}
	if err := r.human.RandomDelay(ctx, settleAfterField[0], settleAfterField[1]); err != nil {
		return r.stepError("settling", err)
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	res := r.resolve(ctx, TargetSubmit, r.o.targets.Submit)
	if !res.Found {
		return r.resolutionFailed(ctx, TargetSubmit, res)
	}
	r.log.Info("Submitting login form.")
	if err := r.human.ClickWithJitter(ctx, res.Handle); err != nil {
		return r.stepError("clicking submit", err)
	}
	return nil
}

func (r *run) classify(ctx context.Context) error {
	if err := r.waitIdle(ctx); err != nil {
		return err
	}
	if err := r.human.RandomDelay(ctx, settleAfterSubmit[0], settleAfterSubmit[1]); err != nil {
		return r.stepError("settling", err)
	}

	queryCtx, cancel := r.queryContext(ctx)
	defer cancel()
	title, err := r.page.Title(queryCtx)
	if err != nil {
		return r.stepError("reading the page title", err)
	}
	d := r.out.Details
	d.Set("page_title", title)

	trigger, err := r.findMarker(queryCtx, title)
	if err != nil {
		return r.stepError("checking verification markers", err)
	}
	if trigger != "" {
		d.Set("trigger", trigger)
		r.out.Kind = schemas.OutcomeRbaTriggered
		r.out.RbaTriggered = true
		r.log.Warn("Verification challenge detected; RBA triggered.", zap.String("trigger", trigger))
		r.event(zapcore.WarnLevel, "Verification challenge detected.", zap.String("trigger", trigger), zap.String("title", title))
		return nil
	}
	r.out.Kind = schemas.OutcomeSuccess
	r.out.Success = true
	r.log.Info("Login completed without verification.")
	return nil
}

// findMarker returns the first configured marker present on the page.
func (r *run) findMarker(ctx context.Context, title string) (string, error) {
	for _, m := range r.o.markers.TitleSubstrings {
		if m != "" && strings.Contains(title, m) {
			return m, nil
		}
	}
	for _, m := range r.o.markers.Texts {
		if m == "" {
			continue
		}
		found, err := r.page.HasText(ctx, m)
		if err != nil {
			return "", err
		}
		if found {
			return m, nil
		}
	}
	return "", nil
}

// -- helpers --

func (r *run) resolve(ctx context.Context, target string, strategies []resolver.Strategy) resolver.Result {
	res := r.resolver.Resolve(ctx, target, strategies, r.o.target.ResolveBudget)
	d := r.out.Details
	d.Set(target+".strategy", res.Describe())
	d.Set(target+".attempts", res.Attempted())
	return res
}

func (r *run) clickAndSettle(ctx context.Context, h schemas.ElementHandle) error {
	if err := r.human.ClickWithJitter(ctx, h); err != nil {
		return err
	}
	return r.human.RandomDelay(ctx, settleAfterClick[0], settleAfterClick[1])
}

// queryContext bounds page reads outside element resolution.
func (r *run) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.o.target.NetworkIdleTimeout
	if timeout <= 0 {
		timeout = r.o.target.NavigationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *run) waitIdle(ctx context.Context) error {
	idleCtx, cancel := r.queryContext(ctx)
	defer cancel()
	if err := r.page.WaitNetworkIdle(idleCtx); err != nil {
		return r.stepError("waiting for network idle", err)
	}
	return nil
}

// stepError classifies a failure outside element resolution. Expired waits
// become ErrWaitTimeout; everything else is an unexpected fault.
func (r *run) stepError(action string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", resolver.ErrWaitTimeout, action, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnexpectedFault, action, err)
}

func (r *run) resolutionFailed(ctx context.Context, target string, res resolver.Result) error {
	d := r.out.Details
	r.out.Kind = schemas.OutcomeResolutionFailed
	d.Set("failed_target", target)
	d.Set("furthest_step", string(r.out.FurthestStep))
	d.Set(target+".attempts", res.Attempted())
	r.log.Error("Could not locate a required element.",
		zap.String("target", target),
		zap.Int("attempts", res.Attempted()),
		zap.Strings("outcomes", outcomeNames(res)),
	)
	if path := r.snapshot(ctx, "failed_login"); path != "" {
		d.Set("snapshot", path)
	}
	return fmt.Errorf("%w: %s", ErrResolutionExhausted, target)
}

// fail records err as the run's Error outcome.
func (r *run) fail(ctx context.Context, err error) {
	d := r.out.Details
	r.out.Kind = schemas.OutcomeError
	r.out.Success = false
	r.out.RbaTriggered = false
	d.Set("error_step", string(r.out.FurthestStep))
	d.Set("error", err.Error())
	r.log.Error("Run failed.", zap.String("step", string(r.out.FurthestStep)), zap.Error(err))
	r.event(zapcore.ErrorLevel, "Run failed.", zap.String("step", string(r.out.FurthestStep)), zap.Error(err))
	if path := r.snapshot(ctx, "error_"+string(r.out.FurthestStep)); path != "" {
		d.Set("snapshot", path)
	}
}

// snapshot captures the page when diagnostics are configured. It runs on a
// detached context so a cancelled run can still be documented.
func (r *run) snapshot(ctx context.Context, name string) string {
	if r.o.diagnostics == nil || r.page == nil {
		return ""
	}
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.closeTimeout)
	defer cancel()
	path, err := r.o.diagnostics.Capture(snapCtx, name+"_"+string(r.userType), r.page)
	if err != nil {
		r.log.Warn("Snapshot failed.", zap.String("name", name), zap.Error(err))
		return ""
	}
	return path
}

func (r *run) event(level zapcore.Level, msg string, fields ...zap.Field) {
	if r.o.diagnostics == nil {
		return
	}
	fields = append(fields, zap.String("run_id", r.out.RunID), zap.String("user_type", string(r.userType)))
	r.o.diagnostics.LogEvent(level, msg, fields...)
}

// release closes the browsing context. It runs on every exit path.
func (r *run) release(ctx context.Context) {
	if r.human != nil {
		r.human.ResetPointer()
	}
	if r.page == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.closeTimeout)
	defer cancel()
	if err := r.page.Close(closeCtx); err != nil {
		r.log.Warn("Failed to close browsing context cleanly.", zap.Error(err))
	}
	r.page = nil
}

func outcomeNames(res resolver.Result) []string {
	out := make([]string, len(res.Trace))
	for i, a := range res.Trace {
		out[i] = a.Outcome.String()
	}
	return out
}
