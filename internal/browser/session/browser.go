package session

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

const launchTimeout = 60 * time.Second

// Launcher starts one browser process per browsing context, so that no
// cookies, cache or proxy settings leak between runs.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewLauncher creates a Launcher for the given browser settings.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger.Named("browser")}
}

// Open starts a browser routed through proxy (empty for direct), opens a tab
// and applies profile to it. On error nothing is left running.
func (l *Launcher) Open(ctx context.Context, profile schemas.SessionProfile, proxy string) (*Page, error) {
	log := l.logger.With(zap.String("profile", profile.Summary()), zap.String("proxy", proxyLabel(proxy)))

	// The browser outlives the caller's deadline; Page.Close ends it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), l.allocatorOptions(profile, proxy)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	p := newPage(tabCtx, cancelTab, cancelAlloc, log)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			p.idle.handle(e)
		}
	})

	launchCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	err := p.RunActions(launchCtx,
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("reading frame tree: %w", err)
			}
			p.idle.setMainFrame(tree.Frame.ID)
			return nil
		}),
		ApplyProfile(profile, log),
	)
	if err != nil {
		closeCtx, cancelClose := context.WithTimeout(Detach(ctx), l.closeTimeout())
		defer cancelClose()
		_ = p.Close(closeCtx)
		return nil, fmt.Errorf("failed to start browsing context: %w", err)
	}

	log.Info("Browsing context ready.")
	return p, nil
}

func (l *Launcher) closeTimeout() time.Duration {
	if l.cfg.CloseTimeout > 0 {
		return l.cfg.CloseTimeout
	}
	return 10 * time.Second
}

// launchFlags computes the command line flags on top of chromedp's defaults.
func (l *Launcher) launchFlags(profile schemas.SessionProfile, proxy string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":           l.cfg.Headless,
		"disable-extensions": true,
		"disable-gpu":        l.cfg.Headless,
		"lang":               profile.Locale,
	}
	if profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", profile.Viewport.Width, profile.Viewport.Height)
	}
	if proxy != "" {
		flags["proxy-server"] = proxy
	}
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	for _, arg := range l.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	if profile.Locale == "" {
		delete(flags, "lang")
	}
	return flags
}

func (l *Launcher) allocatorOptions(profile schemas.SessionProfile, proxy string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)

	flags := l.launchFlags(profile, proxy)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if profile.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(profile.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return proxy
}
