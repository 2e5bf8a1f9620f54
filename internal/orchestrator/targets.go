package orchestrator

import (
	"time"

	"github.com/xkilldash9x/rbaprobe/internal/browser/resolver"
)

// Semantic targets resolved during a run.
const (
	TargetPreLoginTab = "pre_login_tab"
	TargetToggle      = "password_toggle"
	TargetUsername    = "username"
	TargetPassword    = "password"
	TargetSubmit      = "submit"
)

const (
	loginFrame     = "login_frame"
	xloginSrc      = "xlogin"
	oauthSrc       = "oauth2.0/authorize"
	toggleSelector = "#switcher_plogin"

	// toggleSettle is waited after the OAuth frame's toggle is clicked as a
	// pre-action, before its inputs are looked up.
	toggleSettle = time.Second
)

// Targets holds the strategy lists for every semantic target, in priority
// order. They are built once and never modified.
type Targets struct {
	Toggle   []resolver.Strategy
	Username []resolver.Strategy
	Password []resolver.Strategy
	Submit   []resolver.Strategy
}

// NewTargets builds the login surface's strategy lists; every strategy gets
// timeout.
func NewTargets(timeout time.Duration) Targets {
	top := func(sel string) resolver.Strategy {
		return resolver.Strategy{Scope: resolver.TopPage{}, Selector: sel, Timeout: timeout}
	}
	named := func(sel string) resolver.Strategy {
		return resolver.Strategy{Scope: resolver.NamedFrame{Pattern: loginFrame}, Selector: sel, Timeout: timeout}
	}
	bySrc := func(pattern, sel string) resolver.Strategy {
		return resolver.Strategy{Scope: resolver.FrameByURLSubstring{Pattern: pattern}, Selector: sel, Timeout: timeout}
	}
	text := func(label string) resolver.Strategy {
		return resolver.Strategy{Scope: resolver.FreeTextMatch{Label: label}, Timeout: timeout}
	}

	// The OAuth frame opens in QR mode; switch it to password mode first.
	oauthUsername := bySrc(oauthSrc, "#u")
	oauthUsername.PreAction = &resolver.PreAction{Selector: toggleSelector, Settle: toggleSettle}

	return Targets{
		Toggle: []resolver.Strategy{
			top(toggleSelector),
			named(toggleSelector),
			bySrc(xloginSrc, toggleSelector),
			bySrc(oauthSrc, toggleSelector),
			text("帐号密码登录"),
			text("密码登录"),
		},
		Username: []resolver.Strategy{
			top("#u"),
			named("#u"),
			oauthUsername,
			named(`input[name="account"]`),
			top(`input[type="text"][name="uin"]`),
			top(`input[placeholder*="帐号"], input[placeholder*="账号"], input[placeholder*="QQ"]`),
		},
		Password: []resolver.Strategy{
			top("#p"),
			named("#p"),
			bySrc(oauthSrc, "#p"),
			named(`input[type="password"]`),
			top(`input[type="password"]`),
			top(`input[name="password"]`),
			top(`input[placeholder*="密码"]`),
		},
		Submit: []resolver.Strategy{
			top("#login_button"),
			named("#login_button"),
			bySrc(oauthSrc, "#login_button"),
			top(".login_button"),
			top(`button[type="submit"]`),
			top(`input[type="submit"]`),
			top(".login_btn"),
			top(`[title="登录"]`),
			text("登录"),
		},
	}
}

// PreLoginTab is the single strategy for the optional tab that reveals the
// login box on some surfaces.
func PreLoginTab(selector string, timeout time.Duration) []resolver.Strategy {
	return []resolver.Strategy{{Scope: resolver.TopPage{}, Selector: selector, Timeout: timeout}}
}
