// Package profile produces the device fingerprint emulated by each simulated
// user class.
package profile

import (
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

// Resolutions lists the viewports a profile may use. The first four are
// desktop sizes; the rest are phones and tablets.
var Resolutions = []schemas.Viewport{
	{Width: 1366, Height: 768},
	{Width: 1920, Height: 1080},
	{Width: 2560, Height: 1440},
	{Width: 3840, Height: 2160},
	{Width: 375, Height: 812},
	{Width: 414, Height: 896},
	{Width: 360, Height: 740},
	{Width: 768, Height: 1024},
}

// Timezones lists the IANA zones a profile may use. The first is the home zone.
var Timezones = []string{
	"Asia/Shanghai",
	"Asia/Tokyo",
	"Asia/Singapore",
	"Europe/London",
	"Europe/Paris",
	"America/New_York",
	"America/Los_Angeles",
}

const (
	homeLocale   = "zh-CN"
	noPreference = "no-preference"

	uaChrome91Windows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	uaChrome96Windows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"
	uaAndroid         = "Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.101 Mobile Safari/537.36"
	uaIOS             = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Mobile/15E148 Safari/604.1"
	uaLinux           = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.159 Safari/537.36"
	uaMacOS           = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15"
)

var (
	riskPlatforms   = []string{"Linux", "Android", "iOS", "MacOS"}
	riskLocales     = []string{"en-US", "fr-FR", "de-DE", "ja-JP"}
	colorSchemes    = []string{noPreference, "dark", "light"}
	motionSettings  = []string{noPreference, "reduce"}
	platformAgents  = map[string]string{"Linux": uaLinux, "Android": uaAndroid, "iOS": uaIOS, "MacOS": uaMacOS}
	mobilePlatforms = map[string]bool{"Android": true, "iOS": true}
)

// Provider implements schemas.SessionProfileProvider.
type Provider struct {
	mu  sync.Mutex
	rng *rand.Rand
	ua  config.UserAgentsConfig
}

var _ schemas.SessionProfileProvider = (*Provider)(nil)

// NewProvider creates a Provider. A nil rng is seeded from the clock.
func NewProvider(ua config.UserAgentsConfig, rng *rand.Rand) *Provider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Provider{rng: rng, ua: ua}
}

// ContextOptions returns a fresh profile for userType. Unknown types get the
// normal profile.
func (p *Provider) ContextOptions(userType schemas.UserType) schemas.SessionProfile {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch userType {
	case schemas.UserHighRisk:
		return p.highRisk()
	case schemas.UserNewDevice:
		return p.newDevice()
	default:
		return p.normal()
	}
}

// normal is the account owner's usual machine. It is fixed.
func (p *Provider) normal() schemas.SessionProfile {
	return schemas.SessionProfile{
		Viewport:      Resolutions[1],
		UserAgent:     p.desktopAgent(uaChrome91Windows),
		Platform:      "Windows",
		TimezoneID:    Timezones[0],
		Locale:        homeLocale,
		ColorScheme:   noPreference,
		ReducedMotion: noPreference,
	}
}

// highRisk combines uncommon traits: a large or handheld screen, a foreign
// timezone and locale, and a platform the account has not used.
func (p *Provider) highRisk() schemas.SessionProfile {
	platform := pick(p.rng, riskPlatforms)
	prof := schemas.SessionProfile{
		Viewport:      pick(p.rng, Resolutions[2:]),
		Platform:      platform,
		TimezoneID:    pick(p.rng, Timezones[1:]),
		Locale:        pick(p.rng, riskLocales),
		ColorScheme:   pick(p.rng, colorSchemes),
		ReducedMotion: pick(p.rng, motionSettings),
	}
	if mobilePlatforms[platform] {
		prof.IsMobile = true
		prof.HasTouch = true
		prof.UserAgent = platformAgents[platform]
		if p.ua.Mobile != "" {
			prof.UserAgent = p.ua.Mobile
		}
	} else {
		prof.HasTouch = p.rng.Intn(2) == 1
		prof.UserAgent = platformAgents[platform]
	}
	return prof
}

// newDevice is plausible for the owner but differs from the usual machine.
func (p *Provider) newDevice() schemas.SessionProfile {
	return schemas.SessionProfile{
		Viewport:      pick(p.rng, Resolutions[:4]),
		UserAgent:     uaChrome96Windows,
		Platform:      "Windows",
		TimezoneID:    Timezones[0],
		Locale:        homeLocale,
		ColorScheme:   noPreference,
		ReducedMotion: noPreference,
	}
}

func (p *Provider) desktopAgent(fallback string) string {
	if p.ua.Desktop != "" {
		return p.ua.Desktop
	}
	return fallback
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}
