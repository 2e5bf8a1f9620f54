package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// ApplyProfile emulates the session profile on the current tab: user agent,
// viewport, touch, timezone, locale and media preferences. Nothing is
// injected into the page.
func ApplyProfile(profile schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	l := logger.Named("emulation")
	return chromedp.Tasks{
		setAcceptLanguage(profile, l),
		setUserAgent(profile, l),
		setDeviceMetrics(profile, l),
		setTouch(profile, l),
		setEnvironment(profile, l),
		setMediaFeatures(profile, l),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Session profile applied.", zap.String("profile", profile.Summary()))
			return nil
		}),
	}
}

func setAcceptLanguage(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lang := acceptLanguage(p.Locale)
		if lang == "" {
			return nil
		}
		headers := network.Headers{"Accept-Language": lang}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			logger.Error("Failed to set Accept-Language header.", zap.Error(err))
			return fmt.Errorf("emulation: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

func setUserAgent(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.UserAgent == "" {
			return nil
		}
		override := emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(navigatorPlatform(p.Platform))
		if lang := acceptLanguage(p.Locale); lang != "" {
			override = override.WithAcceptLanguage(lang)
		}
		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override.", zap.Error(err))
			return fmt.Errorf("emulation: failed to set user agent override: %w", err)
		}
		return nil
	})
}

func setDeviceMetrics(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
			return nil
		}
		err := emulation.SetDeviceMetricsOverride(p.Viewport.Width, p.Viewport.Height, deviceScaleFactor(p), p.IsMobile).
			WithScreenOrientation(&emulation.ScreenOrientation{Type: orientation(p), Angle: 0}).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics override.", zap.Error(err))
			return fmt.Errorf("emulation: failed to set device metrics: %w", err)
		}
		return nil
	})
}

func setTouch(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if !p.HasTouch {
			return nil
		}
		if err := emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5).Do(ctx); err != nil {
			logger.Error("Failed to enable touch emulation.", zap.Error(err))
			return fmt.Errorf("emulation: failed to enable touch: %w", err)
		}
		return nil
	})
}

func setEnvironment(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.TimezoneID != "" {
			if err := emulation.SetTimezoneOverride(p.TimezoneID).Do(ctx); err != nil {
				logger.Error("Failed to set timezone override.", zap.Error(err))
				return fmt.Errorf("emulation: failed to set timezone: %w", err)
			}
		}
		if p.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(p.Locale, "_", "-")).Do(ctx); err != nil {
				logger.Error("Failed to set locale override.", zap.Error(err))
				return fmt.Errorf("emulation: failed to set locale: %w", err)
			}
		}
		return nil
	})
}

func setMediaFeatures(p schemas.SessionProfile, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		features := mediaFeatures(p)
		if len(features) == 0 {
			return nil
		}
		if err := emulation.SetEmulatedMedia().WithFeatures(features).Do(ctx); err != nil {
			logger.Error("Failed to set emulated media features.", zap.Error(err))
			return fmt.Errorf("emulation: failed to set media features: %w", err)
		}
		return nil
	})
}

// mediaFeatures maps the profile's preferences onto CSS media features.
func mediaFeatures(p schemas.SessionProfile) []*emulation.MediaFeature {
	var out []*emulation.MediaFeature
	if p.ColorScheme != "" {
		out = append(out, &emulation.MediaFeature{Name: "prefers-color-scheme", Value: p.ColorScheme})
	}
	if p.ReducedMotion != "" {
		out = append(out, &emulation.MediaFeature{Name: "prefers-reduced-motion", Value: p.ReducedMotion})
	}
	return out
}

func orientation(p schemas.SessionProfile) emulation.OrientationType {
	if p.Viewport.Height > p.Viewport.Width {
		return emulation.OrientationTypePortraitPrimary
	}
	return emulation.OrientationTypeLandscapePrimary
}

func deviceScaleFactor(p schemas.SessionProfile) float64 {
	if p.IsMobile {
		return 2
	}
	return 1
}

// acceptLanguage renders "zh-CN" as "zh-CN,zh;q=0.9".
func acceptLanguage(locale string) string {
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" {
		return ""
	}
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return locale + "," + base + ";q=0.9"
}

// navigatorPlatform maps a profile platform onto navigator.platform.
func navigatorPlatform(platform string) string {
	switch strings.ToLower(platform) {
	case "windows", "win32":
		return "Win32"
	case "macos", "mac", "macintel":
		return "MacIntel"
	case "linux":
		return "Linux x86_64"
	case "android":
		return "Linux armv8l"
	case "ios", "iphone":
		return "iPhone"
	default:
		return platform
	}
}
