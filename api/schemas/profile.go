package schemas

import "fmt"

// UserType identifies the simulated user class of a run.
type UserType string

const (
	UserNormal    UserType = "normal"
	UserHighRisk  UserType = "high_risk"
	UserNewDevice UserType = "new_device"
)

// ScenarioOrder is the fixed order in which the driver executes user types.
var ScenarioOrder = []UserType{UserNormal, UserHighRisk, UserNewDevice}

// ParseUserType accepts the canonical names plus the hyphenated forms.
func ParseUserType(s string) (UserType, error) {
	switch s {
	case "normal", "normal_user":
		return UserNormal, nil
	case "high_risk", "high-risk", "high_risk_user":
		return UserHighRisk, nil
	case "new_device", "new-device", "new_device_user":
		return UserNewDevice, nil
	}
	return "", fmt.Errorf("unknown user type %q", s)
}

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// SessionProfile holds the environment parameters applied to one browsing
// context. It is read-only once produced.
type SessionProfile struct {
	Viewport      Viewport `json:"viewport"`
	UserAgent     string   `json:"userAgent"`
	Platform      string   `json:"platform,omitempty"`
	TimezoneID    string   `json:"timezoneId"`
	Locale        string   `json:"locale"`
	ColorScheme   string   `json:"colorScheme"`
	ReducedMotion string   `json:"reducedMotion"`
	HasTouch      bool     `json:"hasTouch"`
	IsMobile      bool     `json:"isMobile"`
}

// Summary renders the profile as a compact single-line string.
func (p SessionProfile) Summary() string {
	kind := "desktop"
	if p.IsMobile {
		kind = "mobile"
	}
	return fmt.Sprintf("%dx%d %s %s %s", p.Viewport.Width, p.Viewport.Height, kind, p.TimezoneID, p.Locale)
}
