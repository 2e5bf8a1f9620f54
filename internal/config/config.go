// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// PlaceholderEmail is the value shipped in the example configuration.
const PlaceholderEmail = "your_email@qq.com"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Credentials() CredentialsConfig
	Proxy() ProxyConfig
	UserAgents() UserAgentsConfig
	Scenarios() ScenariosConfig
	Behavior() BehaviorConfig
	Target() TargetConfig
	Markers() MarkersConfig
	Browser() BrowserConfig
	Logger() LoggerConfig
	Output() OutputConfig
}

// Config is the root configuration structure.
type Config struct {
	CredentialsCfg CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	ProxyCfg       ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
	UserAgentsCfg  UserAgentsConfig  `mapstructure:"user_agents" yaml:"user_agents"`
	ScenariosCfg   ScenariosConfig   `mapstructure:"scenarios" yaml:"scenarios"`
	BehaviorCfg    BehaviorConfig    `mapstructure:"behavior" yaml:"behavior"`
	TargetCfg      TargetConfig      `mapstructure:"target" yaml:"target"`
	MarkersCfg     MarkersConfig     `mapstructure:"markers" yaml:"markers"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	OutputCfg      OutputConfig      `mapstructure:"output" yaml:"output"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Credentials() CredentialsConfig { return c.CredentialsCfg }
func (c *Config) Proxy() ProxyConfig             { return c.ProxyCfg }
func (c *Config) UserAgents() UserAgentsConfig   { return c.UserAgentsCfg }
func (c *Config) Scenarios() ScenariosConfig     { return c.ScenariosCfg }
func (c *Config) Behavior() BehaviorConfig       { return c.BehaviorCfg }
func (c *Config) Target() TargetConfig           { return c.TargetCfg }
func (c *Config) Markers() MarkersConfig         { return c.MarkersCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Output() OutputConfig           { return c.OutputCfg }

// CredentialsConfig holds the account used for every scenario.
type CredentialsConfig struct {
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"-"`
}

// Username returns the local part of the email address.
func (c CredentialsConfig) Username() string {
	if i := strings.Index(c.Email, "@"); i >= 0 {
		return c.Email[:i]
	}
	return c.Email
}

// ProxyConfig is the proxy selection policy.
type ProxyConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Servers      []string      `mapstructure:"servers" yaml:"servers"`
	Random       bool          `mapstructure:"random" yaml:"random"`
	LedgerPath   string        `mapstructure:"ledger_path" yaml:"ledger_path"`
	LedgerCap    int           `mapstructure:"ledger_cap" yaml:"ledger_cap"`
	ProbeAddress string        `mapstructure:"probe_address" yaml:"probe_address"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// Active reports whether runs should be routed through a proxy. An enabled
// policy with no servers is treated as disabled.
func (p ProxyConfig) Active() bool {
	return p.Enabled && len(p.Servers) > 0
}

// UserAgentsConfig optionally overrides the user agents of the profile tables.
type UserAgentsConfig struct {
	Desktop string `mapstructure:"desktop" yaml:"desktop"`
	Mobile  string `mapstructure:"mobile" yaml:"mobile"`
}

// ScenariosConfig selects which user types the driver runs.
type ScenariosConfig struct {
	NormalUser    bool          `mapstructure:"normal_user" yaml:"normal_user"`
	HighRiskUser  bool          `mapstructure:"high_risk_user" yaml:"high_risk_user"`
	NewDeviceUser bool          `mapstructure:"new_device_user" yaml:"new_device_user"`
	Cooldown      time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// Enabled returns the enabled user types in driver order.
func (s ScenariosConfig) Enabled() []schemas.UserType {
	flags := map[schemas.UserType]bool{
		schemas.UserNormal:    s.NormalUser,
		schemas.UserHighRisk:  s.HighRiskUser,
		schemas.UserNewDevice: s.NewDeviceUser,
	}
	var out []schemas.UserType
	for _, ut := range schemas.ScenarioOrder {
		if flags[ut] {
			out = append(out, ut)
		}
	}
	return out
}

// BehaviorConfig bounds the interaction synthesizer.
type BehaviorConfig struct {
	MinDelay              time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay              time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RandomMouse           bool          `mapstructure:"random_mouse" yaml:"random_mouse"`
	RandomScroll          bool          `mapstructure:"random_scroll" yaml:"random_scroll"`
	ThinkPauseProbability float64       `mapstructure:"think_pause_probability" yaml:"think_pause_probability"`
	KeyDelayFactor        float64       `mapstructure:"key_delay_factor" yaml:"key_delay_factor"`
	// Seed fixes the random source. Zero seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// TargetConfig describes the login surface.
type TargetConfig struct {
	LoginURL           string        `mapstructure:"login_url" yaml:"login_url"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	ResolveBudget      time.Duration `mapstructure:"resolve_budget" yaml:"resolve_budget"`
	StrategyTimeout    time.Duration `mapstructure:"strategy_timeout" yaml:"strategy_timeout"`
	PreLoginTab        string        `mapstructure:"pre_login_tab" yaml:"pre_login_tab"`
}

// MarkersConfig lists the signals that identify a verification challenge.
type MarkersConfig struct {
	TitleSubstrings []string `mapstructure:"title_substrings" yaml:"title_substrings"`
	Texts           []string `mapstructure:"texts" yaml:"texts"`
}

// BrowserConfig holds settings for the browser process.
type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath     string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string      `mapstructure:"args" yaml:"args"`
	CloseTimeout time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// OutputConfig says where results and diagnostics are written.
type OutputConfig struct {
	ResultsDir     string `mapstructure:"results_dir" yaml:"results_dir"`
	SummaryLog     string `mapstructure:"summary_log" yaml:"summary_log"`
	ScreenshotsDir string `mapstructure:"screenshots_dir" yaml:"screenshots_dir"`
	PostgresDSN    string `mapstructure:"postgres_dsn" yaml:"-"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key. Every
// key must have a default so that AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("credentials.email", "")
	v.SetDefault("credentials.password", "")

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.servers", []string{})
	v.SetDefault("proxy.random", false)
	v.SetDefault("proxy.ledger_path", "data/proxy_history.json")
	v.SetDefault("proxy.ledger_cap", 1000)
	v.SetDefault("proxy.probe_address", "mail.qq.com:443")
	v.SetDefault("proxy.probe_timeout", 10*time.Second)

	v.SetDefault("user_agents.desktop", "")
	v.SetDefault("user_agents.mobile", "")

	v.SetDefault("scenarios.normal_user", true)
	v.SetDefault("scenarios.high_risk_user", true)
	v.SetDefault("scenarios.new_device_user", true)
	v.SetDefault("scenarios.cooldown", 10*time.Second)

	v.SetDefault("behavior.min_delay", 500*time.Millisecond)
	v.SetDefault("behavior.max_delay", 3*time.Second)
	v.SetDefault("behavior.random_mouse", true)
	v.SetDefault("behavior.random_scroll", true)
	v.SetDefault("behavior.think_pause_probability", 0.10)
	v.SetDefault("behavior.key_delay_factor", 0.1)
	v.SetDefault("behavior.seed", 0)

	v.SetDefault("target.login_url", "https://mail.qq.com/")
	v.SetDefault("target.navigation_timeout", 60*time.Second)
	v.SetDefault("target.network_idle_timeout", 30*time.Second)
	v.SetDefault("target.resolve_budget", 30*time.Second)
	v.SetDefault("target.strategy_timeout", 5*time.Second)
	v.SetDefault("target.pre_login_tab", "#QQMailSdkTool_login_loginBox_tab_item_qq")

	v.SetDefault("markers.title_substrings", []string{"QQ安全中心"})
	v.SetDefault("markers.texts", []string{"安全验证"})

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.close_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rbaprobe")
	v.SetDefault("logger.log_file", "data/logs/rba_test.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("output.results_dir", "data/results")
	v.SetDefault("output.summary_log", "data/logs/rba_summary.log")
	v.SetDefault("output.screenshots_dir", "data/screenshots")
	v.SetDefault("output.postgres_dsn", "")
}

// NewConfigFromViper unmarshals, expands and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	paths := []*string{
		&c.ProxyCfg.LedgerPath,
		&c.LoggerCfg.LogFile,
		&c.OutputCfg.ResultsDir,
		&c.OutputCfg.SummaryLog,
		&c.OutputCfg.ScreenshotsDir,
		&c.BrowserCfg.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.CredentialsCfg.Email == "" || c.CredentialsCfg.Password == "" {
		return fmt.Errorf("credentials.email and credentials.password are required")
	}
	if !strings.Contains(c.CredentialsCfg.Email, "@") {
		return fmt.Errorf("credentials.email must be an email address")
	}
	if err := c.BehaviorCfg.Validate(); err != nil {
		return fmt.Errorf("behavior configuration invalid: %w", err)
	}
	if err := c.TargetCfg.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if c.ProxyCfg.LedgerCap <= 0 {
		return fmt.Errorf("proxy.ledger_cap must be a positive integer")
	}
	if len(c.ScenariosCfg.Enabled()) == 0 {
		return fmt.Errorf("at least one scenario must be enabled")
	}
	return nil
}

// Validate checks the behavior bounds.
func (b *BehaviorConfig) Validate() error {
	if b.MinDelay <= 0 {
		return fmt.Errorf("min_delay must be a positive duration")
	}
	if b.MaxDelay < b.MinDelay {
		return fmt.Errorf("max_delay must not be less than min_delay")
	}
	if b.ThinkPauseProbability < 0 || b.ThinkPauseProbability > 1 {
		return fmt.Errorf("think_pause_probability must be between 0.0 and 1.0")
	}
	if b.KeyDelayFactor <= 0 {
		return fmt.Errorf("key_delay_factor must be positive")
	}
	return nil
}

// Validate checks the target settings.
func (t *TargetConfig) Validate() error {
	if !strings.HasPrefix(t.LoginURL, "http://") && !strings.HasPrefix(t.LoginURL, "https://") {
		return fmt.Errorf("login_url must be an http(s) URL")
	}
	if t.NavigationTimeout <= 0 || t.ResolveBudget <= 0 || t.StrategyTimeout <= 0 {
		return fmt.Errorf("navigation_timeout, resolve_budget and strategy_timeout must be positive durations")
	}
	return nil
}

// Warnings reports settings that are accepted but probably unintended.
func (c *Config) Warnings() []string {
	var out []string
	if c.CredentialsCfg.Email == PlaceholderEmail {
		out = append(out, "credentials.email is still the placeholder value")
	}
	if c.ProxyCfg.Enabled && len(c.ProxyCfg.Servers) == 0 {
		out = append(out, "proxy.enabled is set but proxy.servers is empty; proxying disabled")
	}
	return out
}
