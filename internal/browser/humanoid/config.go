package humanoid

import (
	"math/rand"
	"time"

	"github.com/xkilldash9x/rbaprobe/internal/config"
)

// Config holds the parameters defining the behavior of the simulation. It is
// fixed at construction.
type Config struct {
	// Rng is the random source. When nil, New seeds one from the clock.
	Rng *rand.Rand

	// Base delay bounds; most timings are sampled as a scaled range of these.
	MinDelay time.Duration
	MaxDelay time.Duration

	MouseJitter bool
	Scroll      bool

	// Typing Behavior
	KeyDelayFactor        float64
	ThinkPauseProbability float64
	ThinkPauseMinFactor   float64
	ThinkPauseMaxFactor   float64
	FocusSettleMinFactor  float64
	FocusSettleMaxFactor  float64

	// Pointer Behavior
	TrajectoryMinSteps int
	TrajectoryMaxSteps int
	StepDelayMin       time.Duration
	StepDelayMax       time.Duration
	NoiseRatio         float64
	ClickHoldMin       time.Duration
	ClickHoldMax       time.Duration

	// Scrolling Behavior
	ScrollMinPasses   int
	ScrollMaxPasses   int
	ScrollMinSteps    int
	ScrollMaxSteps    int
	ScrollStepMin     time.Duration
	ScrollStepMax     time.Duration
	ReadPauseMin      time.Duration
	ReadPauseMax      time.Duration
	ScrollFloor       int
	ScrollBottomSlack int
}

// DefaultConfig returns the standard behavior profile.
func DefaultConfig() Config {
	return Config{
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		MouseJitter: true,
		Scroll:      true,

		KeyDelayFactor:        0.1,
		ThinkPauseProbability: 0.10,
		ThinkPauseMinFactor:   0.5,
		ThinkPauseMaxFactor:   1.0,
		FocusSettleMinFactor:  0.2,
		FocusSettleMaxFactor:  0.5,

		TrajectoryMinSteps: 3,
		TrajectoryMaxSteps: 10,
		StepDelayMin:       10 * time.Millisecond,
		StepDelayMax:       100 * time.Millisecond,
		NoiseRatio:         0.05,
		ClickHoldMin:       50 * time.Millisecond,
		ClickHoldMax:       150 * time.Millisecond,

		ScrollMinPasses:   1,
		ScrollMaxPasses:   3,
		ScrollMinSteps:    3,
		ScrollMaxSteps:    8,
		ScrollStepMin:     50 * time.Millisecond,
		ScrollStepMax:     200 * time.Millisecond,
		ReadPauseMin:      500 * time.Millisecond,
		ReadPauseMax:      2 * time.Second,
		ScrollFloor:       100,
		ScrollBottomSlack: 500,
	}
}

// ConfigFromBehavior maps the user-facing behavior section onto a Config.
func ConfigFromBehavior(b config.BehaviorConfig) Config {
	cfg := DefaultConfig()
	cfg.MinDelay = b.MinDelay
	cfg.MaxDelay = b.MaxDelay
	cfg.MouseJitter = b.RandomMouse
	cfg.Scroll = b.RandomScroll
	cfg.ThinkPauseProbability = b.ThinkPauseProbability
	if b.KeyDelayFactor > 0 {
		cfg.KeyDelayFactor = b.KeyDelayFactor
	}
	if b.Seed != 0 {
		cfg.Rng = rand.New(rand.NewSource(b.Seed))
	}
	return cfg
}
