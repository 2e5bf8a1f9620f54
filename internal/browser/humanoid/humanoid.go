package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Humanoid synthesizes human-plausible typing, pointer motion and scrolling
// on top of an Executor. One Humanoid belongs to one browsing context: the
// remembered pointer position is only meaningful inside that context.
type Humanoid struct {
	// mu protects rng and currentPos. It is never held across an Executor call.
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
	executor   Executor
	rng        *rand.Rand
	currentPos Vector2D
}

// New creates and initializes a new Humanoid instance.
func New(cfg Config, logger *zap.Logger, executor Executor) *Humanoid {
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:      cfg,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rng,
	}
}

// NewTestHumanoid creates a Humanoid with the default config and a seeded
// random source.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	return New(cfg, zap.NewNop(), executor)
}

// Config returns the configuration the instance was built with.
func (h *Humanoid) Config() Config {
	return h.cfg
}

// Position returns the remembered pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// ResetPointer forgets the pointer position. Called when the browsing
// context it belongs to is torn down.
func (h *Humanoid) ResetPointer() {
	h.mu.Lock()
	h.currentPos = Vector2D{}
	h.mu.Unlock()
}

func (h *Humanoid) setPosition(p Vector2D) {
	h.mu.Lock()
	h.currentPos = p
	h.mu.Unlock()
}

// uniformDuration draws uniformly from [lo, hi]. The caller must hold h.mu.
func (h *Humanoid) uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(h.rng.Float64()*float64(hi-lo))
}

// intBetween draws uniformly from the inclusive range [lo, hi]. The caller must hold h.mu.
func (h *Humanoid) intBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + h.rng.Intn(hi-lo+1)
}

// scaled returns the [MinDelay*minFactor, MaxDelay*maxFactor] range.
func (h *Humanoid) scaled(minFactor, maxFactor float64) (time.Duration, time.Duration) {
	return time.Duration(float64(h.cfg.MinDelay) * minFactor), time.Duration(float64(h.cfg.MaxDelay) * maxFactor)
}
