package humanoid

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// newConfiguredHumanoid builds a seeded Humanoid after applying mutate to the default config.
func newConfiguredHumanoid(exec Executor, seed int64, mutate func(*Config)) *Humanoid {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zap.NewNop(), exec)
}

func noThinkPauses(cfg *Config) {
	cfg.MinDelay = 100 * time.Millisecond
	cfg.MaxDelay = 300 * time.Millisecond
	cfg.KeyDelayFactor = 1
	cfg.ThinkPauseProbability = 0
}

func TestPlanTyping(t *testing.T) {
	t.Run("two keys without think pauses", func(t *testing.T) {
		h := newConfiguredHumanoid(newMockExecutor(t), 7, noThinkPauses)
		plan := h.PlanTyping("ab")

		require.Len(t, plan, 2)
		assert.Equal(t, 'a', plan[0].Char)
		assert.Equal(t, 'b', plan[1].Char)
		for _, k := range plan {
			assert.GreaterOrEqual(t, k.Delay, 100*time.Millisecond)
			assert.LessOrEqual(t, k.Delay, 300*time.Millisecond)
			assert.Zero(t, k.ThinkPause)
		}
		assert.Equal(t, 0, plan.ThinkPauses())
	})

	t.Run("deterministic for a fixed seed", func(t *testing.T) {
		a := NewTestHumanoid(newMockExecutor(t), 42).PlanTyping("correct horse")
		b := NewTestHumanoid(newMockExecutor(t), 42).PlanTyping("correct horse")
		assert.Equal(t, a, b)

		c := NewTestHumanoid(newMockExecutor(t), 43).PlanTyping("correct horse")
		assert.NotEqual(t, a, c)
	})

	t.Run("default scaling gives 50-300ms per key", func(t *testing.T) {
		h := NewTestHumanoid(newMockExecutor(t), 1)
		for _, k := range h.PlanTyping("abcdefghijklmnopqrstuvwxyz") {
			assert.GreaterOrEqual(t, k.Delay, 50*time.Millisecond)
			assert.LessOrEqual(t, k.Delay, 300*time.Millisecond)
		}
	})

	t.Run("certain think pauses use the wider range", func(t *testing.T) {
		h := newConfiguredHumanoid(newMockExecutor(t), 3, func(c *Config) {
			c.ThinkPauseProbability = 1
		})
		plan := h.PlanTyping("xyz")
		assert.Equal(t, 3, plan.ThinkPauses())
		for _, k := range plan {
			assert.GreaterOrEqual(t, k.ThinkPause, 250*time.Millisecond)
			assert.LessOrEqual(t, k.ThinkPause, 3*time.Second)
		}
	})

	t.Run("think pause frequency is near ten percent", func(t *testing.T) {
		h := NewTestHumanoid(newMockExecutor(t), 99)
		text := make([]rune, 5000)
		for i := range text {
			text[i] = 'a'
		}
		plan := h.PlanTyping(string(text))
		rate := float64(plan.ThinkPauses()) / float64(len(plan))
		assert.InDelta(t, 0.10, rate, 0.02)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		h := NewTestHumanoid(newMockExecutor(t), 1)
		assert.Len(t, h.PlanTyping("密码"), 2)
	})
}

func TestTypeText(t *testing.T) {
	target := schemas.ElementHandle{Selector: "#u"}

	t.Run("focus, clear, then one key per character", func(t *testing.T) {
		mock := newMockExecutor(t)
		h := newConfiguredHumanoid(mock, 11, noThinkPauses)

		require.NoError(t, h.TypeText(context.Background(), target, "ab"))

		assert.Equal(t, []string{"a", "b"}, mock.sentKeys)
		assert.Equal(t, []string{"focus", "sleep", "clear", "sleep", "sleep", "key", "sleep", "key"}, mock.calls)

		sleeps := mock.sleeps()
		require.Len(t, sleeps, 4, "two settle delays plus exactly two key delays")
		for _, d := range sleeps[2:] {
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, 300*time.Millisecond)
		}
		// Settle delays come from the [0.2*min, 0.5*max] range.
		for _, d := range sleeps[:2] {
			assert.GreaterOrEqual(t, d, 20*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})

	t.Run("executes the plan drawn for the same seed", func(t *testing.T) {
		mock := newMockExecutor(t)
		h := NewTestHumanoid(mock, 5)
		require.NoError(t, h.TypeText(context.Background(), target, "hello"))

		// Replay the draws: two settle delays precede the plan.
		replay := NewTestHumanoid(newMockExecutor(t), 5)
		replay.mu.Lock()
		lo, hi := replay.scaled(replay.cfg.FocusSettleMinFactor, replay.cfg.FocusSettleMaxFactor)
		replay.uniformDuration(lo, hi)
		replay.uniformDuration(lo, hi)
		replay.mu.Unlock()
		plan := replay.PlanTyping("hello")

		var expected []time.Duration
		for _, k := range plan {
			expected = append(expected, k.Delay)
			if k.ThinkPause > 0 {
				expected = append(expected, k.ThinkPause)
			}
		}
		assert.Equal(t, expected, mock.sleeps()[2:])
	})

	t.Run("focus failure is wrapped", func(t *testing.T) {
		mock := newMockExecutor(t)
		mock.returnErr = errors.New("detached")
		h := NewTestHumanoid(mock, 1)

		err := h.TypeText(context.Background(), target, "a")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to focus '#u'")
		assert.Empty(t, mock.sentKeys)
	})

	t.Run("cancellation stops typing", func(t *testing.T) {
		mock := newMockExecutor(t)
		ctx, cancel := context.WithCancel(context.Background())
		keys := 0
		h := NewTestHumanoid(mock, 1)
		mock.MockSleep = func(ctx context.Context, d time.Duration) error {
			if len(mock.sentKeys) > keys {
				keys = len(mock.sentKeys)
				cancel()
			}
			return mock.DefaultSleep(ctx, d)
		}

		err := h.TypeText(ctx, target, "abcdef")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, mock.sentKeys, 1)
	})
}
