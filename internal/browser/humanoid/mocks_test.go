package humanoid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// mockExecutor implements the Executor interface for testing.
// This is centralized here to be reusable across all tests in the package.
type mockExecutor struct {
	t                *testing.T
	mu               sync.Mutex
	dispatchedEvents []schemas.MouseEventData
	sentKeys         []string
	sleepDurations   []time.Duration
	scrolls          []float64
	calls            []string
	returnErr        error

	// Page model used by the default behaviors.
	geometry     *schemas.ElementGeometry
	scrollExtent float64
	scrollOffset float64
	metricsErr   error

	// Function overrides for specific behaviors. Overrides must not call back
	// into the Humanoid; communicate through context cancellation or atomics.
	MockSleep              func(ctx context.Context, d time.Duration) error
	MockDispatchMouseEvent func(ctx context.Context, data schemas.MouseEventData) error
	MockGetElementGeometry func(ctx context.Context, target schemas.ElementHandle) (*schemas.ElementGeometry, error)
}

// newMockExecutor creates a mock with a 100x40 element at (200,300) and a 3000px page.
func newMockExecutor(t *testing.T) *mockExecutor {
	return &mockExecutor{
		t: t,
		geometry: &schemas.ElementGeometry{
			Vertices: []float64{200, 300, 300, 300, 300, 340, 200, 340},
			Width:    100,
			Height:   40,
			TagName:  "INPUT",
		},
		scrollExtent: 3000,
	}
}

func (m *mockExecutor) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return m.DefaultSleep(ctx, d)
}

// DefaultSleep is the standard mock behavior for Sleep.
func (m *mockExecutor) DefaultSleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepDurations = append(m.sleepDurations, d)
	m.record("sleep")
	return nil
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if m.MockDispatchMouseEvent != nil {
		return m.MockDispatchMouseEvent(ctx, data)
	}
	return m.DefaultDispatchMouseEvent(ctx, data)
}

// DefaultDispatchMouseEvent always records the event first, so releases sent
// on a detached context after a failure are still visible to assertions.
func (m *mockExecutor) DefaultDispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchedEvents = append(m.dispatchedEvents, data)
	m.record(string(data.Type))
	if m.returnErr != nil {
		return m.returnErr
	}
	return ctx.Err()
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentKeys = append(m.sentKeys, keys)
	m.record("key")
	return m.returnErr
}

func (m *mockExecutor) Focus(ctx context.Context, _ schemas.ElementHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("focus")
	return m.returnErr
}

func (m *mockExecutor) Clear(ctx context.Context, _ schemas.ElementHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("clear")
	return nil
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, target schemas.ElementHandle) (*schemas.ElementGeometry, error) {
	if m.MockGetElementGeometry != nil {
		return m.MockGetElementGeometry(ctx, target)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g := *m.geometry
	return &g, nil
}

func (m *mockExecutor) ScrollMetrics(ctx context.Context) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollExtent, m.scrollOffset, m.metricsErr
}

func (m *mockExecutor) ScrollTo(ctx context.Context, y float64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrolls = append(m.scrolls, y)
	m.scrollOffset = y
	m.record("scroll")
	return nil
}

// -- accessors --

func (m *mockExecutor) events() []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.MouseEventData, len(m.dispatchedEvents))
	copy(out, m.dispatchedEvents)
	return out
}

func (m *mockExecutor) eventsOfType(typ schemas.MouseEventType) []schemas.MouseEventData {
	var out []schemas.MouseEventData
	for _, e := range m.events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockExecutor) sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleepDurations))
	copy(out, m.sleepDurations)
	return out
}
