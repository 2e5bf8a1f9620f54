package proxy

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

var servers = []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080", "socks5://10.0.0.3:1080"}

func newTestProvider(t *testing.T, cfg config.ProxyConfig) (*Provider, *Ledger) {
	t.Helper()
	l := NewLedger(filepath.Join(t.TempDir(), "proxy_history.json"), 100)
	p := NewProvider(cfg, l, rand.New(rand.NewSource(1)), zaptest.NewLogger(t))
	return p, l
}

func TestProxyForRun(t *testing.T) {
	enabled := config.ProxyConfig{Enabled: true, Servers: servers}

	t.Run("disabled", func(t *testing.T) {
		p, l := newTestProvider(t, config.ProxyConfig{Servers: servers})
		endpoint, ok, err := p.ProxyForRun(schemas.UserNormal)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, endpoint)

		entries, _ := l.Entries()
		assert.Empty(t, entries, "direct runs are not recorded")
	})

	t.Run("enabled without servers", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		p := NewProvider(config.ProxyConfig{Enabled: true}, nil, nil, zap.New(core))
		_, ok, err := p.ProxyForRun(schemas.UserHighRisk)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, logs.FilterMessage("Proxy enabled but no servers configured; proxying disabled.").Len())
	})

	t.Run("normal uses the first server", func(t *testing.T) {
		p, _ := newTestProvider(t, enabled)
		for i := 0; i < 5; i++ {
			endpoint, ok, err := p.ProxyForRun(schemas.UserNormal)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, servers[0], endpoint)
		}
	})

	t.Run("new device uses the second server", func(t *testing.T) {
		p, _ := newTestProvider(t, enabled)
		endpoint, _, err := p.ProxyForRun(schemas.UserNewDevice)
		require.NoError(t, err)
		assert.Equal(t, servers[1], endpoint)
	})

	t.Run("new device with a single server", func(t *testing.T) {
		p, _ := newTestProvider(t, config.ProxyConfig{Enabled: true, Servers: servers[:1]})
		endpoint, _, err := p.ProxyForRun(schemas.UserNewDevice)
		require.NoError(t, err)
		assert.Equal(t, servers[0], endpoint)
	})

	t.Run("high risk without random uses the last server", func(t *testing.T) {
		p, _ := newTestProvider(t, enabled)
		endpoint, _, err := p.ProxyForRun(schemas.UserHighRisk)
		require.NoError(t, err)
		assert.Equal(t, servers[2], endpoint)
	})

	t.Run("high risk with random spreads over all servers", func(t *testing.T) {
		cfg := enabled
		cfg.Random = true
		p, _ := newTestProvider(t, cfg)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			endpoint, _, err := p.ProxyForRun(schemas.UserHighRisk)
			require.NoError(t, err)
			assert.Contains(t, servers, endpoint)
			seen[endpoint] = true
		}
		assert.Len(t, seen, len(servers))
	})

	t.Run("every selection is recorded", func(t *testing.T) {
		p, _ := newTestProvider(t, enabled)
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		p.now = func() time.Time { return fixed }

		for _, ut := range schemas.ScenarioOrder {
			_, _, err := p.ProxyForRun(ut)
			require.NoError(t, err)
		}
		history, err := p.History()
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{servers[0], servers[2], servers[1]}, proxies(history))
		assert.Equal(t, schemas.UserHighRisk, history[1].UserType)
		assert.True(t, fixed.Equal(history[2].Timestamp))
	})

	t.Run("ledger failure still yields the endpoint", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		// The ledger's parent is a regular file, so the directory cannot be created.
		l := NewLedger(filepath.Join(blocker, "h.json"), 10)
		p := NewProvider(enabled, l, nil, zaptest.NewLogger(t))

		endpoint, ok, err := p.ProxyForRun(schemas.UserNormal)
		assert.Error(t, err)
		assert.True(t, ok)
		assert.Equal(t, servers[0], endpoint)
	})
}
