package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

func TestLedger(t *testing.T) {
	t.Run("missing file reads as empty", func(t *testing.T) {
		l := NewLedger(filepath.Join(t.TempDir(), "none.json"), 10)
		entries, err := l.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("append creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "proxy_history.json")
		l := NewLedger(path, 10)
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, l.Append(Entry{Timestamp: ts, Proxy: "http://a:1", UserType: schemas.UserNormal}))

		entries, err := l.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, ts.Equal(entries[0].Timestamp))
		assert.Equal(t, "http://a:1", entries[0].Proxy)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"timestamp": "2024-05-01T12:00:00Z"`)
		assert.Contains(t, string(raw), `"user_type": "normal"`)
	})

	t.Run("keeps only the most recent entries", func(t *testing.T) {
		l := NewLedger(filepath.Join(t.TempDir(), "h.json"), 5)
		for i := 0; i < 12; i++ {
			require.NoError(t, l.Append(Entry{Proxy: fmt.Sprintf("p%d", i)}))
		}
		entries, err := l.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, "p7", entries[0].Proxy)
		assert.Equal(t, "p11", entries[4].Proxy)
	})

	t.Run("no temp files are left behind", func(t *testing.T) {
		dir := t.TempDir()
		l := NewLedger(filepath.Join(dir, "h.json"), 5)
		require.NoError(t, l.Append(Entry{Proxy: "x"}))
		files, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "h.json", files[0].Name())
	})

	t.Run("corrupt file is reported", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "h.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		l := NewLedger(path, 5)
		_, err := l.Entries()
		assert.ErrorContains(t, err, "decoding proxy ledger")
		assert.Error(t, l.Append(Entry{Proxy: "x"}))
	})

	t.Run("tail", func(t *testing.T) {
		l := NewLedger(filepath.Join(t.TempDir(), "h.json"), 50)
		for i := 0; i < 4; i++ {
			require.NoError(t, l.Append(Entry{Proxy: fmt.Sprintf("p%d", i)}))
		}
		last, err := l.Tail(2)
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p3"}, proxies(last))

		all, err := l.Tail(0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("concurrent appends are serialized", func(t *testing.T) {
		l := NewLedger(filepath.Join(t.TempDir(), "h.json"), 100)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, l.Append(Entry{Proxy: fmt.Sprintf("p%d", i)}))
			}(i)
		}
		wg.Wait()
		entries, err := l.Entries()
		require.NoError(t, err)
		assert.Len(t, entries, 20)
	})
}

func proxies(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Proxy
	}
	return out
}
