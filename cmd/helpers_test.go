package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
	"github.com/xkilldash9x/rbaprobe/internal/orchestrator"
)

// testEnv is a config file plus the directories it points at.
type testEnv struct {
	dir        string
	configPath string
}

func (e testEnv) path(rel string) string { return filepath.Join(e.dir, rel) }

// newTestEnv writes a config with fast timings and every output under a
// temporary directory. extra is appended verbatim.
func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
credentials:
  email: probe.account@qq.com
  password: s3cret
scenarios:
  cooldown: 0s
behavior:
  min_delay: 1ms
  max_delay: 2ms
logger:
  level: fatal
  log_file: ""
output:
  results_dir: %[1]s/results
  summary_log: %[1]s/logs/rba_summary.log
  screenshots_dir: %[1]s/screenshots
%[2]s`, dir, extra)
	t.Setenv("RBAPROBE_PROXY_LEDGER_PATH", filepath.Join(dir, "proxy_history.json"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return testEnv{dir: dir, configPath: path}
}

// executeCommand runs a fresh command tree and returns what it printed to stdout.
func executeCommand(t *testing.T, comps components, provider storeProvider, args ...string) (string, error) {
	t.Helper()
	if comps == nil {
		comps = &fakeComponents{sink: &recordingSink{}}
	}
	if provider == nil {
		provider = &fakeStoreProvider{}
	}
	root := newRootCmd(comps, provider)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeComponents hands out a browser that cannot open and an in-memory sink.
type fakeComponents struct {
	sink    *recordingSink
	openErr error
	opened  []string
	mu      sync.Mutex
}

func (f *fakeComponents) Browser(cfg config.Interface, logger *zap.Logger) orchestrator.Browser {
	return orchestrator.BrowserFunc(func(ctx context.Context, p schemas.SessionProfile, proxy string) (orchestrator.Page, error) {
		f.mu.Lock()
		f.opened = append(f.opened, proxy)
		f.mu.Unlock()
		err := f.openErr
		if err == nil {
			err = fmt.Errorf("no browser in tests")
		}
		return nil, err
	})
}

func (f *fakeComponents) Sink(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.ResultSink, func(), error) {
	return f.sink, func() {}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []schemas.LoginOutcome
}

func (s *recordingSink) Record(ctx context.Context, userType schemas.UserType, o schemas.LoginOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

type fakeStoreProvider struct {
	recent []schemas.LoginOutcome
	err    error
	closed bool
	limit  int
}

func (p *fakeStoreProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (outcomeReader, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p, func() { p.closed = true }, nil
}

func (p *fakeStoreProvider) Recent(ctx context.Context, limit int) ([]schemas.LoginOutcome, error) {
	p.limit = limit
	return p.recent, nil
}
