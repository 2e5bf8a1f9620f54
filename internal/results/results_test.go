package results

import (
	"bytes"
	"context"
	"errors"
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

// bufferCloser collects summary lines in memory.
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, schemas.UserType, schemas.LoginOutcome) error {
	return f.err
}

type countingSink struct{ calls int }

func (c *countingSink) Record(context.Context, schemas.UserType, schemas.LoginOutcome) error {
	c.calls++
	return nil
}

var fixedNow = time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC)

func rbaOutcome() schemas.LoginOutcome {
	d := schemas.NewDetails()
	d.Set("run_id", "run-7")
	d.Set("user_type", "high_risk")
	d.Set("trigger", "安全验证")
	return schemas.LoginOutcome{
		RunID:        "run-7",
		UserType:     schemas.UserHighRisk,
		Kind:         schemas.OutcomeRbaTriggered,
		RbaTriggered: true,
		FurthestStep: schemas.StepClassify,
		Details:      d,
		StartedAt:    fixedNow.Add(-time.Minute),
		FinishedAt:   fixedNow,
	}
}

func TestSummaryLine(t *testing.T) {
	line := SummaryLine(fixedNow, schemas.UserHighRisk, rbaOutcome())
	assert.Equal(t, "[2024-07-08 09:10:11] high_risk: fail | RBA triggered | rba_triggered | run_id=run-7 user_type=high_risk trigger=安全验证", line)

	ok := schemas.LoginOutcome{Kind: schemas.OutcomeSuccess, Success: true}
	assert.Equal(t, "[2024-07-08 09:10:11] normal: success | RBA not triggered | success", SummaryLine(fixedNow, schemas.UserNormal, ok))
}

func TestFileSink(t *testing.T) {
	t.Run("writes the record and a summary line", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "results")
		summary := &bufferCloser{}
		sink := newFileSink(dir, summary, zaptest.NewLogger(t))
		sink.now = func() time.Time { return fixedNow }

		require.NoError(t, sink.Record(context.Background(), schemas.UserHighRisk, rbaOutcome()))

		path := filepath.Join(dir, "test_20240708_091011_high_risk.json")
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "\n  \"run_id\": \"run-7\"")
		assert.Contains(t, string(raw), `"rba_triggered": true`)

		assert.Equal(t, SummaryLine(fixedNow, schemas.UserHighRisk, rbaOutcome())+"\n", summary.String())

		require.NoError(t, sink.Close())
		assert.True(t, summary.closed)
	})

	t.Run("round trips through Load in order", func(t *testing.T) {
		dir := t.TempDir()
		sink := newFileSink(dir, nil, zaptest.NewLogger(t))

		clock := fixedNow
		sink.now = func() time.Time { return clock }
		require.NoError(t, sink.Record(context.Background(), schemas.UserHighRisk, rbaOutcome()))
		clock = clock.Add(time.Second)
		second := schemas.LoginOutcome{RunID: "run-8", UserType: schemas.UserNormal, Kind: schemas.OutcomeSuccess, Success: true}
		require.NoError(t, sink.Record(context.Background(), schemas.UserNormal, second))

		loaded, err := Load(dir)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, "run-7", loaded[0].RunID)
		assert.Equal(t, []string{"run_id", "user_type", "trigger"}, loaded[0].Details.Keys())
		assert.Equal(t, time.Minute, loaded[0].Duration())
		assert.Equal(t, "run-8", loaded[1].RunID)
		assert.Nil(t, loaded[1].Details)
	})

	t.Run("failures are logged at warn", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		sink := newFileSink(t.TempDir(), nil, zap.New(core))

		require.NoError(t, sink.Record(context.Background(), schemas.UserHighRisk, rbaOutcome()))

		results := logs.FilterMessage("Test result.").All()
		require.Len(t, results, 1)
		assert.Equal(t, zapcore.WarnLevel, results[0].Level)
		assert.Equal(t, "results", results[0].LoggerName)
		assert.Equal(t, "安全验证", results[0].ContextMap()["trigger"])
	})

	t.Run("summary log is rotated by lumberjack", func(t *testing.T) {
		dir := t.TempDir()
		out := config.OutputConfig{ResultsDir: filepath.Join(dir, "results"), SummaryLog: filepath.Join(dir, "logs", "rba_summary.log")}
		sink := NewFileSink(out, config.LoggerConfig{MaxSize: 1}, zaptest.NewLogger(t))
		defer sink.Close()

		require.NoError(t, sink.Record(context.Background(), schemas.UserHighRisk, rbaOutcome()))
		raw, err := os.ReadFile(out.SummaryLog)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "high_risk: fail | RBA triggered")
	})
}

func TestLoad(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		out, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("unrelated files are ignored, corrupt records are not", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{"), 0o644))
		out, err := Load(dir)
		require.NoError(t, err)
		assert.Empty(t, out)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "test_1_normal.json"), []byte("{"), 0o644))
		_, err = Load(dir)
		assert.ErrorContains(t, err, "decoding")
	})
}

func TestMulti(t *testing.T) {
	errA, errB := errors.New("disk full"), errors.New("db down")
	counter := &countingSink{}
	m := Multi{failingSink{errA}, counter, failingSink{errB}}

	err := m.Record(context.Background(), schemas.UserNormal, schemas.LoginOutcome{})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, counter.calls, "a failing sink must not stop the others")

	assert.NoError(t, Multi{counter}.Record(context.Background(), schemas.UserNormal, schemas.LoginOutcome{}))
	assert.NoError(t, Multi(nil).Record(context.Background(), schemas.UserNormal, schemas.LoginOutcome{}))
}
