// Package results records the outcome of every login run: one JSON file per
// run plus a one-line human readable summary in a rotated log.
package results

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
	"github.com/xkilldash9x/rbaprobe/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	fileTimestamp    = "20060102_150405"
	summaryTimestamp = "2006-01-02 15:04:05"
	recordPrefix     = "test_"
)

// FileSink implements schemas.ResultSink on the local filesystem.
type FileSink struct {
	dir     string
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	summary io.WriteCloser
}

var _ schemas.ResultSink = (*FileSink)(nil)

// NewFileSink writes records under out.ResultsDir and summary lines to
// out.SummaryLog, rotated with the size and age limits of rot.
func NewFileSink(out config.OutputConfig, rot config.LoggerConfig, logger *zap.Logger) *FileSink {
	var summary io.WriteCloser
	if out.SummaryLog != "" {
		summary = &lumberjack.Logger{
			Filename:   out.SummaryLog,
			MaxSize:    rot.MaxSize,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAge,
			Compress:   rot.Compress,
		}
	}
	return newFileSink(out.ResultsDir, summary, logger)
}

func newFileSink(dir string, summary io.WriteCloser, logger *zap.Logger) *FileSink {
	return &FileSink{dir: dir, summary: summary, logger: logger.Named("results"), now: time.Now}
}

// Record writes test_<timestamp>_<user_type>.json and appends a summary line.
func (s *FileSink) Record(_ context.Context, userType schemas.UserType, o schemas.LoginOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.logOutcome(userType, o)

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome %s: %w", o.RunID, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s%s_%s.json", recordPrefix, now.Format(fileTimestamp), userType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	s.logger.Info("Detailed result saved.", zap.String("path", path))

	if s.summary != nil {
		if _, err := io.WriteString(s.summary, SummaryLine(now, userType, o)+"\n"); err != nil {
			return fmt.Errorf("appending summary: %w", err)
		}
	}
	return nil
}

// Close closes the summary log.
func (s *FileSink) Close() error {
	if s.summary == nil {
		return nil
	}
	return s.summary.Close()
}

func (s *FileSink) logOutcome(userType schemas.UserType, o schemas.LoginOutcome) {
	fields := []zap.Field{
		zap.String("user_type", string(userType)),
		zap.Bool("success", o.Success),
		zap.Bool("rba_triggered", o.RbaTriggered),
		zap.String("kind", string(o.Kind)),
	}
	for _, k := range o.Details.Keys() {
		v, _ := o.Details.Get(k)
		fields = append(fields, zap.Any(k, v))
	}
	if o.Success {
		s.logger.Info("Test result.", fields...)
	} else {
		s.logger.Warn("Test result.", fields...)
	}
}

// SummaryLine renders one outcome as
//
//	[2006-01-02 15:04:05] normal: success | RBA not triggered | success | k=v ...
func SummaryLine(at time.Time, userType schemas.UserType, o schemas.LoginOutcome) string {
	status := "fail"
	if o.Success {
		status = "success"
	}
	rba := "RBA not triggered"
	if o.RbaTriggered {
		rba = "RBA triggered"
	}
	parts := []string{
		fmt.Sprintf("[%s] %s: %s", at.Format(summaryTimestamp), userType, status),
		rba,
		string(o.Kind),
	}
	if d := o.Details.String(); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " | ")
}

// Load reads the records stored in dir, oldest first.
func Load(dir string) ([]schemas.LoginOutcome, error) {
	paths, err := filepath.Glob(filepath.Join(dir, recordPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	sort.Strings(paths)

	out := make([]schemas.LoginOutcome, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var o schemas.LoginOutcome
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		out = append(out, o)
	}
	return out, nil
}
