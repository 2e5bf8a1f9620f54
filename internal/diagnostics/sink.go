// Package diagnostics stores page snapshots and diagnostic events produced
// while a run is in progress.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// timestampLayout keeps file names sortable and free of separators.
const timestampLayout = "20060102_150405"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Sink implements schemas.DiagnosticsSink on the local filesystem.
type Sink struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

var _ schemas.DiagnosticsSink = (*Sink)(nil)

// NewSink writes snapshots under dir.
func NewSink(dir string, logger *zap.Logger) *Sink {
	return &Sink{dir: dir, logger: logger.Named("diagnostics"), now: time.Now}
}

// Capture writes a PNG snapshot of src to <dir>/<name>_<timestamp>.png.
func (s *Sink) Capture(ctx context.Context, name string, src schemas.Snapshotter) (string, error) {
	if src == nil {
		return "", errors.New("diagnostics: no snapshot source")
	}
	buf, err := src.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("diagnostics: capturing %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("diagnostics: creating %s: %w", s.dir, err)
	}

	base := unsafeName.ReplaceAllString(name, "_")
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.png", base, s.now().Format(timestampLayout)))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("diagnostics: writing %s: %w", path, err)
	}
	s.logger.Info("Snapshot saved.", zap.String("path", path), zap.Int("bytes", len(buf)))
	return path, nil
}

// LogEvent records a diagnostic event at level.
func (s *Sink) LogEvent(level zapcore.Level, message string, fields ...zap.Field) {
	if ce := s.logger.Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}
