package proxy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry records one use of a proxy.
type Entry struct {
	Timestamp time.Time        `json:"timestamp"`
	Proxy     string           `json:"proxy"`
	UserType  schemas.UserType `json:"user_type"`
}

// Ledger is an append-only usage history kept in a JSON file. Only the most
// recent cap entries are retained. Writes replace the file atomically.
type Ledger struct {
	mu   sync.Mutex
	path string
	cap  int
}

// NewLedger opens the ledger at path. The file is created on first append.
func NewLedger(path string, cap int) *Ledger {
	if cap <= 0 {
		cap = 1000
	}
	return &Ledger{path: path, cap: cap}
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Append adds e and trims the history to the cap.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, e)
	if len(entries) > l.cap {
		entries = entries[len(entries)-l.cap:]
	}
	return l.write(entries)
}

// Entries returns the whole history, oldest first.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Tail returns the last n entries, or all of them when n <= 0.
func (l *Ledger) Tail(n int) ([]Entry, error) {
	entries, err := l.Entries()
	if err != nil || n <= 0 || len(entries) <= n {
		return entries, err
	}
	return entries[len(entries)-n:], nil
}

func (l *Ledger) read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading proxy ledger: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding proxy ledger %s: %w", l.path, err)
	}
	return entries, nil
}

func (l *Ledger) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding proxy ledger: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".proxy-ledger-*.json")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replacing proxy ledger: %w", err)
	}
	return nil
}
