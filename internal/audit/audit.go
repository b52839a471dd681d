// Package audit appends one line per executed instruction to a plain
// text trail so operators can reconstruct what the agent did with grep
// and tail. The trail is emitted but never consumed by the core.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/opsai/internal/config"
)

const outputLimit = 100

// Event is one auditable operation.
type Event struct {
	Input     string
	Worker    string
	Action    string
	Risk      string
	Confirmed bool
	ExitCode  int
	Output    string
}

// Trail is an append-only audit log with size-based rotation.
type Trail struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	now      func() time.Time
}

// New opens a trail at cfg.LogPath. MaxLogSizeMB <= 0 disables rotation.
func New(cfg config.AuditConfig) *Trail {
	return &Trail{
		path:     cfg.LogPath,
		maxBytes: int64(cfg.MaxLogSizeMB) * 1024 * 1024,
		now:      time.Now,
	}
}

// Log appends one event. Each line carries a unique event id so
// external collectors can deduplicate shipped segments.
//
// Expectations:
//   - Parent directory is created on first write
//   - Output is clipped to 100 characters with newlines flattened
//   - A file over the size limit is rotated to <path>.1 before the write
func (t *Trail) Log(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("audit: create dir: %w", err)
	}
	t.rotate()

	confirmed := "no"
	if ev.Confirmed {
		confirmed = "yes"
	}
	line := fmt.Sprintf("[%s] ID: %s | INPUT: %s | WORKER: %s.%s | RISK: %s | CONFIRMED: %s | EXIT: %d | OUTPUT: %s\n",
		t.now().Format("2006-01-02 15:04:05"),
		uuid.NewString(),
		flatten(ev.Input),
		ev.Worker, ev.Action,
		ev.Risk,
		confirmed,
		ev.ExitCode,
		clip(flatten(ev.Output)),
	)

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", t.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// rotate moves an oversized log aside, keeping one previous generation.
func (t *Trail) rotate() {
	if t.maxBytes <= 0 {
		return
	}
	info, err := os.Stat(t.path)
	if err != nil || info.Size() < t.maxBytes {
		return
	}
	os.Rename(t.path, t.path+".1")
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

func clip(s string) string {
	if len(s) <= outputLimit {
		return s
	}
	return s[:outputLimit]
}
