package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rotation defaults, applied when RotationConfig leaves a field zero.
const (
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 7
	defaultMaxBackups = 3
)

// backupTimeLayout is the suffix appended to rotated files. Fixed width, so
// backup names sort chronologically.
const backupTimeLayout = "20060102T150405.000"

// rotatingWriter appends to a single log file and rolls it over once the
// next write would push it past the size threshold. Rotated files keep the
// full name plus a timestamp suffix ("depsdash.log.20260824T031700.512");
// pruning runs inline after every rollover.
type rotatingWriter struct {
	path       string
	maxBytes   int64
	maxAge     time.Duration
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func newRotatingWriter(path string, cfg *RotationConfig) (io.Writer, error) {
	if cfg == nil {
		cfg = &RotationConfig{}
	}
	maxSizeMB := cfg.MaxSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	maxAgeDays := cfg.MaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &rotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		maxBackups: maxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.pruneBackups()
	return w, nil
}

// Write implements io.Writer, rotating first when the write would exceed the
// size threshold.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// open appends to the configured path, picking up the existing size so a
// restart does not reset the rollover accounting.
func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate renames the current file to a timestamped backup and starts a fresh
// one. Caller holds the lock.
func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	backup := w.path + "." + time.Now().Format(backupTimeLayout)
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}

	w.pruneBackups()
	return nil
}

// pruneBackups removes backups older than maxAge, then the oldest beyond
// maxBackups. Only files carrying a parseable timestamp suffix are touched.
func (w *rotatingWriter) pruneBackups() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-w.maxAge)
	var backups []string
	for _, m := range matches {
		stamp := strings.TrimPrefix(m, w.path+".")
		ts, err := time.ParseInLocation(backupTimeLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			_ = os.Remove(m)
			continue
		}
		backups = append(backups, m)
	}

	sort.Strings(backups)
	for len(backups) > w.maxBackups {
		_ = os.Remove(backups[0])
		backups = backups[1:]
	}
}

// Close closes the underlying file. A later Write reopens it.
func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
