package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// auditWriter is a size-rotated append writer for the audit log.
// Rotated files keep a UTC timestamp suffix, e.g. audit.log.20260831T120000.
type auditWriter struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	written    int64
	limit      int64
	maxBackups int
	maxAge     time.Duration
}

func newAuditWriter(cfg AuditConfig) (*auditWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditWriter{
		path:       cfg.Path,
		limit:      int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *auditWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := openAppendFile(w.path)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

func (w *auditWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.written = 0

	stamp := time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(w.path, fmt.Sprintf("%s.%s", w.path, stamp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune drops rotated files beyond the backup count or older than the
// retention window. Best effort; a failed removal never blocks writes.
func (w *auditWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches))) // newest stamp first
	cutoff := time.Now().Add(-w.maxAge)
	for i, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if i >= w.maxBackups || info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

func openAppendFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
