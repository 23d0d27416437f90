package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config describes how the daemon logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the trade audit log. Audit entries record
// wallet connects, executed swaps and mirrored trades, and always go
// to their own rotated file so they survive ordinary log cleanup.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu      sync.Mutex
	root    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
)

// Init configures the global loggers. Calling it again after a
// successful Init is a no-op.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		return nil
	}

	sink, err := openSink(cfg.OutputPaths)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	root = slog.New(handler).With(slog.String("service", "tradingbotd"))

	audit = root.With(slog.String("channel", "audit"))
	if cfg.Audit.Enabled {
		writer, err := newAuditWriter(cfg.Audit)
		if err != nil {
			return err
		}
		closers = append(closers, writer)
		handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
		audit = slog.New(handler).With(slog.String("channel", "audit"))
	}
	return nil
}

// openSink resolves the configured output paths into a single writer.
// Empty config means stdout.
func openSink(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file, err := openAppendFile(path)
			if err != nil {
				return nil, err
			}
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the root logger, initialising defaults if Init was never
// called. That keeps library code and tests safe to log from.
func L() *slog.Logger {
	mu.Lock()
	ready := root != nil
	mu.Unlock()
	if !ready {
		_ = Init(Config{})
	}
	return root
}

// Audit returns the trade audit logger.
func Audit() *slog.Logger {
	if audit == nil {
		return L()
	}
	return audit
}

// Named returns a child logger scoped to one component.
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync closes all file-backed outputs.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
