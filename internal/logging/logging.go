// Package logging builds the slog loggers shared by the desktop app and the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// FileName is the log file written inside the application directory.
const FileName = "transcriber.log"

// Options describes logger construction parameters.
type Options struct {
	Level   string
	FileDir string
	Stderr  io.Writer
}

// ParseLevel maps a textual level to slog. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New creates a dual-output logger: text to stderr, JSON to a file under
// FileDir. The returned cleanup closes the file. When FileDir is empty or the
// file cannot be opened the logger writes to stderr only.
func New(opts Options) (*slog.Logger, func() error) {
	level := ParseLevel(opts.Level)
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	noop := func() error { return nil }

	if strings.TrimSpace(opts.FileDir) == "" {
		return slog.New(stderrHandler), noop
	}

	file, err := openLogFile(opts.FileDir)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Warn("log file unavailable, using stderr only", "error", err, "dir", opts.FileDir)
		return logger, noop
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), file.Close
}

// NewWithWriters creates the same fanout over custom writers.
func NewWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns logger, or a discard logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
