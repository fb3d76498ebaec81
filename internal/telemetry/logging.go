// Package telemetry provides the ambient observability stack: structured
// logging, Prometheus metrics, and the admin HTTP surface
// (/metrics, /health, /ready).
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// multiWriter fans writes out to every configured writer, same shape as
// the teacher's logging.NewMultiWriter.
type multiWriter struct {
	writers []io.Writer
}

func newMultiWriter(writers ...io.Writer) io.Writer {
	return &multiWriter{writers: writers}
}

func (m *multiWriter) Write(p []byte) (int, error) {
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// InitLogging configures slog to write to stdout and, if logDir is
// non-empty, to neuroplc.log under logDir, which is appended to across
// restarts and never rotated. jsonOutput
// selects slog.NewJSONHandler over the text handler.
func InitLogging(logDir string, jsonOutput bool) (*slog.Logger, *os.File) {
	if logDir == "" {
		return newLogger(os.Stdout, jsonOutput), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger := newLogger(os.Stdout, jsonOutput)
		logger.Error("failed to create log dir; falling back to stdout only", "error", err)
		return logger, nil
	}

	f, err := os.OpenFile(filepath.Join(logDir, "neuroplc.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := newLogger(os.Stdout, jsonOutput)
		logger.Error("failed to open log file; falling back to stdout only", "error", err)
		return logger, nil
	}

	mw := newMultiWriter(f, os.Stdout)
	return newLogger(mw, jsonOutput), f
}

func newLogger(w io.Writer, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
