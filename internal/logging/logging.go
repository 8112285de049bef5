package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// New returns a text logger writing to w and, when path is set, appending
// to a persistent log file as well. The returned closer releases the file.
func New(w io.Writer, level slog.Level, path string) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: level}
	if path == "" {
		return slog.New(slog.NewTextHandler(w, opts)), io.NopCloser(nil), nil
	}

	file, err := openLogFile(path)
	if err != nil {
		return nil, nil, err
	}
	multi := io.MultiWriter(w, file)
	return slog.New(slog.NewTextHandler(multi, opts)), file, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
