package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Setup installs the default slog logger. When filePath is non-empty, logs
// go to a rotating file and the returned closer owns it; otherwise logs go
// to stderr (text when attached to a terminal, JSON otherwise) and the
// closer is nil.
func Setup(debug bool, filePath string) (io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if filePath != "" {
		rf, err := NewRotatingFile(filePath)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(rf, opts)))
		return rf, nil
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil, nil
}
