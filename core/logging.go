package core

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging configures a JSON slog logger writing to stdout and, when
// cfg.LogDir is set, to cfg.LogDir/filename as well. The standard logger and
// gin's writers share the same sink. Caller should close the returned
// io.Closer on shutdown.
func SetupLogging(cfg Config, filename string) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if cfg.LogDir != "" {
		if filename == "" {
			filename = "app.log"
		}
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log dir %s: %w", cfg.LogDir, err)
		}
		path := filepath.Join(cfg.LogDir, filename)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	logger := NewLogger(out, cfg.LogLevel, cfg.TimeZone)
	slog.SetDefault(logger)
	log.SetOutput(out)
	gin.DefaultWriter = out
	gin.DefaultErrorWriter = out

	return logger, closer, nil
}

// NewLogger builds a JSON logger at the given level whose timestamps are
// rendered in loc.
func NewLogger(w io.Writer, level string, loc *time.Location) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if loc != nil {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.TimeValue(a.Value.Time().In(loc))
			}
			return a
		}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
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
