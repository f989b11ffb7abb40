// Package logging builds the process-wide slog logger from config: a JSON
// handler for machines or a tint console handler for people, optionally
// teed into a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/airpi/airpi/internal/config"
)

// Setup installs the default slog logger described by cfg and returns a
// closer for the log file, if any.
func Setup(cfg config.Logging, stdout io.Writer) (io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var closer io.Closer = nopCloser{}
	handlers := []slog.Handler{newHandler(cfg.Format, stdout, level, true)}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		closer = lj
		// The file always gets JSON so it stays machine-readable.
		handlers = append(handlers, newHandler("json", lj, level, false))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = fanout(handlers)
	}
	slog.SetDefault(slog.New(h))
	return closer, nil
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}

func newHandler(format string, w io.Writer, level slog.Level, console bool) slog.Handler {
	if format == "text" {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !console || !isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
