package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
)

const (
	serviceName = "austinrelay"

	// logFilePermissions applies when logging.output names a file.
	logFilePermissions = 0o600
)

// Logger is the relay's structured logger.
//
// Loggers derived with With or Component share the level of the logger
// they came from, so SetLevel on the root affects all of them.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger from cfg.
//
// logging.output is "stderr" (the default, which keeps stdout free for
// `austinrelay run`), "stdout", or a file path opened for append. A file
// that cannot be opened falls back to stderr with a warning.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, openErr := openOutput(cfg.Output)
	l := NewWithWriter(cfg, version, w)
	if openErr != nil {
		l.Warn("log file unavailable, logging to stderr", "output", cfg.Output, "error", openErr)
	}
	return l
}

// NewWithWriter builds a Logger writing to w; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(h).With("service", serviceName, "version", version),
		level:  level,
	}
}

// Default is the logger used before configuration is loaded: JSON on
// stderr at info.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stderr)
}

// With returns a Logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component returns a Logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// SetLevel changes the minimum level of l and every logger derived from
// the same root. Unknown names mean info.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// Level reports the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // Path comes from operator configuration
	if err != nil {
		return os.Stderr, err
	}
	return f, nil
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
