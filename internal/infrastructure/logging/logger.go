package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hallgrove/iohub/internal/infrastructure/config"
)

// serviceName is stamped on every log record.
const serviceName = "iohub"

// Logger wraps slog.Logger with the daemon's default fields. Safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from config: JSON or text format, level filtering,
// stdout or stderr, with service and version attached to every record.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination. Tests use it to
// capture output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: level(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// level maps a config string to a slog.Level, defaulting to info.
func level(s string) slog.Level {
	switch strings.ToLower(s) {
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

// With returns a Logger carrying additional default attributes.
//
//	mqttLog := log.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the early-startup logger used before config loads: JSON to
// stdout at info level.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info"}, "dev", os.Stdout)
}
