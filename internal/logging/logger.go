package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"tiedie-sdk/internal/config"
)

const serviceName = "tiedie"

// Logger wraps slog.Logger with the service's default attributes. All slog
// methods are available through the embedded logger.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from cfg.
//
// Format "json" selects the JSON handler and anything else the text
// handler. Output "stderr" writes to standard error and anything else to
// standard output. Levels are parsed by parseLevel. Every entry carries the
// service name and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newWithWriter(cfg, version, output)
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps debug, info, warn (or warning) and error, case
// insensitively, to slog levels. Unknown levels become info.
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

// With returns a Logger with additional default attributes.
//
//	mqttLogger := logger.With("component", "telemetry")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a text logger on stderr at info level. It is used for
// failures before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}
