package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with pipewright-specific field helpers.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().
		Level(parseLogLevel(cfg.Level))

	return &Logger{zlog: zlog}, nil
}

// Discard returns a logger that drops everything. Used as the default when
// a component is constructed without a logger.
func Discard() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithResource adds the resource kind and name to the logger.
func (l *Logger) WithResource(kind, name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("kind", kind).Str("name", name).Logger()}
}

// WithAttempt adds the retry attempt counter to the logger.
func (l *Logger) WithAttempt(attempt, maxAttempts int) *Logger {
	return &Logger{zlog: l.zlog.With().Int("attempt", attempt).Int("max_attempts", maxAttempts).Logger()}
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Trace logs a trace-level message.
func (l *Logger) Trace(msg string) { l.zlog.Trace().Msg(msg) }

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...any) { l.zlog.Info().Msgf(format, args...) }

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...any) { l.zlog.Warn().Msgf(format, args...) }

// Error logs an error-level message.
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
