// Package logging is a thin structured-logging façade over zerolog. Packages
// take a *Logger and log with alternating key/value pairs; the backend,
// output, and level are decided once at startup.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level     string `json:"level"`
	Output    string `json:"output"` // "stdout", "stderr", or file path
	Component string `json:"component"`
	Pretty    bool   `json:"pretty"` // console writer instead of JSON
}

// Logger wraps a zerolog.Logger with the key/value call style used across
// the codebase.
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// ParseLevel converts a string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger with the given configuration.
func New(cfg *Config) *Logger {
	var output io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}
	return &Logger{zl: zl}
}

// Default returns the process-wide logger.
func Default() *Logger {
	once.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app"})
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithField returns a logger with one extra field bound.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a logger with extra fields bound.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

// WithError returns a logger with an error field bound.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithUser returns a logger tagged with a user ID.
func (l *Logger) WithUser(userID int64) *Logger {
	return &Logger{zl: l.zl.With().Int64("user_id", userID).Logger()}
}

// WithStock returns a logger tagged with a stock code.
func (l *Logger) WithStock(code string) *Logger {
	return &Logger{zl: l.zl.With().Str("stock_code", code).Logger()}
}

// applyKV attaches alternating key/value arguments to an event. A trailing
// odd value is attached under "extra" rather than dropped.
func applyKV(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			if v != nil {
				ev = ev.Str(key, v.Error())
			}
		default:
			ev = ev.Interface(key, v)
		}
	}
	if len(args)%2 == 1 {
		ev = ev.Interface("extra", args[len(args)-1])
	}
	return ev
}

// Debug logs at debug level with optional key/value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	applyKV(l.zl.Debug(), args).Msg(msg)
}

// Info logs at info level with optional key/value pairs.
func (l *Logger) Info(msg string, args ...any) {
	applyKV(l.zl.Info(), args).Msg(msg)
}

// Warn logs at warn level with optional key/value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	applyKV(l.zl.Warn(), args).Msg(msg)
}

// Error logs at error level with optional key/value pairs.
func (l *Logger) Error(msg string, args ...any) {
	applyKV(l.zl.Error(), args).Msg(msg)
}

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(msg string, args ...any) {
	applyKV(l.zl.Fatal(), args).Msg(msg)
}

// Package-level shortcuts on the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

// WithComponent returns the default logger tagged with a component name.
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}
