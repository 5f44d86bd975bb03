// Package logging wraps a process-wide zerolog logger with request id
// correlation.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	Init("info", "json", os.Stderr)
}

// Init configures the global logger. format is "json" or "console".
func Init(level, format string, out io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if out == nil {
		out = os.Stderr
	}
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	log = zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the global logger
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// WithRequestID returns a context carrying a logger tagged with the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := Logger().With().Str("request_id", requestID).Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// Ctx returns the request-scoped logger, or the global logger if none is set
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return l
		}
	}
	return Logger()
}

func Debug() *zerolog.Event { return Logger().Debug() }
func Info() *zerolog.Event  { return Logger().Info() }
func Warn() *zerolog.Event  { return Logger().Warn() }
func Error() *zerolog.Event { return Logger().Error() }
func Fatal() *zerolog.Event { return Logger().Fatal() }
