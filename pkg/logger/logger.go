package logger

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Logger wraps zerolog with the service's configuration
type Logger struct {
	zl zerolog.Logger
}

type ctxKey struct{}

var loggerCtxKey = ctxKey{}

// DefaultLogger is the global logger instance
var DefaultLogger *Logger

// Config holds logger configuration
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Format sets the output format (json, console)
	Format string
	// Output sets the output destination (defaults to stdout)
	Output io.Writer
}

func build(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Str("service", "sharegate").Logger()
	return &Logger{zl: zl}
}

// Init replaces the default logger.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	DefaultLogger = build(cfg)
}

func ensure() *Logger {
	if DefaultLogger == nil {
		Init(Config{Level: "info", Format: "json"})
	}
	return DefaultLogger
}

// ForRequest returns a sub-logger tagged with the request and user ids
// stored in the fiber locals.
func (l *Logger) ForRequest(c *fiber.Ctx) *zerolog.Logger {
	ctx := l.zl.With()
	if requestID, ok := c.Locals("request_id").(string); ok && requestID != "" {
		ctx = ctx.Str("request_id", requestID)
	}
	if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
		ctx = ctx.Str("user_id", userID)
	}
	sub := ctx.Logger()
	return &sub
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// With returns a sub-logger context with additional fields
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

// Component returns a child of the default logger tagged with component.
func Component(name string) *Logger {
	return &Logger{zl: ensure().zl.With().Str("component", name).Logger()}
}

func Debug() *zerolog.Event { return ensure().Debug() }

func Info() *zerolog.Event { return ensure().Info() }

func Warn() *zerolog.Event { return ensure().Warn() }

func Error() *zerolog.Event { return ensure().Error() }

func Fatal() *zerolog.Event { return ensure().Fatal() }

// ForRequest is the package-level form of (*Logger).ForRequest.
func ForRequest(c *fiber.Ctx) *zerolog.Logger {
	return ensure().ForRequest(c)
}

// ContextWithLogger returns a new context with the logger attached
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext retrieves the logger from context, falling back to the default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerCtxKey).(*Logger); ok {
		return logger
	}
	return ensure()
}

// Audit logs a security-sensitive operation with a distinct "audit" tag:
// link creation and revocation, grant changes, deletions. Fields are
// written in key order so audit lines diff cleanly.
func Audit(action string, userID string, fields map[string]string) {
	event := ensure().Info().
		Str("log_type", "audit").
		Str("action", action).
		Str("user_id", userID)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.Str(k, fields[k])
	}
	event.Msg("audit event")
}

// Middleware returns a Fiber middleware that logs requests. Streamed bodies
// are sized from their Content-Length header and never read for logging.
func Middleware() fiber.Handler {
	ensure()

	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		event := DefaultLogger.Info()
		if err != nil {
			event = DefaultLogger.Error().Err(err)
		}

		requestID, _ := c.Locals("request_id").(string)
		userID, _ := c.Locals("user_id").(string)

		event.
			Str("method", c.Method()).
			Str("route", c.Route().Path).
			Int("status", c.Response().StatusCode()).
			Int("bytes_sent", responseSize(c.Response())).
			Str("ip", c.IP()).
			Dur("latency", time.Since(start)).
			Str("request_id", requestID).
			Str("user_id", userID).
			Msg("HTTP request")

		return err
	}
}

func responseSize(resp *fasthttp.Response) int {
	if resp.IsBodyStream() {
		return resp.Header.ContentLength()
	}
	return len(resp.Body())
}
