package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
)

// ContextKey is a custom type to avoid context collision.
type ContextKey string

const (
	CorrelationHeader     = "cid"             // CorrelationHeader is the name of the nats message header for transporting the correlationID.
	CorrelationContextKey = ContextKey("cid") // CorrelationContextKey is the name of the context key used to store the correlationID.
	EcoSystemLoggingKey   = "eco"             // EcoSystemLoggingKey is the name of the logging key used to store the current ecosystem.
	SubsystemLoggingKey   = "sub"             // SubsystemLoggingKey is the name of the logging key used to store the current subsystem.
	CorrelationLoggingKey = "cid"             // CorrelationLoggingKey is the name of the logging key used to store the correlation id.
	AreaLoggingKey        = "loc"             // AreaLoggingKey is the name of the logging key used to store the functional area.
)

// Err will output error message to the log and return the error with additional attributes.
func Err(ctx context.Context, message string, err error, atts ...any) error {
	l := FromContext(ctx)
	if l.Enabled(ctx, slog.LevelError) {
		l.ErrorContext(ctx, message, append([]any{slog.Any("error", err)}, atts...)...)
	}
	if len(atts) == 0 {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s %s: %w", message, fmt.Sprint(atts...), err)
}

// SetDefault installs the process wide logger.
// handler is "json" for structured output, anything else selects the text handler.
func SetDefault(handler string, level slog.Level, addSource bool, ecosystem string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, handler, level, addSource)).With(slog.String(EcoSystemLoggingKey, ecosystem)))
}

// NewHandler creates a slog handler writing to w.
func NewHandler(w io.Writer, handler string, level slog.Level, addSource bool) slog.Handler {
	o := &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
	}
	if handler == "json" {
		return slog.NewJSONHandler(w, o)
	}
	return slog.NewTextHandler(w, o)
}

// NatsMessageLoggingEntrypoint returns a new logger and a context containing the logger for use when a new NATS message arrives.
func NatsMessageLoggingEntrypoint(ctx context.Context, subsystem string, hdr nats.Header) (context.Context, *slog.Logger) {
	cid := hdr.Get(CorrelationHeader)
	return loggingEntrypoint(ctx, subsystem, cid)
}

type contextLoggerKey string

var ctxLogKey contextLoggerKey = "__log"

// ContextWith obtains a new logger with an area parameter.  Typically it should be used when obtaining a logger within a programmatic boundary.
func ContextWith(ctx context.Context, area string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(AreaLoggingKey, area)
	return NewContext(ctx, logger), logger
}

// NewContext creates a new context with the specified logger
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogKey, logger)
}

// FromContext obtains a logger from the context or takes the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLogKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// CorrelationID returns the correlation ID carried by the context.
func CorrelationID(ctx context.Context) string {
	cid, _ := ctx.Value(CorrelationContextKey).(string)
	return cid
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, CorrelationContextKey, cid)
}

func loggingEntrypoint(ctx context.Context, subsystem string, correlationId string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(slog.String(SubsystemLoggingKey, subsystem), slog.String(CorrelationLoggingKey, correlationId))
	ctx = NewContext(ctx, logger)
	ctx = context.WithValue(ctx, CorrelationContextKey, correlationId)
	return ctx, logger
}
