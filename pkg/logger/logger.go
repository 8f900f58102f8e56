package logger

import (
	"context"

	"escrowhub/pkg/trace"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production logger without a service name. Binaries use
// it only before their configuration is loaded.
func NewLogger() *zap.Logger {
	return New("", false)
}

// New builds the process logger. Development mode uses the console encoder at
// debug level; production emits JSON with ISO8601 timestamps. A non-empty
// service is attached to every entry.
func New(service string, development bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	if service != "" {
		l = l.With(zap.String("service", service))
	}
	return l
}

// WithTrace attaches the trace id carried by ctx, if any.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
