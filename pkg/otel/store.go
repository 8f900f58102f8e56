package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StoreSpan starts a client span for a document store operation.
// system is "mongodb" or "postgresql".
func StoreSpan(ctx context.Context, system, operation, collection string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String(system),
			semconv.DBOperationKey.String(operation),
			attribute.String("db.collection.name", collection),
		),
	)
}

// EndSpan records err (unless expected says otherwise) and ends span.
func EndSpan(span trace.Span, err error, expected func(error) bool) {
	defer span.End()
	if err == nil || (expected != nil && expected(err)) {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
