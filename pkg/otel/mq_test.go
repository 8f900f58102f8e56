package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMQHeaderCarrierPropagatesTraceContext(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := MQHeaderCarrier{}
	prop := propagation.TraceContext{}
	prop.Inject(ctx, headers)

	if headers.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), headers))
	if extracted.TraceID() != sc.TraceID() {
		t.Fatalf("trace id = %s, want %s", extracted.TraceID(), sc.TraceID())
	}
}
