package trace

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	if got := FromContext(ctx); got != "abc" {
		t.Fatalf("FromContext = %q, want abc", got)
	}
	if got := FromContext(context.Background()); got != "" {
		t.Fatalf("FromContext on empty ctx = %q", got)
	}
}

func TestFromRequestPrefersTraceHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "req")
	if got := FromRequest(r); got != "req" {
		t.Fatalf("got %q, want req", got)
	}
	r.Header.Set("X-Trace-ID", "trace")
	if got := FromRequest(r); got != "trace" {
		t.Fatalf("got %q, want trace", got)
	}
}
