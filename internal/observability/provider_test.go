package observability

import (
	"context"
	"testing"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}
}

func TestTracingEnabled(t *testing.T) {
	if (Config{}).TracingEnabled() {
		t.Fatalf("expected tracing to be disabled without endpoint")
	}
	if !(Config{OTLPEndpoint: "http://collector:4318/v1/traces"}).TracingEnabled() {
		t.Fatalf("expected tracing to be enabled with endpoint")
	}
}
