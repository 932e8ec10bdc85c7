package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace"
)

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := Init(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseSampler(t *testing.T) {
	cases := []struct {
		name    string
		sampler string
		arg     string
		want    string
	}{
		{"always on", "always_on", "", trace.AlwaysSample().Description()},
		{"always off", "always_off", "", trace.NeverSample().Description()},
		{"ratio", "traceidratio", "0.25", trace.TraceIDRatioBased(0.25).Description()},
		{"ratio clamps high", "traceidratio", "7", trace.TraceIDRatioBased(1).Description()},
		{"ratio clamps negative", "traceidratio", "-1", trace.TraceIDRatioBased(0).Description()},
		{"default is parent based", "", "", trace.ParentBased(trace.TraceIDRatioBased(1)).Description()},
		{"garbage arg keeps full ratio", "traceidratio", "nope", trace.TraceIDRatioBased(1).Description()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseSampler(tc.sampler, tc.arg).Description()
			if got != tc.want {
				t.Fatalf("sampler = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TELEMETRY_TEST_INT", "42")
	if got := envInt("TELEMETRY_TEST_INT", 5); got != 42 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("TELEMETRY_TEST_INT", "not a number")
	if got := envInt("TELEMETRY_TEST_INT", 5); got != 5 {
		t.Fatalf("got %d, want default", got)
	}
	if got := envInt("TELEMETRY_TEST_UNSET", 9); got != 9 {
		t.Fatalf("got %d, want default", got)
	}
}

func TestHTTPMiddlewareDefaultsServiceName(t *testing.T) {
	if HTTPMiddleware("") == nil {
		t.Fatal("nil middleware")
	}
}
