// Package observability wires request-scoped tracing for the RPC surface.
// Modeled on the aixgo example's tracer-provider setup, trimmed to the
// single exporter this build actually ships: a stdout exporter for local
// operators, with tracing disabled entirely when no provider is configured.
package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fipamesh/agentd/internal/rpcapi"

// Tracing holds the node's tracer provider. A zero-value Tracing (Provider
// nil) is a valid no-op: Middleware falls back to the global no-op tracer.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// NewStdout builds a Tracing backed by a pretty-printed stdout exporter,
// tagged with the node's ID as the service.name resource attribute.
func NewStdout(nodeID string) (*Tracing, error) {
	exporter, err := stdouttrace.New()
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName("agentd"), attribute.String("node.id", nodeID)),
	)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Tracing{provider: provider}, nil
}

// Shutdown flushes and stops the tracer provider, a no-op on a nil/disabled Tracing.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func (t *Tracing) tracer() trace.Tracer {
	if t == nil || t.provider == nil {
		return otel.GetTracerProvider().Tracer(tracerName)
	}
	return t.provider.Tracer(tracerName)
}

// Middleware starts one span per RPC request, named after the request
// method and URL path, and records the resulting status code and latency
// as span attributes.
func (t *Tracing) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := t.tracer().Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		sw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.Int("http.status_code", sw.status),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type statusCapture struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusCapture) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapture) Write(b []byte) (int, error) {
	s.written = true
	return s.ResponseWriter.Write(b)
}
