package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartCapabilitySpan creates a span for one gateway capability call
// (generate, analyze, optimize, chat, test_connection).
func StartCapabilitySpan(ctx context.Context, capability, providerName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway."+capability,
		trace.WithAttributes(
			attribute.String("gateway.capability", capability),
			attribute.String("gateway.provider", providerName),
		),
	)
}

// StartUpstreamSpan creates a client span for an outbound provider HTTP call.
func StartUpstreamSpan(ctx context.Context, url, providerName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.provider", providerName),
		),
	)
}

// StartProbeSpan creates a span for one health-monitor probe.
func StartProbeSpan(ctx context.Context, providerName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "health.probe",
		trace.WithAttributes(attribute.String("probe.provider", providerName)),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the outbound request headers.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetUsageAttributes records token accounting on the current span.
func SetUsageAttributes(ctx context.Context, promptTokens, completionTokens int, estimated bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", promptTokens),
		attribute.Int("usage.completion_tokens", completionTokens),
		attribute.Bool("usage.estimated", estimated),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
