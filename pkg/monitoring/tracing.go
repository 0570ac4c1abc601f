package monitoring

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "stack-operator"

// Tracer is the package-level OTel tracer for the operator.
// It returns a noop tracer when no TracerProvider is registered,
// making instrumentation zero-cost in the default configuration.
var Tracer = otel.Tracer(tracerName)

// Annotations carrying a W3C trace context across objects.
const (
	annotationTraceparent   = "stack.numtide.com/traceparent"
	annotationTraceparentTS = "stack.numtide.com/traceparent-ts"
	annotationTracestate    = "stack.numtide.com/tracestate"

	// traceContextMaxAge is how long an annotated trace context may be
	// continued.
	traceContextMaxAge = 10 * time.Minute
)

var traceContext = propagation.TraceContext{}

// InitTracing installs an OTLP tracer provider configured from the standard
// OTEL_* environment variables. Without OTEL_EXPORTER_OTLP_ENDPOINT tracing
// stays a noop. The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, serviceName, version string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(traceContext, propagation.Baggage{}))
	Tracer = otel.Tracer(tracerName)
	return tp.Shutdown, nil
}

// InjectTraceContext stores the trace context of ctx, with the time it was
// taken, in annotations. Nothing is written without a valid span.
func InjectTraceContext(ctx context.Context, annotations map[string]string) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}
	carrier := propagation.MapCarrier{}
	traceContext.Inject(ctx, carrier)
	parent := carrier.Get("traceparent")
	if parent == "" {
		return
	}
	annotations[annotationTraceparent] = parent
	annotations[annotationTraceparentTS] = strconv.FormatInt(time.Now().Unix(), 10)
	if state := carrier.Get("tracestate"); state != "" {
		annotations[annotationTracestate] = state
	}
}

// ExtractTraceContext returns a context carrying the remote span stored in
// annotations. stale reports a context older than traceContextMaxAge or one
// without a readable timestamp; missing annotations are not stale.
func ExtractTraceContext(annotations map[string]string) (_ context.Context, stale bool) {
	parent, ok := annotations[annotationTraceparent]
	if !ok {
		return context.Background(), false
	}

	stale = true
	if ts, err := strconv.ParseInt(annotations[annotationTraceparentTS], 10, 64); err == nil {
		stale = time.Since(time.Unix(ts, 0)) > traceContextMaxAge
	}

	carrier := propagation.MapCarrier{"traceparent": parent}
	if state, ok := annotations[annotationTracestate]; ok {
		carrier["tracestate"] = state
	}
	return traceContext.Extract(context.Background(), carrier), stale
}

// LinkAnnotatedTrace links span to a fresh trace context found in
// annotations and reports whether it did.
func LinkAnnotatedTrace(span trace.Span, annotations map[string]string) bool {
	remote, stale := ExtractTraceContext(annotations)
	if stale {
		return false
	}
	link := trace.LinkFromContext(remote)
	if !link.SpanContext.IsValid() {
		return false
	}
	span.AddLink(link)
	return true
}

// StartReconcileSpan starts a new span for a controller reconciliation.
// The span is annotated with the Kubernetes resource name, namespace, and kind.
// Callers must call span.End() when the operation completes.
func StartReconcileSpan(ctx context.Context, spanName, name, namespace, kind string) (context.Context, trace.Span) {
	ctx, span := Tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("k8s.resource.name", name),
			attribute.String("k8s.namespace", namespace),
			attribute.String("k8s.resource.kind", kind),
		),
	)
	return ctx, span
}

// StartPodSpan starts a span for a pod lifecycle operation on the pods
// matching selector.
func StartPodSpan(ctx context.Context, operation, namespace, selector string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "PodLifecycle."+operation,
		trace.WithAttributes(
			attribute.String("k8s.namespace", namespace),
			attribute.String("k8s.pod.selector", selector),
		),
	)
}

// StartChildSpan starts a child span under the current trace context.
// Use this for sub-operations within a reconciliation (e.g., Compose, UpdateStatus).
func StartChildSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName)
}

// RecordSpanError records an error on a span and sets the span status to Error.
// If err is nil, this is a no-op.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EnrichLoggerWithTrace adds the trace and span IDs of the current span to
// the logger carried by ctx. Without a valid span ctx is returned unchanged.
func EnrichLoggerWithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	logger := logr.FromContextOrDiscard(ctx).WithValues(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
	return logr.NewContext(ctx, logger)
}
