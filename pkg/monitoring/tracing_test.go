package monitoring

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// useExporter points Tracer at an in-memory exporter for the test.
func useExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := Tracer
	Tracer = tp.Tracer(tracerName)
	t.Cleanup(func() {
		Tracer = previous
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func attributes(s tracetest.SpanStub) map[string]string {
	out := map[string]string{}
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.AsString()
	}
	return out
}

func TestSpans(t *testing.T) {
	tests := map[string]struct {
		start     func(context.Context) (context.Context, trace.Span)
		wantName  string
		wantAttrs map[string]string
	}{
		"reconcile": {
			start: func(ctx context.Context) (context.Context, trace.Span) {
				return StartReconcileSpan(ctx, "TenantStack.Reconcile", "shop", "tenants", "TenantStack")
			},
			wantName: "TenantStack.Reconcile",
			wantAttrs: map[string]string{
				"k8s.resource.name": "shop",
				"k8s.namespace":     "tenants",
				"k8s.resource.kind": "TenantStack",
			},
		},
		"pod operation": {
			start: func(ctx context.Context) (context.Context, trace.Span) {
				return StartPodSpan(ctx, "run_to_completion", "tenants", "stack.numtide.com/job-kind=db-preparation")
			},
			wantName: "PodLifecycle.run_to_completion",
			wantAttrs: map[string]string{
				"k8s.namespace":    "tenants",
				"k8s.pod.selector": "stack.numtide.com/job-kind=db-preparation",
			},
		},
		"child": {
			start: func(ctx context.Context) (context.Context, trace.Span) {
				return StartChildSpan(ctx, "JobComposer.Compose")
			},
			wantName:  "JobComposer.Compose",
			wantAttrs: map[string]string{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			exporter := useExporter(t)

			ctx, span := tc.start(context.Background())
			if !trace.SpanContextFromContext(ctx).IsValid() {
				t.Error("returned context does not carry the span")
			}
			span.End()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name != tc.wantName {
				t.Errorf("span name = %q, want %q", spans[0].Name, tc.wantName)
			}
			if diff := cmp.Diff(tc.wantAttrs, attributes(spans[0])); diff != "" {
				t.Errorf("attributes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChildSpanNestsUnderReconcile(t *testing.T) {
	exporter := useExporter(t)

	ctx, parent := StartReconcileSpan(context.Background(), "TenantStack.Reconcile", "shop", "tenants", "TenantStack")
	_, child := StartChildSpan(ctx, "JobComposer.Compose")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Errorf("child parent = %s, want %s", spans[0].Parent.SpanID(), spans[1].SpanContext.SpanID())
	}
}

func TestRecordSpanError(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantCode   codes.Code
		wantEvents int
	}{
		"error": {err: errors.New("pod tenants/job failed"), wantCode: codes.Error, wantEvents: 1},
		"no-op": {err: nil, wantCode: codes.Unset},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			exporter := useExporter(t)

			_, span := StartChildSpan(context.Background(), "op")
			RecordSpanError(span, tc.err)
			span.End()

			s := exporter.GetSpans()[0]
			if s.Status.Code != tc.wantCode {
				t.Errorf("status = %v, want %v", s.Status.Code, tc.wantCode)
			}
			if tc.err != nil && s.Status.Description != tc.err.Error() {
				t.Errorf("description = %q", s.Status.Description)
			}
			if len(s.Events) != tc.wantEvents {
				t.Errorf("got %d events, want %d", len(s.Events), tc.wantEvents)
			}
		})
	}
}

func TestEnrichLoggerWithTrace(t *testing.T) {
	useExporter(t)

	var logged string
	sink := funcr.New(func(_, args string) { logged = args }, funcr.Options{})

	ctx, span := Tracer.Start(logr.NewContext(context.Background(), sink), "op")
	defer span.End()

	logr.FromContextOrDiscard(EnrichLoggerWithTrace(ctx)).Info("hello")
	sc := span.SpanContext()
	want := `"trace_id"="` + sc.TraceID().String() + `" "span_id"="` + sc.SpanID().String() + `"`
	if !strings.Contains(logged, want) {
		t.Errorf("logged %s, want it to contain %s", logged, want)
	}

	plain := logr.NewContext(context.Background(), sink)
	if EnrichLoggerWithTrace(plain) != plain {
		t.Error("a context without a span should be returned unchanged")
	}
}

func TestTraceContextAnnotations(t *testing.T) {
	useExporter(t)

	fresh := func(ctx context.Context) map[string]string {
		annotations := map[string]string{}
		InjectTraceContext(ctx, annotations)
		return annotations
	}
	hourAgo := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	tests := map[string]struct {
		mutate    func(map[string]string)
		wantStale bool
		wantValid bool
	}{
		"fresh":             {wantValid: true},
		"old":               {mutate: func(a map[string]string) { a[annotationTraceparentTS] = hourAgo }, wantStale: true, wantValid: true},
		"missing timestamp": {mutate: func(a map[string]string) { delete(a, annotationTraceparentTS) }, wantStale: true, wantValid: true},
		"bad timestamp":     {mutate: func(a map[string]string) { a[annotationTraceparentTS] = "yesterday" }, wantStale: true, wantValid: true},
		"absent":            {mutate: func(a map[string]string) { clear(a) }},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, span := Tracer.Start(context.Background(), "JobComposer.Compose")
			state, _ := trace.ParseTraceState("stack=1")
			ctx = trace.ContextWithSpanContext(ctx, span.SpanContext().WithTraceState(state))
			defer span.End()

			annotations := fresh(ctx)
			if annotations[annotationTracestate] != "stack=1" {
				t.Errorf("tracestate annotation = %q", annotations[annotationTracestate])
			}
			if tc.mutate != nil {
				tc.mutate(annotations)
			}

			remote, stale := ExtractTraceContext(annotations)
			if stale != tc.wantStale {
				t.Errorf("stale = %v, want %v", stale, tc.wantStale)
			}
			sc := trace.SpanContextFromContext(remote)
			if sc.IsValid() != tc.wantValid {
				t.Fatalf("valid = %v, want %v", sc.IsValid(), tc.wantValid)
			}
			if tc.wantValid && sc.TraceID() != span.SpanContext().TraceID() {
				t.Errorf("trace ID = %s, want %s", sc.TraceID(), span.SpanContext().TraceID())
			}
		})
	}
}

func TestInjectTraceContextWithoutSpan(t *testing.T) {
	annotations := map[string]string{}
	InjectTraceContext(context.Background(), annotations)
	if len(annotations) != 0 {
		t.Errorf("expected no annotations, got %v", annotations)
	}
}

func TestLinkAnnotatedTrace(t *testing.T) {
	exporter := useExporter(t)

	upstream, remote := Tracer.Start(context.Background(), "stackctl")
	annotations := map[string]string{}
	InjectTraceContext(upstream, annotations)
	remote.End()
	exporter.Reset()

	_, span := StartReconcileSpan(context.Background(), "TenantStack.Reconcile", "shop", "tenants", "TenantStack")
	if !LinkAnnotatedTrace(span, annotations) {
		t.Error("expected a fresh trace context to be linked")
	}
	if LinkAnnotatedTrace(span, nil) {
		t.Error("nothing should be linked without annotations")
	}
	span.End()

	links := exporter.GetSpans()[0].Links
	if len(links) != 1 || links[0].SpanContext.TraceID() != remote.SpanContext().TraceID() {
		t.Errorf("unexpected links %+v", links)
	}
}

func TestInitTracing(t *testing.T) {
	tests := map[string]struct {
		endpoint string
		exporter string
		wantErr  string
	}{
		"noop without endpoint": {},
		"none exporter":         {endpoint: "http://localhost:4318", exporter: "none"},
		"unknown exporter":      {endpoint: "http://localhost:4318", exporter: "carrier-pigeon", wantErr: "creating OTLP exporter"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			previous := Tracer
			t.Cleanup(func() { Tracer = previous })
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tc.endpoint)
			t.Setenv("OTEL_TRACES_EXPORTER", tc.exporter)

			shutdown, err := InitTracing(context.Background(), "stack-operator", "test")
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("InitTracing() error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error: %v", err)
			}
		})
	}
}
