package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"todo-api/storage"
)

func TestRequestMetricsLogProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, http.MethodGet, "/tasks")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.Observe("store", 15*time.Millisecond)
	metrics.Observe("encode", 5*time.Millisecond)
	metrics.SetTasksReturned(3)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected a log entry")
	}
	if entry.Message != observabilityEventName || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected entry: %s at %s", entry.Message, entry.Level)
	}
	if entry.Data["event.name"] != requestEventName || entry.Data["event.domain"] != requestEventDomain {
		t.Fatalf("unexpected event identity: %#v", entry.Data)
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["http.route"] != "/tasks" || attrs["http.method"] != http.MethodGet {
		t.Fatalf("unexpected route attributes: %#v", attrs)
	}
	if attrs["todo.tasks.tasks_returned"] != int64(3) {
		t.Fatalf("unexpected tasks returned: %#v", attrs["todo.tasks.tasks_returned"])
	}
	if total, ok := attrs["todo.tasks.total_ms"].(float64); !ok || total < 50 {
		t.Fatalf("unexpected total_ms: %#v", attrs["todo.tasks.total_ms"])
	}
	if attrs["todo.tasks.store_ms"] != 15.0 || attrs["todo.tasks.encode_ms"] != 5.0 {
		t.Fatalf("unexpected stage timings: %#v", attrs)
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v/%v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if code, ok := spanAttrs["http.status_code"].(int64); !ok || code != http.StatusOK {
		t.Fatalf("unexpected http.status_code: %#v", spanAttrs["http.status_code"])
	}
	event := findEvent(span.Events, observabilityEventName)
	if event == nil {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
	if got := attributesToMap(event.Attributes)["severity_text"]; got != "INFO" {
		t.Fatalf("unexpected span event severity: %#v", got)
	}
}

func TestRequestMetricsFailureSetsErrorStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, http.MethodPost, "/tasks")
	boom := errors.New("storage failure")
	metrics.Fail("store", boom)

	metrics.Log(http.StatusInternalServerError, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error level log entry, got %#v", entry)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error || span.Status.Description != boom.Error() {
		t.Fatalf("unexpected span status: %+v", span.Status)
	}
	event := findEvent(span.Events, observabilityEventName)
	if event == nil {
		t.Fatalf("expected observability event in span events")
	}
	attrs := attributesToMap(event.Attributes)
	if attrs["severity_text"] != "ERROR" {
		t.Fatalf("unexpected severity_text: %#v", attrs["severity_text"])
	}
	if attrs["todo.tasks.error_stage"] != "store" {
		t.Fatalf("expected error stage, got %#v", attrs["todo.tasks.error_stage"])
	}
	if attrs["error.message"] != boom.Error() {
		t.Fatalf("expected error.message, got %#v", attrs["error.message"])
	}
}

func TestRequestMetricsClientErrorIsWarning(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, http.MethodPut, "/tasks/:id")
	metrics.SetTaskID("t1")
	metrics.Fail("not_found", nil)
	metrics.Log(http.StatusNotFound, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Data["severity_text"] != "WARN" {
		t.Fatalf("expected warning entry, got %#v", entry)
	}
	attrs := entry.Data["attributes"].(map[string]any)
	if attrs["todo.tasks.task_id"] != "t1" || attrs["todo.tasks.error_stage"] != "not_found" {
		t.Fatalf("unexpected attributes: %#v", attrs)
	}
	if _, ok := attrs["error.message"]; ok {
		t.Fatalf("client errors should not carry error.message")
	}
	if spans := exporter.GetSpans(); len(spans) != 1 || spans[0].Status.Code != codes.Ok {
		t.Fatalf("expected one span with Ok status, got %#v", spans)
	}
}

func TestHandlersEmitOneSpanPerRequest(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	e, _ := newTestServer(t, storage.NewMemoryStore())
	doRequest(e, http.MethodPost, "/tasks", `{"title":"x"}`)
	doRequest(e, http.MethodGet, "/tasks", "")
	doRequest(e, http.MethodDelete, "/tasks/missing", "")

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	routes := []string{"/tasks", "/tasks", "/tasks/:id"}
	codesWant := []int64{http.StatusOK, http.StatusOK, http.StatusNotFound}
	for i, span := range spans {
		attrs := attributesToMap(span.Attributes)
		if attrs["http.route"] != routes[i] || attrs["http.status_code"] != codesWant[i] {
			t.Fatalf("span %d: unexpected attributes %#v", i, attrs)
		}
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "notFound", status: http.StatusNotFound, wantText: "WARN", wantNumber: 13},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: http.StatusOK, err: errors.New("boom"), wantText: "ERROR", wantNumber: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func findEvent(events []sdktrace.Event, name string) *sdktrace.Event {
	for i := range events {
		if events[i].Name == name {
			return &events[i]
		}
	}
	return nil
}
