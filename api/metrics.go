package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName             = "todo-api/api"
	requestSpanName        = "todo.tasks.request"
	requestEventName       = "todo.tasks.request"
	requestEventDomain     = "todo-api"
	observabilityEventName = "observability.event"
	attrPrefix             = "todo.tasks."
)

type stageDuration struct {
	stage    string
	duration time.Duration
}

// requestMetrics collects timings for one task request and reports them as
// a span plus a single structured log line when the request finishes.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	method        string
	route         string
	stages        []stageDuration
	taskID        string
	tasksReturned int
	errorStage    string
	cause         error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		tasksReturned: -1,
	}, ctx
}

// Observe records how long a named stage (decode, store, encode) took.
func (m *requestMetrics) Observe(stage string, duration time.Duration) {
	if duration <= 0 || stage == "" {
		return
	}
	m.stages = append(m.stages, stageDuration{stage: stage, duration: duration})
}

func (m *requestMetrics) SetTaskID(id string) {
	m.taskID = id
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

// Fail marks the stage a request failed in. A nil err records the stage
// only, which is how client errors such as validation are reported.
func (m *requestMetrics) Fail(stage string, err error) {
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.cause = err
	}
}

func (m *requestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	for _, s := range m.stages {
		attrs = append(attrs, attribute.Float64(attrPrefix+s.stage+"_ms", durationToMillis(s.duration)))
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"task_id", m.taskID))
	}
	if m.tasksReturned >= 0 {
		attrs = append(attrs, attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	return attrs
}

// Log ends the span and writes the observability event. It must be called
// exactly once per request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.cause
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := m.attributes(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEventName, trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			if err != nil {
				m.span.RecordError(err)
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	logged := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logged[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      logged,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEventName)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
