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
	todosRoute       = "/todos"
	todosSpanName    = "todos.list"
	todosEventName   = "todos.request.metrics"
	todosEventDomain = "todo-api"
	tracerName       = "todo-api/api"
)

// todoRequestMetrics collects per-request timings for the list route and
// emits them both as a span and as a structured log event.
type todoRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	todosReturned  int
	errorStage     string
}

func newTodoRequestMetrics(ctx context.Context, logger *log.Logger) (*todoRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, todosSpanName)
	return &todoRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *todoRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration > 0 {
		m.authDuration = duration
	}
}

func (m *todoRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration > 0 {
		m.fetchDuration = duration
	}
}

func (m *todoRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration > 0 {
		m.encodeDuration = duration
	}
}

func (m *todoRequestMetrics) SetTodosReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.todosReturned = count
}

func (m *todoRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the span and writes the observability event. It must be
// called exactly once, after the response status is known.
func (m *todoRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", todosRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("todo.todos.total_ms", totalMs),
		attribute.Int("todo.todos.returned", m.todosReturned),
		attribute.String("event.name", todosEventName),
		attribute.String("event.domain", todosEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("todo.todos.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("todo.todos.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("todo.todos.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("todo.todos.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if err != nil || status >= http.StatusInternalServerError {
			msg := http.StatusText(status)
			if err != nil {
				msg = err.Error()
			}
			m.span.SetStatus(codes.Error, msg)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      todosEventName,
		"event.domain":    todosEventDomain,
		"route":           todosRoute,
		"status":          status,
		"total_ms":        totalMs,
		"todos_returned":  m.todosReturned,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

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

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
