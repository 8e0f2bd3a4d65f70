package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Span represents a single timed operation within a request.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration_ms,omitempty"`
	Status    string            `json:"status"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Tracer creates and manages trace spans.
type Tracer struct {
	// Exporter receives completed spans. If nil, spans are discarded.
	Exporter SpanExporter
}

// SpanExporter receives completed spans for export to a tracing backend.
type SpanExporter interface {
	ExportSpan(span Span)
}

// SpanExporterFunc is a function adapter for SpanExporter.
type SpanExporterFunc func(span Span)

// ExportSpan calls the function.
func (f SpanExporterFunc) ExportSpan(span Span) { f(span) }

// NewTracer creates a new tracer with an optional exporter.
func NewTracer(exporter SpanExporter) *Tracer {
	return &Tracer{Exporter: exporter}
}

// LogExporter writes completed spans to logger at debug level.
func LogExporter(logger *slog.Logger) SpanExporter {
	return SpanExporterFunc(func(s Span) {
		attrs := []any{
			"trace_id", s.TraceID,
			"span_id", s.SpanID,
			"operation", s.Operation,
			"status", s.Status,
			"duration_ms", s.Duration.Milliseconds(),
		}
		if s.ParentID != "" {
			attrs = append(attrs, "parent_id", s.ParentID)
		}
		for k, v := range s.Tags {
			attrs = append(attrs, k, v)
		}
		logger.Debug("span", attrs...)
	})
}

type traceContextKey struct{}

// StartSpan creates a new span and adds it to the context. The trace ID is
// inherited from a parent span, else taken from the request's correlation ID.
func (t *Tracer) StartSpan(ctx context.Context, operation string, tags map[string]string) (context.Context, *Span) {
	span := &Span{
		TraceID:   CorrelationID(ctx),
		SpanID:    NewCorrelationID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    "ok",
		Tags:      tags,
	}
	if span.TraceID == "" {
		span.TraceID = NewCorrelationID()
	}

	if parent, ok := ctx.Value(traceContextKey{}).(*Span); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return context.WithValue(ctx, traceContextKey{}, span), span
}

// EndSpan completes a span and exports it. A non-nil err marks it "error".
func (t *Tracer) EndSpan(span *Span, err error) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = "error"
		span.SetTag("error", err.Error())
	}
	if t != nil && t.Exporter != nil {
		t.Exporter.ExportSpan(*span)
	}
}

// SetTag sets a tag on a span that is still open.
func (s *Span) SetTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// ConverseTags returns standard tags for a conversation span. The session ID
// is tagged with SetTag once the store has resolved it.
func ConverseTags(model string) map[string]string {
	return map[string]string{"model": model}
}

// TranscribeTags returns standard tags for a transcription span.
func TranscribeTags(provider, format string, size int) map[string]string {
	return map[string]string{
		"provider": provider,
		"format":   format,
		"bytes":    strconv.Itoa(size),
	}
}
