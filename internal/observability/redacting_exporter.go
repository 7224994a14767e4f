package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// redactingExporter passes every span through the sanitizer before
// handing it to the real exporter. Export is the last point where a
// secret copied into an attribute or a status description can be
// stopped, and it runs on the batch goroutine, off the request path.
type redactingExporter struct {
	next      sdktrace.SpanExporter
	sanitizer *sanitizer
}

func newRedactingExporter(next sdktrace.SpanExporter, s *sanitizer) sdktrace.SpanExporter {
	return &redactingExporter{next: next, sanitizer: s}
}

func (e *redactingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, len(spans))
	for i, span := range spans {
		out[i] = e.redactSpan(span)
	}
	return e.next.ExportSpans(ctx, out)
}

func (e *redactingExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// redactSpan returns span untouched when nothing matches, otherwise a
// rewritten copy.
func (e *redactingExporter) redactSpan(span sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	stub := tracetest.SpanStubFromReadOnlySpan(span)
	changed := false

	if attrs, dirty := e.redactAttrs(stub.Attributes); dirty {
		stub.Attributes = attrs
		changed = true
	}
	for i, event := range stub.Events {
		if attrs, dirty := e.redactAttrs(event.Attributes); dirty {
			stub.Events[i].Attributes = attrs
			changed = true
		}
	}
	if e.sanitizer.dirty(stub.Status.Description) {
		stub.Status.Description = e.sanitizer.redact(stub.Status.Description)
		changed = true
	}

	if !changed {
		return span
	}
	return stub.Snapshot()
}

// redactAttrs rewrites string attribute values. The returned slice is
// a fresh copy only when something matched; non-string values pass
// through untouched.
func (e *redactingExporter) redactAttrs(attrs []attribute.KeyValue) ([]attribute.KeyValue, bool) {
	var out []attribute.KeyValue
	for i, a := range attrs {
		if a.Value.Type() != attribute.STRING {
			continue
		}
		v := a.Value.AsString()
		if !e.sanitizer.dirty(v) {
			continue
		}
		if out == nil {
			out = make([]attribute.KeyValue, len(attrs))
			copy(out, attrs)
		}
		out[i] = attribute.String(string(a.Key), e.sanitizer.redact(v))
	}
	if out == nil {
		return attrs, false
	}
	return out, true
}
