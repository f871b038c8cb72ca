package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span
// per event.
//
// Each span carries:
//   - Name: event.Msg
//   - Attributes: submission id, task id, severity, and every Meta
//     field with a representable type
//   - Status: error when Meta["error"] is set or the severity is ERROR
//
// Spans are ended immediately; events mark points in time, not
// durations. Wire an exporter through the SDK tracer provider:
//
//	tracer := otel.Tracer("evalcore")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and ends a span describing the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("submission_id", event.SubmissionID),
		attribute.Int("task_id", event.TaskID),
		attribute.String("severity", string(event.Severity)),
	)
	addMetaAttributes(span, event.Meta)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	} else if event.Severity == SeverityError {
		span.SetStatus(codes.Error, event.Msg)
	}
}

// addMetaAttributes maps Meta entries onto span attributes. Values
// without a native attribute type are stringified.
func addMetaAttributes(span trace.Span, meta map[string]any) {
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
}
