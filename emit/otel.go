package emit

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter records status events as OpenTelemetry spans.
//
// Each event becomes an immediately-ended span named after the entity
// and status (e.g. "workflow.running", "task.completed") with the event
// fields as attributes. Failure events set the span error status. The
// emitter only needs a trace.Tracer; provider setup belongs to the
// application.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter over the given tracer, typically
// otel.Tracer("orbit").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as a span. Result payloads are not attached;
// only their field count is, keeping trace storage bounded and secrets
// out of spans.
func (o *OTelEmitter) Emit(event Event) {
	name := "workflow." + event.Status
	if event.TaskID != "" {
		name = "task." + event.Status
	}

	_, span := o.tracer.Start(context.Background(), name)
	defer span.End()

	attrs := make([]attribute.KeyValue, 0, 5)
	if event.WorkflowID != "" {
		attrs = append(attrs, attribute.String("orbit.workflow_id", event.WorkflowID))
	}
	if event.TaskID != "" {
		attrs = append(attrs, attribute.String("orbit.task_id", event.TaskID))
	}
	if event.TaskName != "" {
		attrs = append(attrs, attribute.String("orbit.task_name", event.TaskName))
	}
	attrs = append(attrs, attribute.String("orbit.status", event.Status))
	if event.Result != nil {
		attrs = append(attrs, attribute.Int("orbit.result_fields", len(event.Result)))
	}
	span.SetAttributes(attrs...)

	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
		span.RecordError(errors.New(event.Error))
	}
}
