package broadcast

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelListener turns board events into OpenTelemetry spans.
//
// Each message becomes a span named after the event type with the
// serialized payload attached as an attribute, which gives tracing
// backends a timeline of board activity without a bespoke exporter.
type OTelListener struct {
	tracer trace.Tracer
}

// NewOTelListener builds a listener over the given tracer, e.g.
// otel.Tracer("taskrelay").
func NewOTelListener(tracer trace.Tracer) *OTelListener {
	return &OTelListener{tracer: tracer}
}

// Send records the message as a completed span.
func (o *OTelListener) Send(ctx context.Context, msg Message) error {
	_, span := o.tracer.Start(ctx, string(msg.Type))
	defer span.End()

	if data, err := json.Marshal(msg.Payload); err == nil {
		span.SetAttributes(attribute.String("taskrelay.payload", string(data)))
	}
	span.SetAttributes(attribute.String("taskrelay.event_type", string(msg.Type)))
	return nil
}

var _ Listener = (*OTelListener)(nil)
