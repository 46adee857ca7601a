package session

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const scopeName = "github.com/lotuspar/libblitz/internal/session"

var tracer = otel.Tracer(scopeName)

func instanceAttributes(sessionID string, inst *Instance) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("session.id", sessionID),
		attribute.String("activity.id", inst.ID),
		attribute.String("activity.kind", inst.Kind),
	}
}
