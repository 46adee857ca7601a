package session

import (
	"time"

	"github.com/lotuspar/libblitz/internal/activity"
)

// Instance is one constructed activity together with its readiness gate.
type Instance struct {
	ID        string
	Kind      string
	Activity  activity.Activity
	Gate      activity.Gate
	CreatedAt time.Time

	retired bool
	result  *activity.Result
}

// Retired reports whether the instance has been deactivated.
func (i *Instance) Retired() bool {
	return i.retired
}
