package activity

import (
	"context"

	"github.com/lotuspar/libblitz/internal/roster"
)

// Tag names a capability consumed by the possession or UI subsystems.
// The empty tag means the activity declares no such capability.
type Tag string

// None is the absent capability.
const None Tag = ""

// Evaluator re-runs the readiness evaluation of the activity it was handed to.
type Evaluator interface {
	Evaluate(ctx context.Context)
}

// EvaluatorFunc adapts functions into the Evaluator interface.
type EvaluatorFunc func(ctx context.Context)

// Evaluate implements Evaluator for EvaluatorFunc.
func (f EvaluatorFunc) Evaluate(ctx context.Context) {
	if f == nil {
		return
	}
	f(ctx)
}

// Activity is a swappable session phase with a readiness-gated lifecycle.
//
// Initialize and Activate run at most once per instance. Deactivate runs once,
// when the session switches away, and produces the result handed to the next
// activity's Activate. Hooks run while the session controller is busy and must
// not call back into it synchronously.
type Activity interface {
	Roster() roster.Roster
	ControllableEntity() Tag
	UISurface() Tag

	Initialize(ctx context.Context)
	Activate(ctx context.Context, previous *Result)
	Deactivate(ctx context.Context) *Result

	// OnMembershipChanged is called when a roster member gains or loses its
	// live connection.
	OnMembershipChanged(ctx context.Context, ev Evaluator)

	// Simulate is the per-participant authoritative tick.
	Simulate(ctx context.Context, member *roster.Member)
	// FrameSimulate is the per-participant presentation frame.
	FrameSimulate(ctx context.Context, member *roster.Member)
}

// Base provides the default behavior of every Activity hook.
type Base struct {
	members roster.Roster
	entity  Tag
	surface Tag
}

// NewBase returns defaults for an activity over r declaring the given tags.
func NewBase(r roster.Roster, entity, surface Tag) Base {
	return Base{members: r, entity: entity, surface: surface}
}

func (b *Base) Roster() roster.Roster { return b.members }
func (b *Base) ControllableEntity() Tag { return b.entity }
func (b *Base) UISurface() Tag { return b.surface }

func (b *Base) Initialize(context.Context) {}
func (b *Base) Activate(context.Context, *Result) {}
func (b *Base) Deactivate(context.Context) *Result { return nil }
func (b *Base) Simulate(context.Context, *roster.Member) {}

func (b *Base) FrameSimulate(context.Context, *roster.Member) {}

// OnMembershipChanged re-runs the readiness evaluation.
func (b *Base) OnMembershipChanged(ctx context.Context, ev Evaluator) {
	if ev == nil {
		return
	}
	ev.Evaluate(ctx)
}
