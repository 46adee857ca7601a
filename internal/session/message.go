package session

import (
	"context"
	"time"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
)

// MessageType tags a lifecycle message sent to a single replica.
type MessageType string

const (
	MessageInitialize MessageType = "initialize"
	MessageActivate   MessageType = "activate"
	MessageDeactivate MessageType = "deactivate"
)

// Message is the explicit state-sync payload pushed to a replica for every
// authority-side transition. Seq increases strictly per controller, and every
// recipient of one transition sees the same Seq. Members carries the roster
// on every type so a replica that missed earlier messages can rebuild it.
type Message struct {
	Seq        uint64
	SessionID  string
	ActivityID string
	Kind       string
	Type       MessageType
	Members    []roster.MemberID
	Previous   *activity.Result
}

// Dispatcher hands a message to one specifically addressed replica. Delivery
// is best effort: Send must not block on the replica and is never retried.
type Dispatcher interface {
	Send(ctx context.Context, client roster.Client, msg Message) error
}

// DispatcherFunc adapts functions into the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, client roster.Client, msg Message) error

func (f DispatcherFunc) Send(ctx context.Context, client roster.Client, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, client, msg)
}

// Possessor assigns a controllable-entity capability to a member.
type Possessor interface {
	Possess(ctx context.Context, member *roster.Member, tag activity.Tag) error
}

// PossessorFunc adapts functions into the Possessor interface.
type PossessorFunc func(ctx context.Context, member *roster.Member, tag activity.Tag) error

func (f PossessorFunc) Possess(ctx context.Context, member *roster.Member, tag activity.Tag) error {
	if f == nil {
		return nil
	}
	return f(ctx, member, tag)
}

// Transition is the journal record of one authority-side lifecycle step.
// Result is the previous result for activations and the produced result for
// deactivations.
type Transition struct {
	Seq        uint64            `json:"seq"`
	Time       time.Time         `json:"time"`
	SessionID  string            `json:"sessionId"`
	ActivityID string            `json:"activityId"`
	Kind       string            `json:"kind"`
	Type       MessageType       `json:"type"`
	Recipients []roster.MemberID `json:"recipients,omitempty"`
	Result     *activity.Result  `json:"result,omitempty"`
}

// Recorder persists transitions in the order they happen.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}

type nopDispatcher struct{}

func (nopDispatcher) Send(context.Context, roster.Client, Message) error { return nil }

type nopPossessor struct{}

func (nopPossessor) Possess(context.Context, *roster.Member, activity.Tag) error { return nil }
