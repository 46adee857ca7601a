package lifecycle

import (
	"context"

	"github.com/lotuspar/libblitz/logging"
)

const (
	// EventActivityNotReady is emitted when an evaluation finds members without a live connection.
	EventActivityNotReady logging.EventType = "lifecycle.activity_not_ready"
	// EventActivityInitialized is emitted after the authority initialized an activity and notified replicas.
	EventActivityInitialized logging.EventType = "lifecycle.activity_initialized"
	// EventActivityActivated is emitted after the authority activated an activity and notified replicas.
	EventActivityActivated logging.EventType = "lifecycle.activity_activated"
	// EventActivityDeactivated is emitted when the session switches away from an activity.
	EventActivityDeactivated logging.EventType = "lifecycle.activity_deactivated"
	// EventDefaultRoster is emitted when an activity is built without a roster and follows the session membership.
	EventDefaultRoster logging.EventType = "lifecycle.default_roster"
	// EventUnicastSkipped is emitted when a lifecycle message could not be handed to a replica.
	EventUnicastSkipped logging.EventType = "lifecycle.unicast_skipped"
	// EventPossessionFailed is emitted when the possession subsystem rejects an assignment.
	EventPossessionFailed logging.EventType = "lifecycle.possession_failed"
	// EventMemberConnected is emitted when a member gains a live connection.
	EventMemberConnected logging.EventType = "lifecycle.member_connected"
	// EventMemberDisconnected is emitted when a member loses its live connection.
	EventMemberDisconnected logging.EventType = "lifecycle.member_disconnected"
	// EventReplicaApplied is emitted by a replica after it applied a lifecycle message.
	EventReplicaApplied logging.EventType = "lifecycle.replica_applied"
	// EventReplicaIgnored is emitted by a replica when it discards a lifecycle message.
	EventReplicaIgnored logging.EventType = "lifecycle.replica_ignored"
)

// NotReadyPayload lists the members holding up an activity.
type NotReadyPayload struct {
	Kind       string   `json:"kind"`
	RosterSize int      `json:"rosterSize"`
	Missing    []string `json:"missing,omitempty"`
}

// TransitionPayload describes an authority-side lifecycle transition.
type TransitionPayload struct {
	Kind         string   `json:"kind"`
	Recipients   []string `json:"recipients,omitempty"`
	ResultKind   string   `json:"resultKind,omitempty"`
	EntityTag    string   `json:"entityTag,omitempty"`
	SurfaceTag   string   `json:"surfaceTag,omitempty"`
	PreviousKind string   `json:"previousKind,omitempty"`
}

// DefaultRosterPayload names the activity that fell back to session membership.
type DefaultRosterPayload struct {
	Kind    string `json:"kind"`
	Members int    `json:"members"`
}

// UnicastPayload describes a lifecycle message addressed to one replica.
type UnicastPayload struct {
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
	Reason   string `json:"reason"`
}

// PossessionPayload describes a failed capability assignment.
type PossessionPayload struct {
	Tag    string `json:"tag"`
	Reason string `json:"reason"`
}

// ConnectionPayload describes a member connectivity change.
type ConnectionPayload struct {
	ClientID   string `json:"clientId"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ReplicaPayload describes how a replica handled a lifecycle message.
type ReplicaPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, sessionID string, seq uint64, actor logging.EntityRef, targets []logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      eventType,
		Seq:       seq,
		SessionID: sessionID,
		Actor:     actor,
		Targets:   targets,
		Severity:  severity,
		Category:  logging.CategoryLifecycle,
		Payload:   payload,
	})
}

// ActivityNotReady publishes an informational not-ready notice.
func ActivityNotReady(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload NotReadyPayload) {
	publish(ctx, pub, EventActivityNotReady, logging.SeverityInfo, sessionID, 0, actor, nil, payload)
}

// ActivityInitialized publishes an initialize transition.
func ActivityInitialized(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor logging.EntityRef, payload TransitionPayload) {
	publish(ctx, pub, EventActivityInitialized, logging.SeverityInfo, sessionID, seq, actor, nil, payload)
}

// ActivityActivated publishes an activate transition.
func ActivityActivated(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor logging.EntityRef, payload TransitionPayload) {
	publish(ctx, pub, EventActivityActivated, logging.SeverityInfo, sessionID, seq, actor, nil, payload)
}

// ActivityDeactivated publishes a deactivate transition.
func ActivityDeactivated(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor logging.EntityRef, payload TransitionPayload) {
	publish(ctx, pub, EventActivityDeactivated, logging.SeverityInfo, sessionID, seq, actor, nil, payload)
}

// DefaultRoster publishes the informational roster fallback notice.
func DefaultRoster(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload DefaultRosterPayload) {
	publish(ctx, pub, EventDefaultRoster, logging.SeverityInfo, sessionID, 0, actor, nil, payload)
}

// UnicastSkipped publishes a debug event for an undeliverable lifecycle message.
func UnicastSkipped(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor, target logging.EntityRef, payload UnicastPayload) {
	publish(ctx, pub, EventUnicastSkipped, logging.SeverityDebug, sessionID, seq, actor, []logging.EntityRef{target}, payload)
}

// PossessionFailed publishes a warning for a rejected capability assignment.
func PossessionFailed(ctx context.Context, pub logging.Publisher, sessionID string, actor, target logging.EntityRef, payload PossessionPayload) {
	publish(ctx, pub, EventPossessionFailed, logging.SeverityWarn, sessionID, 0, actor, []logging.EntityRef{target}, payload)
}

// MemberConnected publishes a connectivity gain.
func MemberConnected(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventMemberConnected, logging.SeverityInfo, sessionID, 0, actor, nil, payload)
}

// MemberDisconnected publishes a connectivity loss.
func MemberDisconnected(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventMemberDisconnected, logging.SeverityInfo, sessionID, 0, actor, nil, payload)
}

// ReplicaApplied publishes a debug event for an applied replica message.
func ReplicaApplied(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor logging.EntityRef, payload ReplicaPayload) {
	publish(ctx, pub, EventReplicaApplied, logging.SeverityDebug, sessionID, seq, actor, nil, payload)
}

// ReplicaIgnored publishes a debug event for a discarded replica message.
func ReplicaIgnored(ctx context.Context, pub logging.Publisher, sessionID string, seq uint64, actor logging.EntityRef, payload ReplicaPayload) {
	publish(ctx, pub, EventReplicaIgnored, logging.SeverityDebug, sessionID, seq, actor, nil, payload)
}
