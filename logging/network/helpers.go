package network

import (
	"context"

	"github.com/lotuspar/libblitz/logging"
)

const (
	// EventHeartbeatTimeout is emitted when a replica connection stops sending heartbeats.
	EventHeartbeatTimeout logging.EventType = "network.heartbeat_timeout"
	// EventBacklogFull is emitted when a replica's outbound queue cannot take another message.
	EventBacklogFull logging.EventType = "network.backlog_full"
)

// HeartbeatPayload captures how long a connection has been silent.
type HeartbeatPayload struct {
	ClientID    string `json:"clientId"`
	SilentMilli int64  `json:"silentMillis"`
}

// BacklogPayload captures the outbound queue state of a connection.
type BacklogPayload struct {
	ClientID string `json:"clientId"`
	Capacity int    `json:"capacity"`
	Message  string `json:"message"`
}

// HeartbeatTimeout publishes a warning when a connection is reaped for silence.
func HeartbeatTimeout(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload HeartbeatPayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventHeartbeatTimeout,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}

// BacklogFull publishes a warning when a message is dropped for a slow replica.
func BacklogFull(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload BacklogPayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventBacklogFull,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}
