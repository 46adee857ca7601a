package proto

import (
	"encoding/json"
	"fmt"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
)

const (
	// Version tracks the wire-protocol revision expected by replicas.
	Version = 1
)

// Server message type identifiers.
const (
	TypeWelcome    = "welcome"
	TypeInitialize = string(session.MessageInitialize)
	TypeActivate   = string(session.MessageActivate)
	TypeDeactivate = string(session.MessageDeactivate)
	TypeHeartbeat  = "heartbeat"
)

// Welcome is the first frame a replica receives after the upgrade.
type Welcome struct {
	Ver             int    `json:"ver"`
	Type            string `json:"type"`
	SessionID       string `json:"sessionId"`
	MemberID        string `json:"memberId"`
	ClientID        string `json:"clientId"`
	HeartbeatMillis int64  `json:"heartbeatMillis"`
	ServerTime      int64  `json:"serverTime"`
}

// EncodeWelcome renders a welcome payload.
func EncodeWelcome(msg Welcome) ([]byte, error) {
	msg.Ver = Version
	msg.Type = TypeWelcome
	return json.Marshal(msg)
}

// Lifecycle is the wire form of one unicast lifecycle transition.
type Lifecycle struct {
	Ver        int              `json:"ver"`
	Type       string           `json:"type"`
	Seq        uint64           `json:"seq"`
	SessionID  string           `json:"sessionId"`
	ActivityID string           `json:"activityId"`
	Kind       string           `json:"kind"`
	Members    []string         `json:"members,omitempty"`
	Previous   *activity.Result `json:"previous,omitempty"`
}

// FromSession converts a controller message to its wire form.
func FromSession(msg session.Message) Lifecycle {
	out := Lifecycle{
		Ver:        Version,
		Type:       string(msg.Type),
		Seq:        msg.Seq,
		SessionID:  msg.SessionID,
		ActivityID: msg.ActivityID,
		Kind:       msg.Kind,
		Previous:   msg.Previous,
	}
	for _, id := range msg.Members {
		out.Members = append(out.Members, string(id))
	}
	return out
}

// MemberIDs returns the roster carried by an initialize message.
func (l Lifecycle) MemberIDs() []roster.MemberID {
	ids := make([]roster.MemberID, len(l.Members))
	for i, id := range l.Members {
		ids[i] = roster.MemberID(id)
	}
	return ids
}

// EncodeLifecycle renders a lifecycle payload.
func EncodeLifecycle(msg Lifecycle) ([]byte, error) {
	switch msg.Type {
	case TypeInitialize, TypeActivate, TypeDeactivate:
	default:
		return nil, fmt.Errorf("unknown lifecycle type %q", msg.Type)
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// Heartbeat echoes timing metadata back to the replica.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	return json.Marshal(heartbeatFrame{
		Ver:        Version,
		Type:       TypeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	})
}

type heartbeatFrame struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// DecodeServerMessage parses an authority frame into Welcome, Lifecycle or
// Heartbeat.
func DecodeServerMessage(payload []byte) (any, error) {
	var head struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	if head.Ver != Version {
		return nil, fmt.Errorf("unsupported server protocol version %d", head.Ver)
	}

	switch head.Type {
	case TypeWelcome:
		var msg Welcome
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeInitialize, TypeActivate, TypeDeactivate:
		var msg Lifecycle
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeHeartbeat:
		var frame heartbeatFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			return nil, err
		}
		return Heartbeat{ServerTime: frame.ServerTime, ClientTime: frame.ClientTime, RTTMillis: frame.RTTMillis}, nil
	default:
		return nil, fmt.Errorf("unknown server message type %q", head.Type)
	}
}

// ClientMessage captures an inbound websocket message from a replica.
type ClientMessage struct {
	Ver    int    `json:"ver,omitempty"`
	Type   string `json:"type"`
	SentAt int64  `json:"sentAt"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// EncodeClientHeartbeat renders the heartbeat a replica sends to the authority.
func EncodeClientHeartbeat(sentAt int64) ([]byte, error) {
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeHeartbeat, SentAt: sentAt})
}
