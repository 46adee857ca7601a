package ws

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lotuspar/libblitz/internal/net/proto"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/lifecycle"
)

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// Handler upgrades replica connections and binds them to session members.
type Handler struct {
	hub        *Hub
	controller *session.Controller
	logger     telemetry.Logger
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	upgrader   websocket.Upgrader
}

func NewHandler(hub *Hub, controller *session.Controller, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:        hub,
		controller: controller,
		logger:     logger,
		publisher:  publisher,
		metrics:    metrics,
		upgrader:   upgrader,
	}
}

// Handle serves /ws?id=<member>. The welcome frame is queued before the member
// is attached so it always precedes lifecycle messages.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	memberID := r.URL.Query().Get("id")
	if memberID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", memberID, err)
		return
	}

	s := h.controller.Session()
	member, ok := s.Member(roster.MemberID(memberID))
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown member")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	client := roster.Client{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: h.hub.cfg.Now(),
	}
	sub := h.hub.subscribe(client, member.ID, conn)

	welcome, err := proto.EncodeWelcome(proto.Welcome{
		SessionID:       s.ID(),
		MemberID:        string(member.ID),
		ClientID:        client.ID,
		HeartbeatMillis: h.hub.HeartbeatInterval().Milliseconds(),
		ServerTime:      client.ConnectedAt.UnixMilli(),
	})
	if err == nil {
		err = sub.enqueue(welcome)
	}
	if err != nil {
		h.logger.Printf("failed to welcome %s: %v", memberID, err)
		h.hub.drop(client.ID)
		return
	}

	if previous, replaced := member.Attach(client); replaced {
		h.hub.drop(previous.ID)
	}
	h.metrics.Add(telemetry.MetricConnections, 1)
	lifecycle.MemberConnected(ctx, h.publisher, s.ID(), logging.Member(memberID), lifecycle.ConnectionPayload{
		ClientID:   client.ID,
		RemoteAddr: client.RemoteAddr,
	})
	h.controller.NotifyMembershipChanged(ctx)

	reason := h.readLoop(ctx, member, client.ID, conn)
	h.disconnect(ctx, member, client.ID, reason)
}

func (h *Handler) readLoop(ctx context.Context, member *roster.Member, clientID string, conn *websocket.Conn) string {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", member.ID, err)
			continue
		}

		switch msg.Type {
		case proto.TypeHeartbeat:
			now := h.hub.cfg.Now()
			rtt, ok := h.hub.UpdateHeartbeat(clientID, now, msg.SentAt)
			if !ok {
				return "connection reaped"
			}
			ack, err := proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			})
			if err != nil {
				h.logger.Printf("failed to marshal heartbeat ack for %s: %v", member.ID, err)
				continue
			}
			if err := h.hub.enqueue(ctx, clientID, proto.TypeHeartbeat, ack); err != nil && !errors.Is(err, ErrBacklogFull) {
				return err.Error()
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, member.ID)
		}
	}
}

func (h *Handler) disconnect(ctx context.Context, member *roster.Member, clientID, reason string) {
	h.hub.drop(clientID)
	if !member.Detach(clientID) {
		return
	}
	s := h.controller.Session()
	lifecycle.MemberDisconnected(ctx, h.publisher, s.ID(), logging.Member(string(member.ID)), lifecycle.ConnectionPayload{
		ClientID: clientID,
		Reason:   reason,
	})
	h.controller.NotifyMembershipChanged(ctx)
}
