package ws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotuspar/libblitz/internal/net/proto"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/network"
)

var (
	// ErrNotConnected is returned when a message targets a client the hub does
	// not hold a connection for.
	ErrNotConnected = errors.New("ws: client not connected")
	// ErrBacklogFull is returned when a client's outbound queue is saturated.
	ErrBacklogFull = errors.New("ws: outbound backlog full")
)

const (
	defaultSendBuffer        = 32
	defaultHeartbeatInterval = 2 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	// A connection that misses this many heartbeat intervals is reaped.
	heartbeatMissLimit = 3
)

// HubConfig tunes the connection hub.
type HubConfig struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	DisconnectAfter   time.Duration
	WriteTimeout      time.Duration

	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	Now       func() time.Time
}

// DefaultHubConfig returns the standard hub tuning.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:        defaultSendBuffer,
		HeartbeatInterval: defaultHeartbeatInterval,
		DisconnectAfter:   heartbeatMissLimit * defaultHeartbeatInterval,
		WriteTimeout:      defaultWriteTimeout,
	}
}

func (cfg HubConfig) normalized() HubConfig {
	defaults := DefaultHubConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = heartbeatMissLimit * cfg.HeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Hub owns every live replica connection keyed by client ID. It is the
// authority's unicast channel: Send addresses exactly one connection and never
// blocks on it.
type Hub struct {
	cfg HubConfig

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

var _ session.Dispatcher = (*Hub)(nil)

// NewHub creates a hub with no connections.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:         cfg.normalized(),
		subscribers: make(map[string]*subscriber),
	}
}

// HeartbeatInterval is the cadence replicas are asked to heartbeat at.
func (h *Hub) HeartbeatInterval() time.Duration {
	return h.cfg.HeartbeatInterval
}

// Send queues msg for the connection identified by client.
func (h *Hub) Send(ctx context.Context, client roster.Client, msg session.Message) error {
	payload, err := proto.EncodeLifecycle(proto.FromSession(msg))
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return h.enqueue(ctx, client.ID, string(msg.Type), payload)
}

func (h *Hub) enqueue(ctx context.Context, clientID, label string, payload []byte) error {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	h.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	err := sub.enqueue(payload)
	if errors.Is(err, ErrBacklogFull) {
		h.cfg.Metrics.Add(telemetry.MetricBacklogDrops, 1)
		network.BacklogFull(ctx, h.cfg.Publisher, logging.Member(string(sub.memberID)), network.BacklogPayload{
			ClientID: clientID,
			Capacity: cap(sub.send),
			Message:  label,
		})
	}
	return err
}

func (h *Hub) subscribe(client roster.Client, memberID roster.MemberID, conn *websocket.Conn) *subscriber {
	sub := newSubscriber(client, memberID, conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	sub.lastHeartbeat = h.cfg.Now()

	h.mu.Lock()
	h.subscribers[client.ID] = sub
	h.mu.Unlock()

	go sub.writePump()
	return sub
}

// drop closes and forgets the connection of clientID.
func (h *Hub) drop(clientID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	if ok {
		delete(h.subscribers, clientID)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// UpdateHeartbeat records the most recent heartbeat time and RTT for a client.
func (h *Hub) UpdateHeartbeat(clientID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[clientID]
	if !ok {
		return 0, false
	}
	sub.lastHeartbeat = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			sub.lastRTT = rtt
		}
	}
	return sub.lastRTT, true
}

// ReapStale closes every connection whose last heartbeat is older than the
// disconnect threshold. The read loop of each closed connection then detaches
// its member. It returns the reaped client IDs.
func (h *Hub) ReapStale(ctx context.Context) []string {
	now := h.cfg.Now()

	type staleClient struct {
		sub    *subscriber
		silent time.Duration
	}

	h.mu.Lock()
	var stale []staleClient
	for id, sub := range h.subscribers {
		if silent := now.Sub(sub.lastHeartbeat); silent > h.cfg.DisconnectAfter {
			stale = append(stale, staleClient{sub: sub, silent: silent})
			delete(h.subscribers, id)
		}
	}
	h.mu.Unlock()

	reaped := make([]string, 0, len(stale))
	for _, entry := range stale {
		sub, silent := entry.sub, entry.silent
		h.cfg.Logger.Printf("disconnecting %s due to heartbeat timeout", sub.client.ID)
		h.cfg.Metrics.Add(telemetry.MetricHeartbeatReaped, 1)
		network.HeartbeatTimeout(ctx, h.cfg.Publisher, logging.Member(string(sub.memberID)), network.HeartbeatPayload{
			ClientID:    sub.client.ID,
			SilentMilli: silent.Milliseconds(),
		})
		sub.close()
		reaped = append(reaped, sub.client.ID)
	}
	sort.Strings(reaped)
	return reaped
}

// RunHeartbeatReaper reaps silent connections every heartbeat interval until
// ctx is done.
func (h *Hub) RunHeartbeatReaper(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ReapStale(ctx)
		}
	}
}

// Close disconnects every replica.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// ClientDiagnostics describes one live connection.
type ClientDiagnostics struct {
	ClientID      string    `json:"clientId"`
	MemberID      string    `json:"memberId"`
	RemoteAddr    string    `json:"remoteAddr,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat int64     `json:"lastHeartbeat"`
	RTTMillis     int64     `json:"rttMillis"`
	Queued        int       `json:"queued"`
}

// DiagnosticsSnapshot exposes heartbeat data for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() []ClientDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]ClientDiagnostics, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		clients = append(clients, ClientDiagnostics{
			ClientID:      sub.client.ID,
			MemberID:      string(sub.memberID),
			RemoteAddr:    sub.client.RemoteAddr,
			ConnectedAt:   sub.client.ConnectedAt,
			LastHeartbeat: sub.lastHeartbeat.UnixMilli(),
			RTTMillis:     sub.lastRTT.Milliseconds(),
			Queued:        len(sub.send),
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients
}
