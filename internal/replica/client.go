package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lotuspar/libblitz/internal/net/proto"
	"github.com/lotuspar/libblitz/internal/telemetry"
)

const (
	defaultFrameRate         = 30
	defaultHeartbeatInterval = 2 * time.Second
)

// ClientConfig points a replica at an authority.
type ClientConfig struct {
	// BaseURL is the authority's HTTP address, e.g. http://localhost:8080.
	BaseURL   string
	MemberID  string
	FrameRate int
	Dialer    *websocket.Dialer
	Logger    telemetry.Logger
}

// Client connects one replica to the authority and feeds its Runtime.
type Client struct {
	cfg     ClientConfig
	runtime *Runtime
}

func NewClient(cfg ClientConfig, runtime *Runtime) *Client {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaultFrameRate
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	return &Client{cfg: cfg, runtime: runtime}
}

// Join registers a new member with the authority and returns its ID.
func Join(ctx context.Context, baseURL, name string) (string, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/join"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("join %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("join %s: unexpected status %s", endpoint, resp.Status)
	}

	var joined struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		return "", fmt.Errorf("decode join response: %w", err)
	}
	if joined.ID == "" {
		return "", errors.New("join response carried no member id")
	}
	return joined.ID, nil
}

func (c *Client) websocketURL() (string, error) {
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	query := parsed.Query()
	query.Set("id", c.cfg.MemberID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Run dials the authority and applies its messages until ctx is done or the
// connection fails. Heartbeats start once the welcome frame arrives.
func (c *Client) Run(ctx context.Context) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open socket connection to %s: %w", wsURL, err)
	}
	defer conn.Close()

	incoming := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(incoming)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	frames := time.NewTicker(time.Second / time.Duration(c.cfg.FrameRate))
	defer frames.Stop()
	heartbeat := time.NewTicker(defaultHeartbeatInterval)
	heartbeat.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
			return nil
		case payload, ok := <-incoming:
			if !ok {
				select {
				case err := <-readErr:
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return fmt.Errorf("read from authority: %w", err)
				default:
					return nil
				}
			}
			if interval, ok := c.handle(ctx, payload); ok {
				heartbeat.Reset(interval)
			}
		case <-heartbeat.C:
			data, err := proto.EncodeClientHeartbeat(time.Now().UnixMilli())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
		case <-frames.C:
			c.runtime.Frame(ctx)
		}
	}
}

// handle applies one frame and returns the heartbeat interval when the frame
// was the welcome.
func (c *Client) handle(ctx context.Context, payload []byte) (time.Duration, bool) {
	decoded, err := proto.DecodeServerMessage(payload)
	if err != nil {
		c.cfg.Logger.Printf("discarding malformed message: %v", err)
		return 0, false
	}
	switch msg := decoded.(type) {
	case proto.Welcome:
		c.runtime.Welcome(msg)
		c.cfg.Logger.Printf("joined session %s as %s", msg.SessionID, msg.MemberID)
		interval := time.Duration(msg.HeartbeatMillis) * time.Millisecond
		if interval <= 0 {
			interval = defaultHeartbeatInterval
		}
		return interval, true
	case proto.Lifecycle:
		if err := c.runtime.Apply(ctx, msg); err != nil {
			c.cfg.Logger.Printf("failed to apply %s seq=%d: %v", msg.Type, msg.Seq, err)
		}
	case proto.Heartbeat:
	}
	return 0, false
}
