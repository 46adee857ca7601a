package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotuspar/libblitz/internal/roster"
)

// subscriber is one replica connection. Only writePump writes to conn once
// the subscriber is registered.
type subscriber struct {
	client       roster.Client
	memberID     roster.MemberID
	conn         *websocket.Conn
	writeTimeout time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// guarded by Hub.mu
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

func newSubscriber(client roster.Client, memberID roster.MemberID, conn *websocket.Conn, buffer int, writeTimeout time.Duration) *subscriber {
	return &subscriber{
		client:       client,
		memberID:     memberID,
		conn:         conn,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

func (s *subscriber) enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrNotConnected
	default:
		return ErrBacklogFull
	}
}

func (s *subscriber) writePump() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
