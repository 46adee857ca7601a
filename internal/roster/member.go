package roster

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateMember is returned when a member ID is registered twice.
var ErrDuplicateMember = errors.New("roster: duplicate member")

// MemberID identifies a session participant.
type MemberID string

// Client is the live connection handle of a member.
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Member is a session participant that may or may not hold a live connection.
type Member struct {
	ID   MemberID
	Name string

	mu     sync.RWMutex
	client *Client
}

// NewMember constructs a member without a live connection.
func NewMember(id MemberID, name string) *Member {
	return &Member{ID: id, Name: name}
}

// Attach binds a live connection and returns the one it replaced, if any.
func (m *Member) Attach(client Client) (Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous Client
	replaced := false
	if m.client != nil {
		previous = *m.client
		replaced = true
	}
	bound := client
	m.client = &bound
	return previous, replaced
}

// Detach clears the connection only if it is still the one identified by clientID.
func (m *Member) Detach(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil || m.client.ID != clientID {
		return false
	}
	m.client = nil
	return true
}

// Client returns the live connection handle.
func (m *Member) Client() (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil {
		return Client{}, false
	}
	return *m.client, true
}

// Connected reports whether the member currently holds a live connection.
func (m *Member) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}
