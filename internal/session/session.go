package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
)

// Session is the multiplayer container: a stable identifier, the ordered
// membership, the current activity instance and the last handoff result.
// The current instance and previous result are mutated only by a Controller.
type Session struct {
	id uuid.UUID

	mu      sync.RWMutex
	members []*roster.Member
	nextID  atomic.Uint64

	current  *Instance
	previous *activity.Result
}

// New creates a session with a freshly generated identifier.
func New() *Session {
	return &Session{id: uuid.New()}
}

// ID returns the identifier generated when the session was created.
func (s *Session) ID() string {
	return s.id.String()
}

// Join registers a new member under a generated ID.
func (s *Session) Join(name string) *roster.Member {
	for {
		id := roster.MemberID(fmt.Sprintf("member-%d", s.nextID.Add(1)))
		member := roster.NewMember(id, name)
		if err := s.Add(member); err == nil {
			return member
		}
	}
}

// Add registers an existing member. Member IDs are unique per session.
func (s *Session) Add(member *roster.Member) error {
	if member == nil {
		return fmt.Errorf("add member: nil member")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.ID == member.ID {
			return fmt.Errorf("add member %s: %w", member.ID, roster.ErrDuplicateMember)
		}
	}
	s.members = append(s.members, member)
	return nil
}

// Remove drops a member from the session. Explicit activity rosters that
// still reference the member are left untouched.
func (s *Session) Remove(id roster.MemberID) (*roster.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, member := range s.members {
		if member.ID == id {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return member, true
		}
	}
	return nil, false
}

// Member looks up a member by ID.
func (s *Session) Member(id roster.MemberID) (*roster.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, member := range s.members {
		if member.ID == id {
			return member, true
		}
	}
	return nil, false
}

// Members returns the session membership in join order.
func (s *Session) Members() []*roster.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]*roster.Member, len(s.members))
	copy(copied, s.members)
	return copied
}

// Roster returns a live view over the whole session membership.
func (s *Session) Roster() roster.Roster {
	return roster.Live(s)
}

// Subset returns a fixed roster of the named members.
func (s *Session) Subset(ids []roster.MemberID) (roster.Roster, error) {
	members := make([]*roster.Member, 0, len(ids))
	for _, id := range ids {
		member, ok := s.Member(id)
		if !ok {
			return roster.Roster{}, fmt.Errorf("unknown member %q", id)
		}
		members = append(members, member)
	}
	return roster.Of(members...), nil
}
