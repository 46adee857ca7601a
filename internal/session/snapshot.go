package session

import (
	"time"

	"github.com/lotuspar/libblitz/internal/activity"
)

type MemberSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Connected bool   `json:"connected"`
	ClientID  string `json:"clientId,omitempty"`
}

type InstanceSnapshot struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"createdAt"`
	Roster      []string  `json:"roster"`
	Initialized bool      `json:"initialized"`
	Activated   bool      `json:"activated"`
	EntityTag   string    `json:"entityTag,omitempty"`
	SurfaceTag  string    `json:"surfaceTag,omitempty"`
}

// Snapshot is a point-in-time diagnostics view of a session.
type Snapshot struct {
	SessionID string            `json:"sessionId"`
	Members   []MemberSnapshot  `json:"members"`
	Current   *InstanceSnapshot `json:"current,omitempty"`
	Previous  *activity.Result  `json:"previous,omitempty"`
	Seq       uint64            `json:"seq"`
}

// Snapshot captures the session membership and lifecycle state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		SessionID: c.session.ID(),
		Previous:  c.session.previous,
		Seq:       c.seq,
	}
	for _, member := range c.session.Members() {
		entry := MemberSnapshot{ID: string(member.ID), Name: member.Name}
		if client, ok := member.Client(); ok {
			entry.Connected = true
			entry.ClientID = client.ID
		}
		snapshot.Members = append(snapshot.Members, entry)
	}
	if inst := c.session.current; inst != nil {
		snapshot.Current = &InstanceSnapshot{
			ID:          inst.ID,
			Kind:        inst.Kind,
			CreatedAt:   inst.CreatedAt,
			Roster:      memberIDStrings(inst.Activity.Roster().IDs()),
			Initialized: inst.Gate.Initialized(),
			Activated:   inst.Gate.Activated(),
			EntityTag:   string(inst.Activity.ControllableEntity()),
			SurfaceTag:  string(inst.Activity.UISurface()),
		}
	}
	return snapshot
}
