package roster

// Source yields the current membership it represents, in order.
type Source interface {
	Members() []*Member
}

// SourceFunc adapts functions into the Source interface.
type SourceFunc func() []*Member

// Members implements Source for SourceFunc.
func (f SourceFunc) Members() []*Member {
	if f == nil {
		return nil
	}
	return f()
}

// Roster is the subset of session members participating in an activity.
// The zero value is an empty roster.
type Roster struct {
	fixed []*Member
	live  Source
}

// Of returns a roster over a fixed set of members.
func Of(members ...*Member) Roster {
	fixed := make([]*Member, 0, len(members))
	for _, member := range members {
		if member != nil {
			fixed = append(fixed, member)
		}
	}
	return Roster{fixed: fixed}
}

// Live returns a roster that reads its membership from src on every query.
func Live(src Source) Roster {
	return Roster{live: src}
}

// IsLive reports whether the roster follows a membership source.
func (r Roster) IsLive() bool {
	return r.live != nil
}

// Members returns the participating members in order.
func (r Roster) Members() []*Member {
	if r.live != nil {
		return r.live.Members()
	}
	copied := make([]*Member, len(r.fixed))
	copy(copied, r.fixed)
	return copied
}

// Len returns the number of participating members.
func (r Roster) Len() int {
	return len(r.Members())
}

// AllConnected reports whether every member holds a live connection.
// An empty roster is never ready.
func (r Roster) AllConnected() bool {
	members := r.Members()
	if len(members) == 0 {
		return false
	}
	for _, member := range members {
		if !member.Connected() {
			return false
		}
	}
	return true
}

// Connected returns the members that currently hold a live connection.
func (r Roster) Connected() []*Member {
	members := r.Members()
	connected := make([]*Member, 0, len(members))
	for _, member := range members {
		if member.Connected() {
			connected = append(connected, member)
		}
	}
	return connected
}

// Missing returns the IDs of members without a live connection.
func (r Roster) Missing() []MemberID {
	var missing []MemberID
	for _, member := range r.Members() {
		if !member.Connected() {
			missing = append(missing, member.ID)
		}
	}
	return missing
}

// IDs returns the member IDs in roster order.
func (r Roster) IDs() []MemberID {
	members := r.Members()
	ids := make([]MemberID, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	return ids
}

// Contains reports whether the roster includes the member.
func (r Roster) Contains(id MemberID) bool {
	for _, member := range r.Members() {
		if member.ID == id {
			return true
		}
	}
	return false
}
