package activities

import (
	"context"
	"sync"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
)

// RoundResult is handed from a round to whatever follows it.
type RoundResult struct {
	Ticks map[roster.MemberID]uint64 `json:"ticks"`
}

// Round counts how many authority ticks each member spent in it. Every
// participant possesses a runner while it is active.
type Round struct {
	activity.Base

	mu     sync.Mutex
	ticks  map[roster.MemberID]uint64
	frames map[roster.MemberID]uint64
}

func NewRound(r roster.Roster) activity.Activity {
	return &Round{
		Base:   activity.NewBase(r, "runner", "round_hud"),
		ticks:  make(map[roster.MemberID]uint64),
		frames: make(map[roster.MemberID]uint64),
	}
}

func (r *Round) Initialize(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.Roster().IDs() {
		r.ticks[id] = 0
	}
}

func (r *Round) Simulate(_ context.Context, member *roster.Member) {
	r.mu.Lock()
	r.ticks[member.ID]++
	r.mu.Unlock()
}

func (r *Round) FrameSimulate(_ context.Context, member *roster.Member) {
	r.mu.Lock()
	r.frames[member.ID]++
	r.mu.Unlock()
}

func (r *Round) Deactivate(context.Context) *activity.Result {
	return activity.MustResult(KindRound, RoundResult{Ticks: r.Ticks()})
}

// Ticks returns a copy of the per-member tick counts.
func (r *Round) Ticks() map[roster.MemberID]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[roster.MemberID]uint64, len(r.ticks))
	for id, n := range r.ticks {
		out[id] = n
	}
	return out
}

// Frames returns how many presentation frames member has run.
func (r *Round) Frames(id roster.MemberID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[id]
}
