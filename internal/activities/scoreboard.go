package activities

import (
	"context"
	"sort"
	"sync"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
)

// Standing is one row of the scoreboard.
type Standing struct {
	Member roster.MemberID `json:"member"`
	Ticks  uint64          `json:"ticks"`
}

// ScoreboardResult carries the standings on to the next activity.
type ScoreboardResult struct {
	Standings []Standing `json:"standings"`
}

// Scoreboard ranks the members of the preceding round. Any other previous
// result leaves it empty.
type Scoreboard struct {
	activity.Base

	mu        sync.Mutex
	standings []Standing
}

func NewScoreboard(r roster.Roster) activity.Activity {
	return &Scoreboard{Base: activity.NewBase(r, activity.None, "scoreboard_hud")}
}

func (s *Scoreboard) Activate(_ context.Context, previous *activity.Result) {
	if previous == nil || previous.Kind != KindRound {
		return
	}
	var round RoundResult
	if err := previous.Decode(&round); err != nil {
		return
	}
	s.mu.Lock()
	s.standings = rank(round.Ticks)
	s.mu.Unlock()
}

func (s *Scoreboard) Deactivate(context.Context) *activity.Result {
	return activity.MustResult(KindScoreboard, ScoreboardResult{Standings: s.Standings()})
}

// Standings returns the ranking, highest tick count first.
func (s *Scoreboard) Standings() []Standing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Standing(nil), s.standings...)
}

func rank(ticks map[roster.MemberID]uint64) []Standing {
	standings := make([]Standing, 0, len(ticks))
	for id, n := range ticks {
		standings = append(standings, Standing{Member: id, Ticks: n})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Ticks != standings[j].Ticks {
			return standings[i].Ticks > standings[j].Ticks
		}
		return standings[i].Member < standings[j].Member
	})
	return standings
}
