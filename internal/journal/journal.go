package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
)

// Telemetry captures the metrics adapter used by the journal to report drops.
type Telemetry interface {
	RecordJournalDrop(metric string)
}

const (
	metricJournalNonMonotonicSeq = "journal_nonmonotonic_seq"
)

// ErrNonMonotonicSeq is returned when a transition does not advance the
// sequence of its session.
var ErrNonMonotonicSeq = errors.New("journal: non-monotonic sequence")

// Eviction describes a transition dropped from the retention window.
type Eviction struct {
	Seq    uint64
	Reason string
}

// RecordResult reports the retention window after a Record.
type RecordResult struct {
	Size      int
	OldestSeq uint64
	NewestSeq uint64
	Evicted   []Eviction
}

type entry struct {
	transition session.Transition
	recordedAt time.Time
}

// Journal keeps a rolling in-memory window of lifecycle transitions, bounded
// by count and by age.
type Journal struct {
	mu        sync.RWMutex
	entries   []entry
	maxItems  int
	maxAge    time.Duration
	lastSeq   map[string]uint64
	telemetry Telemetry
	now       func() time.Time
	last      RecordResult
}

var _ session.Recorder = (*Journal)(nil)

// New constructs a journal retaining up to capacity transitions for at most
// maxAge. A zero maxAge disables age eviction.
func New(capacity int, maxAge time.Duration) *Journal {
	if capacity < 0 {
		capacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		entries:  make([]entry, 0, capacity),
		maxItems: capacity,
		maxAge:   maxAge,
		lastSeq:  make(map[string]uint64),
		now:      time.Now,
	}
}

// Record appends t. Transitions must arrive in strictly increasing Seq order
// per session.
func (j *Journal) Record(_ context.Context, t session.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if last, ok := j.lastSeq[t.SessionID]; ok && t.Seq <= last {
		j.recordJournalDropLocked(metricJournalNonMonotonicSeq)
		return fmt.Errorf("%w: seq %d after %d", ErrNonMonotonicSeq, t.Seq, last)
	}
	j.lastSeq[t.SessionID] = t.Seq

	if j.maxItems == 0 {
		j.entries = j.entries[:0]
		j.last = RecordResult{}
		return nil
	}

	recordedAt := j.now()
	j.entries = append(j.entries, entry{transition: cloneTransition(t), recordedAt: recordedAt})

	evicted := make([]Eviction, 0)
	if j.maxAge > 0 {
		cutoff := recordedAt.Add(-j.maxAge)
		idx := 0
		for idx < len(j.entries) && j.entries[idx].recordedAt.Before(cutoff) {
			evicted = append(evicted, Eviction{Seq: j.entries[idx].transition.Seq, Reason: "expired"})
			idx++
		}
		if idx > 0 {
			copy(j.entries, j.entries[idx:])
			j.entries = j.entries[:len(j.entries)-idx]
		}
	}

	if len(j.entries) > j.maxItems {
		overflow := len(j.entries) - j.maxItems
		for i := 0; i < overflow; i++ {
			evicted = append(evicted, Eviction{Seq: j.entries[i].transition.Seq, Reason: "count"})
		}
		copy(j.entries, j.entries[overflow:])
		j.entries = j.entries[:len(j.entries)-overflow]
	}

	size := len(j.entries)
	result := RecordResult{Size: size, Evicted: evicted}
	if size > 0 {
		result.OldestSeq = j.entries[0].transition.Seq
		result.NewestSeq = j.entries[size-1].transition.Seq
	}
	j.last = result
	return nil
}

// LastResult reports the window state after the most recent Record.
func (j *Journal) LastResult() RecordResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// Transitions exposes the retained transitions in chronological order.
func (j *Journal) Transitions() []session.Transition {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return nil
	}
	out := make([]session.Transition, len(j.entries))
	for i, e := range j.entries {
		out[i] = cloneTransition(e.transition)
	}
	return out
}

// BySeq returns the retained transition with the given sequence.
func (j *Journal) BySeq(seq uint64) (session.Transition, bool) {
	if seq == 0 {
		return session.Transition{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, e := range j.entries {
		if e.transition.Seq == seq {
			return cloneTransition(e.transition), true
		}
	}
	return session.Transition{}, false
}

// Window reports the current retention window.
func (j *Journal) Window() (size int, oldest, newest uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.entries)
	if size == 0 {
		return size, 0, 0
	}
	return size, j.entries[0].transition.Seq, j.entries[size-1].transition.Seq
}

func (j *Journal) recordJournalDropLocked(metric string) {
	if j.telemetry == nil || metric == "" {
		return
	}
	j.telemetry.RecordJournalDrop(metric)
}

func (j *Journal) AttachTelemetry(t Telemetry) {
	j.mu.Lock()
	j.telemetry = t
	j.mu.Unlock()
}

func cloneTransition(t session.Transition) session.Transition {
	if len(t.Recipients) > 0 {
		t.Recipients = append([]roster.MemberID(nil), t.Recipients...)
	}
	if t.Result != nil {
		result := activity.Result{Kind: t.Result.Kind}
		if len(t.Result.Data) > 0 {
			result.Data = append([]byte(nil), t.Result.Data...)
		}
		t.Result = &result
	}
	return t
}

// Tee fans each transition out to every recorder and joins their errors.
func Tee(recorders ...session.Recorder) session.Recorder {
	return tee(recorders)
}

type tee []session.Recorder

func (t tee) Record(ctx context.Context, transition session.Transition) error {
	var errs []error
	for _, recorder := range t {
		if recorder == nil {
			continue
		}
		if err := recorder.Record(ctx, transition); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
