package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging/lifecycle"
	"github.com/lotuspar/libblitz/logging/sinks"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

type probe struct {
	activity.Base
	name   string
	log    *callLog
	result *activity.Result

	initializeCalls int
	activateCalls   int
	deactivateCalls int
	activatedWith   []*activity.Result
	simulated       []roster.MemberID
	skipEvaluation  bool
}

func (p *probe) Initialize(context.Context) {
	p.initializeCalls++
	p.log.add("%s.initialize", p.name)
}

func (p *probe) Activate(_ context.Context, previous *activity.Result) {
	p.activateCalls++
	p.activatedWith = append(p.activatedWith, previous)
	p.log.add("%s.activate", p.name)
}

func (p *probe) Deactivate(context.Context) *activity.Result {
	p.deactivateCalls++
	p.log.add("%s.deactivate", p.name)
	return p.result
}

func (p *probe) Simulate(_ context.Context, member *roster.Member) {
	p.simulated = append(p.simulated, member.ID)
}

func (p *probe) OnMembershipChanged(ctx context.Context, ev activity.Evaluator) {
	if p.skipEvaluation {
		return
	}
	p.Base.OnMembershipChanged(ctx, ev)
}

type recordingDispatcher struct {
	log      *callLog
	mu       sync.Mutex
	byClient map[string][]Message
	fail     map[string]error
}

func newRecordingDispatcher(log *callLog) *recordingDispatcher {
	return &recordingDispatcher{log: log, byClient: make(map[string][]Message), fail: make(map[string]error)}
}

func (d *recordingDispatcher) Send(_ context.Context, client roster.Client, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[client.ID]; err != nil {
		return err
	}
	d.byClient[client.ID] = append(d.byClient[client.ID], msg)
	d.log.add("send %s %s", msg.Type, client.ID)
	return nil
}

func (d *recordingDispatcher) messages(clientID string) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.byClient[clientID]...)
}

type recordingRecorder struct {
	transitions []Transition
}

func (r *recordingRecorder) Record(_ context.Context, t Transition) error {
	r.transitions = append(r.transitions, t)
	return nil
}

type fixture struct {
	session    *Session
	controller *Controller
	dispatcher *recordingDispatcher
	log        *callLog
	events     *sinks.MemorySink
	metrics    *telemetry.Counters
	p1, p2     *roster.Member
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	log := &callLog{}
	s := New()
	p1 := roster.NewMember("p1", "one")
	p2 := roster.NewMember("p2", "two")
	require.NoError(t, s.Add(p1))
	require.NoError(t, s.Add(p2))

	f := &fixture{
		session:    s,
		dispatcher: newRecordingDispatcher(log),
		log:        log,
		events:     sinks.NewMemorySink(),
		metrics:    telemetry.NewCounters(),
		p1:         p1,
		p2:         p2,
	}
	base := []Option{WithDispatcher(f.dispatcher), WithPublisher(f.events), WithMetrics(f.metrics)}
	f.controller = NewController(s, append(base, opts...)...)
	return f
}

func (f *fixture) factory(name string, result *activity.Result, built **probe) activity.Factory {
	return func(r roster.Roster) activity.Activity {
		p := &probe{Base: activity.NewBase(r, activity.None, activity.None), name: name, log: f.log, result: result}
		if built != nil {
			*built = p
		}
		return p
	}
}

func (f *fixture) connect(t *testing.T, m *roster.Member, clientID string) {
	t.Helper()
	m.Attach(roster.Client{ID: clientID})
	f.controller.NotifyMembershipChanged(context.Background())
}

func (f *fixture) disconnect(t *testing.T, m *roster.Member, clientID string) {
	t.Helper()
	require.True(t, m.Detach(clientID))
	f.controller.NotifyMembershipChanged(context.Background())
}

func TestReadinessScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	previous, err := f.controller.SwitchActivity(ctx, "probe", f.factory("a", nil, &a), nil)
	require.NoError(t, err)
	assert.Nil(t, previous)
	inst := f.controller.Current()
	require.NotNil(t, inst)

	// Neither member connected.
	f.controller.Evaluate(ctx, inst)
	assert.False(t, inst.Gate.Initialized())
	assert.False(t, inst.Gate.Activated())
	assert.Empty(t, f.log.snapshot())

	// Only p1 connected.
	f.connect(t, f.p1, "c1")
	assert.False(t, inst.Gate.Initialized())
	assert.Zero(t, a.initializeCalls)
	assert.Empty(t, f.log.snapshot())

	// Both connected: one full transition, authority first, then unicasts.
	f.connect(t, f.p2, "c2")
	assert.Equal(t, []string{
		"a.initialize",
		"send initialize c1",
		"send initialize c2",
		"a.activate",
		"send activate c1",
		"send activate c2",
	}, f.log.snapshot())
	assert.Equal(t, 1, a.initializeCalls)
	assert.Equal(t, 1, a.activateCalls)
	assert.True(t, inst.Gate.Initialized())
	assert.True(t, inst.Gate.Activated())

	for _, clientID := range []string{"c1", "c2"} {
		msgs := f.dispatcher.messages(clientID)
		require.Len(t, msgs, 2)
		assert.Equal(t, MessageInitialize, msgs[0].Type)
		assert.Equal(t, []roster.MemberID{"p1", "p2"}, msgs[0].Members)
		assert.Equal(t, MessageActivate, msgs[1].Type)
		assert.Equal(t, []roster.MemberID{"p1", "p2"}, msgs[1].Members)
		assert.Less(t, msgs[0].Seq, msgs[1].Seq)
		assert.Equal(t, inst.ID, msgs[1].ActivityID)
		assert.Equal(t, f.session.ID(), msgs[1].SessionID)
	}

	// p1 drops and comes back: latches are already consumed.
	f.log.reset()
	f.disconnect(t, f.p1, "c1")
	f.connect(t, f.p1, "c1b")
	assert.Empty(t, f.log.snapshot())
	assert.Empty(t, f.dispatcher.messages("c1b"))
	assert.Equal(t, 1, a.initializeCalls)
	assert.Equal(t, 1, a.activateCalls)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "probe", f.factory("a", nil, &a), nil)
	require.NoError(t, err)

	inst := f.controller.Current()
	for i := 0; i < 10; i++ {
		f.controller.Evaluate(ctx, inst)
		f.controller.NotifyMembershipChanged(ctx)
	}

	assert.Equal(t, 1, a.initializeCalls)
	assert.Equal(t, 1, a.activateCalls)
	assert.Len(t, f.dispatcher.messages("c1"), 2)
	assert.Len(t, f.dispatcher.messages("c2"), 2)
	assert.Equal(t, uint64(1), f.metrics.Snapshot()[telemetry.MetricInitializations])
	assert.Equal(t, uint64(1), f.metrics.Snapshot()[telemetry.MetricActivations])
}

func TestConcurrentNotificationsFireOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "probe", f.factory("a", nil, &a), nil)
	require.NoError(t, err)
	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.controller.NotifyMembershipChanged(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, a.initializeCalls)
	assert.Equal(t, 1, a.activateCalls)
}

func TestHandoffPassesDeactivateResultToNextActivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := activity.NewResult("a", map[string]int{"score": 7})
	require.NoError(t, err)

	var a, b *probe
	_, err = f.controller.SwitchActivity(ctx, "a", f.factory("a", result, &a), nil)
	require.NoError(t, err)

	previous, err := f.controller.SwitchActivity(ctx, "b", f.factory("b", nil, &b), nil)
	require.NoError(t, err)
	assert.Same(t, result, previous)
	assert.Same(t, result, f.controller.Previous())
	assert.Equal(t, 1, a.deactivateCalls)
	assert.Zero(t, b.activateCalls)

	f.connect(t, f.p1, "c1")
	f.connect(t, f.p2, "c2")

	require.Len(t, b.activatedWith, 1)
	assert.Same(t, result, b.activatedWith[0])

	msgs := f.dispatcher.messages("c1")
	require.Len(t, msgs, 2)
	assert.Same(t, result, msgs[1].Previous)
}

func TestSwitchDeactivatesOnlyConnectedMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, nil), nil)
	require.NoError(t, err)
	require.True(t, f.p2.Detach("c2"))

	f.log.reset()
	var b *probe
	_, err = f.controller.SwitchActivity(ctx, "b", f.factory("b", nil, &b), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.deactivate", "send deactivate c1"}, f.log.snapshot())
	sent := f.dispatcher.messages("c1")
	require.Len(t, sent, 3)
	assert.Equal(t, []roster.MemberID{"p1", "p2"}, sent[2].Members)
	assert.Len(t, f.dispatcher.messages("c2"), 2)
	assert.Zero(t, b.initializeCalls)
}

func TestSwitchEvaluatesReadyRosterImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, nil), nil)
	require.NoError(t, err)

	f.log.reset()
	_, err = f.controller.SwitchActivity(ctx, "b", f.factory("b", nil, nil), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a.deactivate",
		"send deactivate c1",
		"send deactivate c2",
		"b.initialize",
		"send initialize c1",
		"send initialize c2",
		"b.activate",
		"send activate c1",
		"send activate c2",
	}, f.log.snapshot())
}

func TestUnicastFailureDoesNotAbortOrRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dispatcher.fail["c1"] = errors.New("connection closed")

	var a *probe
	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), nil)
	require.NoError(t, err)

	inst := f.controller.Current()
	assert.True(t, inst.Gate.Initialized())
	assert.True(t, inst.Gate.Activated())
	assert.Equal(t, 1, a.activateCalls)
	assert.Empty(t, f.dispatcher.messages("c1"))
	assert.Len(t, f.dispatcher.messages("c2"), 2)
	assert.Equal(t, uint64(2), f.metrics.Snapshot()[telemetry.MetricUnicastSkipped])

	skipped := f.events.OfType(lifecycle.EventUnicastSkipped)
	require.Len(t, skipped, 2)
	assert.Equal(t, "p1", skipped[0].Targets[0].ID)

	// The failure is not retried by later evaluations.
	delete(f.dispatcher.fail, "c1")
	f.controller.Evaluate(ctx, inst)
	assert.Empty(t, f.dispatcher.messages("c1"))
}

func TestExplicitEmptyRosterNeverStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.p1.Attach(roster.Client{ID: "c1"})

	var a *probe
	empty := roster.Of()
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), &empty)
	require.NoError(t, err)
	f.controller.NotifyMembershipChanged(ctx)

	assert.Zero(t, a.initializeCalls)
	assert.False(t, f.controller.Current().Gate.Initialized())
	assert.Empty(t, f.events.OfType(lifecycle.EventDefaultRoster))
	require.NotEmpty(t, f.events.OfType(lifecycle.EventActivityNotReady))
}

func TestExplicitRosterOnlyWaitsForItsMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	subset, err := f.session.Subset([]roster.MemberID{"p2"})
	require.NoError(t, err)

	var a *probe
	_, err = f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), &subset)
	require.NoError(t, err)

	f.connect(t, f.p2, "c2")
	assert.Equal(t, 1, a.activateCalls)
	assert.Empty(t, f.dispatcher.messages("c1"))
	assert.Len(t, f.dispatcher.messages("c2"), 2)

	_, err = f.session.Subset([]roster.MemberID{"nope"})
	assert.Error(t, err)
}

func TestDefaultRosterNoticeAndNotReadyEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, nil), nil)
	require.NoError(t, err)

	notices := f.events.OfType(lifecycle.EventDefaultRoster)
	require.Len(t, notices, 1)
	assert.Equal(t, lifecycle.DefaultRosterPayload{Kind: "a", Members: 2}, notices[0].Payload)

	f.connect(t, f.p1, "c1")
	notReady := f.events.OfType(lifecycle.EventActivityNotReady)
	require.Len(t, notReady, 2)
	payload, ok := notReady[1].Payload.(lifecycle.NotReadyPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"p2"}, payload.Missing)
}

func TestLeaveOfUnconnectedMemberStartsLiveRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), nil)
	require.NoError(t, err)
	assert.Zero(t, a.initializeCalls)

	removed, ok := f.controller.Leave(ctx, "p2")
	require.True(t, ok)
	assert.Same(t, f.p2, removed)
	assert.Equal(t, 1, a.initializeCalls)
	assert.Equal(t, 1, a.activateCalls)
	msgs := f.dispatcher.messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []roster.MemberID{"p1"}, msgs[0].Members)
	assert.Equal(t, []roster.MemberID{"p1"}, msgs[1].Members)

	_, ok = f.controller.Leave(ctx, "p2")
	assert.False(t, ok)
}

func TestLateJoinerReceivesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), nil)
	require.NoError(t, err)

	p3 := f.session.Join("three")
	f.connect(t, p3, "c3")

	assert.Empty(t, f.dispatcher.messages("c3"))
	assert.Equal(t, 1, a.initializeCalls)
}

func TestPossessionOnActivate(t *testing.T) {
	var possessed []string
	possessor := PossessorFunc(func(_ context.Context, m *roster.Member, tag activity.Tag) error {
		possessed = append(possessed, fmt.Sprintf("%s=%s", m.ID, tag))
		if m.ID == "p2" {
			return errors.New("no spawn point")
		}
		return nil
	})
	f := newFixture(t, WithPossessor(possessor))
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "runner", func(r roster.Roster) activity.Activity {
		return &probe{Base: activity.NewBase(r, "runner_pawn", "hud"), name: "runner", log: f.log}
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1=runner_pawn", "p2=runner_pawn"}, possessed)
	assert.Len(t, f.events.OfType(lifecycle.EventPossessionFailed), 1)

	// No tag, no possession.
	possessed = nil
	_, err = f.controller.SwitchActivity(ctx, "plain", f.factory("plain", nil, nil), nil)
	require.NoError(t, err)
	assert.Empty(t, possessed)
}

func TestRecorderSeesTransitionsInOrder(t *testing.T) {
	recorder := &recordingRecorder{}
	f := newFixture(t, WithRecorder(recorder))
	ctx := context.Background()

	result := &activity.Result{Kind: "a"}
	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", result, nil), nil)
	require.NoError(t, err)
	_, err = f.controller.SwitchActivity(ctx, "b", f.factory("b", nil, nil), nil)
	require.NoError(t, err)

	require.Len(t, recorder.transitions, 5)
	types := make([]MessageType, 0, len(recorder.transitions))
	for i, transition := range recorder.transitions {
		types = append(types, transition.Type)
		assert.Equal(t, uint64(i+1), transition.Seq)
		assert.Equal(t, []roster.MemberID{"p1", "p2"}, transition.Recipients)
	}
	assert.Equal(t, []MessageType{
		MessageInitialize, MessageActivate, MessageDeactivate, MessageInitialize, MessageActivate,
	}, types)
	assert.Same(t, result, recorder.transitions[2].Result)
	assert.Same(t, result, recorder.transitions[4].Result)
}

func TestMembershipHookCanSuppressEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "a", func(r roster.Roster) activity.Activity {
		a = &probe{Base: activity.NewBase(r, activity.None, activity.None), name: "a", log: f.log, skipEvaluation: true}
		return a
	}, nil)
	require.NoError(t, err)

	f.connect(t, f.p1, "c1")
	f.connect(t, f.p2, "c2")
	assert.Zero(t, a.initializeCalls)

	f.controller.Evaluate(ctx, f.controller.Current())
	assert.Equal(t, 1, a.initializeCalls)
}

func TestRetiredInstanceIsNeverEvaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), nil)
	require.NoError(t, err)
	retired := f.controller.Current()

	_, err = f.controller.SwitchActivity(ctx, "b", f.factory("b", nil, nil), nil)
	require.NoError(t, err)
	assert.True(t, retired.Retired())

	f.p1.Attach(roster.Client{ID: "c1"})
	f.p2.Attach(roster.Client{ID: "c2"})
	f.controller.Evaluate(ctx, retired)
	assert.Zero(t, a.initializeCalls)

	assert.Nil(t, f.controller.Deactivate(ctx, retired))
	assert.Equal(t, 1, a.deactivateCalls)
}

func TestTickSimulatesConnectedMembersOnceActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var a *probe
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, &a), nil)
	require.NoError(t, err)

	f.controller.Tick(ctx)
	assert.Empty(t, a.simulated)

	f.connect(t, f.p1, "c1")
	f.connect(t, f.p2, "c2")
	f.controller.Tick(ctx)
	assert.Equal(t, []roster.MemberID{"p1", "p2"}, a.simulated)

	require.True(t, f.p2.Detach("c2"))
	f.controller.Tick(ctx)
	assert.Equal(t, []roster.MemberID{"p1", "p2", "p1"}, a.simulated)
}

func TestSwitchRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.SwitchActivity(ctx, "", f.factory("a", nil, nil), nil)
	assert.Error(t, err)
	_, err = f.controller.SwitchActivity(ctx, "a", nil, nil)
	assert.Error(t, err)
	_, err = f.controller.SwitchActivity(ctx, "a", func(roster.Roster) activity.Activity { return nil }, nil)
	assert.Error(t, err)
	assert.Nil(t, f.controller.Current())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p1.Attach(roster.Client{ID: "c1"})
	_, err := f.controller.SwitchActivity(ctx, "a", f.factory("a", nil, nil), nil)
	require.NoError(t, err)

	snapshot := f.controller.Snapshot()
	assert.Equal(t, f.session.ID(), snapshot.SessionID)
	require.Len(t, snapshot.Members, 2)
	assert.True(t, snapshot.Members[0].Connected)
	assert.Equal(t, "c1", snapshot.Members[0].ClientID)
	assert.False(t, snapshot.Members[1].Connected)
	require.NotNil(t, snapshot.Current)
	assert.Equal(t, "a", snapshot.Current.Kind)
	assert.Equal(t, []string{"p1", "p2"}, snapshot.Current.Roster)
	assert.False(t, snapshot.Current.Initialized)
}

func TestSessionMembership(t *testing.T) {
	s := New()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, s.ID(), s.ID())

	m1 := s.Join("a")
	m2 := s.Join("b")
	assert.Equal(t, roster.MemberID("member-1"), m1.ID)
	assert.Equal(t, roster.MemberID("member-2"), m2.ID)
	assert.ErrorIs(t, s.Add(roster.NewMember("member-1", "dup")), roster.ErrDuplicateMember)

	live := s.Roster()
	assert.Equal(t, 2, live.Len())
	removed, ok := s.Remove("member-1")
	require.True(t, ok)
	assert.Same(t, m1, removed)
	assert.Equal(t, []roster.MemberID{"member-2"}, live.IDs())
	_, ok = s.Remove("member-1")
	assert.False(t, ok)
}
