package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/lifecycle"
)

// Controller is the single mutation point of a session's activity lifecycle.
// Evaluation, switching, deactivation and ticking are serialized; activity
// hooks run while the controller is busy.
type Controller struct {
	mu      sync.Mutex
	session *Session
	seq     uint64

	dispatcher Dispatcher
	possessor  Possessor
	recorder   Recorder
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	logger     telemetry.Logger
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithDispatcher sets the unicast channel to replicas.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithPossessor sets the possession subsystem invoked on activation.
func WithPossessor(p Possessor) Option {
	return func(c *Controller) {
		if p != nil {
			c.possessor = p
		}
	}
}

// WithRecorder journals every transition.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithPublisher routes structured lifecycle events.
func WithPublisher(p logging.Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithMetrics sets the counters updated on every transition.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger for journal write failures.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source for instance and journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController returns the authority-side controller of s.
func NewController(s *Session, opts ...Option) *Controller {
	c := &Controller{
		session:    s,
		dispatcher: nopDispatcher{},
		possessor:  nopPossessor{},
		publisher:  logging.NopPublisher(),
		metrics:    telemetry.NopMetrics(),
		logger:     telemetry.LoggerFunc(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the controlled session.
func (c *Controller) Session() *Session {
	return c.session
}

// Current returns the current activity instance, or nil before the first switch.
func (c *Controller) Current() *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.current
}

// Previous returns the result handed to the current activity's Activate.
func (c *Controller) Previous() *activity.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.previous
}

// SwitchActivity deactivates the current activity, stores its result as the
// session's previous result and installs a new instance built by factory.
// A nil roster makes the new activity follow the whole session membership.
// The new instance is evaluated immediately, since its roster may already be
// fully connected. The returned result is the one the new activity will
// receive on Activate.
func (c *Controller) SwitchActivity(ctx context.Context, kind string, factory activity.Factory, members *roster.Roster) (*activity.Result, error) {
	if kind == "" {
		return nil, errors.New("switch activity: empty kind")
	}
	if factory == nil {
		return nil, fmt.Errorf("switch activity %s: nil factory", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "switch activity", trace.WithAttributes(
		attribute.String("session.id", c.session.ID()),
		attribute.String("activity.kind", kind),
	))
	defer span.End()

	r := c.session.Roster()
	if members != nil {
		r = *members
	} else {
		lifecycle.DefaultRoster(ctx, c.publisher, c.session.ID(), logging.Session(c.session.ID()), lifecycle.DefaultRosterPayload{
			Kind:    kind,
			Members: r.Len(),
		})
	}

	act := factory(r)
	if act == nil {
		err := fmt.Errorf("switch activity %s: factory returned nil", kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if outgoing := c.session.current; outgoing != nil {
		c.session.previous = c.deactivateLocked(ctx, outgoing)
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		Kind:      kind,
		Activity:  act,
		CreatedAt: c.now(),
	}
	c.session.current = inst
	span.SetAttributes(attribute.String("activity.id", inst.ID))

	previous := c.session.previous
	c.evaluateLocked(ctx, inst)
	return previous, nil
}

// NotifyMembershipChanged is called whenever a member gains or loses its live
// connection, or when possession must be performed again. It forwards to the
// current activity's OnMembershipChanged hook, whose default evaluates it.
func (c *Controller) NotifyMembershipChanged(ctx context.Context) {
	c.mu.Lock()
	inst := c.session.current
	c.mu.Unlock()

	c.metrics.Store(telemetry.MetricConnectedMembers, uint64(len(c.session.Roster().Connected())))
	if inst == nil {
		return
	}
	inst.Activity.OnMembershipChanged(ctx, activity.EvaluatorFunc(func(ctx context.Context) {
		c.Evaluate(ctx, inst)
	}))
}

// Leave removes a member from the session and then notifies the current
// activity as for a connectivity change. It reports false for unknown IDs.
func (c *Controller) Leave(ctx context.Context, id roster.MemberID) (*roster.Member, bool) {
	member, ok := c.session.Remove(id)
	if !ok {
		return nil, false
	}
	c.NotifyMembershipChanged(ctx)
	return member, true
}

// Tick runs the authoritative per-participant hook of the current activity
// for every connected roster member once the activity is active.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst := c.session.current
	if inst == nil || inst.retired || !inst.Gate.Activated() {
		return
	}
	for _, member := range inst.Activity.Roster().Connected() {
		inst.Activity.Simulate(ctx, member)
	}
}
