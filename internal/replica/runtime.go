// Package replica mirrors the authority's activity lifecycle on a connected
// client. A replica never originates transitions: it applies the unicast
// messages it receives, once each, in sequence order.
package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/net/proto"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/lifecycle"
)

// Presenter is the replica's UI subsystem.
type Presenter interface {
	Show(ctx context.Context, surface activity.Tag, kind string)
	Hide(ctx context.Context, surface activity.Tag, kind string)
}

type nopPresenter struct{}

func (nopPresenter) Show(context.Context, activity.Tag, string) {}
func (nopPresenter) Hide(context.Context, activity.Tag, string) {}

// Mirror is the replica-side copy of one authority activity instance.
type Mirror struct {
	ID          string
	Kind        string
	Activity    activity.Activity
	Initialized bool
	Activated   bool
}

// Options configures a Runtime.
type Options struct {
	Presenter Presenter
	Publisher logging.Publisher
	Logger    telemetry.Logger
}

// Runtime applies lifecycle messages to local mirror activities.
type Runtime struct {
	registry  *activity.Registry
	presenter Presenter
	publisher logging.Publisher
	logger    telemetry.Logger

	mu        sync.Mutex
	sessionID string
	self      roster.MemberID
	lastSeq   uint64
	current   *Mirror
}

// NewRuntime builds mirrors from registry.
func NewRuntime(registry *activity.Registry, opts Options) *Runtime {
	rt := &Runtime{
		registry:  registry,
		presenter: opts.Presenter,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
	if rt.presenter == nil {
		rt.presenter = nopPresenter{}
	}
	if rt.publisher == nil {
		rt.publisher = logging.NopPublisher()
	}
	if rt.logger == nil {
		rt.logger = telemetry.LoggerFunc(nil)
	}
	return rt
}

// Welcome records the identity assigned by the authority. Sequence numbers
// restart when the authority's session changes.
func (rt *Runtime) Welcome(msg proto.Welcome) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if msg.SessionID != rt.sessionID {
		rt.lastSeq = 0
	}
	rt.sessionID = msg.SessionID
	rt.self = roster.MemberID(msg.MemberID)
}

// Apply processes one lifecycle message. Messages whose Seq is not newer
// than the last applied one are dropped.
func (rt *Runtime) Apply(ctx context.Context, msg proto.Lifecycle) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if msg.Seq <= rt.lastSeq {
		rt.ignoreLocked(ctx, msg, fmt.Sprintf("seq %d already applied (last %d)", msg.Seq, rt.lastSeq))
		return nil
	}
	rt.lastSeq = msg.Seq

	switch msg.Type {
	case proto.TypeInitialize:
		return rt.initializeLocked(ctx, msg)
	case proto.TypeActivate:
		return rt.activateLocked(ctx, msg)
	case proto.TypeDeactivate:
		rt.deactivateLocked(ctx, msg)
		return nil
	default:
		rt.ignoreLocked(ctx, msg, "unknown message type")
		return fmt.Errorf("apply seq %d: unknown message type %q", msg.Seq, msg.Type)
	}
}

func (rt *Runtime) initializeLocked(ctx context.Context, msg proto.Lifecycle) error {
	if rt.current != nil && rt.current.ID == msg.ActivityID {
		rt.ignoreLocked(ctx, msg, "already initialized")
		return nil
	}
	mirror, err := rt.buildLocked(ctx, msg)
	if err != nil {
		return err
	}
	mirror.Activity.Initialize(ctx)
	mirror.Initialized = true
	rt.appliedLocked(ctx, msg)
	return nil
}

func (rt *Runtime) activateLocked(ctx context.Context, msg proto.Lifecycle) error {
	mirror := rt.current
	if mirror == nil || mirror.ID != msg.ActivityID {
		// The initialize was missed; catch up before activating.
		built, err := rt.buildLocked(ctx, msg)
		if err != nil {
			return err
		}
		built.Activity.Initialize(ctx)
		built.Initialized = true
		mirror = built
	}
	if mirror.Activated {
		rt.ignoreLocked(ctx, msg, "already activated")
		return nil
	}
	mirror.Activity.Activate(ctx, msg.Previous)
	mirror.Activated = true
	if surface := mirror.Activity.UISurface(); surface != activity.None {
		rt.presenter.Show(ctx, surface, mirror.Kind)
	}
	rt.appliedLocked(ctx, msg)
	return nil
}

func (rt *Runtime) deactivateLocked(ctx context.Context, msg proto.Lifecycle) {
	mirror := rt.current
	if mirror == nil || mirror.ID != msg.ActivityID {
		rt.ignoreLocked(ctx, msg, "no matching mirror")
		return
	}
	rt.retireLocked(ctx, mirror)
	rt.appliedLocked(ctx, msg)
}

// buildLocked replaces the current mirror with a fresh one for msg.
func (rt *Runtime) buildLocked(ctx context.Context, msg proto.Lifecycle) (*Mirror, error) {
	members := make([]*roster.Member, 0, len(msg.Members))
	for _, id := range msg.MemberIDs() {
		members = append(members, roster.NewMember(id, ""))
	}
	act, err := rt.registry.New(msg.Kind, roster.Of(members...))
	if err != nil {
		rt.ignoreLocked(ctx, msg, err.Error())
		return nil, fmt.Errorf("apply seq %d: %w", msg.Seq, err)
	}

	if rt.current != nil {
		rt.logger.Printf("replacing mirror %s (%s) without a deactivate", rt.current.ID, rt.current.Kind)
		rt.retireLocked(ctx, rt.current)
	}
	rt.current = &Mirror{ID: msg.ActivityID, Kind: msg.Kind, Activity: act}
	return rt.current, nil
}

func (rt *Runtime) retireLocked(ctx context.Context, mirror *Mirror) {
	mirror.Activity.Deactivate(ctx)
	if surface := mirror.Activity.UISurface(); mirror.Activated && surface != activity.None {
		rt.presenter.Hide(ctx, surface, mirror.Kind)
	}
	if rt.current == mirror {
		rt.current = nil
	}
}

// Frame runs the presentation hook of the active mirror for the local member.
func (rt *Runtime) Frame(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	mirror := rt.current
	if mirror == nil || !mirror.Activated || rt.self == "" {
		return
	}
	mirror.Activity.FrameSimulate(ctx, roster.NewMember(rt.self, ""))
}

// Current returns a copy of the current mirror state.
func (rt *Runtime) Current() (Mirror, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.current == nil {
		return Mirror{}, false
	}
	return *rt.current, true
}

// LastSeq reports the newest applied sequence.
func (rt *Runtime) LastSeq() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastSeq
}

func (rt *Runtime) appliedLocked(ctx context.Context, msg proto.Lifecycle) {
	lifecycle.ReplicaApplied(ctx, rt.publisher, rt.sessionID, msg.Seq, logging.Member(string(rt.self)), lifecycle.ReplicaPayload{
		Message: msg.Type,
		Kind:    msg.Kind,
	})
}

func (rt *Runtime) ignoreLocked(ctx context.Context, msg proto.Lifecycle, reason string) {
	lifecycle.ReplicaIgnored(ctx, rt.publisher, rt.sessionID, msg.Seq, logging.Member(string(rt.self)), lifecycle.ReplicaPayload{
		Message: msg.Type,
		Kind:    msg.Kind,
		Reason:  reason,
	})
}
