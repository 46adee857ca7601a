package session

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/lifecycle"
)

var errNotConnected = errors.New("member has no live connection")

// Evaluate checks the roster of inst and, when every member holds a live
// connection, runs whichever of Initialize and Activate have not fired yet,
// each followed by one unicast per connected member. It is safe to call any
// number of times; retired instances are ignored.
func (c *Controller) Evaluate(ctx context.Context, inst *Instance) {
	if inst == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateLocked(ctx, inst)
}

func (c *Controller) evaluateLocked(ctx context.Context, inst *Instance) {
	if inst.retired {
		return
	}

	ctx, span := tracer.Start(ctx, "evaluate activity", trace.WithAttributes(instanceAttributes(c.session.ID(), inst)...))
	defer span.End()
	c.metrics.Add(telemetry.MetricEvaluations, 1)

	members := inst.Activity.Roster()
	if !members.AllConnected() {
		missing := members.Missing()
		span.SetAttributes(attribute.Bool("activity.ready", false), attribute.Int("roster.missing", len(missing)))
		c.metrics.Add(telemetry.MetricEvaluationsNoop, 1)
		lifecycle.ActivityNotReady(ctx, c.publisher, c.session.ID(), logging.Activity(inst.ID), lifecycle.NotReadyPayload{
			Kind:       inst.Kind,
			RosterSize: members.Len(),
			Missing:    memberIDStrings(missing),
		})
		return
	}
	span.SetAttributes(attribute.Bool("activity.ready", true))

	if inst.Gate.TryConsumeInitialize() {
		inst.Activity.Initialize(ctx)
		msg := c.nextMessage(inst, MessageInitialize)
		msg.Members = members.IDs()
		recipients := c.unicastLocked(ctx, inst, members, msg)
		c.metrics.Add(telemetry.MetricInitializations, 1)
		span.AddEvent("initialized", trace.WithAttributes(attribute.Int("recipients", len(recipients))))
		lifecycle.ActivityInitialized(ctx, c.publisher, c.session.ID(), msg.Seq, logging.Activity(inst.ID), lifecycle.TransitionPayload{
			Kind:       inst.Kind,
			Recipients: memberIDStrings(recipients),
		})
		c.recordLocked(ctx, msg, recipients, nil)
	}

	if inst.Gate.TryConsumeActivate() {
		previous := c.session.previous
		inst.Activity.Activate(ctx, previous)
		c.possessLocked(ctx, inst, members)
		msg := c.nextMessage(inst, MessageActivate)
		msg.Members = members.IDs()
		msg.Previous = previous
		recipients := c.unicastLocked(ctx, inst, members, msg)
		c.metrics.Add(telemetry.MetricActivations, 1)
		span.AddEvent("activated", trace.WithAttributes(attribute.Int("recipients", len(recipients))))
		lifecycle.ActivityActivated(ctx, c.publisher, c.session.ID(), msg.Seq, logging.Activity(inst.ID), lifecycle.TransitionPayload{
			Kind:         inst.Kind,
			Recipients:   memberIDStrings(recipients),
			EntityTag:    string(inst.Activity.ControllableEntity()),
			SurfaceTag:   string(inst.Activity.UISurface()),
			PreviousKind: resultKind(previous),
		})
		c.recordLocked(ctx, msg, recipients, previous)
	}
}

// Deactivate runs the Deactivate hook of inst and notifies every currently
// connected roster member. Members without a connection are skipped. The
// result is produced once; later calls return the same value without
// notifying replicas again.
func (c *Controller) Deactivate(ctx context.Context, inst *Instance) *activity.Result {
	if inst == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivateLocked(ctx, inst)
}

func (c *Controller) deactivateLocked(ctx context.Context, inst *Instance) *activity.Result {
	if inst.retired {
		return inst.result
	}

	ctx, span := tracer.Start(ctx, "deactivate activity", trace.WithAttributes(instanceAttributes(c.session.ID(), inst)...))
	defer span.End()

	result := inst.Activity.Deactivate(ctx)
	inst.retired = true
	inst.result = result

	members := inst.Activity.Roster()
	msg := c.nextMessage(inst, MessageDeactivate)
	msg.Members = members.IDs()
	recipients := c.unicastLocked(ctx, inst, members, msg)
	c.metrics.Add(telemetry.MetricDeactivations, 1)
	span.SetAttributes(attribute.String("result.kind", resultKind(result)), attribute.Int("recipients", len(recipients)))
	lifecycle.ActivityDeactivated(ctx, c.publisher, c.session.ID(), msg.Seq, logging.Activity(inst.ID), lifecycle.TransitionPayload{
		Kind:       inst.Kind,
		Recipients: memberIDStrings(recipients),
		ResultKind: resultKind(result),
	})
	c.recordLocked(ctx, msg, recipients, result)
	return result
}

func (c *Controller) nextMessage(inst *Instance, msgType MessageType) Message {
	c.seq++
	return Message{
		Seq:        c.seq,
		SessionID:  c.session.ID(),
		ActivityID: inst.ID,
		Kind:       inst.Kind,
		Type:       msgType,
	}
}

// unicastLocked sends msg to each connected roster member in roster order and
// returns the members it was handed to. Failures are logged and skipped.
func (c *Controller) unicastLocked(ctx context.Context, inst *Instance, members roster.Roster, msg Message) []roster.MemberID {
	span := trace.SpanFromContext(ctx)
	var recipients []roster.MemberID
	for _, member := range members.Members() {
		client, ok := member.Client()
		if !ok {
			c.skipLocked(ctx, inst, member, msg, "", errNotConnected)
			continue
		}
		if err := c.dispatcher.Send(ctx, client, msg); err != nil {
			span.AddEvent("unicast skipped", trace.WithAttributes(
				attribute.String("member.id", string(member.ID)),
				attribute.String("error", err.Error()),
			))
			c.skipLocked(ctx, inst, member, msg, client.ID, err)
			continue
		}
		c.metrics.Add(telemetry.MetricUnicastSent, 1)
		recipients = append(recipients, member.ID)
	}
	return recipients
}

func (c *Controller) skipLocked(ctx context.Context, inst *Instance, member *roster.Member, msg Message, clientID string, err error) {
	c.metrics.Add(telemetry.MetricUnicastSkipped, 1)
	lifecycle.UnicastSkipped(ctx, c.publisher, c.session.ID(), msg.Seq, logging.Activity(inst.ID), logging.Member(string(member.ID)), lifecycle.UnicastPayload{
		Message:  string(msg.Type),
		ClientID: clientID,
		Reason:   err.Error(),
	})
}

func (c *Controller) possessLocked(ctx context.Context, inst *Instance, members roster.Roster) {
	tag := inst.Activity.ControllableEntity()
	if tag == activity.None {
		return
	}
	for _, member := range members.Connected() {
		if err := c.possessor.Possess(ctx, member, tag); err != nil {
			lifecycle.PossessionFailed(ctx, c.publisher, c.session.ID(), logging.Activity(inst.ID), logging.Member(string(member.ID)), lifecycle.PossessionPayload{
				Tag:    string(tag),
				Reason: err.Error(),
			})
		}
	}
}

func (c *Controller) recordLocked(ctx context.Context, msg Message, recipients []roster.MemberID, result *activity.Result) {
	if c.recorder == nil {
		return
	}
	t := Transition{
		Seq:        msg.Seq,
		Time:       c.now(),
		SessionID:  msg.SessionID,
		ActivityID: msg.ActivityID,
		Kind:       msg.Kind,
		Type:       msg.Type,
		Recipients: recipients,
		Result:     result,
	}
	if err := c.recorder.Record(ctx, t); err != nil {
		c.logger.Printf("failed to record %s transition seq=%d: %v", msg.Type, msg.Seq, err)
	}
}

func memberIDStrings(ids []roster.MemberID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func resultKind(result *activity.Result) string {
	if result == nil {
		return ""
	}
	return result.Kind
}
