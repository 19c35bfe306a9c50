// Package delegation implements the two hand-off primitives agents use to
// cooperate: Delegate runs another agent synchronously and records the
// provenance of the call, Transfer moves the session's active agent without
// running anything.
package delegation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/observability"
	"github.com/hupe1980/devmesh/session"
)

// Envelope keys.
const (
	KeyDelegationID = "delegation_id"
	KeyTargetAgent  = "target_agent"
	KeyMessage      = "message"
)

// Options configures the collaborators of a Protocol. Every field is optional.
type Options struct {
	Metrics *observability.Metrics
	Tracer  *observability.TracerProvider
	Audit   audit.Sink
	Logger  logging.Logger
}

// Protocol delegates and transfers between agents. It is safe for concurrent
// use.
type Protocol struct {
	state   *session.StateStore
	metrics *observability.Metrics
	tracer  *observability.TracerProvider
	audit   audit.Sink
	logger  logging.Logger
}

// New creates a protocol recording into state. A nil state disables
// recording.
func New(state *session.StateStore, optFns ...func(o *Options)) *Protocol {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Protocol{
		state:   state,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		audit:   opts.Audit,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Delegate runs target with task on behalf of parent. The target runs exactly
// once. The returned envelope is
//
//	{status: success, result, delegation_id, target_agent}
//
// or, when the target failed,
//
//	{status: error, message, error, delegation_id, target_agent[, result]}
//
// A target Result with status error counts as a failed delegation. When the
// task carries a session id the target result is stored under
// "<target>_result" and a record is appended to the delegations log. Only a
// context cancellation is returned as error.
func (p *Protocol) Delegate(ctx context.Context, parent string, target core.Agent, task core.Request) (core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	delegationID := core.NewID()
	task = task.Clone()
	sessionID := task.SessionID()
	if sessionID == "" {
		if sessionID = core.SessionIDFromContext(ctx); sessionID != "" {
			task[core.KeySessionID] = sessionID
		}
	}

	ctx, span := p.tracer.StartSpan(ctx, observability.SpanDelegate,
		attribute.String(observability.AttrAgent, parent),
		attribute.String(observability.AttrTargetAgent, target.Name()),
		attribute.String(observability.AttrDelegationID, delegationID),
	)
	defer span.End()

	log := logging.With(p.logger, "from", parent, "to", target.Name(), "delegation_id", delegationID, "session_id", sessionID)
	log.Debug("delegation.start")

	res, err := core.Invoke(core.WithSessionID(ctx, sessionID), target, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		log.Info("delegation.cancelled", "error", err)
		return nil, err
	}

	rec := core.DelegationRecord{
		DelegationID:    delegationID,
		From:            parent,
		To:              target.Name(),
		TaskDescription: task.TaskDescription(),
		Status:          core.DelegationCompleted,
		Timestamp:       core.Timestamp(),
	}

	var envelope core.Result
	if res.IsError() {
		cause := res.ErrorMessage()
		if cause == "" {
			cause = "target agent returned an error"
		}
		rec.Status = core.DelegationFailed
		rec.Error = cause
		envelope = core.ErrorResultWith(cause, map[string]any{
			KeyMessage:      fmt.Sprintf("Delegation to %s failed: %s", target.Name(), cause),
			KeyDelegationID: delegationID,
			KeyTargetAgent:  target.Name(),
			core.KeyResult:  res,
		})
		span.SetStatus(codes.Error, cause)
		log.Warn("delegation.failed", "error", cause)
	} else {
		envelope = core.Success(map[string]any{
			core.KeyResult:  res,
			KeyDelegationID: delegationID,
			KeyTargetAgent:  target.Name(),
		})
		log.Debug("delegation.completed", "status", res.Status())
	}
	span.SetAttributes(attribute.String(observability.AttrStatus, rec.Status))

	p.metrics.IncDelegation(parent, target.Name(), rec.Status)

	// Provenance is written even if the caller goes away right after.
	recordCtx := context.WithoutCancel(ctx)
	if p.state != nil && sessionID != "" {
		var stored any
		if rec.Status == core.DelegationCompleted {
			stored = res
		}
		if err := p.state.RecordDelegation(recordCtx, sessionID, rec, stored); err != nil {
			log.Error("delegation.record.failed", "error", err)
		}
	}
	if err := audit.Record(recordCtx, p.audit, audit.Entry{
		SessionID: sessionID,
		Actor:     parent,
		Action:    audit.ActionDelegate,
		Resource:  target.Name(),
		Details: map[string]any{
			KeyDelegationID: delegationID,
			core.KeyStatus:  rec.Status,
		},
	}); err != nil {
		log.Warn("delegation.audit.failed", "error", err)
	}

	return envelope, nil
}

// Transfer hands control of sessionID from source to target. It records the
// transfer and moves active_agent; it never runs the target. Without a
// session id or state store only metrics and audit are emitted.
func (p *Protocol) Transfer(ctx context.Context, source, target, sessionID, reason string) (core.TransferRecord, error) {
	rec := core.TransferRecord{
		From:      source,
		To:        target,
		Reason:    reason,
		Timestamp: core.Timestamp(),
	}

	ctx, span := p.tracer.StartSpan(ctx, observability.SpanTransfer,
		attribute.String(observability.AttrAgent, source),
		attribute.String(observability.AttrTargetAgent, target),
	)
	defer span.End()

	p.metrics.IncTransfer(source, target)
	log := logging.With(p.logger, "from", source, "to", target, "session_id", sessionID)
	log.Info("delegation.transfer", "reason", reason)

	if p.state != nil && sessionID != "" {
		if err := p.state.RecordTransfer(ctx, sessionID, rec); err != nil {
			span.RecordError(err)
			return rec, fmt.Errorf("record transfer: %w", err)
		}
	}
	if err := audit.Record(context.WithoutCancel(ctx), p.audit, audit.Entry{
		SessionID: sessionID,
		Actor:     source,
		Action:    audit.ActionTransfer,
		Resource:  target,
		Details:   map[string]any{core.KeyReason: reason},
	}); err != nil {
		log.Warn("delegation.audit.failed", "error", err)
	}
	return rec, nil
}
