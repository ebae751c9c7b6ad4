package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// LifecycleEngine is the task-detail session: one principal, one task. It
// is what the view layer talks to.
type LifecycleEngine interface {
	// Load fetches the task and makes it the confirmed aggregate.
	Load(ctx context.Context, taskID string) (*models.Task, error)
	// Snapshot returns the current confirmed task and capabilities.
	Snapshot() Snapshot
	// Subscribe is a read-only feed of aggregate snapshots.
	Subscribe(fn func(Snapshot)) (unsubscribe func())
	// SetPrincipal switches identity and recomputes capabilities.
	SetPrincipal(p models.Principal)

	// RequestTransition evaluates target against the confirmed task. Allowed
	// requests are submitted immediately; NeedsReason parks target until
	// SubmitReason or CancelReason. Unauthorized and InvalidPrecondition come
	// back with ErrUnauthorized / ErrInvalidPrecondition and never reach the
	// network. A refused request leaves any pending target in place; an
	// accepted one replaces it and records reason.cancelled.
	RequestTransition(ctx context.Context, target models.State) (models.Decision, error)
	// SubmitReason completes a NeedsReason flow.
	SubmitReason(ctx context.Context, target models.State, reason string) (*models.Task, error)
	// CancelReason abandons the pending target. It reports whether one existed.
	CancelReason() bool
	// PendingTarget reports the target awaiting a reason, if any.
	PendingTarget() (models.State, bool)

	// Edit submits a full edit of the non-state fields.
	Edit(ctx context.Context, req models.TaskEditRequest) (*models.Task, error)
}

type lifecycleEngine struct {
	agg     *TaskAggregate
	sync    *SyncClient
	reasons ReasonCapture
	logger  *slog.Logger
	events  EventLogger
}

// EngineOptions carries the optional collaborators of a LifecycleEngine.
type EngineOptions struct {
	Logger *slog.Logger
	Events EventLogger
}

// NewLifecycleEngine creates an engine acting as principal against api.
func NewLifecycleEngine(principal models.Principal, api TaskAPI, opts EngineOptions) LifecycleEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	agg := NewTaskAggregate(principal)
	return &lifecycleEngine{
		agg:     agg,
		sync:    NewSyncClient(api, agg, logger, opts.Events),
		reasons: NewReasonCapture(),
		logger:  logger,
		events:  opts.Events,
	}
}

func (e *lifecycleEngine) Load(ctx context.Context, taskID string) (*models.Task, error) {
	return e.sync.Load(ctx, taskID)
}

func (e *lifecycleEngine) Snapshot() Snapshot {
	return e.agg.Snapshot()
}

func (e *lifecycleEngine) Subscribe(fn func(Snapshot)) func() {
	return e.agg.Subscribe(fn)
}

func (e *lifecycleEngine) SetPrincipal(p models.Principal) {
	e.agg.SetPrincipal(p)
}

func (e *lifecycleEngine) RequestTransition(ctx context.Context, target models.State) (models.Decision, error) {
	if err := validateTarget(target); err != nil {
		return "", err
	}
	snap := e.agg.Snapshot()
	if snap.Task == nil {
		return "", ErrNoTask
	}
	taskID := snap.Task.ID

	decision := EvaluateTransition(snap.Capabilities, snap.Task.State, target, false)
	logEvent(e.events, "transition.requested", map[string]any{
		"task_id":  taskID,
		"from":     string(snap.Task.State),
		"target":   string(target),
		"decision": string(decision),
	})

	switch decision {
	case models.DecisionUnauthorized, models.DecisionInvalidPrecondition:
		e.logger.Info("transition refused locally", "task_id", taskID, "target", target, "decision", decision)
		logEvent(e.events, "transition.rejected", map[string]any{
			"task_id": taskID,
			"target":  string(target),
			"kind":    ErrorKind(decisionError(decision)),
		})
		return decision, decisionError(decision)

	case models.DecisionNeedsReason:
		e.supersedePending(taskID, target)
		e.reasons.Begin(taskID, target)
		logEvent(e.events, "transition.needs_reason", map[string]any{
			"task_id": taskID,
			"target":  string(target),
		})
		return decision, nil
	}

	e.supersedePending(taskID, target)
	if _, err := e.sync.Apply(ctx, models.TransitionRequest{TaskID: taskID, TargetState: target}); err != nil {
		return decision, err
	}
	return decision, nil
}

// supersedePending drops a target still waiting for a reason when a
// different request for the same task is accepted.
func (e *lifecycleEngine) supersedePending(taskID string, by models.State) {
	pending, ok := e.reasons.Pending(taskID)
	if !ok || pending == by {
		return
	}
	if !e.reasons.Cancel(taskID) {
		return
	}
	e.logger.Info("pending reason superseded", "task_id", taskID, "target", pending, "superseded_by", by)
	logEvent(e.events, "reason.cancelled", map[string]any{
		"task_id":       taskID,
		"target":        string(pending),
		"superseded_by": string(by),
	})
}

func (e *lifecycleEngine) SubmitReason(ctx context.Context, target models.State, reason string) (*models.Task, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	snap := e.agg.Snapshot()
	if snap.Task == nil {
		return nil, ErrNoTask
	}

	req, err := e.reasons.Submit(snap.Task.ID, target, reason)
	if err != nil {
		return nil, err
	}

	// The confirmed task or the principal may have changed while the reason
	// was being typed.
	decision := EvaluateTransition(snap.Capabilities, snap.Task.State, target, true)
	if decision != models.DecisionAllowed {
		e.logger.Info("transition refused after reason capture", "task_id", req.TaskID, "target", target, "decision", decision)
		return nil, decisionError(decision)
	}

	return e.sync.Apply(ctx, req)
}

func (e *lifecycleEngine) CancelReason() bool {
	snap := e.agg.Snapshot()
	if snap.Task == nil {
		return false
	}
	target, _ := e.reasons.Pending(snap.Task.ID)
	cancelled := e.reasons.Cancel(snap.Task.ID)
	if cancelled {
		logEvent(e.events, "reason.cancelled", map[string]any{
			"task_id": snap.Task.ID,
			"target":  string(target),
		})
	}
	return cancelled
}

func (e *lifecycleEngine) PendingTarget() (models.State, bool) {
	snap := e.agg.Snapshot()
	if snap.Task == nil {
		return "", false
	}
	return e.reasons.Pending(snap.Task.ID)
}

func (e *lifecycleEngine) Edit(ctx context.Context, req models.TaskEditRequest) (*models.Task, error) {
	snap := e.agg.Snapshot()
	if snap.Task == nil {
		return nil, ErrNoTask
	}
	if req.ID == "" {
		req.ID = snap.Task.ID
	}
	if req.ID != snap.Task.ID {
		return nil, fmt.Errorf("editing task %s: session holds task %s", req.ID, snap.Task.ID)
	}
	if !snap.Capabilities.CanEditTask {
		return nil, ErrEditForbidden
	}
	if req.Project.ID == "" {
		req.Project = models.ProjectRef{ID: snap.Task.Project.ID}
	}
	return e.sync.Edit(ctx, req)
}
