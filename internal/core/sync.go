package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// TaskAPI is the subset of the persistence API the engine consumes. The
// server is the final arbiter and may reject a transition the local table
// allowed.
type TaskAPI interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, req models.TaskEditRequest) (*models.Task, error)
	UpdateTaskState(ctx context.Context, req models.TransitionRequest) (*models.Task, error)
}

// SyncClient applies loads, transitions and edits against the authority and
// reconciles the aggregate with the server's answer.
//
// Every call takes a sequence number when it is issued. A successful
// response replaces the aggregate only if its sequence is newer than the one
// already applied, so a slow response can never overwrite the result of a
// request issued after it.
type SyncClient struct {
	api    TaskAPI
	agg    *TaskAggregate
	seq    atomic.Uint64
	logger *slog.Logger
	events EventLogger
}

// NewSyncClient wires api to agg. logger and events may be nil.
func NewSyncClient(api TaskAPI, agg *TaskAggregate, logger *slog.Logger, events EventLogger) *SyncClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SyncClient{api: api, agg: agg, logger: logger, events: events}
}

// Load fetches taskID and replaces the aggregate with it.
func (c *SyncClient) Load(ctx context.Context, taskID string) (*models.Task, error) {
	seq := c.seq.Add(1)
	task, err := c.api.GetTask(ctx, taskID)
	if err != nil {
		c.logger.Warn("loading task failed", "task_id", taskID, "seq", seq, "error", err)
		return nil, &OperationError{Op: OpLoad, Msg: fmt.Sprintf("loading task %s", taskID), Err: err}
	}
	c.reconcile(OpLoad, task, seq, "task.loaded", nil)
	return task, nil
}

// Apply submits a state transition. On failure the aggregate is untouched.
func (c *SyncClient) Apply(ctx context.Context, req models.TransitionRequest) (*models.Task, error) {
	seq := c.seq.Add(1)
	c.logger.Info("submitting transition", "task_id", req.TaskID, "target", req.TargetState, "seq", seq)

	task, err := c.api.UpdateTaskState(ctx, req)
	if err != nil {
		c.logger.Warn("transition rejected",
			"task_id", req.TaskID, "target", req.TargetState, "seq", seq, "kind", ErrorKind(err), "error", err)
		logEvent(c.events, "transition.rejected", map[string]any{
			"task_id": req.TaskID,
			"target":  string(req.TargetState),
			"kind":    ErrorKind(err),
			"error":   err.Error(),
		})
		return nil, &OperationError{
			Op:  OpTransition,
			Msg: fmt.Sprintf("applying transition of %s to %s", req.TaskID, req.TargetState),
			Err: err,
		}
	}

	c.reconcile(OpTransition, task, seq, "transition.applied", map[string]any{
		"target":     string(req.TargetState),
		"has_reason": req.Reason != "",
	})
	return task, nil
}

// Edit submits a full edit. It never changes state and bypasses the
// transition table.
func (c *SyncClient) Edit(ctx context.Context, req models.TaskEditRequest) (*models.Task, error) {
	seq := c.seq.Add(1)
	task, err := c.api.UpdateTask(ctx, req)
	if err != nil {
		c.logger.Warn("edit rejected", "task_id", req.ID, "seq", seq, "kind", ErrorKind(err), "error", err)
		logEvent(c.events, "task.edit_rejected", map[string]any{
			"task_id": req.ID,
			"kind":    ErrorKind(err),
			"error":   err.Error(),
		})
		return nil, &OperationError{Op: OpEdit, Msg: fmt.Sprintf("editing task %s", req.ID), Err: err}
	}
	c.reconcile(OpEdit, task, seq, "task.edited", nil)
	return task, nil
}

// reconcile applies a successful response, or records that it was discarded
// because a newer response already landed. Only discarded transitions are
// logged as transition.discarded; stale loads and edits are task.discarded.
func (c *SyncClient) reconcile(op Operation, task *models.Task, seq uint64, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["task_id"] = task.ID
	data["state"] = string(task.State)
	data["seq"] = seq

	if !c.agg.ReplaceIfNewer(task, seq) {
		c.logger.Info("discarding stale response", "task_id", task.ID, "op", op, "seq", seq, "state", task.State)
		data["discarded_event"] = eventType
		data["operation"] = string(op)
		logEvent(c.events, discardEvent(op), data)
		return
	}
	c.logger.Debug("aggregate replaced", "task_id", task.ID, "seq", seq, "state", task.State)
	logEvent(c.events, eventType, data)
}

func discardEvent(op Operation) string {
	if op == OpTransition {
		return "transition.discarded"
	}
	return "task.discarded"
}
