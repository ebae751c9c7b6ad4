package core

import (
	"fmt"
	"strings"
	"sync"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// ReasonCapture holds at most one pending target state per task while the
// caller collects a justification. Pending targets never reach the task
// aggregate; they only become a TransitionRequest on Submit.
type ReasonCapture interface {
	// Begin records target as pending for taskID, replacing any earlier one.
	Begin(taskID string, target models.State)
	// Pending returns the pending target for taskID, if any.
	Pending(taskID string) (models.State, bool)
	// Submit validates reason and consumes the pending target. The pending
	// target is kept when the reason is empty so the caller can ask again.
	Submit(taskID string, target models.State, reason string) (models.TransitionRequest, error)
	// Cancel discards the pending target for taskID.
	Cancel(taskID string) bool
}

type reasonCapture struct {
	mu      sync.Mutex
	pending map[string]models.State
}

// NewReasonCapture returns an empty ReasonCapture.
func NewReasonCapture() ReasonCapture {
	return &reasonCapture{pending: make(map[string]models.State)}
}

func (rc *reasonCapture) Begin(taskID string, target models.State) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pending[taskID] = target
}

func (rc *reasonCapture) Pending(taskID string) (models.State, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	target, ok := rc.pending[taskID]
	return target, ok
}

func (rc *reasonCapture) Submit(taskID string, target models.State, reason string) (models.TransitionRequest, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	pending, ok := rc.pending[taskID]
	if !ok {
		return models.TransitionRequest{}, fmt.Errorf("submitting reason for %s: %w", taskID, ErrNoPendingTransition)
	}
	if pending != target {
		return models.TransitionRequest{}, fmt.Errorf("submitting reason for %s: pending target is %s, not %s: %w",
			taskID, pending, target, ErrNoPendingTransition)
	}

	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return models.TransitionRequest{}, ErrEmptyReason
	}

	delete(rc.pending, taskID)
	return models.TransitionRequest{
		TaskID:      taskID,
		TargetState: target,
		Reason:      trimmed,
	}, nil
}

func (rc *reasonCapture) Cancel(taskID string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.pending[taskID]
	delete(rc.pending, taskID)
	return ok
}
