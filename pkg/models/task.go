package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State represents the lifecycle state of a task.
type State string

const (
	StateBacklog       State = "BACKLOG"
	StateInAnalysis    State = "IN_ANALYSIS"
	StateInDevelopment State = "IN_DEVELOPMENT"
	StateBlocked       State = "BLOCKED"
	StateCancelled     State = "CANCELLED"
	StateCompleted     State = "COMPLETED"
)

// AllStates lists every lifecycle state in display order.
var AllStates = []State{
	StateBacklog,
	StateInAnalysis,
	StateInDevelopment,
	StateBlocked,
	StateCancelled,
	StateCompleted,
}

// Valid reports whether s is one of the fixed lifecycle states.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState normalizes user input ("in_development", " Blocked ") into a State.
func ParseState(raw string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown state %q", raw)
	}
	return s, nil
}

// UnmarshalJSON rejects states outside the fixed set so a malformed server
// payload can never put an unknown state into a Task.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Priority represents the urgency of a task. The engine does not order them.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// AllPriorities lists the accepted priority values.
var AllPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority normalizes user input into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllPriorities {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// ProjectRef is the slice of a project the engine reads. It is owned by the
// project subsystem.
type ProjectRef struct {
	ID             string   `json:"id" yaml:"id"`
	Title          string   `json:"title,omitempty" yaml:"title,omitempty"`
	ProjectManager *UserRef `json:"projectManager,omitempty" yaml:"project_manager,omitempty"`
}

// Task is the confirmed server representation of one task.
type Task struct {
	ID               string     `json:"id" yaml:"id"`
	Title            string     `json:"title" yaml:"title"`
	Description      string     `json:"description" yaml:"description"`
	State            State      `json:"state" yaml:"state"`
	Priority         Priority   `json:"priority" yaml:"priority"`
	Assignee         *UserRef   `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Project          ProjectRef `json:"project" yaml:"project"`
	TransitionReason string     `json:"transitionReason,omitempty" yaml:"transition_reason,omitempty"`
}

// Clone returns a deep copy so holders of a snapshot cannot mutate the
// aggregate's task through shared pointers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Assignee != nil {
		a := *t.Assignee
		c.Assignee = &a
	}
	if t.Project.ProjectManager != nil {
		pm := *t.Project.ProjectManager
		c.Project.ProjectManager = &pm
	}
	return &c
}

// AssigneeID returns the assignee's ID or "" when unassigned.
func (t *Task) AssigneeID() string {
	if t == nil || t.Assignee == nil {
		return ""
	}
	return t.Assignee.ID
}

// ProjectManagerID returns the project manager's ID or "" when unknown.
func (t *Task) ProjectManagerID() string {
	if t == nil || t.Project.ProjectManager == nil {
		return ""
	}
	return t.Project.ProjectManager.ID
}

// TransitionRequest asks the authority to move a task into TargetState.
// It lives only for the duration of one pending operation.
type TransitionRequest struct {
	TaskID      string `json:"id"`
	TargetState State  `json:"state"`
	Reason      string `json:"reason,omitempty"`
}

// TaskEditRequest is a full edit of the non-state fields of a task.
type TaskEditRequest struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Assignee    *UserRef   `json:"assignee,omitempty"`
	Project     ProjectRef `json:"project"`
}

// EditRequestFrom pre-fills an edit request with the task's current values.
func EditRequestFrom(t *Task) TaskEditRequest {
	req := TaskEditRequest{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Project:     ProjectRef{ID: t.Project.ID},
	}
	if t.Assignee != nil {
		a := *t.Assignee
		req.Assignee = &a
	}
	return req
}
