package core

import (
	"context"
	"sync"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// fakeAPI is an in-memory TaskAPI. When hold is set, UpdateTaskState
// announces each request on arrived and waits for the channel registered
// for its target state before answering.
type fakeAPI struct {
	mu         sync.Mutex
	task       *models.Task
	getCalls   int
	stateCalls []models.TransitionRequest
	editCalls  []models.TaskEditRequest
	getErr     error
	stateErr   error
	editErr    error

	arrived chan models.TransitionRequest
	hold    map[models.State]chan struct{}
}

func newFakeAPI(task *models.Task) *fakeAPI {
	return &fakeAPI{task: task.Clone()}
}

func (f *fakeAPI) GetTask(_ context.Context, _ string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.task.Clone(), nil
}

func (f *fakeAPI) UpdateTask(_ context.Context, req models.TaskEditRequest) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls = append(f.editCalls, req)
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.task.Title = req.Title
	f.task.Description = req.Description
	f.task.Priority = req.Priority
	f.task.Assignee = req.Assignee
	return f.task.Clone(), nil
}

func (f *fakeAPI) UpdateTaskState(_ context.Context, req models.TransitionRequest) (*models.Task, error) {
	f.mu.Lock()
	f.stateCalls = append(f.stateCalls, req)
	err := f.stateErr
	arrived, gate := f.arrived, f.hold[req.TargetState]
	f.mu.Unlock()

	if arrived != nil {
		arrived <- req
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	resp := f.task.Clone()
	resp.State = req.TargetState
	resp.TransitionReason = req.Reason
	return resp, nil
}

func (f *fakeAPI) calls() []models.TransitionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TransitionRequest(nil), f.stateCalls...)
}

type recordedEvent struct {
	Type string
	Data map[string]any
}

// recordingEvents is an EventLogger that keeps everything in memory.
type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data})
	return nil
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recordingEvents) last(eventType string) recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i]
		}
	}
	return recordedEvent{}
}

// Fixture identities used across the core tests.
var (
	adminP    = models.Principal{ID: "u-admin", Role: models.RoleAdmin}
	managerP  = models.Principal{ID: "u-pm", Role: models.RoleProjectManager}
	assigneeP = models.Principal{ID: "u-dev", Role: models.RoleTeamMember}
	memberP   = models.Principal{ID: "u-other", Role: models.RoleTeamMember}
	leaderP   = models.Principal{ID: "u-lead", Role: models.RoleTeamLeader}
	guestP    = models.Principal{ID: "u-guest", Role: models.RoleGuest}
)

func sampleTask(state models.State) *models.Task {
	return &models.Task{
		ID:       "T-1",
		Title:    "Integrate payment provider",
		State:    state,
		Priority: models.PriorityHigh,
		Assignee: &models.UserRef{ID: assigneeP.ID, Name: "Dana"},
		Project: models.ProjectRef{
			ID:             "P-1",
			ProjectManager: &models.UserRef{ID: managerP.ID},
		},
	}
}
