package cli

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// fakeTaskService is an in-memory TaskService.
type fakeTaskService struct {
	mu         sync.Mutex
	tasks      map[string]*models.Task
	stateCalls []models.TransitionRequest
	editCalls  []models.TaskEditRequest
	getErr     error
	stateErr   error
	listErr    error
}

func newFakeTaskService(tasks ...*models.Task) *fakeTaskService {
	f := &fakeTaskService{tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTaskService) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, &core.RejectedError{StatusCode: 404, Message: fmt.Sprintf("task %s not found", taskID)}
	}
	return t.Clone(), nil
}

func (f *fakeTaskService) UpdateTask(_ context.Context, req models.TaskEditRequest) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls = append(f.editCalls, req)
	t := f.tasks[req.ID]
	t.Title = req.Title
	t.Description = req.Description
	t.Priority = req.Priority
	t.Assignee = req.Assignee
	return t.Clone(), nil
}

func (f *fakeTaskService) UpdateTaskState(_ context.Context, req models.TransitionRequest) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls = append(f.stateCalls, req)
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	t := f.tasks[req.TaskID]
	t.State = req.TargetState
	t.TransitionReason = req.Reason
	return t.Clone(), nil
}

func (f *fakeTaskService) ListProjectTasks(_ context.Context, projectID string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var result []*models.Task
	for _, t := range f.tasks {
		if t.Project.ID == projectID {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func devTask(id string, state models.State) *models.Task {
	return &models.Task{
		ID:       id,
		Title:    "Integrate payment provider",
		State:    state,
		Priority: models.PriorityHigh,
		Assignee: &models.UserRef{ID: "u-dev", Name: "Dana Developer"},
		Project: models.ProjectRef{
			ID:             "P-1",
			Title:          "Website relaunch",
			ProjectManager: &models.UserRef{ID: "u-pm"},
		},
	}
}

// withSession installs api and principal as the CLI session and restores the
// previous values when the test ends.
func withSession(t interface{ Cleanup(func()) }, api TaskService, p models.Principal) {
	origAPI, origPrincipal, origSnapshots, origEvents := API, Principal, Snapshots, Events
	API, Principal, Snapshots, Events = api, p, nil, nil
	t.Cleanup(func() {
		API, Principal, Snapshots, Events = origAPI, origPrincipal, origSnapshots, origEvents
	})
}
