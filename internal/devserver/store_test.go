package devserver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "dev.sqlite"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := Seed(context.Background(), store); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return store
}

func TestStore_GetTask_JoinsAssigneeAndManager(t *testing.T) {
	store := newTestStore(t)

	task, err := store.GetTask(context.Background(), "T-3")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != models.StateInDevelopment || task.Priority != models.PriorityCritical {
		t.Errorf("task = %+v", task)
	}
	if task.AssigneeID() != "u-dev" || task.Assignee.Name != "Dana Developer" {
		t.Errorf("assignee = %+v", task.Assignee)
	}
	if task.ProjectManagerID() != "u-pm" || task.Project.Title != "Website relaunch" {
		t.Errorf("project = %+v", task.Project)
	}
}

func TestStore_GetTask_NoAssignee(t *testing.T) {
	store := newTestStore(t)

	task, err := store.GetTask(context.Background(), "T-6")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Assignee != nil {
		t.Errorf("expected no assignee, got %+v", task.Assignee)
	}
}

func TestStore_GetTask_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetTask(context.Background(), "T-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_UserByToken(t *testing.T) {
	store := newTestStore(t)

	u, err := store.UserByToken(context.Background(), "pm-token")
	if err != nil {
		t.Fatalf("UserByToken: %v", err)
	}
	if u.ID != "u-pm" || u.Role != models.RoleProjectManager {
		t.Errorf("user = %+v", u)
	}
	if _, err := store.UserByToken(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpdateState(ctx, "T-2", models.StateBlocked, "waiting on design review"); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	task, _ := store.GetTask(ctx, "T-2")
	if task.State != models.StateBlocked || task.TransitionReason != "waiting on design review" {
		t.Errorf("task = %+v", task)
	}

	if err := store.UpdateState(ctx, "T-404", models.StateBacklog, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpdateFields(ctx, models.TaskEditRequest{
		ID:          "T-1",
		Title:       "Collect all requirements",
		Description: "updated",
		Priority:    models.PriorityLow,
		Assignee:    &models.UserRef{ID: "u-dev2"},
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	task, _ := store.GetTask(ctx, "T-1")
	if task.Title != "Collect all requirements" || task.Priority != models.PriorityLow || task.AssigneeID() != "u-dev2" {
		t.Errorf("task = %+v", task)
	}
	if task.State != models.StateBacklog {
		t.Errorf("edit changed state to %s", task.State)
	}

	if err := store.UpdateFields(ctx, models.TaskEditRequest{ID: "T-1", Title: "x", Priority: models.PriorityLow}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	task, _ = store.GetTask(ctx, "T-1")
	if task.Assignee != nil {
		t.Errorf("nil assignee should unassign, got %+v", task.Assignee)
	}
}

func TestStore_ListProjectTasks(t *testing.T) {
	store := newTestStore(t)

	tasks, err := store.ListProjectTasks(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("ListProjectTasks: %v", err)
	}
	if len(tasks) != 6 {
		t.Fatalf("got %d tasks, want 6", len(tasks))
	}
	seen := map[models.State]bool{}
	for _, task := range tasks {
		seen[task.State] = true
	}
	for _, s := range models.AllStates {
		if !seen[s] {
			t.Errorf("seed has no task in %s", s)
		}
	}

	empty, err := store.ListProjectTasks(context.Background(), "P-404")
	if err != nil {
		t.Fatalf("ListProjectTasks: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("unknown project should give an empty, non-nil list, got %v", empty)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	store := newTestStore(t)
	if err := Seed(context.Background(), store); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	tasks, _ := store.ListProjectTasks(context.Background(), "P-1")
	if len(tasks) != 6 {
		t.Errorf("got %d tasks after reseed, want 6", len(tasks))
	}
}
