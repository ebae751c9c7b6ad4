package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/internal/integration"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(newTestStore(t), opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(srv *httptest.Server, token string) *integration.APIClient {
	return integration.NewAPIClient(integration.APIClientOptions{
		BaseURL: srv.URL + "/api",
		Token:   token,
		Timeout: 5 * time.Second,
	})
}

func TestServer_RequiresToken(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, token := range []string{"", "bogus"} {
		_, err := clientFor(srv, token).GetTask(context.Background(), "T-1")
		if !errors.Is(err, core.ErrSessionExpired) {
			t.Errorf("token %q: err = %v, want ErrSessionExpired", token, err)
		}
	}
}

func TestServer_GetTask(t *testing.T) {
	srv := newTestServer(t, Options{})

	task, err := clientFor(srv, "dev-token").GetTask(context.Background(), "T-4")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != models.StateBlocked || task.TransitionReason != "CMS export not delivered yet" {
		t.Errorf("task = %+v", task)
	}

	_, err = clientFor(srv, "dev-token").GetTask(context.Background(), "T-404")
	var rejected *core.RejectedError
	if !errors.As(err, &rejected) || rejected.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 RejectedError", err)
	}
}

func TestServer_UpdateState(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		req        models.TransitionRequest
		wantState  models.State
		wantStatus int
	}{
		{
			name:      "assignee moves own task",
			token:     "dev-token",
			req:       models.TransitionRequest{TaskID: "T-1", TargetState: models.StateInAnalysis},
			wantState: models.StateInAnalysis,
		},
		{
			name:      "blocked with reason from development",
			token:     "dev-token",
			req:       models.TransitionRequest{TaskID: "T-3", TargetState: models.StateBlocked, Reason: "  API keys missing "},
			wantState: models.StateBlocked,
		},
		{
			name:       "other member is unauthorized",
			token:      "dev2-token",
			req:        models.TransitionRequest{TaskID: "T-1", TargetState: models.StateInAnalysis},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "blocked from backlog violates precondition",
			token:      "pm-token",
			req:        models.TransitionRequest{TaskID: "T-1", TargetState: models.StateBlocked, Reason: "x"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "cancelled without reason",
			token:      "admin-token",
			req:        models.TransitionRequest{TaskID: "T-1", TargetState: models.StateCancelled, Reason: "   "},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:      "completed task may be reopened",
			token:     "pm-token",
			req:       models.TransitionRequest{TaskID: "T-6", TargetState: models.StateBacklog},
			wantState: models.StateBacklog,
		},
		{
			name:      "guest may change state",
			token:     "guest-token",
			req:       models.TransitionRequest{TaskID: "T-2", TargetState: models.StateCompleted},
			wantState: models.StateCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Options{})
			task, err := clientFor(srv, tt.token).UpdateTaskState(context.Background(), tt.req)
			if tt.wantStatus != 0 {
				var rejected *core.RejectedError
				if !errors.As(err, &rejected) || rejected.StatusCode != tt.wantStatus {
					t.Fatalf("err = %v, want status %d", err, tt.wantStatus)
				}
				if rejected.Message == "" {
					t.Error("rejection should carry a message")
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateTaskState: %v", err)
			}
			if task.State != tt.wantState {
				t.Errorf("State = %s, want %s", task.State, tt.wantState)
			}
			if core.RequiresReason(tt.wantState) && task.TransitionReason != strings.TrimSpace(tt.req.Reason) {
				t.Errorf("TransitionReason = %q", task.TransitionReason)
			}
			if !core.RequiresReason(tt.wantState) && task.TransitionReason != "" {
				t.Errorf("TransitionReason = %q, want cleared", task.TransitionReason)
			}
		})
	}
}

func TestServer_StrictTerminal(t *testing.T) {
	srv := newTestServer(t, Options{StrictTerminal: true})

	_, err := clientFor(srv, "admin-token").UpdateTaskState(context.Background(),
		models.TransitionRequest{TaskID: "T-6", TargetState: models.StateBacklog})
	var rejected *core.RejectedError
	if !errors.As(err, &rejected) || rejected.StatusCode != http.StatusConflict {
		t.Fatalf("err = %v, want 409", err)
	}
	if !strings.Contains(rejected.Message, "can no longer change state") {
		t.Errorf("Message = %q", rejected.Message)
	}
}

func TestServer_UpdateTask(t *testing.T) {
	srv := newTestServer(t, Options{})
	ctx := context.Background()

	task, err := clientFor(srv, "pm-token").UpdateTask(ctx, models.TaskEditRequest{
		ID:       "T-1",
		Title:    "  Collect requirements v2 ",
		Priority: "low",
		Assignee: &models.UserRef{ID: "u-dev2"},
		Project:  models.ProjectRef{ID: "P-1"},
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if task.Title != "Collect requirements v2" || task.Priority != models.PriorityLow || task.AssigneeID() != "u-dev2" {
		t.Errorf("task = %+v", task)
	}

	rejections := []struct {
		name   string
		token  string
		req    models.TaskEditRequest
		status int
	}{
		{"assignee cannot edit", "dev-token", models.TaskEditRequest{ID: "T-3", Title: "x", Priority: models.PriorityLow}, http.StatusForbidden},
		{"empty title", "pm-token", models.TaskEditRequest{ID: "T-3", Title: " ", Priority: models.PriorityLow}, http.StatusBadRequest},
		{"bad priority", "pm-token", models.TaskEditRequest{ID: "T-3", Title: "x", Priority: "URGENT"}, http.StatusBadRequest},
		{"unknown assignee", "pm-token", models.TaskEditRequest{ID: "T-3", Title: "x", Priority: models.PriorityLow, Assignee: &models.UserRef{ID: "ghost"}}, http.StatusBadRequest},
		{"other project", "pm-token", models.TaskEditRequest{ID: "T-3", Title: "x", Priority: models.PriorityLow, Project: models.ProjectRef{ID: "P-2"}}, http.StatusBadRequest},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clientFor(srv, tt.token).UpdateTask(ctx, tt.req)
			var rejected *core.RejectedError
			if !errors.As(err, &rejected) || rejected.StatusCode != tt.status {
				t.Errorf("err = %v, want status %d", err, tt.status)
			}
		})
	}
}

func TestServer_ListProjectTasks(t *testing.T) {
	srv := newTestServer(t, Options{})

	tasks, err := clientFor(srv, "guest-token").ListProjectTasks(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("ListProjectTasks: %v", err)
	}
	if len(tasks) != 6 {
		t.Errorf("got %d tasks, want 6", len(tasks))
	}
	blocked := core.FilterTasks(tasks, "", "BLOCKED")
	if len(blocked) != 1 || blocked[0].ID != "T-4" {
		t.Errorf("blocked = %+v", blocked)
	}
}

// The engine against the real HTTP client and server: the reason flow,
// local refusals that never reach the network, and a server-side rejection
// that leaves the aggregate untouched.
func TestServer_EngineEndToEnd(t *testing.T) {
	srv := newTestServer(t, Options{StrictTerminal: true})
	ctx := context.Background()

	dev := core.NewLifecycleEngine(models.Principal{ID: "u-dev", Role: models.RoleTeamMember},
		clientFor(srv, "dev-token"), core.EngineOptions{})
	if _, err := dev.Load(ctx, "T-3"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	decision, err := dev.RequestTransition(ctx, models.StateBlocked)
	if err != nil || decision != models.DecisionNeedsReason {
		t.Fatalf("RequestTransition = %s, %v; want NeedsReason", decision, err)
	}
	if _, err := dev.SubmitReason(ctx, models.StateBlocked, "   "); !errors.Is(err, core.ErrEmptyReason) {
		t.Fatalf("SubmitReason(blank) err = %v, want ErrEmptyReason", err)
	}
	task, err := dev.SubmitReason(ctx, models.StateBlocked, "waiting on vendor")
	if err != nil {
		t.Fatalf("SubmitReason: %v", err)
	}
	if task.State != models.StateBlocked || task.TransitionReason != "waiting on vendor" {
		t.Errorf("task = %+v", task)
	}
	if snap := dev.Snapshot(); snap.Task.State != models.StateBlocked {
		t.Errorf("aggregate state = %s, want BLOCKED", snap.Task.State)
	}

	admin := core.NewLifecycleEngine(models.Principal{ID: "u-admin", Role: models.RoleAdmin},
		clientFor(srv, "admin-token"), core.EngineOptions{})
	if _, err := admin.Load(ctx, "T-6"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = admin.RequestTransition(ctx, models.StateBacklog)
	var rejected *core.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want server rejection", err)
	}
	if snap := admin.Snapshot(); snap.Task.State != models.StateCompleted {
		t.Errorf("aggregate changed after rejection: %s", snap.Task.State)
	}
}
