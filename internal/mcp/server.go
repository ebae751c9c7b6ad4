// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the task lifecycle engine as MCP tools for AI assistants.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/internal/observability"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// TaskService is the persistence API the MCP tools act through.
type TaskService interface {
	core.TaskAPI
	core.TaskLister
}

// Options configures a Server. Metrics and Alerts may be nil if
// observability is disabled.
type Options struct {
	Principal models.Principal
	Logger    *slog.Logger
	Events    core.EventLogger
	Metrics   observability.MetricsCalculator
	Alerts    observability.AlertEngine
	Version   string
}

// Server exposes lifecycle operations as MCP tools. It keeps one engine per
// task so a reason requested by request_transition can be supplied by a
// later submit_reason call.
type Server struct {
	server      *gomcp.Server
	api         TaskService
	principal   models.Principal
	logger      *slog.Logger
	events      core.EventLogger
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine

	mu      sync.Mutex
	engines map[string]core.LifecycleEngine
}

// NewServer creates a new MCP server acting as opts.Principal against api.
func NewServer(api TaskService, opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		api:         api,
		principal:   opts.Principal,
		logger:      logger,
		events:      opts.Events,
		metricsCalc: opts.Metrics,
		alertEngine: opts.Alerts,
		engines:     make(map[string]core.LifecycleEngine),
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "tasktrack", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"required,the task identifier (e.g. T-1)"`
}

type taskOutput struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	State            string `json:"state"`
	Priority         string `json:"priority"`
	Assignee         string `json:"assignee,omitempty"`
	ProjectID        string `json:"project_id"`
	ProjectManager   string `json:"project_manager,omitempty"`
	TransitionReason string `json:"transition_reason,omitempty"`
}

type capabilitiesOutput struct {
	TaskID              string `json:"task_id"`
	PrincipalID         string `json:"principal_id"`
	Role                string `json:"role"`
	CanEditTask         bool   `json:"can_edit_task"`
	CanDeleteTask       bool   `json:"can_delete_task"`
	CanChangeState      bool   `json:"can_change_state"`
	CanComment          bool   `json:"can_comment"`
	CanUploadAttachment bool   `json:"can_upload_attachment"`
}

type requestTransitionInput struct {
	TaskID string `json:"task_id" jsonschema:"required,the task identifier"`
	State  string `json:"state" jsonschema:"required,the target state (BACKLOG, IN_ANALYSIS, IN_DEVELOPMENT, BLOCKED, CANCELLED, COMPLETED)"`
}

type transitionOutput struct {
	Decision    string      `json:"decision"`
	Message     string      `json:"message"`
	NeedsReason bool        `json:"needs_reason"`
	Task        *taskOutput `json:"task,omitempty"`
}

type submitReasonInput struct {
	TaskID string `json:"task_id" jsonschema:"required,the task identifier"`
	State  string `json:"state" jsonschema:"required,the pending target state"`
	Reason string `json:"reason" jsonschema:"required,why the task enters this state"`
}

type cancelReasonOutput struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

type editTaskInput struct {
	TaskID      string  `json:"task_id" jsonschema:"required,the task identifier"`
	Title       *string `json:"title,omitempty" jsonschema:"new title, unchanged when omitted"`
	Description *string `json:"description,omitempty" jsonschema:"new description, unchanged when omitted"`
	Priority    *string `json:"priority,omitempty" jsonschema:"new priority (CRITICAL, HIGH, MEDIUM, LOW)"`
	AssigneeID  *string `json:"assignee_id,omitempty" jsonschema:"new assignee user ID, empty string to unassign"`
}

type listTasksInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,the project identifier"`
	Title     string `json:"title,omitempty" jsonschema:"case-insensitive title substring"`
	State     string `json:"state,omitempty" jsonschema:"filter by state, or ALL"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	TasksLoaded         int            `json:"tasks_loaded"`
	TasksEdited         int            `json:"tasks_edited"`
	TransitionsApplied  int            `json:"transitions_applied"`
	TransitionsByTarget map[string]int `json:"transitions_by_target"`
	ReasonPrompts       int            `json:"reason_prompts"`
	ReasonsCancelled    int            `json:"reasons_cancelled"`
	Rejections          int            `json:"rejections"`
	RejectionsByKind    map[string]int `json:"rejections_by_kind"`
	StaleDiscards       int            `json:"stale_discards"`
	StaleReads          int            `json:"stale_reads"`
	EventCount          int            `json:"event_count"`
	OldestEvent         string         `json:"oldest_event,omitempty"`
	NewestEvent         string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Fetch a task from the server and return its confirmed state, priority, assignee and project.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "resolve_capabilities",
		Description: "Return what the current user may do to a task: edit, delete, change state, comment, upload attachments.",
	}, s.handleResolveCapabilities)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "request_transition",
		Description: "Request a state change. BLOCKED and CANCELLED return needs_reason=true; follow up with submit_reason.",
	}, s.handleRequestTransition)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "submit_reason",
		Description: "Supply the reason for a pending BLOCKED or CANCELLED transition and apply it.",
	}, s.handleSubmitReason)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "cancel_reason",
		Description: "Abandon a pending transition that is waiting for a reason. The task is left unchanged.",
	}, s.handleCancelReason)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "edit_task",
		Description: "Edit a task's title, description, priority or assignee. Omitted fields keep their current value.",
	}, s.handleEditTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List the tasks of a project with optional title and state filters.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get lifecycle metrics from the event log: transitions, reason prompts, rejections and discarded responses.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (long-blocked tasks, repeated rejections, frequent stale responses).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetTask(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.engine(input.TaskID).Load(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, core.UserMessage(err))), taskOutput{}, nil
	}

	return nil, taskToOutput(task), nil
}

func (s *Server) handleResolveCapabilities(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, capabilitiesOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), capabilitiesOutput{}, nil
	}

	engine := s.engine(input.TaskID)
	if _, err := engine.Load(ctx, input.TaskID); err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, core.UserMessage(err))), capabilitiesOutput{}, nil
	}

	snap := engine.Snapshot()
	caps := snap.Capabilities
	return nil, capabilitiesOutput{
		TaskID:              input.TaskID,
		PrincipalID:         snap.Principal.ID,
		Role:                string(snap.Principal.Role),
		CanEditTask:         caps.CanEditTask,
		CanDeleteTask:       caps.CanDeleteTask,
		CanChangeState:      caps.CanChangeState,
		CanComment:          caps.CanComment,
		CanUploadAttachment: caps.CanUploadAttachment,
	}, nil
}

func (s *Server) handleRequestTransition(ctx context.Context, _ *gomcp.CallToolRequest, input requestTransitionInput) (*gomcp.CallToolResult, transitionOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), transitionOutput{}, nil
	}
	target, err := models.ParseState(input.State)
	if err != nil {
		return errorResult(err.Error()), transitionOutput{}, nil
	}

	engine, err := s.loadedEngine(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, core.UserMessage(err))), transitionOutput{}, nil
	}

	decision, err := engine.RequestTransition(ctx, target)
	if err != nil {
		return errorResult(core.UserMessage(err)), transitionOutput{Decision: string(decision)}, nil
	}

	if decision == models.DecisionNeedsReason {
		return nil, transitionOutput{
			Decision:    string(decision),
			NeedsReason: true,
			Message:     fmt.Sprintf("moving task %s to %s requires a reason; call submit_reason", input.TaskID, target),
		}, nil
	}

	out := taskToOutput(engine.Snapshot().Task)
	return nil, transitionOutput{
		Decision: string(decision),
		Message:  fmt.Sprintf("task %s is now %s", input.TaskID, out.State),
		Task:     &out,
	}, nil
}

func (s *Server) handleSubmitReason(ctx context.Context, _ *gomcp.CallToolRequest, input submitReasonInput) (*gomcp.CallToolResult, transitionOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), transitionOutput{}, nil
	}
	target, err := models.ParseState(input.State)
	if err != nil {
		return errorResult(err.Error()), transitionOutput{}, nil
	}

	engine, err := s.loadedEngine(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, core.UserMessage(err))), transitionOutput{}, nil
	}

	task, err := engine.SubmitReason(ctx, target, input.Reason)
	if err != nil {
		return errorResult(core.UserMessage(err)), transitionOutput{}, nil
	}

	out := taskToOutput(task)
	return nil, transitionOutput{
		Decision: string(models.DecisionAllowed),
		Message:  fmt.Sprintf("task %s is now %s", input.TaskID, out.State),
		Task:     &out,
	}, nil
}

func (s *Server) handleCancelReason(_ context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, cancelReasonOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), cancelReasonOutput{}, nil
	}

	if !s.engine(input.TaskID).CancelReason() {
		return nil, cancelReasonOutput{Message: fmt.Sprintf("no transition of task %s is waiting for a reason", input.TaskID)}, nil
	}
	return nil, cancelReasonOutput{Cancelled: true, Message: fmt.Sprintf("pending transition of task %s cancelled", input.TaskID)}, nil
}

func (s *Server) handleEditTask(ctx context.Context, _ *gomcp.CallToolRequest, input editTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	engine := s.engine(input.TaskID)
	current, err := engine.Load(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, core.UserMessage(err))), taskOutput{}, nil
	}

	req := models.EditRequestFrom(current)
	if input.Title != nil {
		req.Title = *input.Title
	}
	if input.Description != nil {
		req.Description = *input.Description
	}
	if input.Priority != nil {
		p, err := models.ParsePriority(*input.Priority)
		if err != nil {
			return errorResult(err.Error()), taskOutput{}, nil
		}
		req.Priority = p
	}
	if input.AssigneeID != nil {
		if *input.AssigneeID == "" {
			req.Assignee = nil
		} else {
			req.Assignee = &models.UserRef{ID: *input.AssigneeID}
		}
	}

	task, err := engine.Edit(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("editing task %s: %s", input.TaskID, core.UserMessage(err))), taskOutput{}, nil
	}
	return nil, taskToOutput(task), nil
}

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	if input.ProjectID == "" {
		return errorResult("project_id is required"), listTasksOutput{}, nil
	}

	tasks, err := s.api.ListProjectTasks(ctx, input.ProjectID)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", core.UserMessage(err))), listTasksOutput{}, nil
	}
	tasks = core.FilterTasks(tasks, input.Title, input.State)

	out := listTasksOutput{
		Tasks: make([]taskOutput, len(tasks)),
		Count: len(tasks),
	}
	for i, t := range tasks {
		out.Tasks[i] = taskToOutput(t)
	}

	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		TasksLoaded:         metrics.TasksLoaded,
		TasksEdited:         metrics.TasksEdited,
		TransitionsApplied:  metrics.TransitionsApplied,
		TransitionsByTarget: metrics.TransitionsByTarget,
		ReasonPrompts:       metrics.ReasonPrompts,
		ReasonsCancelled:    metrics.ReasonsCancelled,
		Rejections:          metrics.Rejections,
		RejectionsByKind:    metrics.RejectionsByKind,
		StaleDiscards:       metrics.StaleDiscards,
		StaleReads:          metrics.StaleReads,
		EventCount:          metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

// engine returns the session engine for taskID, creating it on first use.
func (s *Server) engine(taskID string) core.LifecycleEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[taskID]
	if !ok {
		e = core.NewLifecycleEngine(s.principal, s.api, core.EngineOptions{
			Logger: s.logger.With("task_id", taskID),
			Events: s.events,
		})
		s.engines[taskID] = e
	}
	return e
}

// loadedEngine returns the engine for taskID, fetching the task if the
// engine has not seen it yet.
func (s *Server) loadedEngine(ctx context.Context, taskID string) (core.LifecycleEngine, error) {
	e := s.engine(taskID)
	if e.Snapshot().Task != nil {
		return e, nil
	}
	if _, err := e.Load(ctx, taskID); err != nil {
		return nil, err
	}
	return e, nil
}

func taskToOutput(t *models.Task) taskOutput {
	return taskOutput{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		State:            string(t.State),
		Priority:         string(t.Priority),
		Assignee:         t.AssigneeID(),
		ProjectID:        t.Project.ID,
		ProjectManager:   t.ProjectManagerID(),
		TransitionReason: t.TransitionReason,
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TransitionsByTarget: make(map[string]int),
		RejectionsByKind:    make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
