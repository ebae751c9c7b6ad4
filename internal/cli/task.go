package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/pkg/models"
	"golang.org/x/term"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and change tasks (show, caps, state, edit, list)",
	Long: `Task lifecycle commands.

Show a task, check what you may do to it, move it through its lifecycle,
edit its fields, and list a project's tasks. Every change is checked
locally first and then confirmed by the server.`,
}

// stdinIsTerminal reports whether the reason dialog can be shown. Tests replace it.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// newEngine builds a lifecycle engine for the session principal. Confirmed
// snapshots are written to the snapshot cache when one is configured.
func newEngine() (core.LifecycleEngine, error) {
	if API == nil {
		return nil, fmt.Errorf("task API not initialized")
	}
	engine := core.NewLifecycleEngine(Principal, API, core.EngineOptions{Logger: Logger, Events: Events})
	if Snapshots != nil {
		engine.Subscribe(cacheSnapshot)
	}
	return engine, nil
}

func cacheSnapshot(s core.Snapshot) {
	if s.Task == nil {
		return
	}
	err := Snapshots.Put(s.Task)
	if err == nil {
		err = Snapshots.Save()
	}
	if err != nil && Logger != nil {
		Logger.Warn("caching task snapshot failed", "task_id", s.Task.ID, "error", err)
	}
}

// loadEngine builds an engine and loads taskID into it.
func loadEngine(ctx context.Context, taskID string) (core.LifecycleEngine, error) {
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}
	if _, err := engine.Load(ctx, taskID); err != nil {
		return nil, commandError(fmt.Sprintf("loading task %s", taskID), err)
	}
	return engine, nil
}

// userError shows the user-facing text of an engine error while keeping
// the original chain for errors.Is and errors.As.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }

func (e *userError) Unwrap() error { return e.err }

// commandError turns an engine error into what the user sees, with a login
// hint when the session has expired.
func commandError(action string, err error) error {
	msg := fmt.Sprintf("%s: %s", action, core.UserMessage(err))
	if errors.Is(err, core.ErrSessionExpired) {
		msg += " (update session.token or TASKTRACK_SESSION_TOKEN)"
	}
	return &userError{msg: msg, err: err}
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var (
	taskShowCached bool
	taskShowJSON   bool
)

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task",
	Long: `Fetch a task from the server and display it.

With --cached the last confirmed copy is read from the local snapshot
cache instead, so the command works while the server is unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		taskID := args[0]

		var task *models.Task
		if taskShowCached {
			if Snapshots == nil {
				return fmt.Errorf("snapshot cache not initialized")
			}
			entry, err := Snapshots.Get(taskID)
			if err != nil {
				return fmt.Errorf("reading cached task %s: %w", taskID, err)
			}
			task = &entry.Task
			if !taskShowJSON {
				fmt.Fprintf(out, "(cached %s)\n", entry.SavedAt.Local().Format("2006-01-02 15:04"))
			}
		} else {
			engine, err := loadEngine(commandContext(cmd), taskID)
			if err != nil {
				return err
			}
			task = engine.Snapshot().Task
		}

		if taskShowJSON {
			return writeJSON(out, task)
		}
		fmt.Fprint(out, renderTask(task))
		return nil
	},
}

var taskCapsJSON bool

var taskCapsCmd = &cobra.Command{
	Use:   "caps <task-id>",
	Short: "Show what the current user may do to a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		snap := engine.Snapshot()
		out := cmd.OutOrStdout()
		if taskCapsJSON {
			return writeJSON(out, snap.Capabilities)
		}
		fmt.Fprintf(out, "%s as %s (%s):\n", snap.Task.ID, snap.Principal.ID, snap.Principal.Role)
		fmt.Fprint(out, renderCapabilities(snap.Capabilities))
		return nil
	},
}

var taskStateReason string

var taskStateCmd = &cobra.Command{
	Use:   "state <task-id> <state>",
	Short: "Move a task to another lifecycle state",
	Long: `Request a state change for a task.

BLOCKED and CANCELLED need a reason. Pass it with --reason, or leave it out
on a terminal to be asked for it. Escape cancels and leaves the task as it is.
BLOCKED is only possible from IN_ANALYSIS or IN_DEVELOPMENT.

States: BACKLOG, IN_ANALYSIS, IN_DEVELOPMENT, BLOCKED, CANCELLED, COMPLETED.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeStates,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		target, err := models.ParseState(args[1])
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		engine, err := loadEngine(ctx, taskID)
		if err != nil {
			return err
		}

		decision, err := engine.RequestTransition(ctx, target)
		if err != nil {
			return commandError(fmt.Sprintf("moving %s to %s", taskID, target), err)
		}

		if decision == models.DecisionNeedsReason {
			reason, ok, err := captureReason(taskID, target)
			if err != nil {
				engine.CancelReason()
				return err
			}
			if !ok {
				engine.CancelReason()
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled. Task %s is still %s.\n", taskID, engine.Snapshot().Task.State)
				return nil
			}
			if _, err := engine.SubmitReason(ctx, target, reason); err != nil {
				return commandError(fmt.Sprintf("moving %s to %s", taskID, target), err)
			}
		}

		task := engine.Snapshot().Task
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", task.ID, stateBadge(task.State))
		return nil
	},
}

// captureReason returns the --reason flag or asks for one interactively.
func captureReason(taskID string, target models.State) (string, bool, error) {
	if strings.TrimSpace(taskStateReason) != "" {
		return taskStateReason, true, nil
	}
	if !stdinIsTerminal() {
		return "", false, fmt.Errorf("moving %s to %s: %w (pass --reason)", taskID, target, core.ErrEmptyReason)
	}
	return promptReason(taskID, target)
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <task-id>",
	Short: "Edit a task's title, description, priority or assignee",
	Long: `Edit the non-state fields of a task.

The edit starts from the task's current values; only the flags you pass
are changed. Use --assignee "" to unassign. State is changed with
"tasktrack task state", never here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		ctx := commandContext(cmd)
		engine, err := loadEngine(ctx, taskID)
		if err != nil {
			return err
		}

		req := models.EditRequestFrom(engine.Snapshot().Task)
		flags := cmd.Flags()
		changed := false
		if flags.Changed("title") {
			req.Title, _ = flags.GetString("title")
			changed = true
		}
		if flags.Changed("description") {
			req.Description, _ = flags.GetString("description")
			changed = true
		}
		if flags.Changed("priority") {
			raw, _ := flags.GetString("priority")
			p, err := models.ParsePriority(raw)
			if err != nil {
				return err
			}
			req.Priority = p
			changed = true
		}
		if flags.Changed("assignee") {
			id, _ := flags.GetString("assignee")
			if id == "" {
				req.Assignee = nil
			} else {
				req.Assignee = &models.UserRef{ID: id}
			}
			changed = true
		}
		if !changed {
			return fmt.Errorf("nothing to change: pass at least one of --title, --description, --priority, --assignee")
		}

		task, err := engine.Edit(ctx, req)
		if err != nil {
			return commandError(fmt.Sprintf("editing %s", taskID), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s\n", task.ID)
		return nil
	},
}

var (
	taskListProject string
	taskListTitle   string
	taskListState   string
	taskListJSON    bool
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's tasks",
	Long: `List the tasks of a project, optionally filtered by a case-insensitive
title substring and by state (or ALL).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if API == nil {
			return fmt.Errorf("task API not initialized")
		}
		if taskListProject == "" {
			return fmt.Errorf("--project is required")
		}
		if s := strings.TrimSpace(taskListState); s != "" && !strings.EqualFold(s, core.FilterAllStates) {
			if _, err := models.ParseState(s); err != nil {
				return err
			}
		}

		tasks, err := API.ListProjectTasks(commandContext(cmd), taskListProject)
		if err != nil {
			return commandError(fmt.Sprintf("listing tasks of %s", taskListProject), err)
		}
		tasks = core.FilterTasks(tasks, taskListTitle, taskListState)

		out := cmd.OutOrStdout()
		if taskListJSON {
			if tasks == nil {
				tasks = []*models.Task{}
			}
			return writeJSON(out, tasks)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No tasks found.")
			return nil
		}
		fmt.Fprintf(out, "%-8s %-16s %-9s %-12s %s\n", "ID", "STATE", "PRIORITY", "ASSIGNEE", "TITLE")
		for _, t := range tasks {
			assignee := t.AssigneeID()
			if assignee == "" {
				assignee = "-"
			}
			fmt.Fprintf(out, "%-8s %-16s %-9s %-12s %s\n", t.ID, t.State, t.Priority, assignee, t.Title)
		}
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting as JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func completeStates(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	states := make([]string, len(models.AllStates))
	for i, s := range models.AllStates {
		states[i] = string(s)
	}
	return states, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	taskShowCmd.Flags().BoolVar(&taskShowCached, "cached", false, "Read the last confirmed copy from the local cache")
	taskShowCmd.Flags().BoolVar(&taskShowJSON, "json", false, "Output the task as JSON")

	taskCapsCmd.Flags().BoolVar(&taskCapsJSON, "json", false, "Output capabilities as JSON")

	taskStateCmd.Flags().StringVar(&taskStateReason, "reason", "", "Reason for BLOCKED or CANCELLED")

	taskEditCmd.Flags().String("title", "", "New title")
	taskEditCmd.Flags().String("description", "", "New description (markdown)")
	taskEditCmd.Flags().String("priority", "", "New priority (CRITICAL, HIGH, MEDIUM, LOW)")
	taskEditCmd.Flags().String("assignee", "", "New assignee user ID, empty to unassign")

	taskListCmd.Flags().StringVar(&taskListProject, "project", "", "Project ID (required)")
	taskListCmd.Flags().StringVar(&taskListTitle, "title", "", "Filter by title substring")
	taskListCmd.Flags().StringVar(&taskListState, "state", "", "Filter by state, or ALL")
	taskListCmd.Flags().BoolVar(&taskListJSON, "json", false, "Output tasks as JSON")

	taskCmd.AddCommand(taskShowCmd, taskCapsCmd, taskStateCmd, taskEditCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd)
}
