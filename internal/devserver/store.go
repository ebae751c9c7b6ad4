package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/tasktrack/pkg/models"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store persists users, projects and tasks for the dev server in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path and migrates it.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// One connection keeps every statement on the same SQLite handle, which
	// also makes ":memory:" databases usable.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			manager_id TEXT REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			priority TEXT NOT NULL,
			assignee_id TEXT REFERENCES users(id),
			transition_reason TEXT NOT NULL DEFAULT '',
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}
	return nil
}

// PutUser inserts or replaces a user together with its bearer token.
func (s *Store) PutUser(ctx context.Context, u models.User, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role, token) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role, token = excluded.token`,
		u.ID, u.Name, string(u.Role), token)
	if err != nil {
		return fmt.Errorf("saving user %s: %w", u.ID, err)
	}
	return nil
}

// UserByToken resolves a bearer token.
func (s *Store) UserByToken(ctx context.Context, token string) (*models.User, error) {
	var u models.User
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, role FROM users WHERE token = ?`, token).
		Scan(&u.ID, &u.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

// UserExists reports whether id names a user.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("checking user %s: %w", id, err)
	}
	return n > 0, nil
}

// PutProject inserts or replaces a project. managerID may be empty.
func (s *Store) PutProject(ctx context.Context, id, title, managerID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, manager_id) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, manager_id = excluded.manager_id`,
		id, title, nullable(managerID))
	if err != nil {
		return fmt.Errorf("saving project %s: %w", id, err)
	}
	return nil
}

// PutTask inserts or replaces a whole task, state included.
func (s *Store) PutTask(ctx context.Context, t *models.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, description, state, priority, assignee_id, transition_reason, updated_at_unixms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			priority = excluded.priority,
			assignee_id = excluded.assignee_id,
			transition_reason = excluded.transition_reason,
			updated_at_unixms = excluded.updated_at_unixms`,
		t.ID, t.Project.ID, t.Title, t.Description, string(t.State), string(t.Priority),
		nullable(t.AssigneeID()), t.TransitionReason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

const taskSelect = `
SELECT t.id, t.title, t.description, t.state, t.priority, t.transition_reason,
       a.id, a.name, a.role,
       p.id, p.title,
       m.id, m.name, m.role
FROM tasks t
JOIN projects p ON p.id = t.project_id
LEFT JOIN users a ON a.id = t.assignee_id
LEFT JOIN users m ON m.id = p.manager_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                 models.Task
		state, priority   string
		aID, aName, aRole sql.NullString
		mID, mName, mRole sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &state, &priority, &t.TransitionReason,
		&aID, &aName, &aRole,
		&t.Project.ID, &t.Project.Title,
		&mID, &mName, &mRole); err != nil {
		return nil, err
	}
	t.State = models.State(state)
	t.Priority = models.Priority(priority)
	if aID.Valid {
		t.Assignee = &models.UserRef{ID: aID.String, Name: aName.String, Role: models.Role(aRole.String)}
	}
	if mID.Valid {
		t.Project.ProjectManager = &models.UserRef{ID: mID.String, Name: mName.String, Role: models.Role(mRole.String)}
	}
	return &t, nil
}

// GetTask loads one task with its assignee and project manager.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return t, nil
}

// ListProjectTasks returns the tasks of a project ordered by id.
func (s *Store) ListProjectTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE t.project_id = ? ORDER BY t.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks of project %s: %w", projectID, err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tasks of project %s: %w", projectID, err)
	}
	return tasks, nil
}

// UpdateState writes a new state and reason.
func (s *Store) UpdateState(ctx context.Context, id string, state models.State, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, transition_reason = ?, updated_at_unixms = ? WHERE id = ?`,
		string(state), reason, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating state of task %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// UpdateFields writes the editable, non-state fields of a task.
func (s *Store) UpdateFields(ctx context.Context, req models.TaskEditRequest) error {
	assignee := ""
	if req.Assignee != nil {
		assignee = req.Assignee.ID
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, priority = ?, assignee_id = ?, updated_at_unixms = ? WHERE id = ?`,
		req.Title, req.Description, string(req.Priority), nullable(assignee), time.Now().UnixMilli(), req.ID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", req.ID, err)
	}
	return requireOneRow(res, req.ID)
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of task %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
