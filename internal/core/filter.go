package core

import (
	"context"
	"strings"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// TaskLister is the subset of the persistence API used by the project task list.
type TaskLister interface {
	ListProjectTasks(ctx context.Context, projectID string) ([]*models.Task, error)
}

// FilterAllStates matches every state in FilterTasks.
const FilterAllStates = "ALL"

// FilterTasks keeps tasks whose title contains titleQuery (case-insensitive)
// and whose state equals state. An empty state or FilterAllStates matches any.
func FilterTasks(tasks []*models.Task, titleQuery string, state string) []*models.Task {
	query := strings.ToLower(strings.TrimSpace(titleQuery))
	state = strings.ToUpper(strings.TrimSpace(state))

	var result []*models.Task
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) {
			continue
		}
		if state != "" && state != FilterAllStates && string(t.State) != state {
			continue
		}
		result = append(result, t)
	}
	return result
}
