package cli

import (
	"log/slog"

	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/internal/observability"
	"github.com/valter-silva-au/tasktrack/internal/storage"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// TaskService is the persistence API the task commands act through.
type TaskService interface {
	core.TaskAPI
	core.TaskLister
}

// Service instances, set during app initialization in app.go.
var (
	BasePath  string
	Config    *models.GlobalConfig
	Logger    *slog.Logger
	API       TaskService
	Principal models.Principal
	Snapshots storage.SnapshotStore
	Events    core.EventLogger
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
