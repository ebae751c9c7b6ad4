// Package internal provides the App struct that wires the tasktrack
// components together and initializes the CLI layer.
package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/tasktrack/internal/cli"
	"github.com/valter-silva-au/tasktrack/internal/core"
	"github.com/valter-silva-au/tasktrack/internal/integration"
	"github.com/valter-silva-au/tasktrack/internal/logging"
	"github.com/valter-silva-au/tasktrack/internal/observability"
	"github.com/valter-silva-au/tasktrack/internal/storage"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// HomeEnv overrides the base path lookup.
const HomeEnv = "TASKTRACK_HOME"

// App holds all service dependencies of tasktrack.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig
	Logger    *slog.Logger

	// Persistence API and local cache
	API       *integration.APIClient
	Snapshots storage.SnapshotStore

	// Observability
	EventLog    observability.EventLog
	Recorder    *observability.Recorder
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp loads configuration from basePath and wires every component.
// basePath is the directory holding .tasktrack.yaml, the snapshot cache and
// the event log.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Logging ---
	app.Logger, err = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(resolvePath(basePath, cfg.EventsPath))
	if err != nil {
		// Non-fatal: run without the event log.
		app.Logger.Warn("event log disabled", "path", cfg.EventsPath, "error", err)
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.Recorder = observability.NewRecorder(app.EventLog)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.AlertThresholds{
			BlockedHours:  cfg.Alerts.BlockedHours,
			MaxRejections: cfg.Alerts.MaxRejections,
			MaxDiscards:   cfg.Alerts.MaxDiscards,
			Window:        cfg.Alerts.Window,
		})
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Alerts.SlackWebhook != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Alerts.SlackWebhook)
	}

	// --- Persistence API ---
	app.API = integration.NewAPIClient(integration.APIClientOptions{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.Session.Token,
		Timeout: cfg.API.Timeout,
		Logger:  app.Logger,
	})

	// --- Snapshot cache ---
	app.Snapshots = storage.NewSnapshotStore(resolvePath(basePath, cfg.CachePath))
	if err := app.Snapshots.Load(); err != nil {
		// Non-fatal: start from an empty cache.
		app.Logger.Warn("snapshot cache unreadable, starting empty", "path", cfg.CachePath, "error", err)
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.API = app.API
	cli.Principal = cfg.Session.Principal()
	cli.Snapshots = app.Snapshots

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier
	// A nil *Recorder must not become a non-nil interface.
	if app.Recorder != nil {
		cli.Events = app.Recorder
	} else {
		cli.Events = nil
	}

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// resolvePath joins relative paths to basePath.
func resolvePath(basePath, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(basePath, path)
}

// ResolveBasePath determines the tasktrack data directory. It checks the
// TASKTRACK_HOME env var, then walks up from the current directory looking
// for .tasktrack.yaml, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName+".yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}
