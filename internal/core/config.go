// Package core contains the task lifecycle engine for tasktrack: the
// role/ownership resolver, the transition table, the reason-capture
// workflow, the state sync client, and the task aggregate, plus the
// configuration they are wired from.
package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// ConfigFileName is the base name of the configuration file, without extension.
const ConfigFileName = ".tasktrack"

// ConfigurationManager defines the interface for loading and validating
// configuration from .tasktrack.yaml and TASKTRACK_* environment variables.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper.
type viperConfigManager struct {
	// basePath is the directory where .tasktrack.yaml resides.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		API: models.APIConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 15 * time.Second,
		},
		Log: models.LogConfig{
			Level:  "info",
			Format: "text",
		},
		EventsPath:  ".tasktrack_events.jsonl",
		CachePath:   "snapshots.yaml",
		RenderStyle: "dark",
		Server: models.ServerConfig{
			Addr:   ":8080",
			DBPath: "tasktrack.sqlite",
		},
		Alerts: models.AlertsConfig{
			BlockedHours:  24,
			MaxRejections: 3,
			MaxDiscards:   5,
			Window:        24 * time.Hour,
		},
	}
}

// LoadGlobalConfig reads .tasktrack.yaml from the base path and overlays
// TASKTRACK_* environment variables (TASKTRACK_API_BASE_URL,
// TASKTRACK_SESSION_TOKEN, ...). A missing file yields defaults.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("TASKTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.role", "")
	v.SetDefault("session.token", "")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("events.path", cfg.EventsPath)
	v.SetDefault("cache.path", cfg.CachePath)
	v.SetDefault("render.style", cfg.RenderStyle)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.db_path", cfg.Server.DBPath)
	v.SetDefault("server.strict_terminal", cfg.Server.StrictTerminal)
	v.SetDefault("alerts.blocked_hours", cfg.Alerts.BlockedHours)
	v.SetDefault("alerts.max_rejections", cfg.Alerts.MaxRejections)
	v.SetDefault("alerts.max_discards", cfg.Alerts.MaxDiscards)
	v.SetDefault("alerts.window", cfg.Alerts.Window)
	v.SetDefault("alerts.slack_webhook", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	// Map nested YAML keys to GlobalConfig fields.
	cfg.API.BaseURL = strings.TrimRight(v.GetString("api.base_url"), "/")
	cfg.API.Timeout = v.GetDuration("api.timeout")
	cfg.Session.UserID = v.GetString("session.user_id")
	cfg.Session.Token = v.GetString("session.token")
	if raw := v.GetString("session.role"); raw != "" {
		role, err := models.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("reading session.role: %w", err)
		}
		cfg.Session.Role = role
	}
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.EventsPath = v.GetString("events.path")
	cfg.CachePath = v.GetString("cache.path")
	cfg.RenderStyle = v.GetString("render.style")
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.DBPath = v.GetString("server.db_path")
	cfg.Server.StrictTerminal = v.GetBool("server.strict_terminal")
	cfg.Alerts.BlockedHours = v.GetInt("alerts.blocked_hours")
	cfg.Alerts.MaxRejections = v.GetInt("alerts.max_rejections")
	cfg.Alerts.MaxDiscards = v.GetInt("alerts.max_discards")
	cfg.Alerts.Window = v.GetDuration("alerts.window")
	cfg.Alerts.SlackWebhook = v.GetString("alerts.slack_webhook")

	return cfg, nil
}

// validLogLevels is the set of accepted log.level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks cfg for invalid values and returns one error that
// lists every problem found.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.API.BaseURL == "" {
		errs = append(errs, "api.base_url must not be empty")
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api.base_url %q is not an absolute URL", cfg.API.BaseURL))
	}

	if cfg.API.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("api.timeout must be positive, got %s", cfg.API.Timeout))
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid, must be one of: debug, info, warn, error", cfg.Log.Level))
	}

	if f := strings.ToLower(cfg.Log.Format); f != "text" && f != "json" && f != "auto" {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text, json or auto", cfg.Log.Format))
	}

	if cfg.Alerts.BlockedHours <= 0 || cfg.Alerts.MaxRejections <= 0 || cfg.Alerts.MaxDiscards <= 0 {
		errs = append(errs, "alerts thresholds must be positive")
	}
	if cfg.Alerts.Window <= 0 {
		errs = append(errs, fmt.Sprintf("alerts.window must be positive, got %s", cfg.Alerts.Window))
	}

	if cfg.Session.UserID != "" && cfg.Session.Role == "" {
		errs = append(errs, "session.role must be set when session.user_id is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
