package models

import "time"

// APIConfig points the sync client at the authoritative backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SessionConfig carries the identity the CLI acts as. Obtaining the token is
// the login flow's job; tasktrack only reads it.
type SessionConfig struct {
	UserID string `yaml:"user_id" mapstructure:"user_id"`
	Role   Role   `yaml:"role" mapstructure:"role"`
	Token  string `yaml:"token" mapstructure:"token"`
}

// Principal returns the session identity as a Principal.
func (s SessionConfig) Principal() Principal {
	return Principal{ID: s.UserID, Role: s.Role}
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the reference backend started by "tasktrack serve".
type ServerConfig struct {
	Addr           string `yaml:"addr" mapstructure:"addr"`
	DBPath         string `yaml:"db_path" mapstructure:"db_path"`
	StrictTerminal bool   `yaml:"strict_terminal" mapstructure:"strict_terminal"`
}

// AlertsConfig holds the thresholds for "tasktrack alerts".
type AlertsConfig struct {
	BlockedHours  int           `yaml:"blocked_hours" mapstructure:"blocked_hours"`
	MaxRejections int           `yaml:"max_rejections" mapstructure:"max_rejections"`
	MaxDiscards   int           `yaml:"max_discards" mapstructure:"max_discards"`
	Window        time.Duration `yaml:"window" mapstructure:"window"`
	SlackWebhook  string        `yaml:"slack_webhook" mapstructure:"slack_webhook"`
}

// GlobalConfig holds all settings read from .tasktrack.yaml via Viper.
type GlobalConfig struct {
	API         APIConfig     `yaml:"api" mapstructure:"api"`
	Session     SessionConfig `yaml:"session" mapstructure:"session"`
	Log         LogConfig     `yaml:"log" mapstructure:"log"`
	EventsPath  string        `yaml:"events_path" mapstructure:"events_path"`
	CachePath   string        `yaml:"cache_path" mapstructure:"cache_path"`
	RenderStyle string        `yaml:"render_style" mapstructure:"render_style"`
	Server      ServerConfig  `yaml:"server" mapstructure:"server"`
	Alerts      AlertsConfig  `yaml:"alerts" mapstructure:"alerts"`
}
