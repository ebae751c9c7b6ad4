package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// --- Helper ---

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// --- LoadGlobalConfig tests ---

func TestLoadGlobalConfig_Defaults_WhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	cfg, err := cm.LoadGlobalConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8080/api" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "http://localhost:8080/api")
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("API.Timeout = %s, want 15s", cfg.API.Timeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.EventsPath != ".tasktrack_events.jsonl" {
		t.Errorf("EventsPath = %q, want %q", cfg.EventsPath, ".tasktrack_events.jsonl")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Server.StrictTerminal {
		t.Error("Server.StrictTerminal = true, want false")
	}
	if cfg.Session.UserID != "" || cfg.Session.Role != "" {
		t.Errorf("Session = %+v, want empty", cfg.Session)
	}
}

func TestLoadGlobalConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".tasktrack.yaml", `
api:
  base_url: "https://tracker.example.com/api/"
  timeout: 3s
session:
  user_id: "u-7"
  role: "PROJECT_MANAGER"
  token: "secret"
log:
  level: debug
  format: json
events:
  path: "events.jsonl"
render:
  style: light
server:
  addr: ":9090"
  db_path: "dev.sqlite"
  strict_terminal: true
`)

	cm := NewConfigurationManager(dir)
	cfg, err := cm.LoadGlobalConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://tracker.example.com/api" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Errorf("API.Timeout = %s, want 3s", cfg.API.Timeout)
	}
	if cfg.Session.UserID != "u-7" {
		t.Errorf("Session.UserID = %q, want %q", cfg.Session.UserID, "u-7")
	}
	if cfg.Session.Role != models.RoleProjectManager {
		t.Errorf("Session.Role = %q, want %q", cfg.Session.Role, models.RoleProjectManager)
	}
	if cfg.Session.Token != "secret" {
		t.Errorf("Session.Token = %q, want %q", cfg.Session.Token, "secret")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if cfg.EventsPath != "events.jsonl" {
		t.Errorf("EventsPath = %q, want %q", cfg.EventsPath, "events.jsonl")
	}
	if cfg.RenderStyle != "light" {
		t.Errorf("RenderStyle = %q, want %q", cfg.RenderStyle, "light")
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.DBPath != "dev.sqlite" || !cfg.Server.StrictTerminal {
		t.Errorf("Server = %+v, want :9090/dev.sqlite/strict", cfg.Server)
	}
}

func TestLoadGlobalConfig_PartialConfig_FillsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".tasktrack.yaml", `
session:
  user_id: "u-1"
  role: ADMIN
`)

	cm := NewConfigurationManager(dir)
	cfg, err := cm.LoadGlobalConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Session.Role != models.RoleAdmin {
		t.Errorf("Session.Role = %q, want %q", cfg.Session.Role, models.RoleAdmin)
	}
	// Remaining fields should have defaults.
	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("API.Timeout = %s, want default 15s", cfg.API.Timeout)
	}
	if cfg.CachePath != "snapshots.yaml" {
		t.Errorf("CachePath = %q, want default %q", cfg.CachePath, "snapshots.yaml")
	}
}

func TestLoadGlobalConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".tasktrack.yaml", `
api:
  base_url: "http://from-file/api"
session:
  role: GUEST
`)
	t.Setenv("TASKTRACK_API_BASE_URL", "http://from-env/api")
	t.Setenv("TASKTRACK_SESSION_TOKEN", "env-token")
	t.Setenv("TASKTRACK_SESSION_ROLE", "team_member")

	cm := NewConfigurationManager(dir)
	cfg, err := cm.LoadGlobalConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "http://from-env/api" {
		t.Errorf("API.BaseURL = %q, want env value", cfg.API.BaseURL)
	}
	if cfg.Session.Token != "env-token" {
		t.Errorf("Session.Token = %q, want env value", cfg.Session.Token)
	}
	if cfg.Session.Role != models.RoleTeamMember {
		t.Errorf("Session.Role = %q, want %q", cfg.Session.Role, models.RoleTeamMember)
	}
}

func TestLoadGlobalConfig_UnknownRole_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".tasktrack.yaml", `
session:
  role: JANITOR
`)

	cm := NewConfigurationManager(dir)
	_, err := cm.LoadGlobalConfig()
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
	if !strings.Contains(err.Error(), "session.role") {
		t.Errorf("error = %q, want it to name session.role", err.Error())
	}
}

func TestLoadGlobalConfig_InvalidYAML_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".tasktrack.yaml", `
api:
  base_url: [invalid yaml
  broken: {
`)

	cm := NewConfigurationManager(dir)
	_, err := cm.LoadGlobalConfig()
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

// --- ValidateConfig tests ---

func TestValidateConfig_Defaults_Valid(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	if err := cm.ValidateConfig(DefaultGlobalConfig()); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	if err := cm.ValidateConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestValidateConfig_CollectsAllProblems(t *testing.T) {
	cfg := DefaultGlobalConfig()
	cfg.API.BaseURL = "not a url"
	cfg.API.Timeout = 0
	cfg.Log.Level = "verbose"
	cfg.Log.Format = "xml"
	cfg.Session.UserID = "u-1"

	cm := NewConfigurationManager(t.TempDir())
	err := cm.ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{"api.base_url", "api.timeout", "log.level", "log.format", "session.role"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err.Error(), want)
		}
	}
}

func TestValidateConfig_EmptyBaseURL(t *testing.T) {
	cfg := DefaultGlobalConfig()
	cfg.API.BaseURL = ""

	cm := NewConfigurationManager(t.TempDir())
	err := cm.ValidateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Errorf("expected empty base_url error, got %v", err)
	}
}
