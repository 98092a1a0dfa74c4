package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"connectors": {"telegram": {"token": "123:abc"}},
	"jira": {"base_url": "https://jira.example.com", "project_key": "SUP"},
	"store": {"backend": "sqlite", "path": "/tmp/desk.db"}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Dialogue.Categories) != 2 {
		t.Fatalf("categories = %d, want default pair", len(cfg.Dialogue.Categories))
	}
	if !cfg.Dialogue.Categories[0].RequiresDescription || cfg.Dialogue.Categories[1].RequiresDescription {
		t.Errorf("default categories = %+v", cfg.Dialogue.Categories)
	}
	if cfg.Dialogue.Priorities["medium"] != "Medium" || cfg.Dialogue.Priorities["critical"] != "Critical" {
		t.Errorf("priorities = %v", cfg.Dialogue.Priorities)
	}
	if cfg.Dialogue.PageSize != 50 {
		t.Errorf("page size = %d", cfg.Dialogue.PageSize)
	}
	if cfg.Poller.Schedule != "@every 5m" {
		t.Errorf("schedule = %q", cfg.Poller.Schedule)
	}
	if len(cfg.Poller.Terminal) != 2 {
		t.Errorf("terminal = %v", cfg.Poller.Terminal)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d", cfg.API.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]string{
		"missing jira": `{
			"connectors": {"telegram": {"token": "123:abc"}},
			"store": {"backend": "sqlite", "path": "/tmp/d.db"}
		}`,
		"no connectors": `{
			"jira": {"base_url": "https://j", "project_key": "SUP"},
			"store": {"backend": "sqlite", "path": "/tmp/d.db"}
		}`,
		"bad backend": `{
			"connectors": {"telegram": {"token": "123:abc"}},
			"jira": {"base_url": "https://j", "project_key": "SUP"},
			"store": {"backend": "postgres"}
		}`,
		"supabase without keys": `{
			"connectors": {"telegram": {"token": "123:abc"}},
			"jira": {"base_url": "https://j", "project_key": "SUP"},
			"store": {"backend": "supabase", "supabase": {"url": ""}}
		}`,
		"slack without app token": `{
			"connectors": {"slack": {"bot_token": "xoxb-1"}},
			"jira": {"base_url": "https://j", "project_key": "SUP"},
			"store": {"backend": "sqlite", "path": "/tmp/d.db"}
		}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRequiresTwoCategories(t *testing.T) {
	body := `{
		"connectors": {"telegram": {"token": "123:abc"}},
		"jira": {"base_url": "https://j", "project_key": "SUP"},
		"store": {"backend": "sqlite", "path": "/tmp/d.db"},
		"dialogue": {"categories": [{"label": "Only one", "issue_type": "Task"}]}
	}`
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "exactly 2") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DESK_JIRA_URL", "https://jira.example.com")
	t.Setenv("DESK_JIRA_PROJECT_KEY", "SUP")
	t.Setenv("DESK_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DESK_TELEGRAM_ALLOW_FROM", "42, 77")
	t.Setenv("DESK_STORE_PATH", "/tmp/env.db")
	t.Setenv("DESK_TERMINAL_STATUSES", "Resolved, Closed")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Jira.BaseURL != "https://jira.example.com" || cfg.Jira.ProjectKey != "SUP" {
		t.Errorf("jira = %+v", cfg.Jira)
	}
	if cfg.Connectors.Telegram == nil || cfg.Connectors.Telegram.Token != "123:abc" {
		t.Fatalf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if len(cfg.Connectors.Telegram.AllowFrom) != 2 || cfg.Connectors.Telegram.AllowFrom[1] != 77 {
		t.Errorf("allow from = %v", cfg.Connectors.Telegram.AllowFrom)
	}
	if cfg.Store.Path != "/tmp/env.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if len(cfg.Poller.Terminal) != 2 || cfg.Poller.Terminal[0] != "Resolved" {
		t.Errorf("terminal = %v", cfg.Poller.Terminal)
	}
}

func TestLoadFromEnvSupabase(t *testing.T) {
	t.Setenv("DESK_JIRA_URL", "https://jira.example.com")
	t.Setenv("DESK_JIRA_PROJECT_KEY", "SUP")
	t.Setenv("DESK_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DESK_SUPABASE_URL", "https://xyz.supabase.co")
	t.Setenv("DESK_SUPABASE_KEY", "anon-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Store.Backend != "supabase" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Supabase == nil || cfg.Store.Supabase.AnonKey != "anon-key" {
		t.Errorf("supabase = %+v", cfg.Store.Supabase)
	}
}
