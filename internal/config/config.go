package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level deskbridge configuration.
type Config struct {
	Connectors ConnectorConfig `json:"connectors"`
	Jira       JiraConfig      `json:"jira"`
	Store      StoreConfig     `json:"store"`
	Dialogue   DialogueConfig  `json:"dialogue"`
	Poller     PollerConfig    `json:"poller"`
	API        APIConfig       `json:"api"`
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack bot settings (Socket Mode).
type SlackConfig struct {
	BotToken string   `json:"bot_token"`
	AppToken string   `json:"app_token"`
	Channels []string `json:"channels,omitempty"`
}

// JiraConfig holds issue-tracker settings. Tokens are per-user and live in
// the store; only the instance location and project key are configured here.
type JiraConfig struct {
	BaseURL    string `json:"base_url"`
	ProjectKey string `json:"project_key"`
}

// StoreConfig selects and configures the user/subscription store backend.
type StoreConfig struct {
	Backend  string          `json:"backend"` // "sqlite" (default) or "supabase"
	Path     string          `json:"path,omitempty"`
	Supabase *SupabaseConfig `json:"supabase,omitempty"`
}

// SupabaseConfig holds hosted-store settings.
type SupabaseConfig struct {
	URL      string `json:"url"`
	AnonKey  string `json:"anon_key"`
	Email    string `json:"email,omitempty"`     // service account for GoTrue sign-in
	Password string `json:"password,omitempty"`  // service account password
	TokenRPC string `json:"token_rpc,omitempty"` // server-side function that encrypts tokens at rest
}

// Category is one selectable ticket category. The tracker issue type name is
// what gets sent on create; RequiresDescription controls the dialogue path.
type Category struct {
	Label               string `json:"label"`
	IssueType           string `json:"issue_type"`
	RequiresDescription bool   `json:"requires_description"`
}

// DialogueConfig holds ticket-dialogue settings.
type DialogueConfig struct {
	Categories []Category `json:"categories,omitempty"`
	// Priority names as the tracker knows them. Keys are fixed
	// (medium/high/critical); values default to the capitalized key.
	Priorities map[string]string `json:"priorities,omitempty"`
	PageSize   int               `json:"page_size,omitempty"` // ticket list page size, default 50
}

// PollerConfig holds status-poller settings.
type PollerConfig struct {
	Schedule string   `json:"schedule,omitempty"` // cron spec, default "@every 5m"
	Terminal []string `json:"terminal,omitempty"` // statuses that retire a subscription
}

// APIConfig holds ops API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// DefaultCategories is used when the config does not define any.
// The first category collects a detailed description, the second does not.
var DefaultCategories = []Category{
	{Label: "Incident", IssueType: "Incident", RequiresDescription: true},
	{Label: "Service request", IssueType: "Service Request", RequiresDescription: false},
}

// DefaultTerminal are the statuses after which a subscription is removed.
var DefaultTerminal = []string{"Done", "Closed"}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with DESK_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Jira: JiraConfig{
			BaseURL:    os.Getenv("DESK_JIRA_URL"),
			ProjectKey: os.Getenv("DESK_JIRA_PROJECT_KEY"),
		},
		Store: StoreConfig{
			Backend: getenv("DESK_STORE_BACKEND", "sqlite"),
			Path:    getenv("DESK_STORE_PATH", "/data/deskbridge.db"),
		},
		Poller: PollerConfig{
			Schedule: getenv("DESK_POLL_SCHEDULE", "@every 5m"),
		},
		API: APIConfig{
			Host: getenv("DESK_API_HOST", "0.0.0.0"),
			Port: getenvInt("DESK_API_PORT", 8080),
			Key:  os.Getenv("DESK_API_KEY"),
		},
	}

	if token := os.Getenv("DESK_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("DESK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: DESK_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	if bot := os.Getenv("DESK_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("DESK_SLACK_APP_TOKEN"),
		}
	}

	if url := os.Getenv("DESK_SUPABASE_URL"); url != "" {
		cfg.Store.Backend = "supabase"
		cfg.Store.Supabase = &SupabaseConfig{
			URL:      url,
			AnonKey:  os.Getenv("DESK_SUPABASE_KEY"),
			Email:    os.Getenv("DESK_SUPABASE_EMAIL"),
			Password: os.Getenv("DESK_SUPABASE_PASSWORD"),
			TokenRPC: os.Getenv("DESK_SUPABASE_TOKEN_RPC"),
		}
	}

	if terminal := os.Getenv("DESK_TERMINAL_STATUSES"); terminal != "" {
		cfg.Poller.Terminal = splitTrim(terminal)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "/data/deskbridge.db"
	}
	if len(c.Dialogue.Categories) == 0 {
		c.Dialogue.Categories = DefaultCategories
	}
	if c.Dialogue.Priorities == nil {
		c.Dialogue.Priorities = map[string]string{}
	}
	for _, key := range []string{"medium", "high", "critical"} {
		if c.Dialogue.Priorities[key] == "" {
			c.Dialogue.Priorities[key] = strings.ToUpper(key[:1]) + key[1:]
		}
	}
	if c.Dialogue.PageSize <= 0 {
		c.Dialogue.PageSize = 50
	}
	if c.Poller.Schedule == "" {
		c.Poller.Schedule = "@every 5m"
	}
	if len(c.Poller.Terminal) == 0 {
		c.Poller.Terminal = DefaultTerminal
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Jira.BaseURL == "" {
		errs = append(errs, "jira.base_url is required")
	}
	if c.Jira.ProjectKey == "" {
		errs = append(errs, "jira.project_key is required")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite backend")
		}
	case "supabase":
		if c.Store.Supabase == nil {
			errs = append(errs, "store.supabase is required for the supabase backend")
		} else {
			if c.Store.Supabase.URL == "" {
				errs = append(errs, "store.supabase.url is required")
			}
			if c.Store.Supabase.AnonKey == "" {
				errs = append(errs, "store.supabase.anon_key is required")
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be sqlite or supabase, got %q", c.Store.Backend))
	}

	if c.Connectors.Telegram == nil && c.Connectors.Slack == nil {
		errs = append(errs, "at least one connector is required")
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required (Socket Mode)")
		}
	}

	if len(c.Dialogue.Categories) != 2 {
		errs = append(errs, fmt.Sprintf("dialogue.categories must contain exactly 2 entries, got %d", len(c.Dialogue.Categories)))
	}
	for i, cat := range c.Dialogue.Categories {
		if cat.Label == "" {
			errs = append(errs, fmt.Sprintf("dialogue.categories[%d].label is required", i))
		}
		if cat.IssueType == "" {
			errs = append(errs, fmt.Sprintf("dialogue.categories[%d].issue_type is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
