package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/hunter/internal/model"
)

// Config is the root configuration for hunter.
type Config struct {
	Database     DatabaseConfig
	Queue        QueueConfig
	Scheduler    SchedulerConfig
	Scraper      ScraperConfig
	Relay        RelayConfig
	Server       ServerConfig
	Blob         BlobConfig
	ProfilePath  string
	AutoApply    AutoApplyConfig
	AI           AIConfig
	Notification NotificationConfig
	Boards       []BoardConfig
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	URL    string `yaml:"url"`    // postgres connection string
}

// QueueConfig controls the durable task queue and its workers.
type QueueConfig struct {
	Path          string // sqlite file holding the tasks table
	Workers       int
	PollInterval  time.Duration
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
}

// SchedulerConfig controls the tick loop and the stale-running guards.
// Both stale timeouts must be set explicitly.
type SchedulerConfig struct {
	Tick                    time.Duration
	StaleRunningTimeout     time.Duration
	ApplicationStaleTimeout time.Duration
}

// ScraperConfig controls the browser driver and scan politeness.
type ScraperConfig struct {
	Mode            string // "browser" or "static"
	Headless        bool
	RemoteURL       string
	RobotsUserAgent string
	MinPageDelay    time.Duration
	MaxPageDelay    time.Duration
	MinInitialDelay time.Duration
	MaxInitialDelay time.Duration
	HostDelay       time.Duration
	HostOverrides   map[string]time.Duration
	MaxPages        int
	Retries         int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
}

// RelayConfig selects the pub/sub backend for live events.
type RelayConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "redis"
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BlobConfig controls where screenshots and uploads are stored.
type BlobConfig struct {
	Dir string `yaml:"dir"`
}

// AutoApplyConfig tunes the auto-apply worker.
type AutoApplyConfig struct {
	Settle time.Duration // wait after navigation and clicks
}

// AIConfig controls the optional answer assistant.
type AIConfig struct {
	Enabled  bool
	Provider string        // "openai" or "gemini"
	BaseURL  string        // defaults per provider
	Model    string        // e.g. "gpt-4o-mini", "gemini-2.0-flash"
	APIKey   string        // expanded from env var by Load
	Timeout  time.Duration // per-request timeout
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// BoardConfig is a board seed synced into the store.
type BoardConfig struct {
	Name           string
	URL            string
	Enabled        bool
	ScanInterval   time.Duration
	KeywordFilters []string
	Scraper        model.ScraperConfig
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultGeminiModel   = "gemini-2.0-flash"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultRelayChannel  = "hunter:ws_broadcast"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Database     DatabaseConfig     `yaml:"database"`
	Queue        rawQueueConfig     `yaml:"queue"`
	Scheduler    rawSchedulerConfig `yaml:"scheduler"`
	Scraper      rawScraperConfig   `yaml:"scraper"`
	Relay        RelayConfig        `yaml:"relay"`
	Server       ServerConfig       `yaml:"server"`
	Blob         BlobConfig         `yaml:"blob"`
	ProfilePath  string             `yaml:"profile_path"`
	AutoApply    rawAutoApplyConfig `yaml:"auto_apply"`
	AI           rawAIConfig        `yaml:"ai"`
	Notification NotificationConfig `yaml:"notification"`
	Boards       []rawBoardConfig   `yaml:"boards"`
}

type rawQueueConfig struct {
	Path          string `yaml:"path"`
	Workers       int    `yaml:"workers"`
	PollInterval  string `yaml:"poll_interval"`
	SoftTimeLimit string `yaml:"soft_time_limit"`
	HardTimeLimit string `yaml:"hard_time_limit"`
}

type rawSchedulerConfig struct {
	Tick                    string `yaml:"tick"`
	StaleRunningTimeout     string `yaml:"stale_running_timeout"`
	ApplicationStaleTimeout string `yaml:"application_stale_timeout"`
}

type rawScraperConfig struct {
	Mode            string            `yaml:"mode"`
	Headless        *bool             `yaml:"headless"`
	RemoteURL       string            `yaml:"remote_url"`
	RobotsUserAgent string            `yaml:"robots_user_agent"`
	MinPageDelay    string            `yaml:"min_page_delay"`
	MaxPageDelay    string            `yaml:"max_page_delay"`
	MinInitialDelay string            `yaml:"min_initial_delay"`
	MaxInitialDelay string            `yaml:"max_initial_delay"`
	HostDelay       string            `yaml:"host_delay"`
	HostOverrides   map[string]string `yaml:"host_overrides"`
	MaxPages        int               `yaml:"max_pages"`
	Retries         *int              `yaml:"retries"`
	RetryBaseDelay  string            `yaml:"retry_base_delay"`
	RequestTimeout  string            `yaml:"request_timeout"`
}

type rawAutoApplyConfig struct {
	Settle string `yaml:"settle"`
}

type rawAIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

type rawBoardConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Enabled        *bool    `yaml:"enabled"`
	ScanInterval   string   `yaml:"scan_interval"`
	KeywordFilters []string `yaml:"keyword_filters"`
	Scraper        struct {
		Type       string            `yaml:"type"`
		Selectors  map[string]string `yaml:"selectors"`
		Pagination string            `yaml:"pagination"`
		MaxPages   int               `yaml:"max_pages"`
		PageParam  string            `yaml:"page_param"`
	} `yaml:"scraper"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var p durationParser
	cfg := &Config{
		Database: raw.Database,
		Queue: QueueConfig{
			Path:          raw.Queue.Path,
			Workers:       raw.Queue.Workers,
			PollInterval:  p.parse("queue.poll_interval", raw.Queue.PollInterval, time.Second),
			SoftTimeLimit: p.parse("queue.soft_time_limit", raw.Queue.SoftTimeLimit, 10*time.Minute),
			HardTimeLimit: p.parse("queue.hard_time_limit", raw.Queue.HardTimeLimit, 15*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Tick:                    p.parse("scheduler.tick", raw.Scheduler.Tick, time.Minute),
			StaleRunningTimeout:     p.parse("scheduler.stale_running_timeout", raw.Scheduler.StaleRunningTimeout, 0),
			ApplicationStaleTimeout: p.parse("scheduler.application_stale_timeout", raw.Scheduler.ApplicationStaleTimeout, 0),
		},
		Scraper: ScraperConfig{
			Mode:            raw.Scraper.Mode,
			Headless:        raw.Scraper.Headless == nil || *raw.Scraper.Headless,
			RemoteURL:       raw.Scraper.RemoteURL,
			RobotsUserAgent: raw.Scraper.RobotsUserAgent,
			MinPageDelay:    p.parse("scraper.min_page_delay", raw.Scraper.MinPageDelay, 2*time.Second),
			MaxPageDelay:    p.parse("scraper.max_page_delay", raw.Scraper.MaxPageDelay, 8*time.Second),
			MinInitialDelay: p.parse("scraper.min_initial_delay", raw.Scraper.MinInitialDelay, time.Second),
			MaxInitialDelay: p.parse("scraper.max_initial_delay", raw.Scraper.MaxInitialDelay, 3*time.Second),
			HostDelay:       p.parse("scraper.host_delay", raw.Scraper.HostDelay, 10*time.Second),
			HostOverrides:   make(map[string]time.Duration),
			MaxPages:        raw.Scraper.MaxPages,
			Retries:         2,
			RetryBaseDelay:  p.parse("scraper.retry_base_delay", raw.Scraper.RetryBaseDelay, 5*time.Second),
			RequestTimeout:  p.parse("scraper.request_timeout", raw.Scraper.RequestTimeout, 30*time.Second),
		},
		Relay:       raw.Relay,
		Server:      raw.Server,
		Blob:        raw.Blob,
		ProfilePath: raw.ProfilePath,
		AutoApply: AutoApplyConfig{
			Settle: p.parse("auto_apply.settle", raw.AutoApply.Settle, 2*time.Second),
		},
		AI: AIConfig{
			Enabled:  raw.AI.Enabled,
			Provider: raw.AI.Provider,
			BaseURL:  raw.AI.BaseURL,
			Model:    raw.AI.Model,
			APIKey:   raw.AI.APIKey,
			Timeout:  p.parse("ai.timeout", raw.AI.Timeout, 30*time.Second),
		},
		Notification: raw.Notification,
	}
	for host, v := range raw.Scraper.HostOverrides {
		cfg.Scraper.HostOverrides[strings.ToLower(host)] = p.parse("scraper.host_overrides["+host+"]", v, 0)
	}
	if raw.Scraper.Retries != nil {
		cfg.Scraper.Retries = *raw.Scraper.Retries
	}

	for i, rb := range raw.Boards {
		b := BoardConfig{
			Name:           rb.Name,
			URL:            rb.URL,
			Enabled:        rb.Enabled == nil || *rb.Enabled,
			ScanInterval:   p.parse(fmt.Sprintf("boards[%d].scan_interval", i), rb.ScanInterval, time.Hour),
			KeywordFilters: rb.KeywordFilters,
			Scraper: model.ScraperConfig{
				Selectors:  rb.Scraper.Selectors,
				Pagination: model.PaginationMode(rb.Scraper.Pagination),
				MaxPages:   rb.Scraper.MaxPages,
				PageParam:  rb.Scraper.PageParam,
			},
		}
		kind, err := model.ParseStrategyKind(rb.Scraper.Type)
		if err != nil {
			return nil, fmt.Errorf("boards[%d] (%s): %w", i, rb.Name, err)
		}
		b.Scraper.Type = kind
		cfg.Boards = append(cfg.Boards, b)
	}
	if p.err != nil {
		return nil, p.err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationParser parses duration strings, keeping the first error.
type durationParser struct {
	err error
}

func (p *durationParser) parse(key, raw string, def time.Duration) time.Duration {
	if raw == "" || p.err != nil {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("parse %s %q: %w", key, raw, err)
		return def
	}
	return d
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "hunter.db"
	}
	if cfg.Queue.Path == "" {
		if cfg.Database.Driver == "sqlite" {
			cfg.Queue.Path = cfg.Database.Path
		} else {
			cfg.Queue.Path = "hunter-queue.db"
		}
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Scraper.Mode == "" {
		cfg.Scraper.Mode = "browser"
	}
	if cfg.Scraper.RobotsUserAgent == "" {
		cfg.Scraper.RobotsUserAgent = "HunterBot"
	}
	if cfg.Scraper.MaxPages <= 0 {
		cfg.Scraper.MaxPages = 5
	}
	if cfg.Relay.Backend == "" {
		cfg.Relay.Backend = "memory"
	}
	if cfg.Relay.Channel == "" {
		cfg.Relay.Channel = defaultRelayChannel
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "blobs"
	}
	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case "gemini":
			cfg.AI.Model = defaultGeminiModel
		case "openai":
			cfg.AI.Model = defaultOpenAIModel
		}
	}
	if cfg.AI.BaseURL == "" && cfg.AI.Provider == "openai" {
		cfg.AI.BaseURL = defaultOpenAIBaseURL
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is required when driver is \"postgres\"")
		}
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", cfg.Database.Driver)
	}

	if cfg.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be positive, got %v", cfg.Scheduler.Tick)
	}
	if cfg.Scheduler.StaleRunningTimeout <= 0 {
		return fmt.Errorf("scheduler.stale_running_timeout is required and must be positive")
	}
	if cfg.Scheduler.ApplicationStaleTimeout <= 0 {
		return fmt.Errorf("scheduler.application_stale_timeout is required and must be positive")
	}

	if cfg.Queue.SoftTimeLimit >= cfg.Queue.HardTimeLimit {
		return fmt.Errorf("queue.soft_time_limit (%v) must be below queue.hard_time_limit (%v)",
			cfg.Queue.SoftTimeLimit, cfg.Queue.HardTimeLimit)
	}
	if cfg.Scheduler.StaleRunningTimeout < cfg.Queue.HardTimeLimit {
		return fmt.Errorf("scheduler.stale_running_timeout (%v) must be at least queue.hard_time_limit (%v)",
			cfg.Scheduler.StaleRunningTimeout, cfg.Queue.HardTimeLimit)
	}
	if cfg.Scheduler.ApplicationStaleTimeout < cfg.Queue.HardTimeLimit {
		return fmt.Errorf("scheduler.application_stale_timeout (%v) must be at least queue.hard_time_limit (%v)",
			cfg.Scheduler.ApplicationStaleTimeout, cfg.Queue.HardTimeLimit)
	}

	switch cfg.Scraper.Mode {
	case "browser", "static":
	default:
		return fmt.Errorf("scraper.mode must be \"browser\" or \"static\", got %q", cfg.Scraper.Mode)
	}
	if cfg.Scraper.MinPageDelay > cfg.Scraper.MaxPageDelay {
		return fmt.Errorf("scraper.min_page_delay must not exceed scraper.max_page_delay")
	}
	if cfg.Scraper.MinInitialDelay > cfg.Scraper.MaxInitialDelay {
		return fmt.Errorf("scraper.min_initial_delay must not exceed scraper.max_initial_delay")
	}

	switch cfg.Relay.Backend {
	case "memory":
	case "redis":
		if cfg.Relay.RedisURL == "" {
			return fmt.Errorf("relay.redis_url is required when backend is \"redis\"")
		}
	default:
		return fmt.Errorf("relay.backend must be \"memory\" or \"redis\", got %q", cfg.Relay.Backend)
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	}

	if cfg.AI.Enabled {
		if cfg.AI.Provider != "openai" && cfg.AI.Provider != "gemini" {
			return fmt.Errorf("ai.provider must be \"openai\" or \"gemini\", got %q", cfg.AI.Provider)
		}
		if cfg.AI.APIKey == "" {
			return fmt.Errorf("ai.api_key is required when ai.enabled is true")
		}
		if cfg.AI.Model == "" {
			return fmt.Errorf("ai.model is required when ai.enabled is true")
		}
	}

	seen := make(map[string]bool, len(cfg.Boards))
	for i, b := range cfg.Boards {
		if b.Name == "" || b.URL == "" {
			return fmt.Errorf("boards[%d]: name and url are required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("boards[%d]: duplicate board name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.ScanInterval <= 0 {
			return fmt.Errorf("boards[%d] (%s): scan_interval must be positive", i, b.Name)
		}
		switch b.Scraper.Pagination {
		case "", model.PaginateClick, model.PaginateURLParam, model.PaginateInfiniteScroll:
		default:
			return fmt.Errorf("boards[%d] (%s): unknown pagination %q", i, b.Name, b.Scraper.Pagination)
		}
	}

	return nil
}

// Board converts the seed into a store board.
func (b BoardConfig) Board() model.Board {
	return model.Board{
		Name:           b.Name,
		URL:            b.URL,
		Enabled:        b.Enabled,
		ScanInterval:   b.ScanInterval,
		KeywordFilters: b.KeywordFilters,
		Scraper:        b.Scraper,
	}
}
