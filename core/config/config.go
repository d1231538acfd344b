package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// SecretToken, when set, is required on every webhook delivery.
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting: "callback", "message", "inline_query".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DatabaseConfig selects the property store backend.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	Path           string `yaml:"path" envconfig:"DB_PATH"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// PostgresDSN renders the key/value DSN understood by lib/pq.
func (c DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// GoogleConfig configures access to the Forms and Drive APIs.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	// PubSubTopic receives form watch notifications, e.g. projects/p/topics/form-events.
	PubSubTopic   string        `yaml:"pubsub_topic" envconfig:"GOOGLE_PUBSUB_TOPIC"`
	FormCacheSize int           `yaml:"form_cache_size"`
	FormCacheTTL  time.Duration `yaml:"form_cache_ttl"`
}

// IngestConfig configures how form submissions reach the dispatcher.
type IngestConfig struct {
	// Listen is the address of the push endpoint; empty disables the HTTP server.
	Listen string `yaml:"listen" envconfig:"INGEST_LISTEN"`
	// PushToken must match the "token" query parameter of push requests when set.
	PushToken string `yaml:"push_token" envconfig:"INGEST_PUSH_TOKEN"`
	// PollInterval syncs every bound form periodically; 0 disables polling.
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"INGEST_POLL_INTERVAL"`
	// InitialLookback is how far back a form with no cursor starts relaying.
	InitialLookback time.Duration `yaml:"initial_lookback"`
}

// ReconcileConfig configures the trigger reconciler.
type ReconcileConfig struct {
	// InvalidPolicy is one of remove_by_form, remove_last, fail.
	InvalidPolicy string        `yaml:"invalid_policy" envconfig:"RECONCILE_INVALID_POLICY"`
	Interval      time.Duration `yaml:"interval"`
	RenewBefore   time.Duration `yaml:"renew_before"`
}

// SenderConfig controls outbound Telegram calls.
type SenderConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// DriverPostgres stores properties in PostgreSQL through lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite stores properties in a SQLite file through modernc.org/sqlite.
	DriverSQLite = "sqlite"
	// DriverMemory keeps properties in process memory; nothing survives a restart.
	DriverMemory = "memory"
)

const (
	// PolicyRemoveByForm drops every binding whose form failed to open.
	PolicyRemoveByForm = "remove_by_form"
	// PolicyRemoveLast drops the last stored binding per invalid form (legacy behaviour).
	PolicyRemoveLast = "remove_last"
	// PolicyFail keeps bindings and reports the invalid forms as an error.
	PolicyFail = "fail"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// Config aggregates the whole application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Google    GoogleConfig    `yaml:"google"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Sender    SenderConfig    `yaml:"sender"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if err := normalizeTelegram(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	if err := normalizeDatabase(&cfg.Database); err != nil {
		return err
	}
	if err := normalizeReconcile(&cfg.Reconcile); err != nil {
		return err
	}

	if cfg.Google.FormCacheSize <= 0 {
		cfg.Google.FormCacheSize = 128
	}
	if cfg.Google.FormCacheTTL <= 0 {
		cfg.Google.FormCacheTTL = 10 * time.Minute
	}
	if cfg.Ingest.PollInterval < 0 {
		return fmt.Errorf("ingest.poll_interval must be >= 0")
	}
	if cfg.Sender.MaxRetries < 0 {
		return fmt.Errorf("sender.max_retries must be >= 0")
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeRateLimit(rl *RateLimitConfig) error {
	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range rl.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		rl.ExcludeUpdates[i] = key
	}
	return nil
}

func normalizeDatabase(db *DatabaseConfig) error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case "":
		db.Driver = DriverSQLite
		if db.Path == "" {
			db.Path = "formbot.db"
		}
	case "postgresql":
		db.Driver = DriverPostgres
	}
	switch db.Driver {
	case DriverPostgres:
		if db.Host == "" || db.Name == "" {
			return fmt.Errorf("database.host and database.name are required for postgres")
		}
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 5
		}
	case DriverSQLite:
		if strings.TrimSpace(db.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: postgres, sqlite, memory", db.Driver)
	}
	return nil
}

func normalizeReconcile(rc *ReconcileConfig) error {
	rc.InvalidPolicy = strings.ToLower(strings.TrimSpace(rc.InvalidPolicy))
	switch rc.InvalidPolicy {
	case "":
		rc.InvalidPolicy = PolicyRemoveByForm
	case PolicyRemoveByForm, PolicyRemoveLast, PolicyFail:
	default:
		return fmt.Errorf("invalid reconcile.invalid_policy %q; allowed: remove_by_form, remove_last, fail", rc.InvalidPolicy)
	}
	if rc.Interval < 0 {
		return fmt.Errorf("reconcile.interval must be >= 0")
	}
	if rc.RenewBefore <= 0 {
		rc.RenewBefore = 24 * time.Hour
	}
	return nil
}
