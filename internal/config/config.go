package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"barwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig covers the optional shared cycle-counter store. When Addr is
// empty the counters stay in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig governs the three orchestration cadences.
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	EscalationInterval time.Duration `mapstructure:"escalation_interval"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	AlignToBucket      bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
}

// WatchlistConfig enumerates the monitored pairs as the cross product of
// symbols and timeframes.
type WatchlistConfig struct {
	Symbols    []string `mapstructure:"symbols"`
	Timeframes []string `mapstructure:"timeframes"`
}

// FreshnessConfig maps timeframe names to the expected bar cadence.
type FreshnessConfig struct {
	Cadence map[string]time.Duration `mapstructure:"cadence"`
}

// ProviderConfig captures market-data provider metadata and failure policy.
type ProviderConfig struct {
	Name            string        `mapstructure:"name"`
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	KeyIssuedAt     string        `mapstructure:"key_issued_at"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	FailureCooldown time.Duration `mapstructure:"failure_cooldown"`
	MaxFailures     int           `mapstructure:"max_failures"`
}

// AnalysisConfig tunes the analysis pipeline.
type AnalysisConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// DispatchConfig sizes the background worker pool.
type DispatchConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// NotifyConfig defines notification gating and channel routing.
type NotifyConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	DryRun             bool           `mapstructure:"dry_run"`
	MaxEventsPerMinute int            `mapstructure:"max_events_per_minute"`
	Telegram           TelegramConfig `mapstructure:"telegram"`
	Webhook            WebhookConfig  `mapstructure:"webhook"`
	Slack              SlackConfig    `mapstructure:"slack"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	ChatID      string `mapstructure:"chat_id"`
	APIBase     string `mapstructure:"api_base"`
	MinSeverity string `mapstructure:"min_severity"`
}

// WebhookConfig describes generic JSON webhook delivery.
type WebhookConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	MinSeverity string `mapstructure:"min_severity"`
}

// SlackConfig describes Slack incoming-webhook delivery.
type SlackConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	WebhookURL  string `mapstructure:"webhook_url"`
	MinSeverity string `mapstructure:"min_severity"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BARWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "barwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.tick_interval", "60s")
	v.SetDefault("scheduler.escalation_interval", "60s")
	v.SetDefault("scheduler.breaker_interval", "120s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62617277))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("watchlist.symbols", []string{"EURUSD"})
	v.SetDefault("watchlist.timeframes", []string{"1m"})

	// Cadences carry deliberate tolerance (1m bars are allowed 90s) so the
	// gate does not flap on ordinary delivery jitter.
	v.SetDefault("freshness.cadence", map[string]string{
		"1m":  "90s",
		"5m":  "6m",
		"15m": "18m",
		"1h":  "90m",
	})

	v.SetDefault("provider.name", "AllTick")
	v.SetDefault("provider.base_url", "https://quote.alltick.io")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.failure_cooldown", "5m")
	v.SetDefault("provider.max_failures", 3)

	v.SetDefault("analysis.dry_run", false)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 64)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.dry_run", false)
	v.SetDefault("notify.max_events_per_minute", 60)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.min_severity", "INFO")
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.min_severity", "INFO")
	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.min_severity", "WARN")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be greater than zero")
	}
	if c.Scheduler.EscalationInterval <= 0 {
		return fmt.Errorf("scheduler.escalation_interval must be greater than zero")
	}
	if c.Scheduler.BreakerInterval <= 0 {
		return fmt.Errorf("scheduler.breaker_interval must be greater than zero")
	}
	if len(c.Watchlist.Symbols) == 0 {
		return fmt.Errorf("watchlist.symbols must not be empty")
	}
	if len(c.Watchlist.Timeframes) == 0 {
		return fmt.Errorf("watchlist.timeframes must not be empty")
	}
	for _, tf := range c.Watchlist.Timeframes {
		if _, ok := c.Freshness.Cadence[tf]; !ok {
			return fmt.Errorf("freshness.cadence missing timeframe %q", tf)
		}
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be greater than zero")
	}
	if c.Provider.KeyIssuedAt != "" {
		if _, err := time.Parse("2006-01-02", c.Provider.KeyIssuedAt); err != nil {
			return fmt.Errorf("provider.key_issued_at must be YYYY-MM-DD: %w", err)
		}
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required")
		}
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required")
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return fmt.Errorf("notify.slack.webhook_url is required")
	}
	return nil
}

// KeyAgeDays resolves the provider API key age relative to now, or nil when
// no issue date is configured.
func (c *Config) KeyAgeDays(now time.Time) *int {
	if c.Provider.KeyIssuedAt == "" {
		return nil
	}
	issued, err := time.Parse("2006-01-02", c.Provider.KeyIssuedAt)
	if err != nil {
		return nil
	}
	days := int(now.Sub(issued).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}
