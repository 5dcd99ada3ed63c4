package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "barwatch", cfg.App.Name)
	require.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	require.Equal(t, 2*time.Minute, cfg.Scheduler.BreakerInterval)
	require.True(t, cfg.Scheduler.AlignToBucket)
	require.Equal(t, int64(0x62617277), cfg.Scheduler.AdvisoryLockKey)

	require.Equal(t, []string{"EURUSD"}, cfg.Watchlist.Symbols)
	require.Equal(t, []string{"1m"}, cfg.Watchlist.Timeframes)

	require.Equal(t, 90*time.Second, cfg.Freshness.Cadence["1m"])
	require.Equal(t, 6*time.Minute, cfg.Freshness.Cadence["5m"])
	require.Equal(t, 18*time.Minute, cfg.Freshness.Cadence["15m"])
	require.Equal(t, 90*time.Minute, cfg.Freshness.Cadence["1h"])

	require.Equal(t, "AllTick", cfg.Provider.Name)
	require.Equal(t, 3, cfg.Provider.MaxFailures)
	require.Equal(t, 5*time.Minute, cfg.Provider.FailureCooldown)

	require.Equal(t, 4, cfg.Dispatch.Workers)
	require.False(t, cfg.Notify.Enabled)
	require.Equal(t, 60, cfg.Notify.MaxEventsPerMinute)
	require.Equal(t, "WARN", cfg.Notify.Slack.MinSeverity)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  tick_interval: 30s
watchlist:
  symbols: [EURUSD, GBPUSD]
  timeframes: [1m, 5m]
freshness:
  cadence:
    1m: 90s
    5m: 6m
provider:
  key_issued_at: "2026-01-15"
notify:
  enabled: true
  telegram:
    enabled: true
    bot_token: tok
    chat_id: "123"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	require.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Watchlist.Symbols)
	require.Equal(t, []string{"1m", "5m"}, cfg.Watchlist.Timeframes)
	require.True(t, cfg.Notify.Telegram.Enabled)
}

func TestValidateRejectsMissingCadence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
watchlist:
  symbols: [EURUSD]
  timeframes: [4h]
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "freshness.cadence")
}

func TestValidateRejectsBadKeyDate(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.KeyIssuedAt = "15-01-2026"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Telegram.Enabled = true
	require.Error(t, cfg.Validate())

	cfg.Notify.Telegram.BotToken = "tok"
	require.Error(t, cfg.Validate())

	cfg.Notify.Telegram.ChatID = "123"
	require.NoError(t, cfg.Validate())
}

func TestKeyAgeDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := validConfig()
	require.Nil(t, cfg.KeyAgeDays(now))

	cfg.Provider.KeyIssuedAt = "2026-02-01"
	age := cfg.KeyAgeDays(now)
	require.NotNil(t, age)
	require.Equal(t, 28, *age)

	// A future-dated key clamps to zero.
	cfg.Provider.KeyIssuedAt = "2026-04-01"
	age = cfg.KeyAgeDays(now)
	require.NotNil(t, age)
	require.Equal(t, 0, *age)
}

func validConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			TickInterval:       time.Minute,
			EscalationInterval: time.Minute,
			BreakerInterval:    2 * time.Minute,
		},
		Watchlist: WatchlistConfig{Symbols: []string{"EURUSD"}, Timeframes: []string{"1m"}},
		Freshness: FreshnessConfig{Cadence: map[string]time.Duration{"1m": 90 * time.Second}},
		Dispatch:  DispatchConfig{Workers: 4},
	}
}
