package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/queue"
	"github.com/omnivurse/crm-eco-sub011/internal/scheduler"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "sequencer.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, scheduler.DefaultInterval, cfg.TickInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 25, cfg.MaxStepsPerTick)
	assert.Equal(t, "store", cfg.QueueBackend)
	assert.Equal(t, queue.DefaultRedisKey, cfg.RedisKey)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	dir := t.TempDir()
	settings := `
log_level: debug
log_format: json
tick_interval: 15s
batch_size: 20
workers: 4
queue_backend: redis
redis_addr: cache:6379
timezone: America/New_York
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(settings), 0o644))

	cfg, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.TickInterval)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, "America/New_York", cfg.Timezone)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"batch_size": 20, "tick_cron": "*/5 * * * *"}`), 0o644))
	t.Setenv("SEQUENCER_BATCH_SIZE", "7")
	t.Setenv("SEQUENCER_LEASE_DURATION", "90s")
	t.Setenv("SEQUENCER_INSTANCE_ID", "worker-a")

	cfg, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.LeaseDuration)
	assert.Equal(t, "worker-a", cfg.InstanceID)
	assert.Equal(t, "*/5 * * * *", cfg.TickCron)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SEQUENCER_MAX_STEPS_PER_TICK=3\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SEQUENCER_MAX_STEPS_PER_TICK") })

	cfg, err := loadConfig(viper.New(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxStepsPerTick)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		want     string
	}{
		{"bad queue", `queue_backend: kafka`, "QueueBackend"},
		{"bad level", `log_level: loud`, "LogLevel"},
		{"zero workers", `workers: 0`, "Workers"},
		{"bad cron", `tick_cron: "every day"`, "cron"},
		{"bad timezone", `timezone: Mars/Olympus`, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(tt.settings), 0o644))

			_, err := loadConfig(viper.New(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"batch_size":`), 0o644))

	_, err := loadConfig(viper.New(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read settings")
}

func TestConfig_Derived(t *testing.T) {
	cfg := Config{
		DBPath:          "/var/lib/sequencer/sequencer.db",
		BatchSize:       10,
		LeaseDuration:   time.Minute,
		MaxStepsPerTick: 5,
		Workers:         2,
		TickTimeout:     30 * time.Second,
		InstanceID:      "node-1",
		TickInterval:    time.Second,
		TickCron:        "@hourly",
		RedisAddr:       "localhost:6379",
		RedisDB:         2,
		RedisKey:        "k",
	}

	assert.Equal(t, "file:/var/lib/sequencer/sequencer.db", cfg.dsn())
	cfg.DBPath = "libsql://db.example.com"
	assert.Equal(t, "libsql://db.example.com", cfg.dsn())

	pc := cfg.processorConfig()
	assert.Equal(t, 10, pc.BatchSize)
	assert.Equal(t, "node-1", pc.InstanceID)
	assert.Equal(t, 30*time.Second, pc.TickTimeout)

	assert.Equal(t, scheduler.Config{Interval: time.Second, Cron: "@hourly"}, cfg.schedulerConfig())
	assert.Equal(t, queue.RedisConfig{Address: "localhost:6379", DB: 2, Key: "k"}, cfg.redisConfig())
}
