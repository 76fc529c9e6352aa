package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/omnivurse/crm-eco-sub011/internal/engine"
	"github.com/omnivurse/crm-eco-sub011/internal/queue"
	"github.com/omnivurse/crm-eco-sub011/internal/scheduler"
)

// Config holds all sequencer configuration.
// Priority: flags > SEQUENCER_* env vars > settings file > defaults.
type Config struct {
	DBPath          string        `mapstructure:"db_path" validate:"required"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `mapstructure:"log_format" validate:"oneof=text json"`
	TickInterval    time.Duration `mapstructure:"tick_interval" validate:"gte=0"`
	TickCron        string        `mapstructure:"tick_cron"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gte=1"`
	LeaseDuration   time.Duration `mapstructure:"lease_duration" validate:"gt=0"`
	TickTimeout     time.Duration `mapstructure:"tick_timeout" validate:"gte=0"`
	Workers         int           `mapstructure:"workers" validate:"gte=1,lte=256"`
	MaxStepsPerTick int           `mapstructure:"max_steps_per_tick" validate:"gte=1"`
	Timezone        string        `mapstructure:"timezone"`
	QueueBackend    string        `mapstructure:"queue_backend" validate:"oneof=store redis"`
	RedisAddr       string        `mapstructure:"redis_addr" validate:"required_if=QueueBackend redis"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db" validate:"gte=0"`
	RedisKey        string        `mapstructure:"redis_key"`
	SentryDSN       string        `mapstructure:"sentry_dsn"`
	Environment     string        `mapstructure:"environment"`
	InstanceID      string        `mapstructure:"instance_id" validate:"required"`
}

// configKeys lists every key bound to a SEQUENCER_* variable.
var configKeys = []string{
	"db_path", "log_level", "log_format", "tick_interval", "tick_cron", "batch_size",
	"lease_duration", "tick_timeout", "workers", "max_steps_per_tick", "timezone",
	"queue_backend", "redis_addr", "redis_password", "redis_db", "redis_key",
	"sentry_dsn", "environment", "instance_id",
}

func sequencerDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sequencer"
	}
	return filepath.Join(home, ".sequencer")
}

func setDefaults(v *viper.Viper, dir string) {
	proc := engine.DefaultConfig()
	v.SetDefault("db_path", filepath.Join(dir, "sequencer.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("tick_interval", scheduler.DefaultInterval)
	v.SetDefault("tick_cron", "")
	v.SetDefault("batch_size", proc.BatchSize)
	v.SetDefault("lease_duration", proc.LeaseDuration)
	v.SetDefault("tick_timeout", 0)
	v.SetDefault("workers", proc.Workers)
	v.SetDefault("max_steps_per_tick", proc.MaxStepsPerTick)
	v.SetDefault("timezone", "")
	v.SetDefault("queue_backend", "store")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key", queue.DefaultRedisKey)
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("environment", "development")
	v.SetDefault("instance_id", defaultInstanceID())
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "sequencer"
	}
	return "sequencer@" + host
}

// loadConfig layers defaults, the settings file in dir, .env and SEQUENCER_*
// variables onto v. Flags bound to v before the call take precedence.
func loadConfig(v *viper.Viper, dir string) (Config, error) {
	// Missing .env files are fine; variables may come from the environment.
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Load()

	setDefaults(v, dir)

	v.SetConfigName("settings")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
	}

	v.SetEnvPrefix("SEQUENCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.TickCron != "" {
		if _, err := scheduler.ParseCron(c.TickCron); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

func (c Config) processorConfig() engine.Config {
	return engine.Config{
		BatchSize:       c.BatchSize,
		LeaseDuration:   c.LeaseDuration,
		MaxStepsPerTick: c.MaxStepsPerTick,
		Workers:         c.Workers,
		TickTimeout:     c.TickTimeout,
		InstanceID:      c.InstanceID,
	}
}

func (c Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{Interval: c.TickInterval, Cron: c.TickCron}
}

func (c Config) redisConfig() queue.RedisConfig {
	return queue.RedisConfig{
		Address:  c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Key:      c.RedisKey,
	}
}

// dsn turns a plain path into the file URI libSQL expects.
func (c Config) dsn() string {
	if strings.Contains(c.DBPath, ":") && !filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
