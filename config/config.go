package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/goliatone/go-dunning"
)

// EnvPrefix prefixes every environment override, e.g. DUNNING_DATABASE_DSN.
const EnvPrefix = "DUNNING"

type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Engine    EngineConfig
	AMQP      AMQPConfig
	Sentry    SentryConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	DSN     string
	Migrate bool
}

type SchedulerConfig struct {
	Expression  string
	BatchSize   int
	Concurrency int
	LogLevel    string
}

type EngineConfig struct {
	ActionTimeout    time.Duration
	ExhaustionPolicy string
	// Backoff is "fixed" or "exponential".
	Backoff    string
	BackoffMax time.Duration
}

type AMQPConfig struct {
	URL              string
	Exchange         string
	RoutingPrefix    string
	BreakerThreshold int
	BreakerReset     time.Duration
}

type SentryConfig struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
}

type LogConfig struct {
	Level string
	// Format is "json" or "console".
	Format string
}

// Load reads configuration from defaults, an optional yaml file and
// DUNNING_ environment variables, in increasing precedence. A .env file in
// the working directory is loaded first when present. An empty path looks
// for dunning.yaml in . and ./config and does not fail if none exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dunning")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", false)

	v.SetDefault("scheduler.expression", "@every 1m")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.log_level", "error")

	v.SetDefault("engine.action_timeout", "30s")
	v.SetDefault("engine.exhaustion_policy", "advance")
	v.SetDefault("engine.backoff", "fixed")
	v.SetDefault("engine.backoff_max", "168h")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "")
	v.SetDefault("amqp.routing_prefix", "dunning.")
	v.SetDefault("amqp.breaker_threshold", 5)
	v.SetDefault("amqp.breaker_reset", "1m")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:     v.GetString("database.dsn"),
			Migrate: v.GetBool("database.migrate"),
		},
		Scheduler: SchedulerConfig{
			Expression:  v.GetString("scheduler.expression"),
			BatchSize:   v.GetInt("scheduler.batch_size"),
			Concurrency: v.GetInt("scheduler.concurrency"),
			LogLevel:    v.GetString("scheduler.log_level"),
		},
		Engine: EngineConfig{
			ActionTimeout:    v.GetDuration("engine.action_timeout"),
			ExhaustionPolicy: v.GetString("engine.exhaustion_policy"),
			Backoff:          strings.ToLower(v.GetString("engine.backoff")),
			BackoffMax:       v.GetDuration("engine.backoff_max"),
		},
		AMQP: AMQPConfig{
			URL:              v.GetString("amqp.url"),
			Exchange:         v.GetString("amqp.exchange"),
			RoutingPrefix:    v.GetString("amqp.routing_prefix"),
			BreakerThreshold: v.GetInt("amqp.breaker_threshold"),
			BreakerReset:     v.GetDuration("amqp.breaker_reset"),
		},
		Sentry: SentryConfig{
			DSN:              v.GetString("sentry.dsn"),
			Environment:      v.GetString("sentry.environment"),
			TracesSampleRate: v.GetFloat64("sentry.traces_sample_rate"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	fail := func(msg string, args ...any) error {
		return dunning.NewError(dunning.ErrValidation, fmt.Sprintf(msg, args...), nil, nil)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fail("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.Concurrency <= 0 {
		return fail("scheduler.concurrency must be positive, got %d", c.Scheduler.Concurrency)
	}
	if c.Engine.ActionTimeout <= 0 {
		return fail("engine.action_timeout must be positive")
	}
	switch c.Engine.Backoff {
	case "fixed", "exponential":
	default:
		return fail("engine.backoff must be fixed or exponential, got %q", c.Engine.Backoff)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fail("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return fail("sentry.traces_sample_rate must be within [0,1]")
	}
	return nil
}
