package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	DatabaseURL             string `env:"DATABASE_URL,required"`
	RedisURL                string `env:"REDIS_URL,required"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
	TimeZone                string `env:"TIME_ZONE" envDefault:"UTC"`
	AutoMigrate             bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	SchedulerWorkers        int    `env:"SCHEDULER_WORKERS" envDefault:"4"`
	SchedulerPollIntervalMs int    `env:"SCHEDULER_POLL_INTERVAL_MS" envDefault:"1000"`
	SchedulerBatchSize      int    `env:"SCHEDULER_BATCH_SIZE" envDefault:"50"`
	SchedulerVisibilitySecs int    `env:"SCHEDULER_VISIBILITY_TIMEOUT_SECONDS" envDefault:"300"`
	SchedulerMaxAttempts    int    `env:"SCHEDULER_MAX_ATTEMPTS" envDefault:"10"`
	SchedulerQueuePrefix    string `env:"SCHEDULER_QUEUE_PREFIX" envDefault:"sleep:jobs"`
	RateLimitPerMin         int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.SchedulerPollIntervalMs) * time.Millisecond
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.SchedulerVisibilitySecs) * time.Second
}

// Location is the viewer time zone used to anchor the weekly following window.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) Validate() error {
	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if c.SchedulerPollIntervalMs < 10 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL_MS must be at least 10")
	}
	if c.SchedulerBatchSize < 1 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be at least 1")
	}
	if c.SchedulerVisibilitySecs < 1 {
		return fmt.Errorf("SCHEDULER_VISIBILITY_TIMEOUT_SECONDS must be at least 1")
	}
	if c.SchedulerMaxAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be at least 1")
	}
	if c.SchedulerQueuePrefix == "" {
		return fmt.Errorf("SCHEDULER_QUEUE_PREFIX must not be empty")
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
