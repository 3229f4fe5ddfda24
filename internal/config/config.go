package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	PushGatewayURL    string `env:"PUSH_GATEWAY_URL,required=true"`
	PushGatewayToken  string `env:"PUSH_GATEWAY_TOKEN"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	HTTPPort          int    `env:"HTTP_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	RetryDelayMillis  int    `env:"RETRY_DELAY_MILLIS,default=1000"`
	MaxRetries        int    `env:"MAX_RETRIES,default=5"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RetryDelayMillis <= 0 {
		return fmt.Errorf("RETRY_DELAY_MILLIS must be positive, got %d", c.RetryDelayMillis)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

// RetryDelay returns the configured base retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}
