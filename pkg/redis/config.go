package redis

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultPollTimeout = time.Second
	DefaultDialTimeout = 5 * time.Second
	DefaultRetryDelay  = 200 * time.Millisecond

	keyPrefix = "mqprovider:queue:"
)

// Config holds the configuration of the Redis driver
type Config struct {
	Addr        string         `env:"REDIS_ADDR"         envDefault:"localhost:6379"` // Redis server address
	Username    string         `env:"REDIS_USERNAME"`                                 // ACL username
	Password    string         `env:"REDIS_PASSWORD"`                                 // Password
	DB          int            `env:"REDIS_DB"           envDefault:"0"`              // Database number
	Queue       string         `env:"REDIS_QUEUE"        envDefault:"redis-queue"`    // Queue name; the list key is prefixed
	PollTimeout *time.Duration `env:"REDIS_POLL_TIMEOUT" envDefault:"1s"`             // BRPOP block time of the fetch goroutine
	DialTimeout *time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`             // Connection dial timeout
	RetryDelay  *time.Duration `env:"REDIS_RETRY_DELAY"  envDefault:"200ms"`          // Pause after a failed BRPOP
	MaxRetries  int            `env:"REDIS_MAX_RETRIES"  envDefault:"5"`              // Consecutive BRPOP failures before the receiver faults
}

// LoadConfig loads the Redis configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse redis config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with nil durations set to their defaults.
func (c Config) WithDefaults() Config {
	if c.PollTimeout == nil {
		timeout := DefaultPollTimeout
		c.PollTimeout = &timeout
	}
	if c.DialTimeout == nil {
		timeout := DefaultDialTimeout
		c.DialTimeout = &timeout
	}
	if c.RetryDelay == nil {
		delay := DefaultRetryDelay
		c.RetryDelay = &delay
	}
	return c
}

// Validate checks the fields needed to open a client.
func (c Config) Validate() error {
	c = c.WithDefaults()
	switch {
	case c.Addr == "":
		return errors.New("addr cannot be empty")
	case c.Queue == "":
		return errors.New("queue cannot be empty")
	case c.DB < 0:
		return fmt.Errorf("db must be >= 0, got %d", c.DB)
	case *c.PollTimeout < time.Millisecond:
		return fmt.Errorf("poll timeout must be >= 1ms, got %s", *c.PollTimeout)
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// Key returns the list key backing the queue.
func (c Config) Key() string {
	return keyPrefix + c.Queue
}

func (c Config) options() *goredis.Options {
	c = c.WithDefaults()
	return &goredis.Options{
		Addr:        c.Addr,
		Username:    c.Username,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: *c.DialTimeout,
		// BRPOP blocks for PollTimeout; the read deadline must outlast it.
		ReadTimeout: *c.PollTimeout + 3*time.Second,
	}
}
