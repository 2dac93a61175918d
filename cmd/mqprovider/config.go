package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/kafka"
	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/queue"
	"github.com/ava-labs/mqprovider/pkg/queue/memory"
	"github.com/ava-labs/mqprovider/pkg/rabbitmq"
	"github.com/ava-labs/mqprovider/pkg/redis"
)

const (
	providerKafka    = kafka.Name
	providerRabbitMQ = rabbitmq.Name
	providerRedis    = redis.Name
	providerMemory   = memory.Name

	defaultMemoryQueue = "memory-queue"
)

// Config holds all configuration for the mqprovider commands
type Config struct {
	// Application settings
	Verbose bool

	// Provider settings
	Provider     string
	Broker       string
	Queue        string
	Group        string
	CloseTimeout time.Duration

	// Publish settings
	Message     string
	Priority    message.Priority
	Destination message.Destination
	Count       int
	Concurrency int64
	Interval    time.Duration

	// Consume settings
	ConsumeTimeout time.Duration
	Follow         bool
	SkipMalformed  bool

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// ProviderOptions returns the queue options implied by the config.
func (c *Config) ProviderOptions() []queue.Option {
	opts := []queue.Option{queue.WithCloseTimeout(c.CloseTimeout)}
	if c.SkipMalformed {
		opts = append(opts, queue.WithParseFailurePolicy(queue.SkipMalformed))
	}
	return opts
}

// buildConfig builds a Config from CLI context flags. Flags a command does
// not define read as zero values.
func buildConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Verbose:        c.Bool("verbose"),
		Provider:       strings.ToLower(strings.TrimSpace(c.String("provider"))),
		Broker:         strings.TrimSpace(c.String("broker")),
		Queue:          strings.TrimSpace(c.String("queue")),
		Group:          strings.TrimSpace(c.String("group")),
		CloseTimeout:   c.Duration("close-timeout"),
		Message:        c.String("message"),
		Count:          c.Int("count"),
		Concurrency:    c.Int64("concurrency"),
		Interval:       c.Duration("interval"),
		ConsumeTimeout: c.Duration("timeout"),
		Follow:         c.Bool("follow"),
		SkipMalformed:  c.Bool("skip-malformed"),
		MetricsHost:    c.String("metrics-host"),
		MetricsPort:    c.Int("metrics-port"),
		Environment:    c.String("environment"),
		Region:         c.String("region"),
		CloudProvider:  c.String("cloud-provider"),
	}

	if s := c.String("priority"); s != "" {
		p, err := message.ParsePriority(s)
		if err != nil {
			return nil, err
		}
		cfg.Priority = p
	}
	if s := c.String("destination"); s != "" {
		d, err := message.ParseDestination(s)
		if err != nil {
			return nil, err
		}
		cfg.Destination = d
	}
	// --interval without --count publishes until interrupted
	if cfg.Interval > 0 && !c.IsSet("count") {
		cfg.Count = 0
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("count must be >= 0, got %d", cfg.Count)
	}
	if cfg.Count == 0 && cfg.Interval <= 0 && c.IsSet("count") {
		return nil, errors.New("count 0 requires an interval")
	}
	if c.IsSet("concurrency") && cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	return cfg, nil
}

// newDriver builds the driver named by cfg.Provider. Driver settings come
// from the provider's environment variables; non-empty CLI values override
// them. No connection is made.
func newDriver(cfg *Config, log *zap.SugaredLogger) (queue.Driver, error) {
	switch cfg.Provider {
	case providerKafka:
		kc, err := kafka.LoadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Broker != "" {
			kc.BootstrapServers = cfg.Broker
		}
		if cfg.Queue != "" {
			kc.Topic = cfg.Queue
		}
		if cfg.Group != "" {
			kc.GroupID = cfg.Group
		}
		return kafka.NewDriver(kc, log), nil
	case providerRabbitMQ:
		rc, err := rabbitmq.LoadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Broker != "" {
			if strings.Contains(cfg.Broker, "://") {
				rc.URL = cfg.Broker
			} else if rc, err = rc.WithHost(cfg.Broker); err != nil {
				return nil, fmt.Errorf("failed to apply broker %q: %w", cfg.Broker, err)
			}
		}
		if cfg.Queue != "" {
			rc.Queue = cfg.Queue
		}
		return rabbitmq.NewDriver(rc, log), nil
	case providerRedis:
		rc, err := redis.LoadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Broker != "" {
			rc.Addr = cfg.Broker
		}
		if cfg.Queue != "" {
			rc.Queue = cfg.Queue
		}
		return redis.NewDriver(rc, log), nil
	case providerMemory:
		name := cfg.Queue
		if name == "" {
			name = defaultMemoryQueue
		}
		return memoryBroker.Driver(name), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s, %s, %s or %s)",
			cfg.Provider, providerKafka, providerRabbitMQ, providerRedis, providerMemory)
	}
}

// memoryBroker backs the memory provider for the lifetime of the process.
var memoryBroker = memory.NewBroker(0)
