package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Default values for the Kafka driver
const (
	DefaultSessionTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultFlushTimeout      = 15 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
)

// Config holds the configuration of the Kafka driver
type Config struct {
	BootstrapServers       string         `env:"KAFKA_BOOTSTRAP_SERVERS"         envDefault:"localhost:29092"` // Kafka broker addresses
	Topic                  string         `env:"KAFKA_TOPIC"                     envDefault:"kafka-topic"`     // Topic messages are produced to and consumed from
	GroupID                string         `env:"KAFKA_GROUP_ID"                  envDefault:"kafka-group"`     // Consumer group ID
	AutoOffsetReset        string         `env:"KAFKA_AUTO_OFFSET_RESET"         envDefault:"earliest"`        // Offset reset strategy: "earliest" or "latest"
	Acks                   string         `env:"KAFKA_ACKS"                      envDefault:"1"`               // "0", "1" (leader) or "all"
	CompressionType        string         `env:"KAFKA_COMPRESSION_TYPE"          envDefault:"snappy"`          // none, gzip, snappy, lz4, zstd
	LingerMs               int            `env:"KAFKA_LINGER_MS"                 envDefault:"5"`               // Producer batching delay
	BatchSize              int            `env:"KAFKA_BATCH_SIZE"                envDefault:"16384"`           // Producer batch size in bytes
	MessageSendMaxRetries  int            `env:"KAFKA_MESSAGE_SEND_MAX_RETRIES"  envDefault:"1"`               // Producer retries before reporting a delivery failure
	FetchMinBytes          int            `env:"KAFKA_FETCH_MIN_BYTES"           envDefault:"1024"`            // Minimum bytes per fetch response
	FetchMaxBytes          int            `env:"KAFKA_FETCH_MAX_BYTES"           envDefault:"1048576"`         // Maximum bytes per fetch response
	MaxPartitionFetchBytes int            `env:"KAFKA_MAX_PARTITION_FETCH_BYTES" envDefault:"1048576"`         // Maximum bytes per partition per fetch
	SessionTimeout         *time.Duration `env:"KAFKA_SESSION_TIMEOUT"           envDefault:"10s"`             // Consumer group session timeout
	HeartbeatInterval      *time.Duration `env:"KAFKA_HEARTBEAT_INTERVAL"        envDefault:"3s"`              // Consumer group heartbeat interval
	FlushTimeout           *time.Duration `env:"KAFKA_FLUSH_TIMEOUT"             envDefault:"15s"`             // Producer flush timeout on close
	PollInterval           *time.Duration `env:"KAFKA_POLL_INTERVAL"             envDefault:"100ms"`           // Consumer poll interval of the fetch goroutine
	EnsureTopic            bool           `env:"KAFKA_ENSURE_TOPIC"              envDefault:"false"`           // Create the topic on open if it is missing
	NumPartitions          int            `env:"KAFKA_NUM_PARTITIONS"            envDefault:"1"`               // Partitions used by EnsureTopic
	ReplicationFactor      int            `env:"KAFKA_REPLICATION_FACTOR"        envDefault:"1"`               // Replication factor used by EnsureTopic
	EnableLogs             bool           `env:"KAFKA_ENABLE_LOGS"               envDefault:"false"`           // Forward librdkafka client logs
	SASL                   SASLConfig
}

// SASLConfig is passed through to librdkafka unchanged. Empty fields are not set.
type SASLConfig struct {
	SecurityProtocol string `env:"KAFKA_SECURITY_PROTOCOL"` // e.g. SASL_SSL
	Mechanism        string `env:"KAFKA_SASL_MECHANISM"`    // e.g. PLAIN, SCRAM-SHA-512
	Username         string `env:"KAFKA_SASL_USERNAME"`
	Password         string `env:"KAFKA_SASL_PASSWORD"`
}

// LoadConfig loads the Kafka configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse kafka config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for any nil pointer fields.
// This method does not mutate the original config.
func (c Config) WithDefaults() Config {
	if c.SessionTimeout == nil {
		timeout := DefaultSessionTimeout
		c.SessionTimeout = &timeout
	}
	if c.HeartbeatInterval == nil {
		interval := DefaultHeartbeatInterval
		c.HeartbeatInterval = &interval
	}
	if c.FlushTimeout == nil {
		timeout := DefaultFlushTimeout
		c.FlushTimeout = &timeout
	}
	if c.PollInterval == nil {
		interval := DefaultPollInterval
		c.PollInterval = &interval
	}
	return c
}

// Validate checks the fields required to open a producer or a consumer.
func (c Config) Validate() error {
	c = c.WithDefaults()
	switch {
	case c.BootstrapServers == "":
		return errors.New("bootstrap servers cannot be empty")
	case c.Topic == "":
		return errors.New("topic cannot be empty")
	case c.GroupID == "":
		return errors.New("group id cannot be empty")
	case *c.HeartbeatInterval >= *c.SessionTimeout:
		return fmt.Errorf("heartbeat interval %s must be lower than session timeout %s",
			*c.HeartbeatInterval, *c.SessionTimeout)
	case *c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be > 0, got %s", *c.PollInterval)
	}
	return nil
}

// ProducerConfigMap returns the librdkafka producer configuration.
func (c Config) ProducerConfigMap() *cKafka.ConfigMap {
	c = c.WithDefaults()
	m := cKafka.ConfigMap{
		"bootstrap.servers":        c.BootstrapServers,
		"acks":                     c.Acks,
		"linger.ms":                c.LingerMs,
		"batch.size":               c.BatchSize,
		"compression.type":         c.CompressionType,
		"message.send.max.retries": c.MessageSendMaxRetries,
		"go.logs.channel.enable":   c.EnableLogs,
	}
	c.SASL.apply(m)
	return &m
}

// ConsumerConfigMap returns the librdkafka consumer configuration.
//
// Offsets are committed automatically, but only offsets of messages handed
// to a caller are stored for commit.
func (c Config) ConsumerConfigMap() *cKafka.ConfigMap {
	c = c.WithDefaults()
	m := cKafka.ConfigMap{
		"bootstrap.servers":         c.BootstrapServers,
		"group.id":                  c.GroupID,
		"auto.offset.reset":         c.AutoOffsetReset,
		"enable.auto.commit":        true,
		"enable.auto.offset.store":  false,
		"fetch.min.bytes":           c.FetchMinBytes,
		"fetch.max.bytes":           c.FetchMaxBytes,
		"max.partition.fetch.bytes": c.MaxPartitionFetchBytes,
		"session.timeout.ms":        int(c.SessionTimeout.Milliseconds()),
		"heartbeat.interval.ms":     int(c.HeartbeatInterval.Milliseconds()),
		"go.logs.channel.enable":    c.EnableLogs,
	}
	c.SASL.apply(m)
	return &m
}

// AdminConfigMap returns the configuration used for topic provisioning.
func (c Config) AdminConfigMap() *cKafka.ConfigMap {
	m := cKafka.ConfigMap{
		"bootstrap.servers": c.BootstrapServers,
	}
	c.SASL.apply(m)
	return &m
}

// TopicConfig returns the topic configuration used by EnsureTopic.
func (c Config) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.NumPartitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}

func (s SASLConfig) apply(m cKafka.ConfigMap) {
	if s.SecurityProtocol != "" {
		m["security.protocol"] = s.SecurityProtocol
	}
	if s.Mechanism != "" {
		m["sasl.mechanisms"] = s.Mechanism
	}
	if s.Username != "" {
		m["sasl.username"] = s.Username
	}
	if s.Password != "" {
		m["sasl.password"] = s.Password
	}
}
