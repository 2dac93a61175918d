package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults_EmptyConfig(t *testing.T) {
	cfg := Config{}.WithDefaults()

	require.NotNil(t, cfg.SessionTimeout)
	assert.Equal(t, DefaultSessionTimeout, *cfg.SessionTimeout)

	require.NotNil(t, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultHeartbeatInterval, *cfg.HeartbeatInterval)

	require.NotNil(t, cfg.FlushTimeout)
	assert.Equal(t, DefaultFlushTimeout, *cfg.FlushTimeout)

	require.NotNil(t, cfg.PollInterval)
	assert.Equal(t, DefaultPollInterval, *cfg.PollInterval)
}

func TestConfig_WithDefaults_KeepsCustomValues(t *testing.T) {
	session := 30 * time.Second
	flush := time.Second

	original := Config{SessionTimeout: &session, FlushTimeout: &flush}
	cfg := original.WithDefaults()

	assert.Equal(t, session, *cfg.SessionTimeout)
	assert.Equal(t, flush, *cfg.FlushTimeout)
	assert.Equal(t, DefaultHeartbeatInterval, *cfg.HeartbeatInterval)

	assert.Nil(t, original.HeartbeatInterval, "WithDefaults must not mutate the receiver")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:29092", cfg.BootstrapServers)
	assert.Equal(t, "kafka-topic", cfg.Topic)
	assert.Equal(t, "kafka-group", cfg.GroupID)
	assert.Equal(t, "earliest", cfg.AutoOffsetReset)
	assert.Equal(t, "1", cfg.Acks)
	assert.Equal(t, "snappy", cfg.CompressionType)
	assert.Equal(t, 5, cfg.LingerMs)
	assert.Equal(t, 16384, cfg.BatchSize)
	assert.Equal(t, 1, cfg.MessageSendMaxRetries)
	assert.Equal(t, 1024, cfg.FetchMinBytes)
	assert.Equal(t, 1<<20, cfg.FetchMaxBytes)
	assert.Equal(t, 1<<20, cfg.MaxPartitionFetchBytes)
	assert.Equal(t, 10*time.Second, *cfg.SessionTimeout)
	assert.Equal(t, 3*time.Second, *cfg.HeartbeatInterval)
	assert.False(t, cfg.EnsureTopic)
	assert.Empty(t, cfg.SASL.Mechanism)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "orders")
	t.Setenv("KAFKA_SESSION_TIMEOUT", "45s")
	t.Setenv("KAFKA_ENSURE_TOPIC", "true")
	t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "broker1:9092,broker2:9092", cfg.BootstrapServers)
	assert.Equal(t, "orders", cfg.Topic)
	assert.Equal(t, 45*time.Second, *cfg.SessionTimeout)
	assert.True(t, cfg.EnsureTopic)
	assert.Equal(t, "PLAIN", cfg.SASL.Mechanism)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("KAFKA_LINGER_MS", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse kafka config")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{BootstrapServers: "localhost:9092", Topic: "t", GroupID: "g"}
	}
	short := time.Second
	long := time.Minute
	zero := time.Duration(0)

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing servers", func(c *Config) { c.BootstrapServers = "" }, "bootstrap servers"},
		{"missing topic", func(c *Config) { c.Topic = "" }, "topic"},
		{"missing group", func(c *Config) { c.GroupID = "" }, "group id"},
		{"heartbeat above session", func(c *Config) {
			c.SessionTimeout = &short
			c.HeartbeatInterval = &long
		}, "heartbeat interval"},
		{"zero poll interval", func(c *Config) { c.PollInterval = &zero }, "poll interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ProducerConfigMap(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	m := *cfg.ProducerConfigMap()
	assert.Equal(t, "localhost:29092", m["bootstrap.servers"])
	assert.Equal(t, "1", m["acks"])
	assert.Equal(t, 5, m["linger.ms"])
	assert.Equal(t, 16384, m["batch.size"])
	assert.Equal(t, "snappy", m["compression.type"])
	assert.Equal(t, 1, m["message.send.max.retries"])
	assert.NotContains(t, m, "sasl.mechanisms")
}

func TestConfig_ConsumerConfigMap(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	m := *cfg.ConsumerConfigMap()
	assert.Equal(t, "kafka-group", m["group.id"])
	assert.Equal(t, "earliest", m["auto.offset.reset"])
	assert.Equal(t, true, m["enable.auto.commit"])
	assert.Equal(t, false, m["enable.auto.offset.store"])
	assert.Equal(t, 1024, m["fetch.min.bytes"])
	assert.Equal(t, 1<<20, m["fetch.max.bytes"])
	assert.Equal(t, 1<<20, m["max.partition.fetch.bytes"])
	assert.Equal(t, 10000, m["session.timeout.ms"])
	assert.Equal(t, 3000, m["heartbeat.interval.ms"])
}

func TestConfig_SASLPassThrough(t *testing.T) {
	cfg := Config{
		BootstrapServers: "broker:9092",
		SASL: SASLConfig{
			SecurityProtocol: "SASL_SSL",
			Mechanism:        "SCRAM-SHA-512",
			Username:         "user",
			Password:         "secret",
		},
	}

	for _, m := range []map[string]any{
		toMap(*cfg.ProducerConfigMap()),
		toMap(*cfg.ConsumerConfigMap()),
		toMap(*cfg.AdminConfigMap()),
	} {
		assert.Equal(t, "SASL_SSL", m["security.protocol"])
		assert.Equal(t, "SCRAM-SHA-512", m["sasl.mechanisms"])
		assert.Equal(t, "user", m["sasl.username"])
		assert.Equal(t, "secret", m["sasl.password"])
	}
}

func TestConfig_TopicConfig(t *testing.T) {
	cfg := Config{Topic: "events", NumPartitions: 3, ReplicationFactor: 2}
	assert.Equal(t, TopicConfig{Name: "events", NumPartitions: 3, ReplicationFactor: 2}, cfg.TopicConfig())
}

func toMap[M ~map[string]V, V any](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
