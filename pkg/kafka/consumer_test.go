package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

func newTestConsumer(t *testing.T) *Consumer {
	t.Helper()

	cfg := Config{
		BootstrapServers: "localhost:9092",
		Topic:            "topic",
		GroupID:          "group",
		AutoOffsetReset:  "earliest",
	}
	c, err := NewConsumer(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

// newChannelConsumer returns a Consumer without a client, fed through its
// delivery channel.
func newChannelConsumer(t *testing.T) *Consumer {
	return &Consumer{
		log:      zaptest.NewLogger(t).Sugar(),
		msgs:     make(chan *cKafka.Message),
		closedCh: make(chan struct{}),
		failedCh: make(chan struct{}),
	}
}

// ============================================================================
// NewConsumer Tests
// ============================================================================

func TestNewConsumer_InvalidConfig(t *testing.T) {
	_, err := NewConsumer(Config{BootstrapServers: "localhost:9092"}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kafka config")
}

func TestNewConsumer_AppliesDefaults(t *testing.T) {
	c := newTestConsumer(t)
	defer c.Close(t.Context())

	assert.Equal(t, "topic", c.topic)
	assert.Equal(t, DefaultPollInterval, c.pollInterval)
}

// ============================================================================
// Receive Tests
// ============================================================================

func TestConsumer_Receive_Timeout(t *testing.T) {
	c := newTestConsumer(t)
	defer c.Close(t.Context())

	start := time.Now()
	payload, ok, err := c.Receive(t.Context(), 200*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestConsumer_Receive_Cancellation(t *testing.T) {
	c := newTestConsumer(t)
	defer c.Close(t.Context())

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok, err := c.Receive(ctx, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConsumer_Receive_DeliveredMessage(t *testing.T) {
	c := newChannelConsumer(t)

	topic := "topic"
	go func() {
		c.msgs <- &cKafka.Message{
			TopicPartition: cKafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 7},
			Value:          []byte(`{"message":"Hi!"}`),
		}
	}()

	payload, ok, err := c.Receive(t.Context(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"message":"Hi!"}`), payload)
}

func TestConsumer_Receive_FatalError(t *testing.T) {
	c := newChannelConsumer(t)
	c.failErr = errors.New("fatal kafka error")
	close(c.failedCh)

	_, ok, err := c.Receive(t.Context(), time.Second)
	assert.False(t, ok)
	assert.EqualError(t, err, "fatal kafka error")
}

func TestConsumer_Receive_AfterClose(t *testing.T) {
	c := newTestConsumer(t)
	require.NoError(t, c.Close(t.Context()))

	_, ok, err := c.Receive(t.Context(), time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

// ============================================================================
// Close Tests
// ============================================================================

func TestConsumer_Close_UnblocksReceive(t *testing.T) {
	c := newTestConsumer(t)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Receive(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close(t.Context()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Receive not unblocked by Close")
	}
}

func TestConsumer_Close_Idempotent(t *testing.T) {
	c := newTestConsumer(t)

	first := c.Close(t.Context())
	second := c.Close(t.Context())

	assert.NoError(t, first)
	assert.Equal(t, first, second)

	select {
	case <-c.pumpDone:
	default:
		t.Fatal("fetch goroutine still running after Close")
	}
}
