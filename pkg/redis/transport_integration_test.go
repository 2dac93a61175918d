//go:build integration
// +build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/queue"
)

const (
	redisImage  = "redis:7-alpine"
	testTimeout = time.Minute
)

func setupRedis(t *testing.T) string {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(testTimeout),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, nat.Port("6379/tcp"))
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisIntegration(t *testing.T) {
	addr := setupRedis(t)
	log := zaptest.NewLogger(t).Sugar()
	poll := 200 * time.Millisecond

	newDriver := func() *Driver {
		return NewDriver(Config{Addr: addr, Queue: "q-" + uuid.NewString(), PollTimeout: &poll}, log)
	}

	t.Run("publish then consume once", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
		defer cancel()

		p := queue.New(newDriver(), queue.WithLogger(log))
		require.NoError(t, p.Open(ctx, queue.RoleBoth))
		defer p.Dispose(ctx)

		require.NoError(t, p.Publish(ctx, "Hi!", message.High, message.ServiceC))

		got, err := p.ConsumeOnce(ctx, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Hi!", got.Envelope.Body)
		assert.Equal(t, "MicroserviceC", got.Decision.HandledBy)
	})

	t.Run("messages are delivered in order", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
		defer cancel()

		p := queue.New(newDriver(), queue.WithLogger(log), queue.WithMode(queue.Continuous))
		require.NoError(t, p.Open(ctx, queue.RoleBoth))
		defer p.Dispose(ctx)

		for i := 0; i < 5; i++ {
			require.NoError(t, p.Publish(ctx, fmt.Sprintf("msg-%d", i), message.Medium, message.ServiceA))
		}
		for i := 0; i < 5; i++ {
			got, err := p.ConsumeOnce(ctx, 5*time.Second)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, fmt.Sprintf("msg-%d", i), got.Envelope.Body)
		}
	})

	t.Run("empty queue times out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
		defer cancel()

		p := queue.New(newDriver(), queue.WithLogger(log))
		require.NoError(t, p.Open(ctx, queue.RoleConsumer))
		defer p.Dispose(ctx)

		got, err := p.ConsumeOnce(ctx, 300*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("undelivered message is requeued on close", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
		defer cancel()

		d := newDriver()
		producer := queue.New(d, queue.WithLogger(log))
		require.NoError(t, producer.Open(ctx, queue.RoleProducer))
		require.NoError(t, producer.Publish(ctx, "kept", message.Low, message.ServiceB))
		producer.Dispose(ctx)

		// The fetch goroutine pops "kept" but nobody calls Receive.
		r, err := d.OpenReceiver(ctx)
		require.NoError(t, err)
		time.Sleep(2 * poll)
		require.NoError(t, r.Close(ctx))

		consumer := queue.New(d, queue.WithLogger(log))
		require.NoError(t, consumer.Open(ctx, queue.RoleConsumer))
		defer consumer.Dispose(ctx)

		got, err := consumer.ConsumeOnce(ctx, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "kept", got.Envelope.Body)
	})
}
