package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// Name is the provider name of the Kafka driver.
const Name = "kafka"

// Driver opens Kafka producers and consumers for one topic.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger
}

var _ queue.Driver = (*Driver)(nil)

// NewDriver returns a Kafka driver. It performs no I/O.
func NewDriver(cfg Config, log *zap.SugaredLogger) *Driver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{cfg: cfg.WithDefaults(), log: log.Named(Name)}
}

func (d *Driver) Name() string { return Name }

// OpenSender creates a producer. With EnsureTopic set the topic is created
// or grown first.
func (d *Driver) OpenSender(ctx context.Context) (queue.Sender, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if d.cfg.EnsureTopic {
		if err := ensureTopic(ctx, d.cfg, d.log); err != nil {
			return nil, err
		}
	}

	// Background goroutines are stopped by Close, not by the open context.
	p, err := NewProducer(context.WithoutCancel(ctx), d.cfg.ProducerConfigMap(), d.log)
	if err != nil {
		return nil, err
	}
	return &sender{producer: p, topic: d.cfg.Topic, flushTimeout: *d.cfg.FlushTimeout}, nil
}

// OpenReceiver creates a consumer subscribed to the topic.
func (d *Driver) OpenReceiver(context.Context) (queue.Receiver, error) {
	return NewConsumer(d.cfg, d.log)
}

type sender struct {
	producer     *Producer
	topic        string
	flushTimeout time.Duration
}

// Send produces payload keyed by a random UUID so records spread across
// partitions.
func (s *sender) Send(ctx context.Context, payload []byte) error {
	key := uuid.New()
	return s.producer.Produce(ctx, Msg{
		Topic:   s.topic,
		Key:     key[:],
		Value:   payload,
		Headers: map[string]string{"content-type": "application/json"},
	})
}

// Close flushes pending records, bounded by the flush timeout or the ctx
// deadline, whichever comes first.
func (s *sender) Close(ctx context.Context) error {
	timeout := s.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, 0)
		}
	}
	s.producer.Close(timeout)
	return nil
}
