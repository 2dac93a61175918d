package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// Consumer reads a single topic as part of a consumer group.
//
// A fetch goroutine polls the client and hands messages over an unbuffered
// channel, so Receive never waits for a poll interval to observe
// cancellation. The offset of a message is stored for auto commit only once
// Receive has returned it.
type Consumer struct {
	consumer     *cKafka.Consumer
	log          *zap.SugaredLogger
	topic        string
	pollInterval time.Duration

	msgs     chan *cKafka.Message
	closedCh chan struct{}
	pumpDone chan struct{}
	logsDone chan struct{}
	failedCh chan struct{}
	failErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a consumer and subscribes it to cfg.Topic.
func NewConsumer(cfg Config, log *zap.SugaredLogger) (*Consumer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	kc, err := cKafka.NewConsumer(cfg.ConsumerConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := &Consumer{
		consumer:     kc,
		log:          log,
		topic:        cfg.Topic,
		pollInterval: *cfg.PollInterval,
		msgs:         make(chan *cKafka.Message),
		closedCh:     make(chan struct{}),
		pumpDone:     make(chan struct{}),
		logsDone:     make(chan struct{}),
		failedCh:     make(chan struct{}),
	}

	if err := kc.SubscribeTopics([]string{cfg.Topic}, c.rebalanceCallback); err != nil {
		_ = kc.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %q: %w", cfg.Topic, err)
	}

	if cfg.EnableLogs {
		go c.printKafkaLogs()
	} else {
		close(c.logsDone)
	}
	go c.pump()

	return c, nil
}

// Receive waits for the next message value. It returns (nil, false, nil)
// when timeout elapses; a timeout <= 0 waits until ctx is done.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	select {
	case <-c.closedCh:
		return nil, false, queue.ErrClosed
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-c.closedCh:
		return nil, false, queue.ErrClosed
	case <-c.failedCh:
		return nil, false, c.failErr
	case <-expired:
		return nil, false, nil
	case msg := <-c.msgs:
		return msg.Value, true, nil
	}
}

// Close stops the fetch goroutine and closes the client, which commits the
// stored offsets and leaves the group. Calling Close multiple times returns
// the first result.
func (c *Consumer) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.log.Infow("closing kafka consumer", "topic", c.topic)
		close(c.closedCh)

		select {
		case <-c.pumpDone:
		case <-ctx.Done():
			go func() {
				<-c.pumpDone
				<-c.logsDone
				_ = c.consumer.Close()
			}()
			c.closeErr = fmt.Errorf("waiting for fetch goroutine: %w", ctx.Err())
			return
		}
		<-c.logsDone

		if err := c.consumer.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close kafka consumer: %w", err)
			return
		}
		c.log.Info("kafka consumer closed")
	})
	return c.closeErr
}

// pump polls the client until Close is called or a fatal error occurs.
func (c *Consumer) pump() {
	defer close(c.pumpDone)
	pollMs := int(c.pollInterval.Milliseconds())

	for {
		select {
		case <-c.closedCh:
			return
		default:
		}

		switch ev := c.consumer.Poll(pollMs).(type) {
		case nil:
			continue
		case *cKafka.Message:
			if ev.TopicPartition.Error != nil {
				c.log.Warnw("kafka message error", "partition", ev.TopicPartition, "error", ev.TopicPartition.Error)
				continue
			}
			select {
			case c.msgs <- ev:
				if _, err := c.consumer.StoreMessage(ev); err != nil {
					c.log.Warnw("failed to store offset", "offset", ev.TopicPartition.Offset, "error", err)
				}
			case <-c.closedCh:
				// Not stored: redelivered to the group after restart.
				return
			}
		case cKafka.Error:
			if ev.IsFatal() {
				c.failErr = fmt.Errorf("fatal kafka error: %#x, %w", ev.Code(), ev)
				close(c.failedCh)
				return
			}
			c.log.Warnw("kafka error (non-fatal)", "code", ev.Code(), "error", ev)
		default:
			c.log.Debugw("ignoring kafka event", "event", ev)
		}
	}
}

func (c *Consumer) rebalanceCallback(kc *cKafka.Consumer, event cKafka.Event) error {
	switch ev := event.(type) {
	case cKafka.AssignedPartitions:
		c.log.Infow("partitions assigned",
			"protocol", kc.GetRebalanceProtocol(),
			"count", len(ev.Partitions),
			"partitions", ev.Partitions,
		)
	case cKafka.RevokedPartitions:
		c.log.Infow("partitions revoked",
			"protocol", kc.GetRebalanceProtocol(),
			"count", len(ev.Partitions),
			"partitions", ev.Partitions,
		)
		if kc.AssignmentLost() {
			c.log.Warn("assignment lost involuntarily, stored offsets may not be committed")
		}
	default:
		c.log.Warnw("unexpected rebalance event", "event", event)
	}
	return nil
}

func (c *Consumer) printKafkaLogs() {
	defer close(c.logsDone)
	for {
		select {
		case <-c.closedCh:
			return
		case log, ok := <-c.consumer.Logs():
			if !ok {
				return
			}
			c.log.Debugw("librdkafka", "level", log.Level, "tag", log.Tag, "message", log.Message)
		}
	}
}
