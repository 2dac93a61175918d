package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Msg is a record to produce.
type Msg struct {
	Topic   string
	Value   []byte
	Key     []byte
	Headers map[string]string
}

// Producer is a synchronous Kafka producer.
//
// Produce blocks until a delivery confirmation is received from Kafka.
// Background goroutines are used to process Kafka producer events and logs.
//
// Close MUST be called at least once to stop background goroutines and flush
// all in-flight messages.
type Producer struct {
	producer   *cKafka.Producer
	log        *zap.SugaredLogger
	errCh      chan error
	eventsDone chan struct{}
	logsDone   chan struct{}
	closedCh   chan struct{}
	once       sync.Once

	mu       sync.Mutex
	fatalErr error
}

const queueFullErrorRetryDelay = time.Second

// NewProducer creates a Kafka producer from a librdkafka configuration.
//
// The provided context controls the lifetime of background goroutines.
// Callers must call Close to flush messages and release resources.
func NewProducer(ctx context.Context, conf *cKafka.ConfigMap, log *zap.SugaredLogger) (*Producer, error) {
	p, err := cKafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logsChEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to get go.logs.channel.enable: %w", err)
	}

	kp := &Producer{
		producer:   p,
		log:        log,
		eventsDone: make(chan struct{}),
		logsDone:   make(chan struct{}),
		errCh:      make(chan error, 1),
		closedCh:   make(chan struct{}),
	}

	if enabled, _ := logsChEnabled.(bool); enabled {
		go kp.printKafkaLogs(ctx)
	} else {
		close(kp.logsDone)
	}

	go kp.monitorProducerEvents(ctx)

	return kp, nil
}

// Produce synchronously produces a message to Kafka.
//
// Produce blocks until either a delivery receipt is received from Kafka
// or the provided context is canceled. If the producer queue is full,
// the message is retried with a 1 second delay.
//
// Produce returns an error when the broker is unavailable, the message is
// invalid or too large, the topic is unknown, authentication fails, or the
// producer already reported a fatal error.
//
// If the context is canceled before delivery confirmation, Produce returns
// ctx.Err(). The message MAY still be delivered after Produce returns.
func (q *Producer) Produce(ctx context.Context, msg Msg) error {
	if err := q.Err(); err != nil {
		return err
	}

	// Buffered so a receipt arriving after ctx is done never blocks the client.
	deliveryCh := make(chan cKafka.Event, 1)

	kMsg := &cKafka.Message{
		TopicPartition: cKafka.TopicPartition{
			Topic:     &msg.Topic,
			Partition: cKafka.PartitionAny,
		},
		Value:   msg.Value,
		Key:     msg.Key,
		Headers: toKafkaHeaders(msg.Headers),
	}

	if err := q.produceWithRetry(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCh:
		return handleDeliveryEvent(q.log, kMsg, e)
	}
}

// Close stops background goroutines and flushes all pending messages.
//
// If the timeout is reached, Close aborts the flush and closes the producer;
// unflushed messages are lost. Calling Close multiple times does nothing.
func (q *Producer) Close(timeout time.Duration) {
	q.once.Do(func() {
		q.log.Info("closing kafka producer")
		defer close(q.errCh)

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		pending := q.producer.Flush(int(timeout.Milliseconds()))
		if pending > 0 {
			q.log.Warnw("flush incomplete, messages will be lost", "pending", pending)
		}

		q.producer.Close()
		q.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal error.
// The channel is closed when the producer shuts down.
// Non-fatal Kafka errors are logged and ignored.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

// Err returns the fatal error reported by the client, if any. After a fatal
// error the producer is no longer usable.
func (q *Producer) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatalErr
}

func (q *Producer) printKafkaLogs(ctx context.Context) {
	defer close(q.logsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case log, ok := <-q.producer.Logs():
			if !ok {
				return
			}
			q.log.Debugw("librdkafka", "level", log.Level, "tag", log.Tag, "message", log.Message)
		}
	}
}

// produceWithRetry enqueues a message, retrying while the local producer
// queue is full. Every other client error is classified and returned.
func (q *Producer) produceWithRetry(
	ctx context.Context,
	msg *cKafka.Message,
	deliveryCh chan cKafka.Event,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		kafkaErr, ok := err.(cKafka.Error)
		if !ok {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case cKafka.ErrQueueFull:
			q.log.Warnw("producer queue full, retrying", "delay", queueFullErrorRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullErrorRetryDelay):
			}
			continue
		case cKafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case cKafka.ErrInvalidMsgSize, cKafka.ErrMsgSizeTooLarge:
			return fmt.Errorf("invalid message size: %w", err)
		case cKafka.ErrInvalidMsg:
			return fmt.Errorf("invalid message: %w", err)
		case cKafka.ErrUnknownTopicOrPart, cKafka.ErrUnknownTopic:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case cKafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *Producer) monitorProducerEvents(ctx context.Context) {
	defer close(q.eventsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.fail(fmt.Errorf("kafka producer events channel closed"))
				return
			}

			switch e := ev.(type) {
			case *cKafka.Message:
				// Receipts go to the per-message channel; only misrouted ones land here.
				if e.TopicPartition.Error != nil {
					q.log.Errorw("failed to deliver message", "partition", e.TopicPartition)
				}
			case cKafka.Error:
				if e.IsFatal() || e.Code() == cKafka.ErrAllBrokersDown {
					q.fail(fmt.Errorf("fatal err or ErrAllBrokersDown: %#x, %w", e.Code(), e))
					return
				}
				q.log.Warnw("ignoring kafka error", "code", e.Code(), "error", e)
			default:
				q.log.Debugw("ignoring kafka event", "event", e)
			}
		}
	}
}

func (q *Producer) fail(err error) {
	q.mu.Lock()
	if q.fatalErr == nil {
		q.fatalErr = err
	}
	q.mu.Unlock()

	select {
	case q.errCh <- err:
	default:
		q.log.Warnw("error channel is full", "error", err)
	}
}

func handleDeliveryEvent(log *zap.SugaredLogger, msg *cKafka.Message, ev cKafka.Event) error {
	e, ok := ev.(*cKafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}

	if err := e.TopicPartition.Error; err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}

	log.Debugw("delivered",
		"topic", *msg.TopicPartition.Topic,
		"partition", e.TopicPartition.Partition,
		"offset", e.TopicPartition.Offset,
	)
	return nil
}

func toKafkaHeaders(h map[string]string) []cKafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]cKafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, cKafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
