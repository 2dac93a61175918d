// Package rabbitmq implements the queue driver on RabbitMQ.
//
// Senders publish to the configured exchange with the queue name as routing
// key and wait for a publisher confirm. Receivers consume with manual
// acknowledgement: a delivery is acked when Receive hands it to the caller,
// and anything not yet handed over is requeued by the broker on close.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// Name is the provider name of the RabbitMQ driver.
const Name = "rabbitmq"

var (
	ErrNacked         = errors.New("message nacked by broker")
	ErrConnectionLost = errors.New("connection lost")
)

// Driver opens RabbitMQ connections for one queue.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger
}

var _ queue.Driver = (*Driver)(nil)

// NewDriver returns a RabbitMQ driver. It performs no I/O.
func NewDriver(cfg Config, log *zap.SugaredLogger) *Driver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{cfg: cfg.WithDefaults(), log: log.Named(Name)}
}

func (d *Driver) Name() string { return Name }

// OpenSender connects, declares the queue and puts the channel in confirm mode.
func (d *Driver) OpenSender(ctx context.Context) (queue.Sender, error) {
	conn, ch, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = closeQuietly(ch, conn)
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	deliveryMode := amqp.Transient
	if d.cfg.Durable {
		deliveryMode = amqp.Persistent
	}
	return &sender{
		conn:           conn,
		ch:             ch,
		exchange:       d.cfg.Exchange,
		routingKey:     d.cfg.Queue,
		deliveryMode:   deliveryMode,
		confirmTimeout: *d.cfg.ConfirmTimeout,
		log:            d.log,
	}, nil
}

// OpenReceiver connects, declares the queue and starts a consumer.
func (d *Driver) OpenReceiver(ctx context.Context) (queue.Receiver, error) {
	conn, ch, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(d.cfg.Prefetch, 0, false); err != nil {
		_ = closeQuietly(ch, conn)
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := Name + "-" + uuid.NewString()
	// Not bound to ctx: the consumer lives until Close.
	deliveries, err := ch.Consume(d.cfg.Queue, tag, false, d.cfg.Exclusive, false, false, nil)
	if err != nil {
		_ = closeQuietly(ch, conn)
		return nil, fmt.Errorf("failed to consume from queue %q: %w", d.cfg.Queue, err)
	}

	r := newReceiver(deliveries, conn.NotifyClose(make(chan *amqp.Error, 1)), d.log)
	r.conn, r.ch, r.tag = conn, ch, tag
	return r, nil
}

func (d *Driver) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid rabbitmq config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	conn, err := amqp.DialConfig(d.cfg.URL, amqp.Config{
		Dial:       amqp.DefaultDial(*d.cfg.DialTimeout),
		Properties: amqp.Table{"connection_name": Name + "-" + uuid.NewString()},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", d.cfg.redactedURL(), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(d.cfg.Queue, d.cfg.Durable, d.cfg.AutoDelete, d.cfg.Exclusive, false, nil)
	if err != nil {
		_ = closeQuietly(ch, conn)
		return nil, nil, fmt.Errorf("failed to declare queue %q: %w", d.cfg.Queue, err)
	}
	d.log.Infow("queue declared", "queue", q.Name, "messages", q.Messages, "consumers", q.Consumers)
	return conn, ch, nil
}

type sender struct {
	conn           *amqp.Connection
	ch             *amqp.Channel
	exchange       string
	routingKey     string
	deliveryMode   uint8
	confirmTimeout time.Duration
	log            *zap.SugaredLogger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Send publishes payload and waits for the broker confirm. Publishing is
// serialized because an AMQP channel is not safe for concurrent publishes.
func (s *sender) Send(ctx context.Context, payload []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}

	s.mu.Lock()
	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: s.deliveryMode,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	s.mu.Unlock()
	if err != nil {
		return classify(err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publisher confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

func (s *sender) Close(context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeErr = closeQuietly(s.ch, s.conn)
	})
	return s.closeErr
}

type receiver struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	tag  string
	log  *zap.SugaredLogger

	deliveries <-chan amqp.Delivery
	connClosed <-chan *amqp.Error
	closedCh   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newReceiver(deliveries <-chan amqp.Delivery, connClosed <-chan *amqp.Error, log *zap.SugaredLogger) *receiver {
	return &receiver{
		deliveries: deliveries,
		connClosed: connClosed,
		closedCh:   make(chan struct{}),
		log:        log,
	}
}

// Receive waits for the next delivery and acks it. It returns
// (nil, false, nil) when timeout elapses; a timeout <= 0 waits until ctx is done.
func (r *receiver) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	select {
	case <-r.closedCh:
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
	case <-r.closedCh:
		return nil, false, queue.ErrClosed
	case <-expired:
		return nil, false, nil
	case d, ok := <-r.deliveries:
		if !ok {
			return nil, false, r.lostErr()
		}
		if err := d.Ack(false); err != nil {
			// The broker redelivers it; the caller still gets this copy.
			r.log.Warnw("failed to ack delivery", "deliveryTag", d.DeliveryTag, "error", err)
		}
		return d.Body, true, nil
	}
}

func (r *receiver) Close(context.Context) error {
	r.closeOnce.Do(func() {
		close(r.closedCh)
		if r.ch != nil && r.tag != "" {
			if err := r.ch.Cancel(r.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
				r.log.Warnw("failed to cancel consumer", "tag", r.tag, "error", err)
			}
		}
		r.closeErr = closeQuietly(r.ch, r.conn)
	})
	return r.closeErr
}

// lostErr explains why the delivery channel closed.
func (r *receiver) lostErr() error {
	select {
	case <-r.closedCh:
		return queue.ErrClosed
	default:
	}
	select {
	case amqpErr, ok := <-r.connClosed:
		if ok && amqpErr != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, amqpErr)
		}
	default:
	}
	return fmt.Errorf("%w: delivery channel closed", ErrConnectionLost)
}

// classify wraps client errors that mean the connection or channel is gone.
func classify(err error) error {
	var amqpErr *amqp.Error
	switch {
	case errors.Is(err, amqp.ErrClosed):
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	case errors.As(err, &amqpErr) && !amqpErr.Recover:
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	default:
		return fmt.Errorf("failed to publish: %w", err)
	}
}

// closeQuietly closes ch then conn. Already closed handles are not an error.
func closeQuietly(ch *amqp.Channel, conn *amqp.Connection) error {
	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
