// Package redis implements the queue driver on a Redis list.
//
// Senders LPUSH to the list and receivers BRPOP from it, giving FIFO order.
// A popped payload that was never handed to a caller is pushed back to the
// consuming end of the list when the receiver closes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// Name is the provider name of the Redis driver.
const Name = "redis"

const requeueTimeout = 5 * time.Second

// Driver opens Redis clients for one list.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger
}

var _ queue.Driver = (*Driver)(nil)

// NewDriver returns a Redis driver. It performs no I/O.
func NewDriver(cfg Config, log *zap.SugaredLogger) *Driver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{cfg: cfg.WithDefaults(), log: log.Named(Name)}
}

func (d *Driver) Name() string { return Name }

// OpenSender connects and pings the server.
func (d *Driver) OpenSender(ctx context.Context) (queue.Sender, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sender{client: client, key: d.cfg.Key()}, nil
}

// OpenReceiver connects, pings the server and starts the fetch goroutine.
func (d *Driver) OpenReceiver(ctx context.Context) (queue.Receiver, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	r := newReceiver(client, d.cfg, d.log)
	go r.pump()
	return r, nil
}

func (d *Driver) connect(ctx context.Context) (*goredis.Client, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	client := goredis.NewClient(d.cfg.options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", d.cfg.Addr, err)
	}
	d.log.Infow("connected to redis", "addr", d.cfg.Addr, "db", d.cfg.DB, "key", d.cfg.Key())
	return client, nil
}

type sender struct {
	client    *goredis.Client
	key       string
	closeOnce sync.Once
	closeErr  error
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return queue.ErrClosed
		}
		return fmt.Errorf("failed to push to %s: %w", s.key, err)
	}
	return nil
}

func (s *sender) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			s.closeErr = fmt.Errorf("failed to close redis client: %w", err)
		}
	})
	return s.closeErr
}

// receiver hands payloads popped by a fetch goroutine over an unbuffered
// channel, so Receive observes cancellation without waiting for BRPOP.
type receiver struct {
	client      *goredis.Client
	key         string
	pollTimeout time.Duration
	retryDelay  time.Duration
	maxRetries  int
	log         *zap.SugaredLogger

	msgs      chan []byte
	closedCh  chan struct{}
	pumpDone  chan struct{}
	failedCh  chan struct{}
	failErr   error
	closeOnce sync.Once
	closeErr  error
}

func newReceiver(client *goredis.Client, cfg Config, log *zap.SugaredLogger) *receiver {
	cfg = cfg.WithDefaults()
	return &receiver{
		client:      client,
		key:         cfg.Key(),
		pollTimeout: *cfg.PollTimeout,
		retryDelay:  *cfg.RetryDelay,
		maxRetries:  cfg.MaxRetries,
		log:         log,
		msgs:        make(chan []byte),
		closedCh:    make(chan struct{}),
		pumpDone:    make(chan struct{}),
		failedCh:    make(chan struct{}),
	}
}

// Receive waits for the next payload. It returns (nil, false, nil) when
// timeout elapses; a timeout <= 0 waits until ctx is done.
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
	case <-r.failedCh:
		return nil, false, r.failErr
	case <-expired:
		return nil, false, nil
	case payload := <-r.msgs:
		return payload, true, nil
	}
}

// Close stops the fetch goroutine and closes the client. The client stays
// open until the goroutine exits so a payload popped by an in-flight BRPOP
// can still be requeued; if ctx ends first, the client is closed in the
// background once the goroutine is done.
func (r *receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.closedCh)
		select {
		case <-r.pumpDone:
		case <-ctx.Done():
			go func() {
				<-r.pumpDone
				_ = r.client.Close()
			}()
			r.closeErr = fmt.Errorf("waiting for fetch goroutine: %w", ctx.Err())
			return
		}
		if err := r.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			r.closeErr = fmt.Errorf("failed to close redis client: %w", err)
		}
	})
	return r.closeErr
}

func (r *receiver) pump() {
	defer close(r.pumpDone)

	failures := 0
	for {
		select {
		case <-r.closedCh:
			return
		default:
		}

		res, err := r.client.BRPop(context.Background(), r.pollTimeout, r.key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			failures = 0
			continue
		case err != nil:
			if r.isClosed() {
				return
			}
			failures++
			if failures > r.maxRetries {
				r.failErr = fmt.Errorf("brpop %s failed %d times: %w", r.key, failures, err)
				close(r.failedCh)
				return
			}
			r.log.Warnw("brpop failed, retrying", "key", r.key, "attempt", failures, "error", err)
			select {
			case <-r.closedCh:
				return
			case <-time.After(r.retryDelay):
			}
			continue
		}
		failures = 0

		// res is [key, value].
		if len(res) != 2 {
			r.log.Warnw("unexpected brpop reply", "reply", res)
			continue
		}
		payload := []byte(res[1])

		select {
		case r.msgs <- payload:
		case <-r.closedCh:
			r.requeue(payload)
			return
		}
	}
}

// requeue pushes payload back to the end BRPOP reads from.
func (r *receiver) requeue(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()
	if err := r.client.RPush(ctx, r.key, payload).Err(); err != nil {
		r.log.Errorw("failed to requeue undelivered message, message lost", "key", r.key, "error", err)
		return
	}
	r.log.Debugw("requeued undelivered message", "key", r.key)
}

func (r *receiver) isClosed() bool {
	select {
	case <-r.closedCh:
		return true
	default:
		return false
	}
}
