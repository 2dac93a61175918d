// Package memory is an in-process queue.Driver backed by buffered channels.
// It is meant for tests and single-process demos; nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

// Name is the driver name reported to the provider.
const Name = "memory"

const defaultBufferSize = 1024

// Broker holds named in-memory queues. Drivers created from the same Broker
// share its queues, so a producer and a consumer in one process see each
// other's messages.
type Broker struct {
	bufferSize int

	mu     sync.Mutex
	queues map[string]chan []byte
}

// NewBroker returns a Broker whose queues buffer up to bufferSize messages.
// Sends block while a queue is full.
func NewBroker(bufferSize int) *Broker {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		bufferSize: bufferSize,
		queues:     make(map[string]chan []byte),
	}
}

// Driver returns a queue.Driver bound to the named queue.
func (b *Broker) Driver(queueName string) *Driver {
	return &Driver{broker: b, queue: queueName}
}

// Len returns the number of messages waiting in the named queue.
func (b *Broker) Len(queueName string) int {
	return len(b.channel(queueName))
}

func (b *Broker) channel(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan []byte, b.bufferSize)
		b.queues[name] = ch
	}
	return ch
}

// Driver implements queue.Driver on a Broker queue.
type Driver struct {
	broker *Broker
	queue  string
}

var _ queue.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return Name }

func (d *Driver) OpenSender(context.Context) (queue.Sender, error) {
	return &sender{ch: d.broker.channel(d.queue), closed: make(chan struct{})}, nil
}

func (d *Driver) OpenReceiver(context.Context) (queue.Receiver, error) {
	return &receiver{ch: d.broker.channel(d.queue), closed: make(chan struct{})}, nil
}

type sender struct {
	ch        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.closed:
		return queue.ErrClosed
	default:
	}

	select {
	case <-s.closed:
		return queue.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- slices.Clone(payload):
		return nil
	}
}

func (s *sender) Close(context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type receiver struct {
	ch        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (r *receiver) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	select {
	case <-r.closed:
		return nil, false, queue.ErrClosed
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-r.closed:
		return nil, false, queue.ErrClosed
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-expired:
		return nil, false, nil
	case payload := <-r.ch:
		return payload, true, nil
	}
}

func (r *receiver) Close(context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
