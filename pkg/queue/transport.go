package queue

import (
	"context"
	"time"
)

// Driver opens broker specific handles. Implementations must not perform I/O
// until OpenSender or OpenReceiver is called.
type Driver interface {
	// Name identifies the backend in logs, errors and metrics.
	Name() string
	OpenSender(ctx context.Context) (Sender, error)
	OpenReceiver(ctx context.Context) (Receiver, error)
}

// Sender is the producer handle of a Driver.
type Sender interface {
	// Send enqueues one payload. It must be safe for concurrent use.
	Send(ctx context.Context, payload []byte) error

	// Close flushes in-flight sends and releases the handle. It is idempotent.
	Close(ctx context.Context) error
}

// Receiver is the consumer handle of a Driver.
type Receiver interface {
	// Receive waits for the next payload. It returns (nil, false, nil) when
	// timeout elapses first; a timeout <= 0 waits until ctx is done. When ctx
	// is done Receive returns ctx.Err() without waiting for the broker. After
	// Close, Receive returns ErrClosed.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error)

	// Close releases the handle. It is idempotent and unblocks pending Receive calls.
	Close(ctx context.Context) error
}

// Role selects which handles Open creates.
type Role int

const (
	RoleProducer Role = iota + 1
	RoleConsumer
	RoleBoth
)

func (r Role) produces() bool { return r == RoleProducer || r == RoleBoth }
func (r Role) consumes() bool { return r == RoleConsumer || r == RoleBoth }

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	case RoleBoth:
		return "producer+consumer"
	default:
		return "unknown"
	}
}
