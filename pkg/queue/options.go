package queue

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultConsumeTimeout is used by ConsumeOnce when no timeout is given.
	DefaultConsumeTimeout = 5 * time.Second
	// DefaultCloseTimeout bounds flushing and closing handles on Dispose.
	DefaultCloseTimeout = 15 * time.Second
)

// Mode controls what ConsumeOnce does with the receiver.
type Mode int

const (
	// OneShot releases the receiver when ConsumeOnce returns. The consume
	// side of the provider is closed afterwards.
	OneShot Mode = iota
	// Continuous keeps the receiver open across ConsumeOnce calls.
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "oneshot"
}

// ParseFailurePolicy controls how ConsumeOnce treats a message that cannot
// be parsed. ConsumeUntilCancelled always skips such messages.
type ParseFailurePolicy int

const (
	// FailOnMalformed returns the parse error to the caller.
	FailOnMalformed ParseFailurePolicy = iota
	// SkipMalformed reports the message as absent.
	SkipMalformed
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithObserver adds an observer. It may be given several times.
func WithObserver(o Observer) Option {
	return func(p *Provider) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithMode sets the ConsumeOnce mode.
func WithMode(m Mode) Option {
	return func(p *Provider) { p.mode = m }
}

// WithParseFailurePolicy sets how ConsumeOnce treats malformed messages.
func WithParseFailurePolicy(policy ParseFailurePolicy) Option {
	return func(p *Provider) { p.parsePolicy = policy }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCloseTimeout bounds how long the provider waits for handles to close
// when it releases them on its own.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.closeTimeout = d
		}
	}
}
