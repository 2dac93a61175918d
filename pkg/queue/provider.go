package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/router"
)

// State is the consume-side state of a Provider.
type State int

const (
	StateCreated State = iota
	// StateOpen is a provider opened without a receiver.
	StateOpen
	StateSubscribed
	StateWaiting
	StateReceiving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateWaiting:
		return "waiting"
	case StateReceiving:
		return "receiving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Received is a consumed envelope together with its routing decision.
type Received struct {
	Envelope   message.Envelope
	Decision   router.Decision
	ReceivedAt time.Time
}

// Provider publishes and consumes envelopes through a Driver.
//
// Publish may be called concurrently, including while a consume operation
// runs. At most one consume operation runs at a time. Dispose closes the
// sender before the receiver.
type Provider struct {
	driver       Driver
	log          *zap.SugaredLogger
	observers    Observers
	now          func() time.Time
	mode         Mode
	parsePolicy  ParseFailurePolicy
	closeTimeout time.Duration

	inflight sync.WaitGroup // publishes between acquireSender and Send returning

	// mu guards the fields below. It is never held across driver I/O.
	mu        sync.RWMutex
	state     State
	role      Role
	opened    bool
	disposed  bool
	consuming bool
	sender    Sender
	receiver  Receiver
}

// New returns an unopened Provider. It performs no I/O.
func New(driver Driver, opts ...Option) *Provider {
	p := &Provider{
		driver:       driver,
		log:          zap.NewNop().Sugar(),
		now:          time.Now,
		mode:         OneShot,
		parsePolicy:  FailOnMalformed,
		closeTimeout: DefaultCloseTimeout,
		state:        StateCreated,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("provider", driver.Name())
	return p
}

// Name returns the driver name.
func (p *Provider) Name() string {
	return p.driver.Name()
}

// State returns the current consume-side state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Healthy returns nil while the provider is open and not disposed.
func (p *Provider) Healthy() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.disposed:
		return ErrClosed
	case !p.opened || (p.sender == nil && p.receiver == nil):
		return ErrNotOpen
	default:
		return nil
	}
}

// Open connects the handles required by role: the sender first, then the
// receiver. If a handle fails to open, the ones already opened stay owned by
// the provider and are released by Dispose.
func (p *Provider) Open(ctx context.Context, role Role) error {
	p.mu.Lock()
	switch {
	case p.disposed:
		p.mu.Unlock()
		return ErrClosed
	case p.opened:
		p.mu.Unlock()
		return ErrAlreadyOpen
	case !role.produces() && !role.consumes():
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRoleUnsupported, role)
	}
	p.opened = true
	p.role = role
	p.mu.Unlock()

	if role.produces() {
		s, err := p.driver.OpenSender(ctx)
		if err != nil {
			err = fmt.Errorf("open %s sender: %w: %w", p.driver.Name(), ErrTransportUnavailable, err)
			p.emit(Event{Type: EventError, Op: OpOpen, Err: err})
			return err
		}
		if !p.adopt(ctx, s, StateOpen, func() { p.sender = s }) {
			return ErrClosed
		}
	}

	if role.consumes() {
		r, err := p.driver.OpenReceiver(ctx)
		if err != nil {
			err = fmt.Errorf("open %s receiver: %w: %w", p.driver.Name(), ErrTransportUnavailable, err)
			p.emit(Event{Type: EventError, Op: OpOpen, Err: err})
			return err
		}
		if !p.adopt(ctx, r, StateSubscribed, func() { p.receiver = r }) {
			return ErrClosed
		}
	}

	p.log.Infow("provider opened", "role", role.String(), "mode", p.mode.String())
	p.emit(Event{Type: EventOpened})
	return nil
}

// adopt hands a freshly opened handle to the provider. A handle that arrives
// after Dispose is closed instead and adopt reports false.
func (p *Provider) adopt(ctx context.Context, h interface{ Close(context.Context) error }, s State, assign func()) bool {
	p.mu.Lock()
	if !p.disposed {
		assign()
		p.state = s
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	if err := h.Close(ctx); err != nil {
		p.log.Warnw("failed to close handle opened after dispose", "error", err)
	}
	return false
}

// Publish builds an envelope stamped with the current time and hands it to
// the driver. Driver failures are returned as *PublishError.
func (p *Provider) Publish(
	ctx context.Context,
	body string,
	priority message.Priority,
	destination message.Destination,
) error {
	env := message.Build(body, priority, destination, p.now())
	payload, err := message.Serialize(env)
	if err != nil {
		p.emit(Event{Type: EventEncodeFailed, Op: OpPublish, Envelope: &env, Err: err})
		return err
	}

	s, err := p.acquireSender()
	if err != nil {
		return err
	}
	defer p.inflight.Done()

	start := time.Now()
	if err := s.Send(ctx, payload); err != nil {
		pubErr := &PublishError{Provider: p.driver.Name(), Err: err}
		p.emit(Event{Type: EventError, Op: OpPublish, Envelope: &env, Err: pubErr})
		return pubErr
	}
	p.emit(Event{Type: EventSent, Envelope: &env, Duration: time.Since(start)})
	return nil
}

// acquireSender returns the sender and registers an in-flight publish that
// the caller must release with p.inflight.Done. The lock is not held during
// the send.
func (p *Provider) acquireSender() (Sender, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case p.disposed:
		return nil, ErrClosed
	case !p.opened || (p.sender == nil && p.role.produces()):
		return nil, ErrNotOpen
	case p.sender == nil:
		return nil, fmt.Errorf("publish: %w (%s)", ErrRoleUnsupported, p.role)
	}
	p.inflight.Add(1)
	return p.sender, nil
}

// ConsumeOnce waits up to timeout for one message; a timeout <= 0 uses
// DefaultConsumeTimeout.
//
// It returns (nil, nil) when nothing arrived in time, ctx.Err() when ctx is
// done, *ConsumeError on broker failures, and a *message.ParseError for a
// malformed message unless the provider was built with SkipMalformed. In
// OneShot mode the receiver is released before ConsumeOnce returns.
func (p *Provider) ConsumeOnce(ctx context.Context, timeout time.Duration) (*Received, error) {
	if timeout <= 0 {
		timeout = DefaultConsumeTimeout
	}

	r, err := p.beginConsume()
	if err != nil {
		return nil, err
	}
	defer p.endConsume(ctx, p.mode == OneShot)

	res, err := p.receiveOne(ctx, r, timeout)
	switch {
	case err == nil && res == nil:
		p.emit(Event{Type: EventEmpty})
		return nil, nil
	case err == nil:
		return res, nil
	case isParseFailure(err):
		if p.parsePolicy == SkipMalformed {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: consume: %w", p.driver.Name(), err)
	default:
		return nil, err
	}
}

// ConsumeUntilCancelled receives messages until ctx is done, reporting each
// envelope and its routing decision to the observers. Malformed messages are
// reported and skipped.
//
// Cancellation and Dispose end the loop with a nil error. A broker failure
// ends it with *ConsumeError. Either way the provider is disposed on return.
func (p *Provider) ConsumeUntilCancelled(ctx context.Context) error {
	r, err := p.beginConsume()
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.closeTimeout)
		defer cancel()
		p.Dispose(dctx)
	}()

	p.log.Info("consuming until cancelled")
	for {
		if ctx.Err() != nil {
			p.emit(Event{Type: EventCancelled})
			return nil
		}
		p.setState(StateWaiting)

		_, err := p.receiveOne(ctx, r, 0)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			p.emit(Event{Type: EventCancelled})
			return nil
		case errors.Is(err, ErrClosed):
			p.log.Info("provider disposed while consuming")
			return nil
		case isParseFailure(err):
			continue
		default:
			return err
		}
	}
}

// Dispose releases the sender, then the receiver. Closing the sender
// unblocks pending sends; Dispose then waits for in-flight publishes until
// ctx is done. Close failures are logged instead of returned, and every call
// after the first is a no-op.
func (p *Provider) Dispose(ctx context.Context) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.consuming = false
	p.state = StateClosed
	s, r := p.sender, p.receiver
	p.sender, p.receiver = nil, nil
	p.mu.Unlock()

	if s != nil {
		if err := s.Close(ctx); err != nil {
			p.log.Warnw("failed to close sender", "error", err)
			p.emit(Event{Type: EventError, Op: OpClose, Err: err})
		}
	}
	p.waitPublishes(ctx)
	if r != nil {
		if err := r.Close(ctx); err != nil {
			p.log.Warnw("failed to close receiver", "error", err)
			p.emit(Event{Type: EventError, Op: OpClose, Err: err})
		}
	}
	p.emit(Event{Type: EventClosed})
}

func (p *Provider) waitPublishes(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warnw("publishes still in flight at close", "error", ctx.Err())
	}
}

func (p *Provider) beginConsume() (Receiver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.disposed || p.state == StateClosed:
		return nil, ErrClosed
	case !p.opened || (p.receiver == nil && p.role.consumes()):
		return nil, ErrNotOpen
	case p.receiver == nil:
		return nil, fmt.Errorf("consume: %w (%s)", ErrRoleUnsupported, p.role)
	case p.consuming:
		return nil, ErrConsumeInProgress
	}
	p.consuming = true
	p.state = StateWaiting
	return p.receiver, nil
}

// endConsume finishes a ConsumeOnce call. With release set the receiver is
// closed and the consume side moves to Closed.
func (p *Provider) endConsume(ctx context.Context, release bool) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.consuming = false
	if !release {
		p.state = StateSubscribed
		p.mu.Unlock()
		return
	}
	r := p.receiver
	p.receiver = nil
	p.state = StateClosed
	p.mu.Unlock()

	if r == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.closeTimeout)
	defer cancel()
	if err := r.Close(cctx); err != nil {
		p.log.Warnw("failed to release receiver", "error", err)
		p.emit(Event{Type: EventError, Op: OpClose, Err: err})
	}
}

// receiveOne waits for one payload and turns it into a Received. It returns
// (nil, nil) on timeout.
func (p *Provider) receiveOne(ctx context.Context, r Receiver, timeout time.Duration) (*Received, error) {
	payload, ok, err := r.Receive(ctx, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrClosed) {
			return nil, ErrClosed
		}
		consumeErr := &ConsumeError{Provider: p.driver.Name(), Err: err}
		p.emit(Event{Type: EventError, Op: OpConsume, Err: consumeErr})
		return nil, consumeErr
	}
	if !ok {
		return nil, nil
	}

	p.setState(StateReceiving)
	receivedAt := p.now()

	env, err := message.Parse(payload)
	if err != nil {
		if !message.IsRecoverable(err) {
			p.emit(Event{Type: EventParseFailed, Err: err})
			return nil, err
		}
		p.log.Warnw("defaulted unknown envelope field", "error", err)
	}

	env = message.WithReceipt(env, receivedAt)
	decision := router.Route(env.Destination)

	p.emit(Event{Type: EventReceived, Time: receivedAt, Envelope: &env})
	p.emit(Event{Type: EventRouted, Time: receivedAt, Envelope: &env, Decision: &decision})

	return &Received{Envelope: env, Decision: decision, ReceivedAt: receivedAt}, nil
}

func (p *Provider) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateClosed {
		p.state = s
	}
}

func (p *Provider) emit(e Event) {
	if len(p.observers) == 0 {
		return
	}
	e.Provider = p.driver.Name()
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	p.observers.OnEvent(e)
}

func isParseFailure(err error) bool {
	var pe *message.ParseError
	return errors.As(err, &pe)
}
