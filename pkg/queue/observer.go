package queue

import (
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/router"
)

// EventType classifies provider events.
type EventType string

const (
	EventOpened       EventType = "opened"
	EventSent         EventType = "sent"
	EventEncodeFailed EventType = "encode_failed"
	EventReceived     EventType = "received"
	EventRouted       EventType = "routed"
	EventEmpty        EventType = "empty"
	EventParseFailed  EventType = "parse_failed"
	EventError        EventType = "error"
	EventCancelled    EventType = "cancelled"
	EventClosed       EventType = "closed"
)

// Op names the operation an EventError belongs to.
type Op string

const (
	OpOpen    Op = "open"
	OpPublish Op = "publish"
	OpConsume Op = "consume"
	OpClose   Op = "close"
)

// Event is emitted synchronously by a Provider. Envelope and Decision are set
// for sent, received and routed events; Err for encode_failed, parse_failed
// and error events. EventError is reserved for transport failures.
type Event struct {
	Type     EventType
	Op       Op
	Provider string
	Time     time.Time
	Envelope *message.Envelope
	Decision *router.Decision
	// Duration is the send duration for EventSent.
	Duration time.Duration
	Err      error
}

// Observer receives provider events. OnEvent must not block and must not
// call back into the Provider.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}

// LoggingObserver writes events to a zap logger.
type LoggingObserver struct {
	Log *zap.SugaredLogger
}

// NewLoggingObserver returns an observer that logs through log.
func NewLoggingObserver(log *zap.SugaredLogger) LoggingObserver {
	return LoggingObserver{Log: log}
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Log == nil {
		return
	}
	log := o.Log.With("provider", e.Provider)

	switch e.Type {
	case EventSent:
		log.Infow("message sent",
			"message", e.Envelope.Body,
			"sentAt", e.Envelope.SentAt.Format(time.RFC3339Nano),
			"priority", e.Envelope.Priority.String(),
			"destination", e.Envelope.Destination.String(),
			"duration", e.Duration,
		)
	case EventReceived:
		kv := []any{
			"message", e.Envelope.Body,
			"receivedAt", e.Time.Format(time.RFC3339Nano),
			"priority", e.Envelope.Priority.String(),
			"destination", e.Envelope.Destination.String(),
		}
		if e.Envelope.ElapsedMs != nil {
			kv = append(kv, "elapsedMs", *e.Envelope.ElapsedMs)
		}
		if e.Envelope.ClockSkewed() {
			log.Warnw("message received with negative elapsed time, producer clock is ahead", kv...)
			return
		}
		log.Infow("message received", kv...)
	case EventRouted:
		log.Infow("routing decision",
			"destination", e.Decision.Destination.String(),
			"handledBy", e.Decision.HandledBy,
		)
	case EventEmpty:
		log.Info("no messages received")
	case EventEncodeFailed:
		log.Errorw("message could not be encoded", "error", e.Err)
	case EventParseFailed:
		log.Warnw("skipping message that could not be parsed", "error", e.Err)
	case EventError:
		log.Errorw("transport error", "op", e.Op, "error", e.Err)
	case EventCancelled:
		log.Info("consumer cancelled")
	case EventOpened:
		log.Debug("provider opened")
	case EventClosed:
		log.Info("provider closed")
	default:
		log.Debugw("provider event", "type", e.Type)
	}
}
