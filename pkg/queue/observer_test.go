package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ava-labs/mqprovider/pkg/message"
	"github.com/ava-labs/mqprovider/pkg/queue"
	"github.com/ava-labs/mqprovider/pkg/router"
)

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func TestObservers_FanOutInOrder(t *testing.T) {
	t.Parallel()

	var got []string
	obs := queue.Observers{
		queue.ObserverFunc(func(queue.Event) { got = append(got, "first") }),
		nil,
		queue.ObserverFunc(func(queue.Event) { got = append(got, "second") }),
	}
	obs.OnEvent(queue.Event{Type: queue.EventOpened})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestLoggingObserver_Received(t *testing.T) {
	t.Parallel()

	log, logs := newObservedLogger()
	sentAt := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
	env := message.WithReceipt(message.Build("Hi!", message.High, message.ServiceC, sentAt), sentAt.Add(250*time.Millisecond))

	queue.NewLoggingObserver(log).OnEvent(queue.Event{
		Type:     queue.EventReceived,
		Provider: "memory",
		Time:     sentAt.Add(250 * time.Millisecond),
		Envelope: &env,
	})

	entries := logs.FilterMessage("message received").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "memory", fields["provider"])
	assert.Equal(t, "Hi!", fields["message"])
	assert.Equal(t, "High", fields["priority"])
	assert.Equal(t, "MicroserviceC", fields["destination"])
	assert.InDelta(t, 250.0, fields["elapsedMs"], 0.001)
}

func TestLoggingObserver_ClockSkewWarns(t *testing.T) {
	t.Parallel()

	log, logs := newObservedLogger()
	sentAt := time.Now()
	env := message.WithReceipt(message.Build("early", message.Low, message.ServiceA, sentAt), sentAt.Add(-time.Second))

	queue.NewLoggingObserver(log).OnEvent(queue.Event{Type: queue.EventReceived, Envelope: &env})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestLoggingObserver_RoutingDecision(t *testing.T) {
	t.Parallel()

	log, logs := newObservedLogger()
	decision := router.Route(message.ServiceB)

	queue.NewLoggingObserver(log).OnEvent(queue.Event{Type: queue.EventRouted, Decision: &decision})

	entries := logs.FilterMessage("routing decision").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "MicroserviceB", entries[0].ContextMap()["handledBy"])
}

func TestLoggingObserver_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event queue.Event
		level zapcore.Level
	}{
		{"empty", queue.Event{Type: queue.EventEmpty}, zapcore.InfoLevel},
		{"parse failed", queue.Event{Type: queue.EventParseFailed, Err: message.ErrMalformed}, zapcore.WarnLevel},
		{"error", queue.Event{Type: queue.EventError, Op: queue.OpPublish, Err: errors.New("boom")}, zapcore.ErrorLevel},
		{"cancelled", queue.Event{Type: queue.EventCancelled}, zapcore.InfoLevel},
		{"closed", queue.Event{Type: queue.EventClosed}, zapcore.InfoLevel},
		{"opened", queue.Event{Type: queue.EventOpened}, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, logs := newObservedLogger()
			queue.NewLoggingObserver(log).OnEvent(tt.event)
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.level, logs.All()[0].Level)
		})
	}
}

func TestLoggingObserver_NilLogger(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		queue.LoggingObserver{}.OnEvent(queue.Event{Type: queue.EventEmpty})
	})
}

func TestLoggingObserver_EncodeFailureIsNotTransportError(t *testing.T) {
	t.Parallel()

	log, logs := newObservedLogger()
	queue.NewLoggingObserver(log).OnEvent(queue.Event{
		Type: queue.EventEncodeFailed,
		Op:   queue.OpPublish,
		Err:  &message.EncodingError{Err: errors.New("invalid utf-8")},
	})

	assert.Equal(t, 1, logs.FilterMessage("message could not be encoded").Len())
	assert.Zero(t, logs.FilterMessage("transport error").Len())
}
