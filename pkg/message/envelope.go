// Package message defines the envelope carried over every transport and its
// JSON wire format.
//
// The wire format is backward compatible with producers built before routing
// metadata existed: priority and microserviceToBeDelivered may be absent, in
// which case Parse defaults them to Low and Unassigned.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Envelope is the unit carried over a transport. It is a value; WithReceipt
// returns a modified copy.
type Envelope struct {
	Body        string
	SentAt      time.Time
	Priority    Priority
	Destination Destination
	// ElapsedMs is nil until the envelope is received.
	ElapsedMs *float64
}

// zoneless is the layout of ISO-8601 timestamps written without an offset.
// Such timestamps are read as UTC.
const zoneless = "2006-01-02T15:04:05.999999999"

type encodedEnvelope struct {
	Message       string       `json:"message"`
	SentAt        time.Time    `json:"sentAt"`
	Priority      Priority     `json:"priority"`
	Destination   *Destination `json:"microserviceToBeDelivered,omitempty"`
	ElapsedTimeMs *float64     `json:"elapsedTimeMs,omitempty"`
}

// elapsedTimeMs is deliberately not decoded: elapsed time is computed by the
// consumer, never trusted from the wire.
type decodedEnvelope struct {
	Message     *string         `json:"message"`
	SentAt      *string         `json:"sentAt"`
	Priority    json.RawMessage `json:"priority"`
	Destination json.RawMessage `json:"microserviceToBeDelivered"`
}

// Build returns a new envelope stamped with now in UTC.
func Build(body string, priority Priority, destination Destination, now time.Time) Envelope {
	return Envelope{
		Body:        body,
		SentAt:      now.UTC(),
		Priority:    priority,
		Destination: destination,
	}
}

// Serialize encodes env as JSON. It fails with *EncodingError when the body
// is not valid UTF-8 or an enum value is out of range.
func Serialize(env Envelope) ([]byte, error) {
	if !utf8.ValidString(env.Body) {
		return nil, &EncodingError{Err: errors.New("body is not valid UTF-8")}
	}

	enc := encodedEnvelope{
		Message:       env.Body,
		SentAt:        env.SentAt.UTC(),
		Priority:      env.Priority,
		ElapsedTimeMs: env.ElapsedMs,
	}
	if env.Destination != Unassigned {
		d := env.Destination
		enc.Destination = &d
	}

	b, err := json.Marshal(enc)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return b, nil
}

// Parse decodes an envelope.
//
// Bytes that are not an encoded envelope yield a *ParseError of kind
// ErrMalformed and a zero Envelope. An unknown priority or destination yields
// the envelope with that field defaulted together with a recoverable
// *ParseError, so a single bad value does not drop the message.
func Parse(data []byte) (Envelope, error) {
	var d decodedEnvelope
	if err := json.Unmarshal(data, &d); err != nil {
		return Envelope{}, &ParseError{Kind: ErrMalformed, Err: err}
	}
	if d.Message == nil {
		return Envelope{}, &ParseError{Kind: ErrMalformed, Field: "message", Err: errors.New("missing")}
	}
	if d.SentAt == nil {
		return Envelope{}, &ParseError{Kind: ErrMalformed, Field: "sentAt", Err: errors.New("missing")}
	}
	sentAt, err := parseTimestamp(*d.SentAt)
	if err != nil {
		return Envelope{}, &ParseError{Kind: ErrMalformed, Field: "sentAt", Err: err}
	}

	env := Envelope{
		Body:        *d.Message,
		SentAt:      sentAt,
		Priority:    Low,
		Destination: Unassigned,
	}

	var firstErr error
	if present(d.Priority) {
		p, err := decodePriority(d.Priority)
		if err != nil {
			firstErr = &ParseError{Kind: ErrUnknownPriority, Field: "priority", Err: err}
		} else {
			env.Priority = p
		}
	}
	if present(d.Destination) {
		dst, err := decodeDestination(d.Destination)
		if err != nil {
			if firstErr == nil {
				firstErr = &ParseError{Kind: ErrUnknownDestination, Field: "microserviceToBeDelivered", Err: err}
			}
		} else {
			env.Destination = dst
		}
	}

	return env, firstErr
}

// WithReceipt returns a copy of env with ElapsedMs set to receivedAt - SentAt.
func WithReceipt(env Envelope, receivedAt time.Time) Envelope {
	ms := float64(receivedAt.Sub(env.SentAt)) / float64(time.Millisecond)
	env.ElapsedMs = &ms
	return env
}

// Elapsed returns the delivery latency recorded by WithReceipt.
func (e Envelope) Elapsed() (time.Duration, bool) {
	if e.ElapsedMs == nil {
		return 0, false
	}
	return time.Duration(*e.ElapsedMs * float64(time.Millisecond)), true
}

// ClockSkewed reports a negative elapsed time, which only happens when the
// producer clock is ahead of the consumer clock.
func (e Envelope) ClockSkewed() bool {
	return e.ElapsedMs != nil && *e.ElapsedMs < 0
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func decodePriority(raw json.RawMessage) (Priority, error) {
	s, ok := decodeEnum(raw)
	if !ok {
		return Low, fmt.Errorf("unsupported value %s", raw)
	}
	return ParsePriority(s)
}

func decodeDestination(raw json.RawMessage) (Destination, error) {
	s, ok := decodeEnum(raw)
	if !ok {
		return Unassigned, fmt.Errorf("unsupported value %s", raw)
	}
	return ParseDestination(s)
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(zoneless, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}
