// Package queue defines a broker-agnostic contract for publishing and
// consuming envelopes, and the Provider that implements it on top of a
// transport Driver.
//
// A Driver supplies the broker specific send and receive primitives. The
// Provider owns envelope construction and parsing, elapsed-time computation,
// routing decisions and the consume state machine, so every backend behaves
// identically:
//
//	Created -> Subscribed -> {Waiting <-> Receiving} -> Closed
//
// Closed is terminal. A Provider is connected with Open and released with
// Dispose; Dispose is idempotent and may be called after a failed Open.
//
// Domain events (sent, received, routed, parse failures, transport errors)
// are reported to Observers. Logging and metrics are Observers supplied by
// the caller.
package queue
