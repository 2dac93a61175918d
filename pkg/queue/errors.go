package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable is matched by every *PublishError.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrTransportFault is matched by every *ConsumeError.
	ErrTransportFault = errors.New("transport fault")

	ErrClosed            = errors.New("provider closed")
	ErrNotOpen           = errors.New("provider not open")
	ErrAlreadyOpen       = errors.New("provider already open")
	ErrRoleUnsupported   = errors.New("operation not supported by provider role")
	ErrConsumeInProgress = errors.New("consume already in progress")
)

// PublishError reports that the driver did not accept a send.
type PublishError struct {
	Provider string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: publish: %v: %v", e.Provider, ErrTransportUnavailable, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrTransportUnavailable, e.Err}
}

// ConsumeError reports a broker level failure while receiving. It is never
// used for timeouts, cancellation or malformed messages.
type ConsumeError struct {
	Provider string
	Err      error
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("%s: consume: %v: %v", e.Provider, ErrTransportFault, e.Err)
}

func (e *ConsumeError) Unwrap() []error {
	return []error{ErrTransportFault, e.Err}
}
