package message

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is the kind of a ParseError for bytes that are not an encoded envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownPriority is the kind of a ParseError for a priority outside the known set.
	ErrUnknownPriority = errors.New("unknown priority")
	// ErrUnknownDestination is the kind of a ParseError for a destination outside the known set.
	ErrUnknownDestination = errors.New("unknown destination")
)

// ParseError is returned by Parse. Kind is one of ErrMalformed,
// ErrUnknownPriority or ErrUnknownDestination.
type ParseError struct {
	Kind  error
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Recoverable reports whether the envelope returned alongside the error is
// usable. Unknown enum values are defaulted; malformed input is not.
func (e *ParseError) Recoverable() bool {
	return e.Kind == ErrUnknownPriority || e.Kind == ErrUnknownDestination
}

// EncodingError is returned by Serialize for envelopes that cannot be represented.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode envelope: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a ParseError whose envelope can still
// be delivered.
func IsRecoverable(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Recoverable()
}
