// Package perror implements the five-class error-severity taxonomy from
// the error handling design: transport, protocol, upstream, configuration,
// and fatal-pool errors, each carrying a scope that determines log
// severity and whether it should bump server_fails. This is the
// idiomatic-Go rendering of the teacher's Logger.Errorf-vs-Logger.Panic
// split: here the classification travels with the error value instead of
// being chosen ad hoc at each log call site.
package perror

import "fmt"

// Class identifies which of the five error classes an error belongs to.
type Class int

const (
	// Transport errors: connect/read/write failure or EOF. Recovered by
	// closing the affected connection; the pool spawns a replacement
	// subject to backoff.
	Transport Class = iota
	// Protocol errors: undersized packet, wrong ACK type for current
	// state, ERR from server, AEAD authentication failure. Fatal to the
	// connection.
	Protocol
	// Upstream errors: local service refuses/disconnects/fails to write.
	// Scoped to the current relay episode; the connection returns to
	// Idling.
	Upstream
	// Configuration errors: missing required field, unresolvable host.
	// Fatal at initialization.
	Configuration
	// FatalPool errors: dead loop, allocation failure. The pool signals
	// stop.
	FatalPool
)

func (c Class) String() string {
	switch c {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Upstream:
		return "upstream"
	case Configuration:
		return "configuration"
	case FatalPool:
		return "fatal-pool"
	default:
		return "unknown"
	}
}

// CountsAsServerFail reports whether an error of this class should
// increment the pool's server_fails counter when the connection that
// produced it had not yet reached Idling.
func (c Class) CountsAsServerFail() bool {
	return c == Transport || c == Protocol
}

// Error wraps an underlying cause with its severity class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given class. Returns nil if err is nil.
func New(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Err: err}
}

// Newf formats a new classified error.
func Newf(class Class, format string, args ...interface{}) error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the Class from err if it (or something it wraps) is a
// *Error; the second return is false otherwise.
func ClassOf(err error) (Class, bool) {
	var pe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			pe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if pe == nil {
		return 0, false
	}
	return pe.Class, true
}
