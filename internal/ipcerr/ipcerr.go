// File: internal/ipcerr/ipcerr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured error kinds shared across the shm, channel, wire, handshake
// and ipc packages, following the same Code+Message+Context shape the
// library already used for its transport-layer errors.

package ipcerr

import "fmt"

// Kind enumerates the abstract error conditions a Connection can surface.
type Kind int

const (
	// Uninitialized: API called on a Closed Connection.
	Uninitialized Kind = iota
	// AlreadyConnected: connect called on a non-Closed Connection.
	AlreadyConnected
	// AddressNotAvailable: control socket connect failed cleanly.
	AddressNotAvailable
	// InsufficientPrivileges: the OS denied a required operation.
	InsufficientPrivileges
	// Disconnected: the peer closed, orderly or abnormally. Sticky.
	Disconnected
	// Busy: no room, no data, or an operation is already in flight.
	Busy
	// Size: message exceeds ring capacity or the configured maximum.
	Size
	// Truncation: the receiver buffer is smaller than the payload.
	Truncation
	// Resource: OS resource exhaustion (fds, mappings, memory).
	Resource
	// Protocol: a validated invariant was violated. Sticky for the connection.
	Protocol
	// Api: a caller-contract violation, e.g. an invalid notification byte.
	Api
	// Unexpected: an unmapped OS error, treated as Protocol for the connection.
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case Uninitialized:
		return "uninitialized"
	case AlreadyConnected:
		return "already_connected"
	case AddressNotAvailable:
		return "address_not_available"
	case InsufficientPrivileges:
		return "insufficient_privileges"
	case Disconnected:
		return "disconnected"
	case Busy:
		return "busy"
	case Size:
		return "size"
	case Truncation:
		return "truncation"
	case Resource:
		return "resource"
	case Protocol:
		return "protocol"
	case Api:
		return "api"
	case Unexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Sticky reports whether an error of this kind must latch the connection
// into a permanent failure state (Disconnected and Protocol both do; an
// Unexpected error is escalated to Protocol by New before this is checked).
func (k Kind) Sticky() bool {
	return k == Disconnected || k == Protocol
}

// Error is the structured error value returned by every fallible operation
// in the transport. Context carries diagnostic key/value pairs without
// forcing every caller to build a format string.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

// New constructs an Error of kind k. Unexpected is normalized to Protocol,
// matching the contract that unmapped OS errors escalate to a sticky
// protocol failure rather than leaking an ad-hoc error kind to callers.
func New(k Kind, message string) *Error {
	if k == Unexpected {
		k = Protocol
	}
	return &Error{Kind: k, Message: message}
}

// Wrap constructs an Error of kind k around an underlying cause.
func Wrap(k Kind, cause error, message string) *Error {
	e := New(k, message)
	e.cause = cause
	return e
}

// WithContext attaches a diagnostic key/value pair and returns the receiver.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s (context: %+v)", e.Kind, msg, e.Context)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
