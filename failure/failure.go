// Package failure classifies why a requested activity or room did not start.
package failure

import (
	"errors"
)

type Kind int

const (
	// LocalPreconditionFailure covers unknown ids, a missing opponent and failed capability
	// checks. It is reported to the caller and no message is sent.
	LocalPreconditionFailure Kind = iota + 1
	// RemoteUnavailable is answered with an automatic decline.
	RemoteUnavailable
	// ProtocolMismatch marks stale, duplicate or foreign messages. They are dropped.
	ProtocolMismatch
	// TransportUnavailable means the chat channel is down. Sends are skipped.
	TransportUnavailable
)

func (k Kind) String() string {
	switch k {
	case LocalPreconditionFailure:
		return "LocalPreconditionFailure"
	case RemoteUnavailable:
		return "RemoteUnavailable"
	case ProtocolMismatch:
		return "ProtocolMismatch"
	case TransportUnavailable:
		return "TransportUnavailable"
	default:
		return "Unknown"
	}
}

var ErrNoOpponent = errors.New("no valid opponent selected")

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Precondition(op string, err error) error {
	return &Error{Kind: LocalPreconditionFailure, Op: op, Err: err}
}

// KindOf extracts the classification of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
