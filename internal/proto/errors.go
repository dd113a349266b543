package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
)

// Decode failures. Every codec read either returns a complete value or an
// error wrapping one of these (or a local I/O error).
var (
	// ErrMalformedFrame is returned for frames that are complete but invalid.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge is returned when a frame exceeds its size bound.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrConnectionClosed is returned when the peer closes mid-frame.
	ErrConnectionClosed = errors.New("connection closed by peer")
	// ErrSizeMismatch is returned when a file yields a different number of
	// bytes than the size that was declared for it.
	ErrSizeMismatch = errors.New("payload size does not match declared size")
)

// errLocalIO marks failures of the local side of a copy: writing received
// bytes to storage, or reading the file being sent.
var errLocalIO = errors.New("local i/o failed")

// Kind classifies an error by where it came from.
type Kind int

const (
	KindUnknown    Kind = iota
	KindProtocol        // malformed or oversized frame, size mismatch
	KindConnection      // peer closed early, reset, dial failure, cancellation
	KindIO              // local filesystem failure
	KindAnalysis        // analysis callback failure
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindProtocol:   "protocol",
	KindConnection: "connection",
	KindIO:         "io",
	KindAnalysis:   "analysis",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// State names a step of a transfer, on either side of the connection.
type State int

const (
	StateUnknown State = iota

	// Server side.
	StateAwaitName
	StateAwaitSize
	StateReceivePayload
	StateAnalyze
	StatePersist
	StateSendResult

	// Client side.
	StateOpen
	StateConnect
	StateSendName
	StateSendSize
	StateSendPayload
	StateReceiveResult

	StateClosed
)

var stateNames = [...]string{
	StateUnknown:        "Unknown",
	StateAwaitName:      "AwaitName",
	StateAwaitSize:      "AwaitSize",
	StateReceivePayload: "ReceivePayload",
	StateAnalyze:        "Analyze",
	StatePersist:        "Persist",
	StateSendResult:     "SendResult",
	StateOpen:           "Open",
	StateConnect:        "Connect",
	StateSendName:       "SendName",
	StateSendSize:       "SendSize",
	StateSendPayload:    "SendPayload",
	StateReceiveResult:  "ReceiveResult",
	StateClosed:         "Closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Error is a transfer failure tagged with its kind and the state it
// happened in.
type Error struct {
	Err   error
	Kind  Kind
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.State, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err for state, classifying it with KindOf unless kind is given.
func newError(kind Kind, state State, err error) *Error {
	if kind == KindUnknown {
		kind = KindOf(err)
	}
	return &Error{Kind: kind, State: state, Err: err}
}

// KindOf classifies err. Tagged errors keep their tag; otherwise protocol
// sentinels, network failures and filesystem failures are recognized.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var te *Error
	if errors.As(err, &te) && te.Kind != KindUnknown {
		return te.Kind
	}

	switch {
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrFrameTooLarge),
		errors.Is(err, ErrSizeMismatch):
		return KindProtocol
	case errors.Is(err, errLocalIO):
		return KindIO
	case errors.Is(err, ErrConnectionClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}
	return KindUnknown
}

// closedErr maps a short read to ErrConnectionClosed, keeping the cause.
func closedErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w: %w", what, ErrConnectionClosed, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
