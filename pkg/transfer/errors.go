package transfer

import "errors"

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("transfer already started")
	// ErrFinished is returned by Start on a transfer that was cancelled
	// before it began.
	ErrFinished = errors.New("transfer already finished")
)

// Kind classifies why a transfer failed. Every kind is terminal.
type Kind uint8

const (
	// KindConnection covers connect failures and dropped connections.
	KindConnection Kind = iota + 1
	// KindProtocol covers malformed, oversized or truncated peer data.
	KindProtocol
	// KindIO covers local filesystem failures reported by the bundle.
	KindIO
	// KindCancelled is an explicit Cancel.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	case KindIO:
		return "i/o error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown error"
	}
}

// Error is the failure recorded by a transfer.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindCancelled || e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a transfer failure, or zero if err is not one.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}
