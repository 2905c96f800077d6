package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/minitel/internal/protocol/frame"
)

var (
	ErrNonceMismatch     = errors.New("protocol: nonce mismatch")
	ErrNonceExhausted    = errors.New("protocol: nonce space exhausted")
	ErrUnauthenticated   = errors.New("protocol: command requires prior authentication")
	ErrUnknownCommand    = errors.New("protocol: unknown command")
	ErrSessionTerminated = errors.New("protocol: session already terminated")
	ErrUnexpectedReply   = errors.New("protocol: unexpected reply")
)

// Kind is the failure category reported to callers.
type Kind int

const (
	KindNone Kind = iota
	KindMalformed
	KindSequence
	KindTransport
	KindCapacity
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformed:
		return "malformed"
	case KindSequence:
		return "sequence"
	case KindTransport:
		return "transport"
	case KindCapacity:
		return "capacity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport marks err as a transport failure for op. Nil stays nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Classify wraps err in an *Error carrying its Kind. Nil stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf reports the category of err. Errors that are not protocol or codec
// failures are treated as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, frame.ErrFrameTooLarge):
		return KindCapacity
	case errors.Is(err, frame.ErrShortPrefix),
		errors.Is(err, frame.ErrIncompleteFrame),
		errors.Is(err, frame.ErrBadEncoding),
		errors.Is(err, frame.ErrFrameTooShort),
		errors.Is(err, frame.ErrIntegrity):
		return KindMalformed
	case errors.Is(err, ErrNonceMismatch),
		errors.Is(err, ErrNonceExhausted),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrSessionTerminated),
		errors.Is(err, ErrUnexpectedReply):
		return KindSequence
	default:
		return KindTransport
	}
}
