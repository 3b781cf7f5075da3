package grabber

import (
	"errors"
	"fmt"
)

// Kind classifies a capture failure.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindWrongKind
	KindUnsupported
	KindInsufficientMemory
	KindMapFailed
	KindUnmapFailed
	KindTimeout
	KindRetry
	KindInterrupted
	KindIOError
	KindDeviceFailure
	KindInvalidState
	KindShortBuffer
)

var kindNames = map[Kind]string{
	KindUnknown:            "UNKNOWN",
	KindNotFound:           "NOT_FOUND",
	KindWrongKind:          "WRONG_KIND",
	KindUnsupported:        "UNSUPPORTED",
	KindInsufficientMemory: "INSUFFICIENT_MEMORY",
	KindMapFailed:          "MAP_FAILED",
	KindUnmapFailed:        "UNMAP_FAILED",
	KindTimeout:            "TIMEOUT",
	KindRetry:              "RETRY",
	KindInterrupted:        "INTERRUPTED",
	KindIOError:            "IO_ERROR",
	KindDeviceFailure:      "DEVICE_FAILURE",
	KindInvalidState:       "INVALID_STATE",
	KindShortBuffer:        "SHORT_BUFFER",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Recoverable reports whether a caller should simply try again on its next
// tick. KindIOError is not recoverable here; whether to retry after EIO is
// left to the caller.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTimeout, KindRetry, KindInterrupted:
		return true
	default:
		return false
	}
}

// Error is returned by every failing engine operation.
type Error struct {
	Kind   Kind
	Device string
	Step   string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Device, e.Step, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Device, e.Step)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same Kind, so errors.Is(err,
// &Error{Kind: KindTimeout}) works regardless of device or step.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Device == "" && t.Step == ""
}

func newError(kind Kind, device, step string, cause error) *Error {
	return &Error{Kind: kind, Device: device, Step: step, Cause: cause}
}

// KindOf extracts the Kind of err, or KindUnknown when err was not produced
// by this package. A nil error has KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether err is a transient "no frame this time"
// outcome.
func IsRecoverable(err error) bool {
	return KindOf(err).Recoverable()
}
