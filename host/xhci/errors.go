package xhci

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/trb"
)

// Controller errors.
var (
	// ErrFatal marks a condition the controller cannot recover from:
	// an unexpected completion code, an unsupported port speed, or a
	// request that would overrun a transfer ring. Callers may choose to
	// panic on it; the engine never does.
	ErrFatal = errors.New("xhci: fatal controller error")

	// ErrControlPipe reports an operation that is not allowed on the
	// default control endpoint.
	ErrControlPipe = errors.New("xhci: not allowed on the control pipe")

	// ErrUnknown reports an unexpected controller response.
	ErrUnknown = errors.New("xhci: unknown error")
)

// CommandError is returned when a command completes with a code other
// than Success.
type CommandError struct {
	Command trb.Type
	Code    trb.CompletionCode
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("xhci: %s completed with %s", e.Command, e.Code)
}

// IsCommandError reports whether err carries a CommandError with code.
func IsCommandError(err error, code trb.CompletionCode) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Code == code
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

func unknownf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnknown, fmt.Sprintf(format, args...))
}
