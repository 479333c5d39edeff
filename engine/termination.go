package engine

import (
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
)

// Termination is how a guest call ended without returning.
type Termination uint8

const (
	// TerminatedByException means a C++ exception unwound past the export.
	TerminatedByException Termination = iota + 1
	// TerminatedByExit means the guest called exit.
	TerminatedByExit
	// TerminatedByAbort means the guest called abort or hit an unsupported
	// control transfer such as longjmp.
	TerminatedByAbort
)

func (t Termination) String() string {
	switch t {
	case TerminatedByException:
		return "uncaught exception"
	case TerminatedByExit:
		return "exit"
	case TerminatedByAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *TerminationError.
var (
	ErrUncaughtException = stderrors.New("uncaught exception")
	ErrExit              = stderrors.New("guest exited")
	ErrAbort             = stderrors.New("guest aborted")
)

// TerminationError reports a guest call that ended by exception, exit or
// abort. Guest traps are not terminations; they surface as [runtime] trap
// errors.
type TerminationError struct {
	Cause  error
	Export string
	Reason Termination

	// ExitCode is set for TerminatedByExit.
	ExitCode uint32

	// Payload and TypeDescriptor identify the exception for
	// TerminatedByException.
	Payload        uint32
	TypeDescriptor uint32
}

func (e *TerminationError) Error() string {
	switch e.Reason {
	case TerminatedByException:
		return fmt.Sprintf("call %s: uncaught exception (payload 0x%x, type 0x%x)", e.Export, e.Payload, e.TypeDescriptor)
	case TerminatedByExit:
		return fmt.Sprintf("call %s: exit code %d", e.Export, e.ExitCode)
	default:
		return fmt.Sprintf("call %s: aborted: %v", e.Export, e.Cause)
	}
}

func (e *TerminationError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the termination reason.
func (e *TerminationError) Is(target error) bool {
	switch target {
	case ErrUncaughtException:
		return e.Reason == TerminatedByException
	case ErrExit:
		return e.Reason == TerminatedByExit
	case ErrAbort:
		return e.Reason == TerminatedByAbort
	}
	return false
}

// ClassifyCallError turns the error of a guest export call into a
// *TerminationError, or a structured trap error for anything else.
func ClassifyCallError(export string, err error) error {
	if err == nil {
		return nil
	}

	if perr, ok := exception.AsPropagated(err); ok {
		return &TerminationError{
			Cause:          err,
			Export:         export,
			Reason:         TerminatedByException,
			Payload:        perr.Payload,
			TypeDescriptor: perr.TypeDescriptor,
		}
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		return &TerminationError{
			Cause:    err,
			Export:   export,
			Reason:   TerminatedByExit,
			ExitCode: exitErr.ExitCode(),
		}
	}

	if errors.HasKind(err, errors.KindAbort) {
		return &TerminationError{Cause: err, Export: export, Reason: TerminatedByAbort}
	}

	return errors.New(errors.PhaseRuntime, errors.KindTrap).
		Symbol(export).
		Cause(err).
		Build()
}
