package runtime

import (
	stderrors "errors"

	"github.com/wippyai/emhost/engine"
)

// Termination sentinels, matched with errors.Is on errors returned by Call.
var (
	ErrUncaughtException = engine.ErrUncaughtException
	ErrExit              = engine.ErrExit
	ErrAbort             = engine.ErrAbort
)

// TerminationError reports a call that ended by exception, exit or abort.
type TerminationError = engine.TerminationError

// ExitCode returns the code a guest passed to exit.
func ExitCode(err error) (uint32, bool) {
	var term *TerminationError
	if !stderrors.As(err, &term) || term.Reason != engine.TerminatedByExit {
		return 0, false
	}
	return term.ExitCode, true
}
