package abi

import (
	"github.com/wippyai/emhost/errors"
)

// Code classifies the result of one host ABI operation.
type Code uint8

const (
	CodeOK Code = iota
	CodeUnavailable
	CodeOutOfBounds
	CodeNotCallable
	CodeUnsupportedArity
	CodeTypeMismatch
	CodeHostFault
	CodePropagated
	CodeNoActiveException
	CodeAbort
	CodeExit
	CodeUnsupported

	numCodes
)

// NumCodes is the number of distinct codes, for per-code counters.
const NumCodes = int(numCodes)

var codeNames = [...]string{
	CodeOK:                "ok",
	CodeUnavailable:       "unavailable",
	CodeOutOfBounds:       "out_of_bounds",
	CodeNotCallable:       "not_callable",
	CodeUnsupportedArity:  "unsupported_arity",
	CodeTypeMismatch:      "type_mismatch",
	CodeHostFault:         "host_fault",
	CodePropagated:        "propagated_exception",
	CodeNoActiveException: "no_active_exception",
	CodeAbort:             "abort",
	CodeExit:              "exit",
	CodeUnsupported:       "unsupported",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

// Kind maps the code to the structured error kind.
func (c Code) Kind() errors.Kind {
	switch c {
	case CodeUnavailable:
		return errors.KindNotInitialized
	case CodeOutOfBounds:
		return errors.KindOutOfBounds
	case CodeNotCallable:
		return errors.KindNotCallable
	case CodeUnsupportedArity:
		return errors.KindUnsupportedArity
	case CodeTypeMismatch:
		return errors.KindTypeMismatch
	case CodePropagated:
		return errors.KindPropagated
	case CodeNoActiveException:
		return errors.KindNoActiveException
	case CodeAbort:
		return errors.KindAbort
	case CodeExit:
		return errors.KindExit
	case CodeUnsupported:
		return errors.KindUnsupported
	default:
		return errors.KindHostFault
	}
}

// Terminal reports whether an outcome with this code ends the in-flight
// guest call instead of returning a value to it.
func (c Code) Terminal() bool {
	return c == CodePropagated || c == CodeAbort || c == CodeExit
}

// Outcome is the result of one ABI operation. Value holds the raw stack
// word for the declared result kind; degraded outcomes leave it zero, which
// is the default for every kind.
type Outcome struct {
	Err   error
	Value uint64
	Code  Code
}

// Return builds a successful outcome.
func Return(v uint64) Outcome {
	return Outcome{Value: v}
}

// Fail builds a degraded outcome with the default value.
func Fail(code Code, err error) Outcome {
	return Outcome{Code: code, Err: err}
}

// OK reports whether the operation completed normally.
func (o Outcome) OK() bool {
	return o.Code == CodeOK
}
