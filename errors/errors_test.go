package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:     PhaseDispatch,
				Kind:      KindTypeMismatch,
				Symbol:    "invoke_viji",
				Signature: "(i32, i32, i64, i32) -> ()",
				Detail:    "callee disagrees",
			},
			contains: []string{"[dispatch]", "type_mismatch", "invoke_viji", "(i32, i32, i64, i32) -> ()", "callee disagrees"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseException,
				Kind:  KindNoActiveException,
			},
			contains: []string{"[exception]", "no_active_exception"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindInstantiation,
				Detail: "instantiate module",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "instantiation", "instantiate module", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseLoad, KindInvalidData, cause, "rewrite")

	assert.ErrorIs(t, err, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestError_Is(t *testing.T) {
	err := New(PhaseDispatch, KindOutOfBounds).Symbol("invoke_ii").Value(uint32(40)).Build()

	assert.True(t, errors.Is(err, &Error{Phase: PhaseDispatch, Kind: KindOutOfBounds}))
	assert.False(t, errors.Is(err, &Error{Phase: PhaseDispatch, Kind: KindNotCallable}))
	assert.False(t, errors.Is(err, &Error{Phase: PhaseSyscall, Kind: KindOutOfBounds}))
}

func TestBuilder(t *testing.T) {
	err := New(PhaseDispatch, KindNotCallable).
		Symbol("invoke_vii").
		Value(uint32(7)).
		Detail("table slot %d is empty", 7).
		Build()

	assert.Equal(t, "invoke_vii", err.Symbol)
	assert.Equal(t, uint32(7), err.Value)
	assert.Equal(t, "table slot 7 is empty", err.Detail)
	assert.Equal(t, "[dispatch] not_callable at invoke_vii: table slot 7 is empty", err.Error())
}

func TestUnsupportedArity(t *testing.T) {
	err := UnsupportedArity("invoke_iiiiiiiiiiiiii", 13, 12)
	assert.Equal(t, KindUnsupportedArity, err.Kind)
	assert.Equal(t, 13, err.Value)
	assert.Contains(t, err.Error(), "13 parameters exceeds limit of 12")
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]MissingImport{
		{Namespace: "env", Name: "invoke_x", Reason: "unknown trampoline"},
		{Namespace: "custom", Name: "frob"},
		{Namespace: "env", Name: "__syscall_mmap2", Reason: "no binding"},
	})

	require.Len(t, err.Imports, 3)
	assert.Equal(t, "custom", err.Imports[0].Namespace)
	assert.Equal(t, "__syscall_mmap2", err.Imports[1].Name)
	assert.Equal(t, "invoke_x", err.Imports[2].Name)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "missing 3 host function(s):"))
	assert.Contains(t, msg, "  env:\n    - __syscall_mmap2 (no binding)\n    - invoke_x (unknown trampoline)")
	assert.Contains(t, msg, "  custom:\n    - frob")

	var target *MissingImportsError
	assert.True(t, errors.As(error(err), &target))
	assert.True(t, errors.Is(err, &MissingImportsError{}))
}

func TestMissingImportsError_Empty(t *testing.T) {
	err := NewMissingImportsError(nil)
	assert.Equal(t, "[linking] missing_import: no imports specified", err.Error())
}

func TestKindOf(t *testing.T) {
	abort := Abort("_abort_js", "native code called abort()")
	wrapped := fmt.Errorf("%w (recovered by wazero)", abort)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindAbort, kind)
	assert.True(t, HasKind(wrapped, KindAbort))
	assert.False(t, HasKind(wrapped, KindExit))

	_, ok = KindOf(fmt.Errorf("plain"))
	assert.False(t, ok)
	assert.Equal(t, "[process] abort at _abort_js: native code called abort()", abort.Error())
}
