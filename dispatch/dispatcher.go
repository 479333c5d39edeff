package dispatch

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
)

// Trap messages raised by wazero for a bad call_indirect.
const (
	trapTypeMismatch = "indirect call type mismatch"
	trapTableAccess  = "invalid table access"
)

// Options configures a Dispatcher.
type Options struct {
	// Strict escalates signature contract violations instead of returning
	// the default value.
	Strict bool

	// Depth is the number of recent degraded events kept.
	Depth int
}

// Dispatcher performs indirect calls through one instance's call table. It
// never lets a fault escape as a panic; every degraded path returns the
// default value of the trampoline's result type together with an Outcome
// describing what happened.
type Dispatcher struct {
	diag   *Diagnostics
	args   []uint64
	strict bool
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		diag:   NewDiagnostics(opts.Depth),
		strict: opts.Strict,
	}
}

// Diagnostics returns the dispatcher's outcome record.
func (d *Dispatcher) Diagnostics() *Diagnostics {
	return d.diag
}

// Invoke runs one trampoline call. stack holds the table index followed by
// the callee arguments; on return stack[0] holds the result, or the default
// value when the outcome is degraded.
//
// Policy, in order: unsupported arity, unavailable table, index out of
// range, empty slot, then the call itself. Faults raised by the callee are
// classified; see Escalates for the ones the caller must re-raise.
func (d *Dispatcher) Invoke(ctx context.Context, t Table, m *Marshaler, stack []uint64) (out abi.Outcome, first bool) {
	sig := m.Signature()
	index := api.DecodeU32(stack[0])

	out = d.invoke(ctx, t, m, index, stack)
	if out.OK() {
		m.Store(stack, out.Value)
		if sig.Result != abi.Void {
			out.Value = stack[0]
		}
	} else {
		m.StoreDefault(stack)
	}

	first = d.diag.Record(Event{Trampoline: sig.Name, Index: index, Code: out.Code, Err: out.Err})
	return out, first
}

func (d *Dispatcher) invoke(ctx context.Context, t Table, m *Marshaler, index uint32, stack []uint64) abi.Outcome {
	sig := m.Signature()

	if !sig.Supported() {
		return abi.Fail(abi.CodeUnsupportedArity, errors.UnsupportedArity(sig.Name, sig.Arity(), abi.MaxArity))
	}

	if t == nil || !t.Available() {
		return abi.Fail(abi.CodeUnavailable, errors.NotInitialized(errors.PhaseDispatch, "call table"))
	}

	slot, err := t.Inspect(ctx, index)
	if err != nil {
		return abi.Fail(abi.CodeHostFault, errors.Wrap(errors.PhaseDispatch, errors.KindHostFault, err, "inspect call table"))
	}
	switch slot {
	case SlotOutOfRange:
		return abi.Fail(abi.CodeOutOfBounds, errors.New(errors.PhaseDispatch, errors.KindOutOfBounds).
			Symbol(sig.Name).
			Value(index).
			Detail("table index %d out of range", index).
			Build())
	case SlotEmpty:
		return abi.Fail(abi.CodeNotCallable, errors.New(errors.PhaseDispatch, errors.KindNotCallable).
			Symbol(sig.Name).
			Value(index).
			Detail("table slot %d is empty", index).
			Build())
	}

	var mark uint64
	unwinder, canUnwind := t.(Unwinder)
	if canUnwind {
		mark = unwinder.Save(ctx)
	}

	// The arguments buffer is taken off the dispatcher while in use: a
	// nested trampoline call from inside the callee must not overwrite it.
	args := m.Args(d.args, stack)
	d.args = nil
	result, err := t.Call(ctx, sig, index, args)
	d.args = args[:0]

	if err == nil {
		return abi.Return(result)
	}

	out := d.classify(sig, index, err)
	if out.Code == abi.CodePropagated && canUnwind {
		unwinder.Restore(ctx, mark)
	}
	return out
}

func (d *Dispatcher) classify(sig abi.Signature, index uint32, err error) abi.Outcome {
	if _, ok := exception.AsPropagated(err); ok {
		return abi.Fail(abi.CodePropagated, err)
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		return abi.Fail(abi.CodeExit, err)
	}
	if errors.HasKind(err, errors.KindAbort) {
		return abi.Fail(abi.CodeAbort, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, trapTypeMismatch):
		return abi.Fail(abi.CodeTypeMismatch, errors.TypeMismatch(errors.PhaseDispatch, sig.Name, sig.String(), err))
	case strings.Contains(msg, trapTableAccess):
		return abi.Fail(abi.CodeNotCallable, errors.New(errors.PhaseDispatch, errors.KindNotCallable).
			Symbol(sig.Name).
			Value(index).
			Cause(err).
			Build())
	}

	return abi.Fail(abi.CodeHostFault, errors.New(errors.PhaseDispatch, errors.KindHostFault).
		Symbol(sig.Name).
		Value(index).
		Detail("call to table slot %d failed", index).
		Cause(err).
		Build())
}

// Escalates reports whether an outcome must be re-raised into the guest
// instead of being returned as the default value. Process termination always
// escalates; a signature contract violation escalates in strict mode.
// Propagated exceptions stop here: the trampoline is the boundary that
// catches them.
func (d *Dispatcher) Escalates(out abi.Outcome) bool {
	switch out.Code {
	case abi.CodeExit, abi.CodeAbort:
		return true
	case abi.CodeTypeMismatch:
		return d.strict
	default:
		return false
	}
}
