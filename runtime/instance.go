package runtime

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/dispatch"
	"github.com/wippyai/emhost/engine"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
)

// Allocator exports of Emscripten's libc, used to pass strings in.
const (
	mallocExport = "malloc"
	freeExport   = "free"
)

type Instance struct {
	module *Module
	inst   *engine.Instance
}

// Name returns the unique instance name.
func (i *Instance) Name() string {
	return i.inst.Name()
}

// Memory returns the guest's linear memory.
func (i *Instance) Memory() *engine.WazeroMemory {
	return i.inst.Memory()
}

// Diagnostics returns the instance's record of degraded indirect calls.
func (i *Instance) Diagnostics() *dispatch.Diagnostics {
	return i.inst.Diagnostics()
}

// ExceptionState returns where the instance's C++ exception state machine
// stands.
func (i *Instance) ExceptionState() exception.State {
	return i.inst.Exceptions().State()
}

// CallRaw invokes an export with raw stack words.
func (i *Instance) CallRaw(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	return i.inst.Call(ctx, name, params...)
}

// Call invokes an export, converting Go arguments with the export's WIT
// types. It returns nil for void exports.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.module == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "module")
	}
	params, results, _, err := i.module.FunctionTypes(name)
	if err != nil {
		return nil, err
	}
	return i.CallWithTypes(ctx, name, params, results, args...)
}

// CallWithTypes invokes an export with explicit WIT types. Strings are
// copied into guest memory allocated with the guest's malloc and freed
// after the call; a string result is read as a NUL-terminated pointer.
func (i *Instance) CallWithTypes(ctx context.Context, name string, params, results []wit.Type, args ...any) (any, error) {
	if len(args) != len(params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s expects %d arguments, got %d", name, len(params), len(args)))
	}
	if len(results) > 1 {
		return nil, errors.Unsupported(errors.PhaseRuntime, "multiple results")
	}
	if err := i.module.checkTypes(name, params, results); err != nil {
		return nil, err
	}

	var allocs []uint32
	defer func() {
		for _, ptr := range allocs {
			_, _ = i.inst.Call(ctx, freeExport, api.EncodeU32(ptr))
		}
	}()

	stack := make([]uint64, len(params))
	for n, t := range params {
		if _, ok := t.(wit.String); ok {
			s, ok := args[n].(string)
			if !ok {
				return nil, argError(name, n, t, args[n])
			}
			ptr, err := i.allocString(ctx, s)
			if err != nil {
				return nil, err
			}
			allocs = append(allocs, ptr)
			stack[n] = api.EncodeU32(ptr)
			continue
		}
		word, err := lower(t, args[n])
		if err != nil {
			return nil, argError(name, n, t, args[n])
		}
		stack[n] = word
	}

	out, err := i.inst.Call(ctx, name, stack...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	if len(out) == 0 {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Symbol(name).
			Detail("export returned no value").
			Build()
	}

	if _, ok := results[0].(wit.String); ok {
		ptr := api.DecodeU32(out[0])
		if ptr == 0 {
			return "", nil
		}
		return i.inst.Memory().ReadCString(ptr)
	}
	return lift(results[0], out[0]), nil
}

func (i *Instance) allocString(ctx context.Context, s string) (uint32, error) {
	out, err := i.inst.Call(ctx, mallocExport, api.EncodeU32(uint32(len(s)+1)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindNotInitialized, err, "allocate string argument")
	}
	ptr := api.DecodeU32(out[0])
	if ptr == 0 {
		return 0, errors.New(errors.PhaseRuntime, errors.KindHostFault).
			Symbol(mallocExport).
			Detail("out of memory allocating %d bytes", len(s)+1).
			Build()
	}
	if err := i.inst.Memory().Write(ptr, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	return ptr, nil
}

func argError(name string, n int, t wit.Type, v any) error {
	return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
		Symbol(name).
		Detail("argument %d: cannot pass %T as %s", n, v, witTypeName(t)).
		Build()
}

func (i *Instance) Close(ctx context.Context) error {
	return i.inst.Close(ctx)
}
