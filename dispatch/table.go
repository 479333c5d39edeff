package dispatch

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/internal/wasmbin"
)

// Slot is the state of one call table entry.
type Slot uint8

const (
	SlotOutOfRange Slot = iota
	SlotEmpty
	SlotCallable
)

func (s Slot) String() string {
	switch s {
	case SlotOutOfRange:
		return "out_of_range"
	case SlotEmpty:
		return "empty"
	case SlotCallable:
		return "callable"
	default:
		return "unknown"
	}
}

// Table is the dispatcher's read-only view of a call table.
type Table interface {
	// Available reports whether the table can be used at all.
	Available() bool

	// Inspect classifies the slot at index.
	Inspect(ctx context.Context, index uint32) (Slot, error)

	// Call invokes the entry at index with args already placed for sig and
	// returns the raw result word (zero for void).
	Call(ctx context.Context, sig abi.Signature, index uint32, args []uint64) (uint64, error)
}

// Unwinder is implemented by tables that can restore guest state after a
// call was abandoned midway.
type Unwinder interface {
	Save(ctx context.Context) uint64
	Restore(ctx context.Context, mark uint64)
}

// Stack save and restore exports, newest toolchain names first.
var (
	stackSaveExports    = []string{"emscripten_stack_get_current", "stackSave"}
	stackRestoreExports = []string{"_emscripten_stack_restore", "stackRestore"}
)

// ModuleTable is a Table over a guest instance that was rewritten to export
// the inspector and dispatch helpers.
//
// Helpers are api.Function values, which are not reentrant; a guest that
// calls back into a trampoline from a dispatched callee needs a fresh one
// per nesting level, so each helper keeps a free list.
type ModuleTable struct {
	mod     api.Module
	inspect api.Function
	free    map[string][]api.Function
	save    string
	restore string
}

// NewModuleTable binds to the helpers of a rewritten guest. The table is
// unavailable when the guest had no function table to rewrite.
func NewModuleTable(mod api.Module) *ModuleTable {
	t := &ModuleTable{mod: mod, free: make(map[string][]api.Function)}
	if mod != nil {
		t.inspect = mod.ExportedFunction(wasmbin.InspectExport)
		t.save = firstExport(mod, stackSaveExports)
		t.restore = firstExport(mod, stackRestoreExports)
	}
	return t
}

func firstExport(mod api.Module, names []string) string {
	for _, name := range names {
		if mod.ExportedFunction(name) != nil {
			return name
		}
	}
	return ""
}

// Available implements Table.
func (t *ModuleTable) Available() bool {
	return t.mod != nil && t.inspect != nil && !t.mod.IsClosed()
}

// Inspect implements Table.
func (t *ModuleTable) Inspect(ctx context.Context, index uint32) (Slot, error) {
	out, err := t.inspect.Call(ctx, api.EncodeU32(index))
	if err != nil {
		return SlotOutOfRange, err
	}
	switch api.DecodeU32(out[0]) {
	case wasmbin.SlotCallable:
		return SlotCallable, nil
	case wasmbin.SlotEmpty:
		return SlotEmpty, nil
	default:
		return SlotOutOfRange, nil
	}
}

// Call implements Table.
func (t *ModuleTable) Call(ctx context.Context, sig abi.Signature, index uint32, args []uint64) (uint64, error) {
	name := wasmbin.DispatchExport(sig.Code())
	fn, err := t.acquire(name)
	if err != nil {
		return 0, err
	}
	defer t.release(name, fn)

	size := len(args) + 1
	if size < 1+len(sig.Results()) {
		size = 1 + len(sig.Results())
	}
	stack := make([]uint64, size)
	stack[0] = api.EncodeU32(index)
	copy(stack[1:], args)

	if err := fn.CallWithStack(ctx, stack); err != nil {
		return 0, err
	}
	if sig.Result == abi.Void {
		return 0, nil
	}
	return stack[0], nil
}

func (t *ModuleTable) acquire(name string) (api.Function, error) {
	if list := t.free[name]; len(list) > 0 {
		fn := list[len(list)-1]
		t.free[name] = list[:len(list)-1]
		return fn, nil
	}
	fn := t.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest has no %s export", name)
	}
	return fn, nil
}

func (t *ModuleTable) release(name string, fn api.Function) {
	t.free[name] = append(t.free[name], fn)
}

// Save implements Unwinder. It returns the guest stack pointer, or zero
// when the guest does not export stack save helpers.
func (t *ModuleTable) Save(ctx context.Context) uint64 {
	if t.save == "" || t.restore == "" {
		return 0
	}
	out, err := t.call(ctx, t.save)
	if err != nil || len(out) == 0 {
		return 0
	}
	return out[0]
}

// Restore implements Unwinder.
func (t *ModuleTable) Restore(ctx context.Context, mark uint64) {
	if t.restore == "" || mark == 0 {
		return
	}
	_, _ = t.call(ctx, t.restore, mark)
}

// call invokes a plain guest export through the free list.
func (t *ModuleTable) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, err := t.acquire(name)
	if err != nil {
		return nil, err
	}
	defer t.release(name, fn)
	return fn.Call(ctx, params...)
}

// CallExport invokes a guest export by name if it exists. It reports
// whether the export was found.
func (t *ModuleTable) CallExport(ctx context.Context, name string, params ...uint64) (bool, error) {
	if t.mod == nil || t.mod.ExportedFunction(name) == nil {
		return false, nil
	}
	_, err := t.call(ctx, name, params...)
	return true, err
}
