package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
	"github.com/wippyai/emhost/internal/wasmbin"
)

var i32 = api.ValueTypeI32

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// testGuest exports arithmetic, a bump allocator and the process exits a
// C program reaches.
func testGuest() []byte {
	b := wasmbin.NewBuilder()
	exit := b.ImportFunc("env", "exit", i32s(1), nil)
	throw := b.ImportFunc("env", "__cxa_throw", i32s(3), nil)
	abort := b.ImportFunc("env", "abort", nil, nil)
	b.Memory(1)

	heap := b.Global(i32, true, 1024)
	freed := b.Global(i32, true, 0)
	b.ExportGlobal("freed", freed)

	b.ExportFunc("add", b.Func(i32s(2), i32s(1), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), []byte{0x6A}))
	b.ExportFunc("neg", b.Func(i32s(1), i32s(1), nil,
		wasmbin.I32Const(0), wasmbin.LocalGet(0), []byte{0x6B}))
	b.ExportFunc("echo", b.Func(i32s(1), i32s(1), nil, wasmbin.LocalGet(0)))
	b.ExportFunc("null", b.Func(nil, i32s(1), nil, wasmbin.I32Const(0)))
	b.ExportFunc("malloc", b.Func(i32s(1), i32s(1), nil,
		wasmbin.GlobalGet(heap),
		wasmbin.GlobalGet(heap), wasmbin.LocalGet(0), []byte{0x6A}, wasmbin.GlobalSet(heap)))
	b.ExportFunc("free", b.Func(i32s(1), nil, nil,
		wasmbin.GlobalGet(freed), wasmbin.I32Const(1), []byte{0x6A}, wasmbin.GlobalSet(freed)))
	b.ExportFunc("quit", b.Func(nil, nil, nil, wasmbin.I32Const(3), wasmbin.Call(exit)))
	b.ExportFunc("boom", b.Func(nil, nil, nil,
		wasmbin.I32Const(64), wasmbin.I32Const(8), wasmbin.I32Const(0), wasmbin.Call(throw)))
	b.ExportFunc("crash", b.Func(nil, nil, nil, wasmbin.Call(abort)))
	return b.Build()
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := New(ctx, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return rt
}

func newTestInstance(t *testing.T, witText string) *Instance {
	t.Helper()
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.LoadWithWIT(ctx, testGuest(), witText)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Close(ctx) })

	inst, err := mod.Instantiate(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

func TestRuntime_CallCoreTypes(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, "")

	result, err := inst.Call(ctx, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), result)

	result, err = inst.Call(ctx, "neg", int32(7))
	require.NoError(t, err)
	assert.Equal(t, int32(-7), result)

	result, err = inst.Call(ctx, "free", 16)
	require.NoError(t, err)
	assert.Nil(t, result)

	raw, err := inst.CallRaw(ctx, "add", 40, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, raw)
}

func TestRuntime_CallArgumentErrors(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, "")

	_, err := inst.Call(ctx, "add", 1)
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindInvalidInput))

	_, err = inst.Call(ctx, "add", "one", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot pass string as s32")

	_, err = inst.Call(ctx, "add", int64(1)<<40, 2)
	require.Error(t, err)

	_, err = inst.Call(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindNotFound))
}

func TestRuntime_WITTypes(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, `
		export neg: func(x: s8) -> s8;
		add: func(a: u32, b: u32) -> u32;
		echo: func(s: string) -> string;
		null: func() -> string;
	`)

	result, err := inst.Call(ctx, "neg", int8(5))
	require.NoError(t, err)
	assert.Equal(t, int8(-5), result)

	result, err = inst.Call(ctx, "add", uint32(0xffffffff), uint32(2))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), result)

	_, err = inst.Call(ctx, "add", -1, 0)
	require.Error(t, err, "negative value for u32")

	result, err = inst.Call(ctx, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	freed := inst.inst.Module().ExportedGlobal("freed").Get()
	assert.Equal(t, uint64(1), freed, "string argument released")

	result, err = inst.Call(ctx, "null")
	require.NoError(t, err)
	assert.Equal(t, "", result)
}

func TestRuntime_WITMismatch(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, "add: func(a: s64, b: s32) -> s32;")

	_, err := inst.Call(ctx, "add", 1, 2)
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindTypeMismatch))

	_, err = inst.CallWithTypes(ctx, "add",
		[]wit.Type{wit.S32{}, wit.S32{}}, []wit.Type{wit.S32{}, wit.S32{}}, 1, 2)
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindUnsupported))
}

func TestRuntime_ParseWIT(t *testing.T) {
	funcs, err := parseWitFunctions(`
		interface api {
			greet: func(name: string) -> string;
			tick: func();
			mix: func(a: u8, b: f64, c: bool) -> s64;
		}
	`)
	require.NoError(t, err)
	require.Len(t, funcs, 3)

	assert.Equal(t, []wit.Type{wit.String{}}, funcs["greet"].params)
	assert.Equal(t, []wit.Type{wit.String{}}, funcs["greet"].results)
	assert.Empty(t, funcs["tick"].params)
	assert.Empty(t, funcs["tick"].results)
	assert.Equal(t, []wit.Type{wit.U8{}, wit.F64{}, wit.Bool{}}, funcs["mix"].params)
	assert.Equal(t, []wit.Type{wit.S64{}}, funcs["mix"].results)

	_, err = parseWitFunctions("no functions here")
	assert.Error(t, err)

	_, err = parseWitFunctions("f: func(xs: list<u8>);")
	assert.Error(t, err)
}

func TestRuntime_Exports(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.LoadWithWIT(ctx, testGuest(), "echo: func(s: string) -> string;")
	require.NoError(t, err)
	defer mod.Close(ctx)

	byName := map[string]Export{}
	for _, exp := range mod.Exports() {
		byName[exp.Name] = exp
	}
	assert.True(t, byName["echo"].Declared)
	assert.False(t, byName["add"].Declared)
	assert.Equal(t, []wit.Type{wit.S32{}, wit.S32{}}, byName["add"].Params)
	for name := range byName {
		assert.NotContains(t, name, "__emhost_")
	}

	imports := map[string]bool{}
	for _, b := range mod.Imports() {
		imports[b.Name] = true
	}
	assert.True(t, imports["exit"])
	assert.True(t, imports["__cxa_throw"])
}

func TestRuntime_Termination(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, "")

	_, err := inst.Call(ctx, "quit")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrExit))
	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), code)

	inst = newTestInstance(t, "")
	_, err = inst.Call(ctx, "boom")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrUncaughtException))
	var term *TerminationError
	require.True(t, stderrors.As(err, &term))
	assert.Equal(t, uint32(64), term.Payload)
	assert.Equal(t, uint32(8), term.TypeDescriptor)
	assert.Equal(t, exception.Thrown, inst.ExceptionState())
	_, ok = ExitCode(err)
	assert.False(t, ok)

	_, err = inst.Call(ctx, "crash")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrAbort))
}

func TestRuntime_MissingImports(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	b := wasmbin.NewBuilder()
	b.ImportFunc("env", "emscripten_asm_const_int", i32s(3), i32s(1))
	b.ImportFunc("env", "invoke_vi", i32s(2), nil)

	_, err := rt.Load(ctx, b.Build())
	require.Error(t, err)

	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	require.Len(t, missing.Imports, 1)
	assert.Equal(t, "emscripten_asm_const_int", missing.Imports[0].Name)
}

func TestRuntime_DisableWASI(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, Options{DisableWASI: true})
	require.NoError(t, err)
	defer rt.Close(ctx)

	b := wasmbin.NewBuilder()
	b.ImportFunc("wasi_snapshot_preview1", "fd_write", i32s(4), i32s(1))

	_, err = rt.Load(ctx, b.Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WASI disabled")
}
