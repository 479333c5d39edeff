package engine

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/internal/wasmbin"
	"github.com/wippyai/emhost/sysstub"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

func types(vs ...api.ValueType) []api.ValueType {
	return vs
}

func funcImport(module, name string, params, results []api.ValueType) wasmbin.Import {
	return wasmbin.Import{
		Module: module,
		Name:   name,
		Kind:   wasmbin.KindFunc,
		Type:   wasmbin.FuncType{Params: params, Results: results},
	}
}

func TestLink_Resolves(t *testing.T) {
	imports := []wasmbin.Import{
		funcImport("env", "invoke_vi", types(i32, i32), nil),
		funcImport("env", "invoke_iii", types(i32, i32, i32), types(i32)),
		funcImport("env", "invoke_vi", types(i32, i32), nil),
		funcImport("env", "invoke_iiiiiiiiiiiiii", types(i32, i32, i32, i32, i32, i32, i32, i32, i32, i32, i32, i32, i32, i32), types(i32)),
		funcImport("env", "__cxa_throw", types(i32, i32, i32), nil),
		funcImport("env", "__cxa_find_matching_catch_6", types(i32, i32, i32, i32), types(i32)),
		funcImport("env", "emscripten_date_now", nil, types(f64)),
		funcImport("env", "_localtime_js", types(i64, i32), nil),
		funcImport("env", "__syscall_openat", types(i32, i32, i32, i32), types(i32)),
		funcImport("env", "__syscall_ioctl", types(i32, i32, i32), types(i32)),
		funcImport("wasi_snapshot_preview1", "fd_write", types(i32, i32, i32, i32), types(i32)),
	}

	plan, err := Link(imports, Config{WASI: true})
	require.NoError(t, err)
	assert.True(t, plan.WASI)
	assert.Len(t, plan.Bindings, len(imports))
	assert.Len(t, plan.Env(), len(imports)-1)

	// Duplicates and the unsupported arity get no helper.
	var names []string
	for _, sig := range plan.Trampolines {
		names = append(names, sig.Name)
	}
	assert.Equal(t, []string{"invoke_iii", "invoke_vi"}, names)

	groups := map[string]Group{}
	for _, b := range plan.Bindings {
		groups[b.Name] = b.Group
	}
	assert.Equal(t, GroupDispatch, groups["invoke_iiiiiiiiiiiiii"])
	assert.Equal(t, GroupException, groups["__cxa_throw"])
	assert.Equal(t, GroupTime, groups["_localtime_js"])
	assert.Equal(t, GroupSyscall, groups["__syscall_ioctl"])
	assert.Equal(t, GroupWASI, groups["fd_write"])
}

func TestLink_MissingImports(t *testing.T) {
	imports := []wasmbin.Import{
		funcImport("env", "invoke_iiiiiiiiiiiiiii", types(i32), types(i32)),
		funcImport("env", "invoke_ii", types(i32), nil),
		funcImport("env", "emscripten_asm_const_int", types(i32, i32, i32), types(i32)),
		funcImport("env", "__cxa_throw", types(i32, i32), nil),
		funcImport("env", "__syscall_openat", types(i32, i32, i32, i32), types(i64)),
		funcImport("env", "invoke_vi", types(i32, i32), nil),
		funcImport("wasi_snapshot_preview1", "fd_write", types(i32, i32, i32, i32), types(i32)),
		funcImport("GOT.mem", "__heap_base", nil, nil),
		{Module: "env", Name: "memory", Kind: wasmbin.KindMemory},
	}

	_, err := Link(imports, Config{})
	require.Error(t, err)

	var missing *errors.MissingImportsError
	require.True(t, stderrors.As(err, &missing))
	require.Len(t, missing.Imports, 8)

	reasons := map[string]string{}
	for _, m := range missing.Imports {
		reasons[m.Namespace+"."+m.Name] = m.Reason
	}
	assert.Equal(t, "no binding", reasons["env.invoke_iiiiiiiiiiiiiii"])
	assert.Equal(t, "type mismatch: declared (i32) -> (), host provides (i32, i32) -> (i32)", reasons["env.invoke_ii"])
	assert.Equal(t, "no binding", reasons["env.emscripten_asm_const_int"])
	assert.Equal(t, "type mismatch: declared (i32, i32) -> (), host provides (i32, i32, i32) -> ()", reasons["env.__cxa_throw"])
	assert.Contains(t, reasons["env.__syscall_openat"], "type mismatch")
	assert.Equal(t, "WASI disabled", reasons["wasi_snapshot_preview1.fd_write"])
	assert.Equal(t, "unknown namespace", reasons["GOT.mem.__heap_base"])
	assert.Equal(t, "unsupported import kind memory", reasons["env.memory"])

	// Ordered by namespace then name.
	assert.Equal(t, "GOT.mem", missing.Imports[0].Namespace)
	assert.Equal(t, "__cxa_throw", missing.Imports[1].Name)
	assert.Contains(t, err.Error(), "missing 8 host function(s)")
}

func TestLink_DeriveTrampolines(t *testing.T) {
	imports := []wasmbin.Import{
		funcImport("env", "invoke_jjj", types(i32, i64, i64), types(i64)),
	}

	_, err := Link(imports, Config{})
	require.Error(t, err)

	plan, err := Link(imports, Config{DeriveTrampolines: true})
	require.NoError(t, err)
	require.Len(t, plan.Trampolines, 1)
	assert.Equal(t, "jjj", plan.Trampolines[0].Code())

	_, err = Link([]wasmbin.Import{funcImport("env", "invoke_x", types(i32), nil)}, Config{DeriveTrampolines: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown result letter")
}

func TestCatalogue(t *testing.T) {
	cat := Catalogue()

	byName := map[string]HostFunction{}
	for _, fn := range cat {
		byName[fn.Name] = fn
	}

	for _, sig := range abi.Catalogue() {
		fn, ok := byName[sig.Name]
		require.True(t, ok, sig.Name)
		assert.Equal(t, GroupDispatch, fn.Group)
	}
	for _, stub := range sysstub.Stubs() {
		fn, ok := byName[stub.Name]
		require.True(t, ok, stub.Name)
		assert.Equal(t, "(declared) -> (i32)", fn.Signature)
	}
	assert.Equal(t, "(i32, i32, i32) -> ()", byName["__cxa_throw"].Signature)
	assert.Equal(t, "() -> (f64)", byName["emscripten_date_now"].Signature)

	for i := 1; i < len(cat); i++ {
		if cat[i-1].Group == cat[i].Group {
			assert.Less(t, cat[i-1].Name, cat[i].Name)
		} else {
			assert.Less(t, cat[i-1].Group, cat[i].Group)
		}
	}
}
