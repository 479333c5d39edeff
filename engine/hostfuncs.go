package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
	"github.com/wippyai/emhost/sysstub"
)

// hostFunc is one non-trampoline env import the host can satisfy.
type hostFunc struct {
	build   func(h *host, b Binding) api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
	group   Group

	// declared binds with whatever parameters the guest declares. Only the
	// results are checked.
	declared bool
}

// Exports the host calls back into, newest toolchain names first.
var (
	setThrewExports   = []string{"setThrew"}
	setTempRetExports = []string{"_emscripten_tempret_set", "setTempRet0"}
)

var hostFuncs = map[string]*hostFunc{}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}

func register(name string, group Group, params, results []api.ValueType, build func(h *host, b Binding) api.GoModuleFunc) {
	hostFuncs[name] = &hostFunc{build: build, params: params, results: results, group: group}
}

func registerDeclared(name string, group Group, results []api.ValueType, build func(h *host, b Binding) api.GoModuleFunc) {
	hostFuncs[name] = &hostFunc{build: build, results: results, group: group, declared: true}
}

func init() {
	i32 := i32s(1)
	f64 := []api.ValueType{api.ValueTypeF64}

	// C++ exceptions
	register("__cxa_throw", GroupException, i32s(3), nil, (*host).cxaThrow)
	register("__cxa_begin_catch", GroupException, i32, i32, (*host).cxaBeginCatch)
	register("__cxa_end_catch", GroupException, nil, nil, (*host).cxaEndCatch)
	register("__cxa_rethrow", GroupException, nil, nil, (*host).cxaRethrow)
	register("__resumeException", GroupException, i32, nil, (*host).resumeException)
	register("llvm_eh_typeid_for", GroupException, i32, i32, (*host).typeIDFor)
	register("__cxa_uncaught_exceptions", GroupException, nil, i32, (*host).uncaughtExceptions)
	for _, n := range []int{2, 3, 4, 6} {
		register(findMatchingCatchName(n), GroupException, i32s(n-2), i32, (*host).findMatchingCatch)
	}

	// process
	register("abort", GroupProcess, nil, nil, (*host).abort)
	register("_abort_js", GroupProcess, nil, nil, (*host).abort)
	register("exit", GroupProcess, i32, nil, (*host).exit)
	register("_emscripten_throw_longjmp", GroupProcess, nil, nil, (*host).throwLongjmp)

	// time
	register("emscripten_date_now", GroupTime, nil, f64, (*host).dateNow)
	register("emscripten_get_now", GroupTime, nil, f64, (*host).getNow)
	registerDeclared("_tzset_js", GroupTime, nil, (*host).noop)
	registerDeclared("_localtime_js", GroupTime, nil, (*host).noop)
	registerDeclared("_gmtime_js", GroupTime, nil, (*host).noop)

	// memory
	register("emscripten_resize_heap", GroupMemory, i32, i32, (*host).resizeHeap)
	register("emscripten_notify_memory_growth", GroupMemory, i32, nil, (*host).noop)
	register("emscripten_get_heap_max", GroupMemory, nil, i32, (*host).heapMax)
	register("emscripten_memcpy_js", GroupMemory, i32s(3), nil, (*host).memcpy)
	register("_emscripten_memcpy_big", GroupMemory, i32s(3), i32, (*host).memcpy)

	// syscalls
	for _, stub := range sysstub.Stubs() {
		registerDeclared(stub.Name, GroupSyscall, i32, (*host).syscall)
	}
}

func findMatchingCatchName(n int) string {
	return "__cxa_find_matching_catch_" + strconv.Itoa(n)
}

// HostFunction describes one entry of the host catalogue.
type HostFunction struct {
	Name  string
	Group Group

	// Signature is the core type, or "declared" for functions bound with
	// the guest's own parameter types.
	Signature string
}

// Catalogue lists every env import the host provides: host functions and
// the fixed trampolines, ordered by group then name.
func Catalogue() []HostFunction {
	out := make([]HostFunction, 0, len(hostFuncs)+len(abi.Catalogue()))
	for name, fn := range hostFuncs {
		sig := abi.TypesString(fn.params, fn.results)
		if fn.declared {
			sig = "(declared) -> (" + typeNames(fn.results) + ")"
		}
		out = append(out, HostFunction{Name: name, Group: fn.group, Signature: sig})
	}
	for _, sig := range abi.Catalogue() {
		out = append(out, HostFunction{
			Name:      sig.Name,
			Group:     GroupDispatch,
			Signature: abi.TypesString(sig.ImportParams(), sig.Results()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// host holds what the glue functions share across every instance of an
// engine.
type host struct {
	states *stateRegistry
	log    *zap.Logger
	now    func() time.Time
	cfg    Config
}

// state returns the calling instance's state. A host function invoked by a
// module the engine did not instantiate is a host bug, raised as a trap.
func (h *host) state(mod api.Module) *instanceState {
	st := h.states.lookup(mod)
	if st == nil {
		panic(errors.NotInitialized(errors.PhaseHost, "instance state"))
	}
	return st
}

func (h *host) noop(Binding) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {}
}

func (h *host) cxaThrow(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		st := h.state(mod)
		payload := api.DecodeU32(stack[0])
		out := st.exceptions.BeginThrow(payload, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		h.log.Debug("exception thrown",
			zap.String("instance", st.name),
			zap.Uint32("payload", payload),
			zap.Uint32("type", api.DecodeU32(stack[1])))
		panic(out.Err)
	}
}

func (h *host) cxaBeginCatch(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		st := h.state(mod)
		out := st.exceptions.BeginCatch(api.DecodeU32(stack[0]))
		stack[0] = out.Value
	}
}

func (h *host) cxaEndCatch(Binding) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, _ []uint64) {
		st := h.state(mod)
		st.exceptions.EndCatch()
		if h.cfg.SignalThrew {
			st.signal(ctx, setThrewExports, 0, 0)
		}
	}
}

func (h *host) cxaRethrow(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, _ []uint64) {
		st := h.state(mod)
		out := st.exceptions.Rethrow()
		if out.Code == abi.CodeAbort {
			panic(errors.New(errors.PhaseProcess, errors.KindAbort).
				Symbol("__cxa_rethrow").
				Detail("terminate called without an active exception").
				Cause(out.Err).
				Build())
		}
		panic(out.Err)
	}
}

func (h *host) resumeException(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		out := h.state(mod).exceptions.Resume(api.DecodeU32(stack[0]))
		panic(out.Err)
	}
}

func (h *host) findMatchingCatch(b Binding) api.GoModuleFunc {
	n := len(b.Params)
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		st := h.state(mod)
		var buf [4]uint32
		candidates := buf[:n]
		for i := range candidates {
			candidates[i] = api.DecodeU32(stack[i])
		}
		out, selector := st.exceptions.FindMatchingCatch(candidates...)
		if !out.OK() {
			h.log.Debug("find_matching_catch without an exception", zap.String("instance", st.name))
		}
		st.signal(ctx, setTempRetExports, api.EncodeU32(selector))
		stack[0] = out.Value
	}
}

func (h *host) typeIDFor(Binding) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(exception.TypeIDFor(api.DecodeU32(stack[0])))
	}
}

func (h *host) uncaughtExceptions(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(h.state(mod).exceptions.Uncaught()))
	}
}

func (h *host) abort(b Binding) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {
		panic(errors.Abort(b.Name, "native code called abort()"))
	}
}

func (h *host) throwLongjmp(b Binding) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {
		panic(errors.Abort(b.Name, "longjmp is not supported"))
	}
}

// exit closes the instance with the guest's status, the same way wazero's
// WASI proc_exit does.
func (h *host) exit(Binding) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		code := api.DecodeU32(stack[0])
		_ = mod.CloseWithExitCode(ctx, code)
		panic(sys.NewExitError(code))
	}
}

func (h *host) dateNow(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		stack[0] = api.EncodeF64(h.state(mod).dateNow(h.now()))
	}
}

func (h *host) getNow(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		stack[0] = api.EncodeF64(h.state(mod).monotonicNow(h.now()))
	}
}

// resizeHeap always refuses. The guest's allocator sees a failed sbrk and
// returns NULL.
func (h *host) resizeHeap(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		h.log.Debug("heap resize refused",
			zap.String("instance", mod.Name()),
			zap.Uint32("requested", api.DecodeU32(stack[0])))
		stack[0] = 0
	}
}

func (h *host) heapMax(Binding) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(h.state(mod).memory.Size())
	}
}

func (h *host) memcpy(b Binding) api.GoModuleFunc {
	returnsDest := len(b.Results) == 1
	return func(_ context.Context, mod api.Module, stack []uint64) {
		dst, src, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
		if err := h.state(mod).memory.Copy(dst, src, n); err != nil {
			panic(err)
		}
		if returnsDest {
			stack[0] = api.EncodeU32(dst)
		}
	}
}

func (h *host) syscall(b Binding) api.GoModuleFunc {
	stub, _ := sysstub.Lookup(b.Name)
	n := len(b.Params)
	return func(_ context.Context, mod api.Module, stack []uint64) {
		out := stub.Call(stack[:n]...)
		if !out.OK() {
			h.log.Debug("syscall stubbed", zap.String("instance", mod.Name()), zap.Error(out.Err))
		}
		stack[0] = out.Value
	}
}
