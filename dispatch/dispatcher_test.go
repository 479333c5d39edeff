package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
	"github.com/wippyai/emhost/internal/wasmbin"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

func mustSig(t *testing.T, name string) abi.Signature {
	t.Helper()
	sig, err := abi.ParseSignature(name)
	require.NoError(t, err)
	return sig
}

// fakeTable serves callees from a map; slots below size without a callee
// are empty.
type fakeTable struct {
	slots       map[uint32]func(args []uint64) (uint64, error)
	lastArgs    []uint64
	size        uint32
	calls       int
	unavailable bool
}

func (f *fakeTable) Available() bool { return !f.unavailable }

func (f *fakeTable) Inspect(_ context.Context, index uint32) (Slot, error) {
	if index >= f.size {
		return SlotOutOfRange, nil
	}
	if _, ok := f.slots[index]; !ok {
		return SlotEmpty, nil
	}
	return SlotCallable, nil
}

func (f *fakeTable) Call(_ context.Context, _ abi.Signature, index uint32, args []uint64) (uint64, error) {
	f.calls++
	f.lastArgs = append([]uint64(nil), args...)
	return f.slots[index](args)
}

func TestInvoke_Unavailable(t *testing.T) {
	d := New(Options{})
	m := NewMarshaler(mustSig(t, "invoke_ii"))

	for name, table := range map[string]Table{
		"nil":         nil,
		"unavailable": &fakeTable{unavailable: true},
		"no module":   NewModuleTable(nil),
	} {
		t.Run(name, func(t *testing.T) {
			stack := []uint64{0, 5}
			out, _ := d.Invoke(context.Background(), table, m, stack)
			assert.Equal(t, abi.CodeUnavailable, out.Code)
			assert.Zero(t, stack[0])
			assert.True(t, errors.HasKind(out.Err, errors.KindNotInitialized))
		})
	}
}

func TestInvoke_OutOfRange(t *testing.T) {
	d := New(Options{})
	table := &fakeTable{size: 2, slots: map[uint32]func([]uint64) (uint64, error){
		1: func([]uint64) (uint64, error) { return 9, nil },
	}}

	for _, name := range []string{"invoke_ii", "invoke_ji", "invoke_fi", "invoke_di", "invoke_vi"} {
		t.Run(name, func(t *testing.T) {
			stack := []uint64{2, 0xabc}
			out, _ := d.Invoke(context.Background(), table, NewMarshaler(mustSig(t, name)), stack)
			assert.Equal(t, abi.CodeOutOfBounds, out.Code)
			assert.Zero(t, out.Value)
			if name != "invoke_vi" {
				assert.Zero(t, stack[0])
			}
		})
	}
	assert.Zero(t, table.calls)
}

func TestInvoke_EmptySlot(t *testing.T) {
	d := New(Options{})
	table := &fakeTable{size: 4}
	stack := []uint64{3}
	out, _ := d.Invoke(context.Background(), table, NewMarshaler(mustSig(t, "invoke_i")), stack)
	assert.Equal(t, abi.CodeNotCallable, out.Code)
	assert.Equal(t, "[dispatch] not_callable at invoke_i: table slot 3 is empty", out.Err.Error())
}

func TestInvoke_UnsupportedArity(t *testing.T) {
	d := New(Options{})
	table := &fakeTable{size: 1, slots: map[uint32]func([]uint64) (uint64, error){
		0: func([]uint64) (uint64, error) { return 77, nil },
	}}

	for _, name := range []string{"invoke_iiiiiiiiiiiiii", "invoke_viiiiiiiiiiiii"} {
		sig, ok := abi.Lookup(name)
		require.True(t, ok)
		stack := make([]uint64, 14)
		for i := range stack[1:] {
			stack[i+1] = uint64(i + 1)
		}

		out, _ := d.Invoke(context.Background(), table, NewMarshaler(sig), stack)
		assert.Equal(t, abi.CodeUnsupportedArity, out.Code)
		assert.Zero(t, stack[0])

		// Arity is known before the table is consulted.
		stack[0] = 40
		out, _ = d.Invoke(context.Background(), table, NewMarshaler(sig), stack)
		assert.Equal(t, abi.CodeUnsupportedArity, out.Code, "out of range index")

		out, _ = d.Invoke(context.Background(), nil, NewMarshaler(sig), stack)
		assert.Equal(t, abi.CodeUnsupportedArity, out.Code, "no table")
	}
	assert.Zero(t, table.calls, "no callable may be invoked")
	assert.Equal(t, uint64(6), d.Diagnostics().Count(abi.CodeUnsupportedArity))
	assert.Zero(t, d.Diagnostics().Count(abi.CodeOutOfBounds))
}

func TestInvoke_Placement(t *testing.T) {
	d := New(Options{})
	table := &fakeTable{size: 1, slots: map[uint32]func([]uint64) (uint64, error){
		0: func(args []uint64) (uint64, error) { return 0xffffffff_00000001, nil },
	}}

	const wide = uint64(0x8000_0000_dead_beef)
	stack := []uint64{0, 0xffffffff_00000007, wide, 0x1_3fc00000, math.Float64bits(-2.5)}
	out, _ := d.Invoke(context.Background(), table, NewMarshaler(mustSig(t, "invoke_iijfd")), stack)
	require.True(t, out.OK())

	assert.Equal(t, []uint64{7, wide, 0x3fc00000, math.Float64bits(-2.5)}, table.lastArgs)
	assert.Equal(t, uint64(1), stack[0], "i32 result keeps only its low word")
	assert.Equal(t, uint64(1), out.Value)
}

func TestInvoke_Faults(t *testing.T) {
	tests := []struct {
		err       error
		name      string
		code      abi.Code
		escalates bool
	}{
		{name: "host fault", err: stderrors.New("boom"), code: abi.CodeHostFault},
		{name: "trap", err: fmt.Errorf("wasm error: unreachable"), code: abi.CodeHostFault},
		{name: "propagated", err: fmt.Errorf("%w (recovered by wazero)", &exception.PropagatedError{Op: "__cxa_throw", Payload: 8}), code: abi.CodePropagated},
		{name: "exit", err: sys.NewExitError(3), code: abi.CodeExit, escalates: true},
		{name: "abort", err: fmt.Errorf("%w (recovered by wazero)", errors.Abort("abort", "")), code: abi.CodeAbort, escalates: true},
		{name: "type mismatch", err: fmt.Errorf("wasm error: indirect call type mismatch"), code: abi.CodeTypeMismatch},
		{name: "table access", err: fmt.Errorf("wasm error: invalid table access"), code: abi.CodeNotCallable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{})
			table := &fakeTable{size: 1, slots: map[uint32]func([]uint64) (uint64, error){
				0: func([]uint64) (uint64, error) { return 5, tt.err },
			}}
			stack := []uint64{0, 1}
			out, _ := d.Invoke(context.Background(), table, NewMarshaler(mustSig(t, "invoke_ii")), stack)
			assert.Equal(t, tt.code, out.Code)
			assert.Zero(t, stack[0])
			assert.Equal(t, tt.escalates, d.Escalates(out))
		})
	}
}

func TestEscalates_Strict(t *testing.T) {
	out := abi.Fail(abi.CodeTypeMismatch, nil)
	assert.False(t, New(Options{}).Escalates(out))
	assert.True(t, New(Options{Strict: true}).Escalates(out))
	assert.False(t, New(Options{Strict: true}).Escalates(abi.Fail(abi.CodePropagated, nil)))
}

func TestDiagnostics(t *testing.T) {
	d := New(Options{Depth: 2})
	table := &fakeTable{size: 8}
	m := NewMarshaler(mustSig(t, "invoke_v"))

	_, first := d.Invoke(context.Background(), table, m, []uint64{3})
	assert.True(t, first)
	_, first = d.Invoke(context.Background(), table, m, []uint64{3})
	assert.False(t, first, "second fault on the same slot")
	_, first = d.Invoke(context.Background(), table, m, []uint64{100})
	assert.True(t, first)

	diag := d.Diagnostics()
	assert.Equal(t, uint64(2), diag.Count(abi.CodeNotCallable))
	assert.Equal(t, uint64(1), diag.Count(abi.CodeOutOfBounds))
	assert.Equal(t, map[string]uint64{"not_callable": 2, "out_of_bounds": 1}, diag.Counts())
	assert.Equal(t, uint(2), diag.WarnedSlots())

	recent := diag.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, uint32(3), recent[0].Index)
	assert.Equal(t, uint32(100), recent[1].Index)
	assert.Equal(t, "invoke_v", recent[1].Trampoline)
}

// identityGuest has one identity function per value kind and a void
// function at slot 4; slot 5 is empty.
func identityGuest(t *testing.T, sigs ...abi.Signature) *ModuleTable {
	t.Helper()
	b := wasmbin.NewBuilder()
	var fns []uint32
	for _, vt := range []api.ValueType{i32, i64, f32, f64} {
		fns = append(fns, b.Func([]api.ValueType{vt}, []api.ValueType{vt}, nil, wasmbin.LocalGet(0)))
	}
	fns = append(fns, b.Func([]api.ValueType{i32}, nil, nil))
	b.Table(6, 0, fns...)

	m, err := wasmbin.Parse(b.Build())
	require.NoError(t, err)

	plan := wasmbin.Plan{}
	for _, sig := range sigs {
		plan.Dispatch = append(plan.Dispatch, wasmbin.DispatchHelper{
			Export: wasmbin.DispatchExport(sig.Code()),
			Callee: wasmbin.FuncType{Params: sig.CalleeParams(), Results: sig.Results()},
		})
	}
	res, err := wasmbin.Rewrite(m, plan)
	require.NoError(t, err)

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })
	mod, err := r.Instantiate(ctx, res.Binary)
	require.NoError(t, err)
	return NewModuleTable(mod)
}

func TestModuleTable_RoundTrip(t *testing.T) {
	sigs := []abi.Signature{
		mustSig(t, "invoke_ii"),
		mustSig(t, "invoke_jj"),
		mustSig(t, "invoke_ff"),
		mustSig(t, "invoke_dd"),
		mustSig(t, "invoke_vi"),
	}
	table := identityGuest(t, sigs...)
	require.True(t, table.Available())
	d := New(Options{})
	ctx := context.Background()

	tests := []struct {
		sig   abi.Signature
		in    uint64
		want  uint64
		index uint32
	}{
		{sigs[0], api.EncodeI32(-42), api.EncodeI32(-42), 0},
		{sigs[1], 0x8000_0000_0000_0001, 0x8000_0000_0000_0001, 1},
		{sigs[2], api.EncodeF32(-1.25), api.EncodeF32(-1.25), 2},
		{sigs[3], api.EncodeF64(math.Pi), api.EncodeF64(math.Pi), 3},
	}
	for _, tt := range tests {
		t.Run(tt.sig.Name, func(t *testing.T) {
			stack := []uint64{uint64(tt.index), tt.in}
			out, _ := d.Invoke(ctx, table, MarshalerFor(tt.sig), stack)
			require.True(t, out.OK(), "%v", out.Err)
			assert.Equal(t, tt.want, stack[0])
		})
	}

	out, _ := d.Invoke(ctx, table, MarshalerFor(sigs[4]), []uint64{4, 1})
	assert.True(t, out.OK())

	stack := []uint64{5, 1}
	out, _ = d.Invoke(ctx, table, MarshalerFor(sigs[0]), stack)
	assert.Equal(t, abi.CodeNotCallable, out.Code)

	stack = []uint64{6, 1}
	out, _ = d.Invoke(ctx, table, MarshalerFor(sigs[0]), stack)
	assert.Equal(t, abi.CodeOutOfBounds, out.Code)
	assert.Zero(t, stack[0])
}

func TestModuleTable_TypeMismatch(t *testing.T) {
	sig := mustSig(t, "invoke_jj")
	table := identityGuest(t, sig)
	d := New(Options{})

	// Slot 0 holds the i32 identity.
	stack := []uint64{0, 1}
	out, _ := d.Invoke(context.Background(), table, MarshalerFor(sig), stack)
	assert.Equal(t, abi.CodeTypeMismatch, out.Code)
	assert.Zero(t, stack[0])
	assert.True(t, errors.HasKind(out.Err, errors.KindTypeMismatch))
}

func TestMarshaler(t *testing.T) {
	m := NewMarshaler(mustSig(t, "invoke_vjif"))
	args := m.Args(nil, []uint64{9, math.MaxUint64, math.MaxUint64, math.MaxUint64})
	assert.Equal(t, []uint64{math.MaxUint64, math.MaxUint32, math.MaxUint32}, args)

	stack := []uint64{9}
	m.Store(stack, 1)
	assert.Equal(t, uint64(9), stack[0], "void store writes nothing")

	assert.Same(t, MarshalerFor(m.Signature()), MarshalerFor(m.Signature()))
}
