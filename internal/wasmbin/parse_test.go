package wasmbin

import (
	"testing"

	"github.com/tetratelabs/wazero/api"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

func TestParse_NotWasm(t *testing.T) {
	for _, input := range [][]byte{nil, {0x00, 0x61, 0x73}, []byte("not a module at all")} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q): expected error", input)
		}
	}
}

func TestParse_Truncated(t *testing.T) {
	wasm := NewBuilder().Memory(1).Build()
	if _, err := Parse(wasm[:len(wasm)-1]); err == nil {
		t.Error("expected error for truncated section")
	}
}

func TestParse_Imports(t *testing.T) {
	b := NewBuilder()
	b.ImportFunc("env", "invoke_vi", []api.ValueType{i32, i32}, nil)
	b.ImportFunc("env", "__cxa_throw", []api.ValueType{i32, i32, i32}, nil)
	b.ImportFunc("wasi_snapshot_preview1", "fd_write", []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	fn := b.Func(nil, []api.ValueType{i64}, nil, I64Const(7))
	b.Table(4, 1, fn).ExportFunc("seven", fn).Memory(1)

	m, err := Parse(b.Build())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if m.ImportedFuncs != 3 || m.DefinedFuncs != 1 {
		t.Errorf("expected 3 imported and 1 defined funcs, got %d and %d", m.ImportedFuncs, m.DefinedFuncs)
	}
	imports := m.FuncImports()
	if len(imports) != 3 {
		t.Fatalf("expected 3 function imports, got %d", len(imports))
	}
	if imports[0].Module != "env" || imports[0].Name != "invoke_vi" {
		t.Errorf("unexpected first import %s.%s", imports[0].Module, imports[0].Name)
	}
	if len(imports[0].Type.Params) != 2 || len(imports[0].Type.Results) != 0 {
		t.Errorf("unexpected invoke_vi type %v -> %v", imports[0].Type.Params, imports[0].Type.Results)
	}
	if imports[2].Type.Results[0] != i32 {
		t.Errorf("expected fd_write to return i32")
	}
	if imports[0].TypeIndex == imports[1].TypeIndex {
		t.Error("distinct signatures must not share a type index")
	}

	if !m.HasFuncTable() {
		t.Error("expected a function table")
	}
	exp, ok := m.ExportNamed("seven")
	if !ok || exp.Kind != KindFunc || exp.Index != fn {
		t.Errorf("unexpected export %+v", exp)
	}
	if _, ok := m.ExportNamed("memory"); !ok {
		t.Error("expected memory export")
	}
}

func TestParse_NoTable(t *testing.T) {
	m, err := Parse(NewBuilder().Memory(1).Build())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.HasFuncTable() {
		t.Error("expected no function table")
	}
}

func TestParse_EncodeRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.ImportFunc("env", "emscripten_date_now", nil, []api.ValueType{f64})
	fn := b.Func(nil, nil, nil)
	wasm := b.Table(1, 0, fn).Build()

	m, err := Parse(wasm)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := m.Encode(); string(got) != string(wasm) {
		t.Error("Encode did not reproduce the input")
	}
}

func TestKindName(t *testing.T) {
	if KindName(KindMemory) != "memory" || KindName(KindGlobal) != "global" {
		t.Error("unexpected kind names")
	}
	if KindName(0x7) != "kind(0x07)" {
		t.Errorf("unexpected unknown kind name %q", KindName(0x7))
	}
}
