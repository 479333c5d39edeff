package wasmbin

import (
	"math"

	"github.com/tetratelabs/wazero/api"
)

// Builder assembles small binary modules. It is used to synthesize guests
// that look like toolchain output: env imports, a function table, memory
// and exported entry points.
type Builder struct {
	types   []FuncType
	imports []builderImport
	funcs   []builderFunc
	globals []builderGlobal
	exports []Export
	elems   []uint32

	elemOffset uint32
	tableMin   uint32
	memPages   uint32
	hasTable   bool
	hasMemory  bool
}

type builderImport struct {
	module string
	name   string
	typ    uint32
}

type builderFunc struct {
	locals []api.ValueType
	body   []byte
	typ    uint32
}

type builderGlobal struct {
	init    int64
	valType api.ValueType
	mutable bool
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Type returns the index of a function type, adding it when new.
func (b *Builder) Type(params, results []api.ValueType) uint32 {
	ft := FuncType{Params: params, Results: results}
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// All imports must be declared before the first Func.
func (b *Builder) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmbin: ImportFunc after Func")
	}
	b.imports = append(b.imports, builderImport{module: module, name: name, typ: b.Type(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. body is the instruction
// sequence without the trailing end opcode.
func (b *Builder) Func(params, results, locals []api.ValueType, body ...[]byte) uint32 {
	var code []byte
	for _, part := range body {
		code = append(code, part...)
	}
	b.funcs = append(b.funcs, builderFunc{
		typ:    b.Type(params, results),
		locals: locals,
		body:   append(code, 0x0B),
	})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// ExportFunc exports a function by index.
func (b *Builder) ExportFunc(name string, index uint32) *Builder {
	b.exports = append(b.exports, Export{Name: name, Kind: KindFunc, Index: index})
	return b
}

// Table defines table 0 holding funcs starting at slot offset. size is
// raised to fit the elements.
func (b *Builder) Table(size, offset uint32, funcs ...uint32) *Builder {
	b.hasTable = true
	b.elemOffset = offset
	b.elems = funcs
	if need := offset + uint32(len(funcs)); size < need {
		size = need
	}
	b.tableMin = size
	return b
}

// Memory defines memory 0 with the given page count and exports it as
// "memory".
func (b *Builder) Memory(pages uint32) *Builder {
	b.hasMemory = true
	b.memPages = pages
	b.exports = append(b.exports, Export{Name: "memory", Kind: KindMemory})
	return b
}

// Global defines a global initialized with a constant and returns its index.
func (b *Builder) Global(valType api.ValueType, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, builderGlobal{valType: valType, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// ExportGlobal exports a global by index.
func (b *Builder) ExportGlobal(name string, index uint32) *Builder {
	b.exports = append(b.exports, Export{Name: name, Kind: KindGlobal, Index: index})
	return b
}

// Build encodes the module.
func (b *Builder) Build() []byte {
	m := &Module{}

	if len(b.types) > 0 {
		p := AppendULEB128(nil, uint32(len(b.types)))
		for _, t := range b.types {
			p = t.encode(p)
		}
		m.Sections = append(m.Sections, Section{ID: SectionType, Payload: p})
	}

	if len(b.imports) > 0 {
		p := AppendULEB128(nil, uint32(len(b.imports)))
		for _, imp := range b.imports {
			p = appendName(p, imp.module)
			p = appendName(p, imp.name)
			p = append(p, KindFunc)
			p = AppendULEB128(p, imp.typ)
		}
		m.Sections = append(m.Sections, Section{ID: SectionImport, Payload: p})
	}

	if len(b.funcs) > 0 {
		p := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			p = AppendULEB128(p, f.typ)
		}
		m.Sections = append(m.Sections, Section{ID: SectionFunction, Payload: p})
	}

	if b.hasTable {
		p := []byte{0x01, ValFuncRef, 0x00}
		p = AppendULEB128(p, b.tableMin)
		m.Sections = append(m.Sections, Section{ID: SectionTable, Payload: p})
	}

	if b.hasMemory {
		p := []byte{0x01, 0x00}
		p = AppendULEB128(p, b.memPages)
		m.Sections = append(m.Sections, Section{ID: SectionMemory, Payload: p})
	}

	if len(b.globals) > 0 {
		p := AppendULEB128(nil, uint32(len(b.globals)))
		for _, g := range b.globals {
			p = append(p, ValTypeToWasm(g.valType))
			if g.mutable {
				p = append(p, 0x01)
			} else {
				p = append(p, 0x00)
			}
			p = append(p, constExpr(g.valType, g.init)...)
			p = append(p, 0x0B)
		}
		m.Sections = append(m.Sections, Section{ID: SectionGlobal, Payload: p})
	}

	if len(b.exports) > 0 {
		p := AppendULEB128(nil, uint32(len(b.exports)))
		for _, e := range b.exports {
			p = appendName(p, e.Name)
			p = append(p, e.Kind)
			p = AppendULEB128(p, e.Index)
		}
		m.Sections = append(m.Sections, Section{ID: SectionExport, Payload: p})
	}

	if len(b.elems) > 0 {
		p := []byte{0x01, 0x00}
		p = append(p, I32Const(int32(b.elemOffset))...)
		p = append(p, 0x0B)
		p = AppendULEB128(p, uint32(len(b.elems)))
		for _, idx := range b.elems {
			p = AppendULEB128(p, idx)
		}
		m.Sections = append(m.Sections, Section{ID: SectionElement, Payload: p})
	}

	if len(b.funcs) > 0 {
		p := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := AppendULEB128(nil, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = append(body, 0x01, ValTypeToWasm(l))
			}
			body = append(body, f.body...)
			p = AppendULEB128(p, uint32(len(body)))
			p = append(p, body...)
		}
		m.Sections = append(m.Sections, Section{ID: SectionCode, Payload: p})
	}

	return m.Encode()
}

func appendName(dst []byte, name string) []byte {
	dst = AppendULEB128(dst, uint32(len(name)))
	return append(dst, name...)
}

func constExpr(vt api.ValueType, v int64) []byte {
	switch vt {
	case api.ValueTypeI64:
		return I64Const(v)
	case api.ValueTypeF32:
		return F32Const(float32(v))
	case api.ValueTypeF64:
		return F64Const(float64(v))
	default:
		return I32Const(int32(v))
	}
}

// Instruction encoders for Builder bodies.

func LocalGet(i uint32) []byte {
	return AppendULEB128([]byte{0x20}, i)
}

func LocalSet(i uint32) []byte {
	return AppendULEB128([]byte{0x21}, i)
}

func GlobalGet(i uint32) []byte {
	return AppendULEB128([]byte{0x23}, i)
}

func GlobalSet(i uint32) []byte {
	return AppendULEB128([]byte{0x24}, i)
}

func Call(fn uint32) []byte {
	return AppendULEB128([]byte{0x10}, fn)
}

func Drop() []byte {
	return []byte{0x1A}
}

func I32Const(v int32) []byte {
	return append([]byte{0x41}, EncodeSLEB128(v)...)
}

func I64Const(v int64) []byte {
	return append([]byte{0x42}, EncodeSLEB128(v)...)
}

func F32Const(v float32) []byte {
	bits := math.Float32bits(v)
	return []byte{0x43, byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func F64Const(v float64) []byte {
	bits := math.Float64bits(v)
	out := []byte{0x44}
	for i := 0; i < 8; i++ {
		out = append(out, byte(bits>>(8*i)))
	}
	return out
}

// I32Store stores an i32 at address+offset with natural alignment.
func I32Store(offset uint32) []byte {
	return AppendULEB128([]byte{0x36, 0x02}, offset)
}

// I32Load loads an i32 from address+offset with natural alignment.
func I32Load(offset uint32) []byte {
	return AppendULEB128([]byte{0x28, 0x02}, offset)
}
