package wasmbin

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Section IDs.
const (
	SectionCustom    byte = 0x00
	SectionType      byte = 0x01
	SectionImport    byte = 0x02
	SectionFunction  byte = 0x03
	SectionTable     byte = 0x04
	SectionMemory    byte = 0x05
	SectionGlobal    byte = 0x06
	SectionExport    byte = 0x07
	SectionStart     byte = 0x08
	SectionElement   byte = 0x09
	SectionCode      byte = 0x0A
	SectionData      byte = 0x0B
	SectionDataCount byte = 0x0C
	SectionTag       byte = 0x0D
)

// External kinds used in import and export entries.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
	KindTag    byte = 0x04
)

var magicVersion = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// KindName returns the text format keyword of an external kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(0x%02x)", kind)
	}
}

// FuncType is a function signature from the type section.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether two signatures are identical.
func (t FuncType) Equal(o FuncType) bool {
	return bytes.Equal(t.Params, o.Params) && bytes.Equal(t.Results, o.Results)
}

func (t FuncType) encode(dst []byte) []byte {
	dst = append(dst, 0x60)
	dst = AppendULEB128(dst, uint32(len(t.Params)))
	for _, p := range t.Params {
		dst = append(dst, ValTypeToWasm(p))
	}
	dst = AppendULEB128(dst, uint32(len(t.Results)))
	for _, r := range t.Results {
		dst = append(dst, ValTypeToWasm(r))
	}
	return dst
}

// Import is one entry of the import section. Type is set for function imports.
type Import struct {
	Module    string
	Name      string
	Type      FuncType
	TypeIndex uint32
	Kind      byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// Section is a raw section: its ID and payload.
type Section struct {
	Payload []byte
	ID      byte
}

// Module is the shallow structure of a binary module: enough to link it
// against host functions and to inject helper functions.
type Module struct {
	Sections []Section
	Types    []FuncType
	Imports  []Import
	Exports  []Export

	ImportedFuncs  uint32
	ImportedTables uint32
	DefinedFuncs   uint32

	// TableTypes lists element types of every table, imported first.
	TableTypes []byte
}

// Parse decodes the sections of a binary module. Only the type, import,
// function, table and export sections are decoded; the rest are kept raw.
func Parse(wasm []byte) (*Module, error) {
	if len(wasm) < len(magicVersion) || !bytes.Equal(wasm[:len(magicVersion)], magicVersion) {
		return nil, fmt.Errorf("not a wasm binary module")
	}

	m := &Module{}
	r := &reader{data: wasm, pos: len(magicVersion)}
	for !r.done() {
		id := r.byte()
		payload := r.bytes(r.u32())
		if r.err != nil {
			break
		}
		m.Sections = append(m.Sections, Section{ID: id, Payload: payload})
	}
	if r.err != nil {
		return nil, fmt.Errorf("section header: %w", r.err)
	}

	for _, s := range m.Sections {
		var err error
		switch s.ID {
		case SectionType:
			err = m.parseTypes(s.Payload)
		case SectionImport:
			err = m.parseImports(s.Payload)
		case SectionFunction:
			sr := &reader{data: s.Payload}
			m.DefinedFuncs = sr.u32()
			err = sr.err
		case SectionTable:
			err = m.parseTables(s.Payload)
		case SectionExport:
			err = m.parseExports(s.Payload)
		}
		if err != nil {
			return nil, fmt.Errorf("section 0x%02x: %w", s.ID, err)
		}
	}

	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != KindFunc {
			continue
		}
		if int(imp.TypeIndex) >= len(m.Types) {
			return nil, fmt.Errorf("import %s.%s: type index %d out of range", imp.Module, imp.Name, imp.TypeIndex)
		}
		imp.Type = m.Types[imp.TypeIndex]
	}
	return m, nil
}

func (m *Module) parseTypes(payload []byte) error {
	r := &reader{data: payload}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		if form := r.byte(); form != 0x60 {
			return fmt.Errorf("type %d: unsupported form 0x%02x", i, form)
		}
		var ft FuncType
		for _, dst := range []*[]api.ValueType{&ft.Params, &ft.Results} {
			n := r.u32()
			for j := uint32(0); j < n && r.err == nil; j++ {
				b := r.byte()
				vt, ok := ParseValType(b)
				if !ok {
					return fmt.Errorf("type %d: unknown value type 0x%02x", i, b)
				}
				*dst = append(*dst, vt)
			}
		}
		m.Types = append(m.Types, ft)
	}
	return r.err
}

func (m *Module) parseImports(payload []byte) error {
	r := &reader{data: payload}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		imp := Import{Module: r.name(), Name: r.name(), Kind: r.byte()}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIndex = r.u32()
			m.ImportedFuncs++
		case KindTable:
			m.TableTypes = append(m.TableTypes, r.byte())
			r.limits()
			m.ImportedTables++
		case KindMemory:
			r.limits()
		case KindGlobal:
			r.byte()
			r.byte()
		case KindTag:
			r.byte()
			r.u32()
		default:
			return fmt.Errorf("import %d: unknown kind 0x%02x", i, imp.Kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return r.err
}

func (m *Module) parseTables(payload []byte) error {
	r := &reader{data: payload}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.TableTypes = append(m.TableTypes, r.byte())
		r.limits()
	}
	return r.err
}

func (m *Module) parseExports(payload []byte) error {
	r := &reader{data: payload}
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Exports = append(m.Exports, Export{Name: r.name(), Kind: r.byte(), Index: r.u32()})
	}
	return r.err
}

// FuncImports returns the function imports in declaration order.
func (m *Module) FuncImports() []Import {
	var out []Import
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			out = append(out, imp)
		}
	}
	return out
}

// HasFuncTable reports whether table 0 exists and holds function references.
func (m *Module) HasFuncTable() bool {
	return len(m.TableTypes) > 0 && m.TableTypes[0] == ValFuncRef
}

// ExportNamed returns the export with the given name.
func (m *Module) ExportNamed(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// Encode serializes the sections back into a binary module.
func (m *Module) Encode() []byte {
	size := len(magicVersion)
	for _, s := range m.Sections {
		size += 6 + len(s.Payload)
	}
	out := make([]byte, 0, size)
	out = append(out, magicVersion...)
	for _, s := range m.Sections {
		out = append(out, s.ID)
		out = AppendULEB128(out, uint32(len(s.Payload)))
		out = append(out, s.Payload...)
	}
	return out
}
