package wasmbin

import (
	"fmt"
	"strconv"

	"github.com/tetratelabs/wazero/api"
)

// Names of the exports injected into a guest.
const (
	InspectExport  = "__emhost_inspect"
	DispatchPrefix = "__emhost_dispatch_"
)

// Results of the inspector export.
const (
	SlotOutOfRange uint32 = 0
	SlotEmpty      uint32 = 1
	SlotCallable   uint32 = 2
)

// DispatchExport returns the export name of the dispatch helper for a
// trampoline signature code.
func DispatchExport(code string) string {
	return DispatchPrefix + code
}

// DispatchHelper requests one call_indirect helper. Callee is the type of
// the table entries it calls; the helper itself takes an i32 table index
// followed by the callee parameters.
type DispatchHelper struct {
	Export string
	Callee FuncType
}

// Plan describes the rewrite of one guest.
type Plan struct {
	// RenameImports maps import namespaces to their replacement.
	RenameImports map[string]string

	// Dispatch lists the helpers to inject. The inspector export is injected
	// whenever at least one helper is.
	Dispatch []DispatchHelper
}

// Result reports what Rewrite changed.
type Result struct {
	Binary   []byte
	Injected []string

	// TableMissing is set when helpers were requested but the guest has
	// no function table to dispatch through.
	TableMissing bool
}

// Rewrite applies the plan to a parsed module and encodes the result.
func Rewrite(m *Module, plan Plan) (Result, error) {
	out := &Module{
		Sections:       append([]Section(nil), m.Sections...),
		Types:          append([]FuncType(nil), m.Types...),
		Imports:        m.Imports,
		Exports:        m.Exports,
		ImportedFuncs:  m.ImportedFuncs,
		ImportedTables: m.ImportedTables,
		DefinedFuncs:   m.DefinedFuncs,
		TableTypes:     m.TableTypes,
	}

	if len(plan.RenameImports) > 0 {
		if s, ok := out.section(SectionImport); ok {
			payload, err := renameImports(s.Payload, plan.RenameImports)
			if err != nil {
				return Result{}, fmt.Errorf("rename imports: %w", err)
			}
			out.setSection(SectionImport, payload)
		}
	}

	var res Result
	if len(plan.Dispatch) > 0 {
		if !m.HasFuncTable() {
			res.TableMissing = true
		} else {
			names, err := out.inject(plan.Dispatch)
			if err != nil {
				return Result{}, err
			}
			res.Injected = names
		}
	}

	res.Binary = out.Encode()
	return res, nil
}

func renameImports(payload []byte, rename map[string]string) ([]byte, error) {
	r := &reader{data: payload}
	count := r.u32()
	result := AppendULEB128(make([]byte, 0, len(payload)+32), count)

	for i := uint32(0); i < count && r.err == nil; i++ {
		module := r.name()
		if to, ok := rename[module]; ok {
			module = to
		}
		result = AppendULEB128(result, uint32(len(module)))
		result = append(result, module...)

		start := r.pos
		r.name()
		kind := r.byte()
		switch kind {
		case KindFunc:
			r.u32()
		case KindTable:
			r.byte()
			r.limits()
		case KindMemory:
			r.limits()
		case KindGlobal:
			r.byte()
			r.byte()
		case KindTag:
			r.byte()
			r.u32()
		default:
			return nil, fmt.Errorf("import %d: unknown kind 0x%02x", i, kind)
		}
		if r.err == nil {
			result = append(result, payload[start:r.pos]...)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return result, nil
}

type newFunc struct {
	export string
	body   []byte
	typ    uint32
}

func (m *Module) inject(helpers []DispatchHelper) ([]string, error) {
	funcs := make([]newFunc, 0, len(helpers)+1)
	funcs = append(funcs, newFunc{
		export: InspectExport,
		typ:    m.typeIndex(FuncType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}),
		body:   inspectBody(),
	})
	for _, h := range helpers {
		callee := m.typeIndex(h.Callee)
		self := FuncType{
			Params:  append([]api.ValueType{api.ValueTypeI32}, h.Callee.Params...),
			Results: h.Callee.Results,
		}
		funcs = append(funcs, newFunc{
			export: h.Export,
			typ:    m.typeIndex(self),
			body:   dispatchBody(len(h.Callee.Params), callee),
		})
	}

	for _, f := range funcs {
		if _, exists := m.ExportNamed(f.export); exists {
			return nil, fmt.Errorf("guest already exports %q", f.export)
		}
	}

	typePayload := AppendULEB128(nil, uint32(len(m.Types)))
	for _, t := range m.Types {
		typePayload = t.encode(typePayload)
	}
	m.setSection(SectionType, typePayload)

	oldFuncs, err := m.entries(SectionFunction)
	if err != nil {
		return nil, err
	}
	funcPayload := AppendULEB128(nil, m.DefinedFuncs+uint32(len(funcs)))
	funcPayload = append(funcPayload, oldFuncs...)
	for _, f := range funcs {
		funcPayload = AppendULEB128(funcPayload, f.typ)
	}
	m.setSection(SectionFunction, funcPayload)

	oldCode, err := m.entries(SectionCode)
	if err != nil {
		return nil, err
	}
	codePayload := AppendULEB128(nil, m.DefinedFuncs+uint32(len(funcs)))
	codePayload = append(codePayload, oldCode...)
	for _, f := range funcs {
		codePayload = AppendULEB128(codePayload, uint32(len(f.body)))
		codePayload = append(codePayload, f.body...)
	}
	m.setSection(SectionCode, codePayload)

	oldExports, err := m.entries(SectionExport)
	if err != nil {
		return nil, err
	}
	exportPayload := AppendULEB128(nil, uint32(len(m.Exports)+len(funcs)))
	exportPayload = append(exportPayload, oldExports...)
	names := make([]string, 0, len(funcs))
	base := m.ImportedFuncs + m.DefinedFuncs
	for i, f := range funcs {
		exportPayload = AppendULEB128(exportPayload, uint32(len(f.export)))
		exportPayload = append(exportPayload, f.export...)
		exportPayload = append(exportPayload, KindFunc)
		exportPayload = AppendULEB128(exportPayload, base+uint32(i))
		names = append(names, f.export)
	}
	m.setSection(SectionExport, exportPayload)

	return names, nil
}

// inspectBody classifies table slot local 0 against table 0.
func inspectBody() []byte {
	return []byte{
		0x00,                       // no locals
		0x20, 0x00,                 // local.get 0
		0xFC, 0x10, 0x00,           // table.size 0
		0x4F,                       // i32.ge_u
		0x04, 0x7F,                 // if (result i32)
		0x41, byte(SlotOutOfRange), // i32.const
		0x05,                       // else
		0x20, 0x00,                 // local.get 0
		0x25, 0x00,                 // table.get 0
		0xD1,                       // ref.is_null
		0x04, 0x7F,                 // if (result i32)
		0x41, byte(SlotEmpty),      // i32.const
		0x05,                       // else
		0x41, byte(SlotCallable),   // i32.const
		0x0B,                       // end
		0x0B,                       // end
		0x0B,                       // end
	}
}

// dispatchBody forwards locals 1..n to the table entry at local 0.
func dispatchBody(n int, calleeType uint32) []byte {
	body := []byte{0x00}
	for i := 1; i <= n; i++ {
		body = append(body, 0x20)
		body = AppendULEB128(body, uint32(i))
	}
	body = append(body, 0x20, 0x00, 0x11)
	body = AppendULEB128(body, calleeType)
	body = append(body, 0x00, 0x0B)
	return body
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// entries returns the payload of a vector section without its count.
func (m *Module) entries(id byte) ([]byte, error) {
	s, ok := m.section(id)
	if !ok {
		return nil, nil
	}
	r := &reader{data: s.Payload}
	r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("section 0x%02x: %w", id, r.err)
	}
	return s.Payload[r.pos:], nil
}

func (m *Module) section(id byte) (Section, bool) {
	for _, s := range m.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// sectionRank orders known sections; the tag and data count sections sit
// between their numeric neighbours.
var sectionRank = map[byte]int{
	SectionType:      1,
	SectionImport:    2,
	SectionFunction:  3,
	SectionTable:     4,
	SectionMemory:    5,
	SectionTag:       6,
	SectionGlobal:    7,
	SectionExport:    8,
	SectionStart:     9,
	SectionElement:   10,
	SectionDataCount: 11,
	SectionCode:      12,
	SectionData:      13,
}

// setSection replaces the payload of a section, inserting the section at
// its canonical position when absent.
func (m *Module) setSection(id byte, payload []byte) {
	for i := range m.Sections {
		if m.Sections[i].ID == id {
			m.Sections[i].Payload = payload
			return
		}
	}

	at := len(m.Sections)
	for i, s := range m.Sections {
		if s.ID != SectionCustom && sectionRank[s.ID] > sectionRank[id] {
			at = i
			break
		}
	}
	m.Sections = append(m.Sections, Section{})
	copy(m.Sections[at+1:], m.Sections[at:])
	m.Sections[at] = Section{ID: id, Payload: payload}
}

// NamespaceFor returns a unique import namespace for the nth loaded guest.
func NamespaceFor(prefix string, n uint64, namespace string) string {
	return prefix + "." + strconv.FormatUint(n, 10) + "/" + namespace
}
