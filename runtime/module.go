package runtime

import (
	"context"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/engine"
	"github.com/wippyai/emhost/errors"
)

// InstanceConfig holds per-instance configuration.
type InstanceConfig = engine.InstanceConfig

type Module struct {
	runtime   *Runtime
	mod       *engine.Module
	funcTypes map[string]*funcSignature
}

func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.InstantiateWithConfig(ctx, InstanceConfig{})
}

// InstantiateWithConfig creates an instance with stdio, arguments and
// environment for guests that reach WASI.
func (m *Module) InstantiateWithConfig(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	inst, err := m.mod.Instantiate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Instance{module: m, inst: inst}, nil
}

// Close releases the compiled module. Instances must be closed first.
func (m *Module) Close(ctx context.Context) error {
	return m.mod.Close(ctx)
}

// Imports returns how every guest import was bound.
func (m *Module) Imports() []engine.Binding {
	return m.mod.Plan().Bindings
}

type Export struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type

	// Declared is set when the types come from WIT rather than the core
	// signature.
	Declared bool
}

// Exports lists the guest's functions with the types Call uses for them.
func (m *Module) Exports() []Export {
	names := m.mod.Exports()
	exports := make([]Export, 0, len(names))
	for _, name := range names {
		params, results, declared, err := m.FunctionTypes(name)
		if err != nil {
			continue
		}
		exports = append(exports, Export{Name: name, Params: params, Results: results, Declared: declared})
	}
	return exports
}

// FunctionTypes returns the WIT types of an export: the declared ones when
// the module was loaded with WIT, otherwise the signed equivalents of its
// core types.
func (m *Module) FunctionTypes(name string) (params, results []wit.Type, declared bool, err error) {
	if sig, ok := m.funcTypes[name]; ok {
		return sig.params, sig.results, true, nil
	}

	def, ok := m.mod.ExportedFunction(name)
	if !ok {
		return nil, nil, false, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if params, err = coreTypes(def.ParamTypes()); err != nil {
		return nil, nil, false, err
	}
	if results, err = coreTypes(def.ResultTypes()); err != nil {
		return nil, nil, false, err
	}
	return params, results, false, nil
}

// checkTypes verifies that WIT types travel as the export's core types.
func (m *Module) checkTypes(name string, params, results []wit.Type) error {
	def, ok := m.mod.ExportedFunction(name)
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if !flatMatches(params, def.ParamTypes()) || !flatMatches(results, def.ResultTypes()) {
		return errors.TypeMismatch(errors.PhaseRuntime, name, typeList(params)+" -> "+typeList(results), nil)
	}
	return nil
}

func flatMatches(types []wit.Type, core []api.ValueType) bool {
	if len(types) != len(core) {
		return false
	}
	for i, t := range types {
		if vt, ok := flatKind(t); !ok || vt != core[i] {
			return false
		}
	}
	return true
}

func typeList(types []wit.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = witTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func coreTypes(vts []api.ValueType) ([]wit.Type, error) {
	out := make([]wit.Type, len(vts))
	for i, vt := range vts {
		switch vt {
		case api.ValueTypeI32:
			out[i] = wit.S32{}
		case api.ValueTypeI64:
			out[i] = wit.S64{}
		case api.ValueTypeF32:
			out[i] = wit.F32{}
		case api.ValueTypeF64:
			out[i] = wit.F64{}
		default:
			return nil, errors.Unsupported(errors.PhaseRuntime, "core type "+api.ValueTypeName(vt))
		}
	}
	return out, nil
}

type funcSignature struct {
	params  []wit.Type
	results []wit.Type
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// parseWitFunctions extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func parseWitFunctions(witText string) (map[string]*funcSignature, error) {
	funcs := make(map[string]*funcSignature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := &funcSignature{}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typ := strings.TrimSpace(p)
				if idx := strings.LastIndex(typ, ":"); idx != -1 {
					typ = strings.TrimSpace(typ[idx+1:])
				}
				t, err := parseScalar(typ)
				if err != nil {
					return nil, err
				}
				sig.params = append(sig.params, t)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" && result != "()" {
			t, err := parseScalar(result)
			if err != nil {
				return nil, err
			}
			sig.results = []wit.Type{t}
		}

		funcs[match[1]] = sig
	}

	if len(funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no functions found in WIT text")
	}
	return funcs, nil
}

// parseScalar parses a WIT type a C signature can carry: the primitives,
// with string standing for a NUL-terminated char pointer.
func parseScalar(s string) (wit.Type, error) {
	t, err := wit.ParseType(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "parse WIT type "+s)
	}
	if _, ok := flatKind(t); !ok {
		return nil, errors.Unsupported(errors.PhaseLoad, "WIT type "+s+" has no C representation")
	}
	return t, nil
}
