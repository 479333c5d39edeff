package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/internal/wasmbin"
)

// Import namespaces a guest may declare.
const (
	NamespaceEnv  = "env"
	NamespaceWASI = "wasi_snapshot_preview1"
)

// Group names the concern an import is bound to.
type Group string

const (
	GroupDispatch  Group = "dispatch"
	GroupException Group = "exception"
	GroupProcess   Group = "process"
	GroupTime      Group = "time"
	GroupMemory    Group = "memory"
	GroupSyscall   Group = "syscall"
	GroupWASI      Group = "wasi"
)

// Binding resolves one guest import.
type Binding struct {
	Namespace string
	Name      string
	Group     Group

	// Params and Results are the core types the host function is exported
	// with. They always equal the guest's declared type.
	Params  []api.ValueType
	Results []api.ValueType

	// Trampoline is set for GroupDispatch bindings.
	Trampoline abi.Signature

	fn *hostFunc
}

// Signature formats the binding's core type.
func (b Binding) Signature() string {
	return abi.TypesString(b.Params, b.Results)
}

// LinkPlan is the resolved import set of one guest.
type LinkPlan struct {
	Bindings []Binding

	// Trampolines lists the distinct dispatchable signatures the guest
	// imports, ordered by name. Each needs a dispatch helper in the guest.
	Trampolines []abi.Signature

	// WASI is set when the guest imports from wasi_snapshot_preview1.
	WASI bool
}

// Env returns the bindings of the env namespace.
func (p *LinkPlan) Env() []Binding {
	out := make([]Binding, 0, len(p.Bindings))
	for _, b := range p.Bindings {
		if b.Namespace == NamespaceEnv {
			out = append(out, b)
		}
	}
	return out
}

// Link resolves every import against the host catalogue. All unresolved
// imports are collected into one *errors.MissingImportsError so a guest can
// be rejected with the full list before anything is instantiated.
func Link(imports []wasmbin.Import, cfg Config) (*LinkPlan, error) {
	plan := &LinkPlan{}
	var missing []errors.MissingImport
	seen := make(map[string]bool)

	for _, imp := range imports {
		b, reason := resolve(imp, cfg)
		if reason != "" {
			missing = append(missing, errors.MissingImport{
				Namespace: imp.Module,
				Name:      imp.Name,
				Reason:    reason,
			})
			continue
		}
		plan.Bindings = append(plan.Bindings, b)

		switch b.Group {
		case GroupWASI:
			plan.WASI = true
		case GroupDispatch:
			if b.Trampoline.Supported() && !seen[b.Name] {
				seen[b.Name] = true
				plan.Trampolines = append(plan.Trampolines, b.Trampoline)
			}
		}
	}

	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}

	sort.Slice(plan.Trampolines, func(i, j int) bool {
		return plan.Trampolines[i].Name < plan.Trampolines[j].Name
	})
	return plan, nil
}

func resolve(imp wasmbin.Import, cfg Config) (Binding, string) {
	if imp.Kind != wasmbin.KindFunc {
		return Binding{}, fmt.Sprintf("unsupported import kind %s", wasmbin.KindName(imp.Kind))
	}

	params, results := valueTypes(imp.Type.Params), valueTypes(imp.Type.Results)
	b := Binding{
		Namespace: imp.Module,
		Name:      imp.Name,
		Params:    params,
		Results:   results,
	}

	switch imp.Module {
	case NamespaceWASI:
		if !cfg.WASI {
			return Binding{}, "WASI disabled"
		}
		b.Group = GroupWASI
		return b, ""
	case NamespaceEnv:
	default:
		return Binding{}, "unknown namespace"
	}

	if strings.HasPrefix(imp.Name, abi.InvokePrefix) {
		sig, ok := abi.Lookup(imp.Name)
		if !ok {
			if !cfg.DeriveTrampolines {
				return Binding{}, "no binding"
			}
			var err error
			if sig, err = abi.ParseSignature(imp.Name); err != nil {
				return Binding{}, err.Error()
			}
		}
		if !sig.Matches(params, results) {
			return Binding{}, mismatch(params, results, sig.ImportParams(), sig.Results())
		}
		b.Group = GroupDispatch
		b.Trampoline = sig
		return b, ""
	}

	fn, ok := hostFuncs[imp.Name]
	if !ok {
		return Binding{}, "no binding"
	}
	want := fn.params
	if fn.declared {
		want = params
	}
	if !sameTypes(params, want) || !sameTypes(results, fn.results) {
		return Binding{}, mismatch(params, results, want, fn.results)
	}
	b.Group = fn.group
	b.fn = fn
	return b, ""
}

func mismatch(params, results, wantParams, wantResults []api.ValueType) string {
	return fmt.Sprintf("type mismatch: declared %s, host provides %s",
		abi.TypesString(params, results), abi.TypesString(wantParams, wantResults))
}

func valueTypes(raw []api.ValueType) []api.ValueType {
	if len(raw) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(raw))
	copy(out, raw)
	return out
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
