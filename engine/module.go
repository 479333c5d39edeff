package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/emhost/dispatch"
	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/exception"
)

// initExports are the guest constructors run after instantiation, in order
// of preference. Standalone reactors export _initialize; browser builds
// leave static constructors to the loader.
var initExports = []string{"_initialize", "__wasm_call_ctors"}

// InstanceConfig holds configuration for module instantiation.
type InstanceConfig struct {
	// Name prefixes the instance name. Instance names are always made
	// unique by the engine.
	Name string

	Stdout io.Writer
	Stderr io.Writer
	Args   []string
	Env    map[string]string

	// SkipInit leaves static constructors to the caller.
	SkipInit bool
}

// Module is a linked, rewritten and compiled guest.
type Module struct {
	engine       *Engine
	compiled     wazero.CompiledModule
	hostMod      api.Module
	plan         *LinkPlan
	namespace    string
	tableMissing bool
}

// Plan returns how the guest's imports were resolved.
func (m *Module) Plan() *LinkPlan {
	return m.plan
}

// Namespace returns the name the guest's env imports were renamed to.
func (m *Module) Namespace() string {
	return m.namespace
}

// TableMissing reports whether the guest imports trampolines without having
// a function table.
func (m *Module) TableMissing() bool {
	return m.tableMissing
}

// Exports returns the guest's exported function names, without the
// helpers injected at load time.
func (m *Module) Exports() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		if !strings.HasPrefix(name, "__emhost_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ExportedFunction returns the definition of a guest export.
func (m *Module) ExportedFunction(name string) (api.FunctionDefinition, bool) {
	def, ok := m.compiled.ExportedFunctions()[name]
	return def, ok
}

// Instantiate creates a new instance. Its host state is registered before
// the guest starts, so host functions called from a start function or a
// constructor already see it.
func (m *Module) Instantiate(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	e := m.engine
	base := cfg.Name
	if base == "" {
		base = "guest"
	}
	name := fmt.Sprintf("%s#%d", base, e.instances.Add(1))

	st := newInstanceState(name, e.cfg, e.host.now())
	e.states.register(st)

	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}
	if len(cfg.Args) > 0 {
		modCfg = modCfg.WithArgs(cfg.Args...)
	}
	for k, v := range cfg.Env {
		modCfg = modCfg.WithEnv(k, v)
	}

	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		e.states.remove(name)
		return nil, errors.Instantiation(err)
	}
	st.bind(mod)

	inst := &Instance{
		module:    m,
		mod:       mod,
		state:     st,
		funcCache: make(map[string]api.Function),
	}

	if !cfg.SkipInit {
		for _, export := range initExports {
			if mod.ExportedFunction(export) == nil {
				continue
			}
			if _, err := inst.Call(ctx, export); err != nil {
				_ = inst.Close(ctx)
				return nil, err
			}
			break
		}
	}

	e.log.Debug("instance created", zap.String("instance", name), zap.String("namespace", m.namespace))
	return inst, nil
}

// Close releases the compiled guest and its host module. Instances must be
// closed first.
func (m *Module) Close(ctx context.Context) error {
	if m.hostMod != nil {
		if err := m.hostMod.Close(ctx); err != nil {
			return err
		}
	}
	return m.compiled.Close(ctx)
}

// Instance is a running guest.
type Instance struct {
	module    *Module
	mod       api.Module
	state     *instanceState
	funcCache map[string]api.Function
}

// Name returns the unique instance name.
func (i *Instance) Name() string {
	return i.state.name
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.mod
}

// Memory returns the guest's linear memory.
func (i *Instance) Memory() *WazeroMemory {
	return i.state.memory
}

// Diagnostics returns the instance's indirect call record.
func (i *Instance) Diagnostics() *dispatch.Diagnostics {
	return i.state.dispatcher.Diagnostics()
}

// Exceptions returns the instance's exception state.
func (i *Instance) Exceptions() *exception.Emulator {
	return i.state.exceptions
}

func (i *Instance) getExportedFunction(name string) api.Function {
	if fn, ok := i.funcCache[name]; ok {
		return fn
	}
	fn := i.mod.ExportedFunction(name)
	if fn != nil {
		i.funcCache[name] = fn
	}
	return fn
}

// Call invokes an export with raw stack words. Errors are classified by
// ClassifyCallError.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.getExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, ClassifyCallError(name, err)
	}
	return results, nil
}

// Close closes the guest and drops its host state.
func (i *Instance) Close(ctx context.Context) error {
	i.module.engine.states.remove(i.state.name)
	i.state.exceptions.Reset()
	clear(i.funcCache)
	return i.mod.Close(ctx)
}
