package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/emhost/engine"
	"github.com/wippyai/emhost/errors"
)

// Options configures a Runtime. The zero value is the production setup:
// WASI enabled, the fixed trampoline catalogue, setThrew signalling on and
// signature violations degraded to default values.
type Options struct {
	// Logger receives host diagnostics. Defaults to engine.Logger().
	Logger *zap.Logger

	// MemoryLimitPages caps guest memory in 64KiB pages.
	MemoryLimitPages uint32

	// DiagnosticsDepth is the number of recent degraded indirect calls kept
	// per instance.
	DiagnosticsDepth int

	EnableThreads bool

	// DisableWASI rejects guests importing wasi_snapshot_preview1.
	DisableWASI bool

	// StrictSignatures turns an indirect call through a table entry of the
	// wrong type into a trap. Meant for debugging guests.
	StrictSignatures bool

	// DeriveTrampolines accepts any well-formed invoke_ import.
	DeriveTrampolines bool

	// DisableThrewSignal stops the host from calling the guest's setThrew
	// export after an exception was stopped at a trampoline.
	DisableThrewSignal bool
}

func (o Options) config() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Logger = o.Logger
	cfg.MemoryLimitPages = o.MemoryLimitPages
	cfg.EnableThreads = o.EnableThreads
	cfg.WASI = !o.DisableWASI
	cfg.StrictSignatures = o.StrictSignatures
	cfg.DeriveTrampolines = o.DeriveTrampolines
	cfg.SignalThrew = !o.DisableThrewSignal
	if o.DiagnosticsDepth > 0 {
		cfg.DiagnosticsDepth = o.DiagnosticsDepth
	}
	return cfg
}

type Runtime struct {
	engine *engine.Engine
}

func New(ctx context.Context, opts Options) (*Runtime, error) {
	eng, err := engine.New(ctx, opts.config())
	if err != nil {
		return nil, errors.Load("create engine", err)
	}
	return &Runtime{engine: eng}, nil
}

// Close releases all runtime resources.
// All instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Engine returns the underlying engine.
func (r *Runtime) Engine() *engine.Engine {
	return r.engine
}

// Load links and compiles an Emscripten module. Imports the host cannot
// satisfy are reported as *errors.MissingImportsError; nothing is
// instantiated in that case.
func (r *Runtime) Load(ctx context.Context, wasm []byte) (*Module, error) {
	return r.LoadWithWIT(ctx, wasm, "")
}

// LoadWithWIT loads a module and attaches WIT declarations of its exports.
// Core modules carry no source-level types; witText lets Call pass strings
// and small integers the way the C signatures expect:
//
//	greet: func(name: string) -> string;
//	add: func(a: u32, b: u32) -> u32;
func (r *Runtime) LoadWithWIT(ctx context.Context, wasm []byte, witText string) (*Module, error) {
	var funcTypes map[string]*funcSignature
	if witText != "" {
		var err error
		if funcTypes, err = parseWitFunctions(witText); err != nil {
			return nil, err
		}
	}

	mod, err := r.engine.Load(ctx, wasm)
	if err != nil {
		return nil, err
	}

	return &Module{
		runtime:   r,
		mod:       mod,
		funcTypes: funcTypes,
	}, nil
}
