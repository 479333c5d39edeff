package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/emhost/errors"
	"github.com/wippyai/emhost/internal/wasmbin"
)

// namespacePrefix prefixes the per-guest env namespace.
const namespacePrefix = "emhost"

// Engine hosts Emscripten guests on one wazero runtime.
type Engine struct {
	runtime wazero.Runtime
	host    *host
	log     *zap.Logger
	states  stateRegistry

	loaded    atomic.Uint64
	instances atomic.Uint64

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool

	cfg Config
}

// New creates an engine with its own wazero runtime.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	if cfg.DiagnosticsDepth <= 0 {
		cfg.DiagnosticsDepth = DefaultConfig().DiagnosticsDepth
	}

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		log:     cfg.logger(),
		cfg:     cfg,
	}
	e.host = &host{states: &e.states, log: e.log, now: time.Now, cfg: cfg}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitWASI instantiates wasi_snapshot_preview1 for this engine's runtime.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(NamespaceWASI) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	if _, err := instantiateWASI(ctx, e.runtime); err != nil {
		if e.runtime.Module(NamespaceWASI) == nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Load links, rewrites and compiles a guest. Unresolvable imports are
// reported as *errors.MissingImportsError before anything is compiled.
func (e *Engine) Load(ctx context.Context, wasm []byte) (*Module, error) {
	parsed, err := wasmbin.Parse(wasm)
	if err != nil {
		return nil, errors.Load("parse module", err)
	}

	plan, err := Link(parsed.Imports, e.cfg)
	if err != nil {
		return nil, err
	}

	if plan.WASI {
		if err := e.InitWASI(ctx); err != nil {
			return nil, errors.Load("init WASI", err)
		}
	}

	namespace := wasmbin.NamespaceFor(namespacePrefix, e.loaded.Add(1), NamespaceEnv)
	rewritePlan := wasmbin.Plan{RenameImports: map[string]string{NamespaceEnv: namespace}}
	for _, sig := range plan.Trampolines {
		rewritePlan.Dispatch = append(rewritePlan.Dispatch, wasmbin.DispatchHelper{
			Export: wasmbin.DispatchExport(sig.Code()),
			Callee: wasmbin.FuncType{Params: sig.CalleeParams(), Results: sig.Results()},
		})
	}

	rewritten, err := wasmbin.Rewrite(parsed, rewritePlan)
	if err != nil {
		return nil, errors.Load("rewrite module", err)
	}
	if rewritten.TableMissing {
		e.log.Warn("guest imports trampolines but has no function table; every indirect call returns the default",
			zap.String("namespace", namespace),
			zap.Int("trampolines", len(plan.Trampolines)))
	}

	compiled, err := e.runtime.CompileModule(ctx, rewritten.Binary)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	var hostMod api.Module
	if env := plan.Env(); len(env) > 0 {
		hostMod, err = e.host.instantiateHost(ctx, e.runtime, namespace, env)
		if err != nil {
			_ = compiled.Close(ctx)
			return nil, err
		}
	}

	e.log.Debug("module loaded",
		zap.String("namespace", namespace),
		zap.Int("imports", len(plan.Bindings)),
		zap.Strings("helpers", rewritten.Injected))

	return &Module{
		engine:       e,
		compiled:     compiled,
		hostMod:      hostMod,
		plan:         plan,
		namespace:    namespace,
		tableMissing: rewritten.TableMissing,
	}, nil
}
