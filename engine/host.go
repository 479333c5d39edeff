package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/dispatch"
	"github.com/wippyai/emhost/errors"
)

// instantiateHost builds the env host module of one loaded guest under the
// namespace the guest's imports were renamed to.
func (h *host) instantiateHost(ctx context.Context, r wazero.Runtime, namespace string, bindings []Binding) (api.Module, error) {
	builder := r.NewHostModuleBuilder(namespace)
	exported := make(map[string]bool, len(bindings))

	for _, b := range bindings {
		if exported[b.Name] {
			continue
		}
		exported[b.Name] = true

		var fn api.GoModuleFunc
		if b.Group == GroupDispatch {
			fn = h.trampoline(b.Trampoline)
		} else {
			fn = b.fn.build(h, b)
		}

		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, b.Params, b.Results).
			WithName(b.Name).
			Export(b.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInstantiation, err, "instantiate host module "+namespace)
	}
	return mod, nil
}

// trampoline returns the glue of one invoke_ import. The stack holds the
// table index followed by the callee arguments.
func (h *host) trampoline(sig abi.Signature) api.GoModuleFunc {
	m := dispatch.MarshalerFor(sig)
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		st := h.states.lookup(mod)
		if st == nil {
			h.log.Warn("trampoline called by unknown instance",
				zap.String("module", mod.Name()),
				zap.String("trampoline", sig.Name))
			m.StoreDefault(stack)
			return
		}

		out, first := st.dispatcher.Invoke(ctx, st.table, m, stack)
		if out.OK() {
			return
		}

		if st.dispatcher.Escalates(out) {
			panic(out.Err)
		}

		switch {
		case out.Code == abi.CodePropagated:
			h.log.Debug("exception stopped at trampoline",
				zap.String("instance", st.name),
				zap.String("trampoline", sig.Name),
				zap.Error(out.Err))
			if h.cfg.SignalThrew {
				st.signal(ctx, setThrewExports, 1, 0)
			}
		case first:
			h.log.Warn("indirect call degraded",
				zap.String("instance", st.name),
				zap.String("trampoline", sig.Name),
				zap.Stringer("outcome", out.Code),
				zap.Error(out.Err))
		default:
			h.log.Debug("indirect call degraded",
				zap.String("instance", st.name),
				zap.String("trampoline", sig.Name),
				zap.Stringer("outcome", out.Code),
				zap.Error(out.Err))
		}
	}
}
