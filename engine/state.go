package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/emhost/dispatch"
	"github.com/wippyai/emhost/exception"
)

// instanceState is everything the host keeps for one guest instance. Host
// functions find it by the name of the calling module, so two instances
// never share exception records, dispatch diagnostics or clocks.
//
// Like the wazero module it belongs to, it is not safe for concurrent calls.
type instanceState struct {
	name       string
	exceptions *exception.Emulator
	dispatcher *dispatch.Dispatcher
	table      *dispatch.ModuleTable
	memory     *WazeroMemory

	started  time.Time
	lastDate float64
	lastNow  float64
}

func newInstanceState(name string, cfg Config, started time.Time) *instanceState {
	return &instanceState{
		name:       name,
		exceptions: exception.NewEmulator(),
		dispatcher: dispatch.New(dispatch.Options{
			Strict: cfg.StrictSignatures,
			Depth:  cfg.DiagnosticsDepth,
		}),
		started: started,
	}
}

// bind attaches the guest's exports the first time a host function sees
// the instance. This may happen during instantiation, from a start
// function, before the embedder has the api.Module.
func (s *instanceState) bind(mod api.Module) {
	if s.table != nil {
		return
	}
	s.table = dispatch.NewModuleTable(mod)
	s.memory = NewMemory(mod.Memory())
}

// signal calls a guest export that is part of the Emscripten runtime
// protocol, such as setThrew. Guests built without it simply do not
// export it.
func (s *instanceState) signal(ctx context.Context, names []string, params ...uint64) {
	for _, name := range names {
		if ok, _ := s.table.CallExport(ctx, name, params...); ok {
			return
		}
	}
}

// dateNow returns wall-clock milliseconds, never less than a previous
// result for this instance.
func (s *instanceState) dateNow(now time.Time) float64 {
	ms := float64(now.UnixNano()) / float64(time.Millisecond)
	if ms < s.lastDate {
		ms = s.lastDate
	}
	s.lastDate = ms
	return ms
}

// monotonicNow returns milliseconds since instantiation.
func (s *instanceState) monotonicNow(now time.Time) float64 {
	ms := float64(now.Sub(s.started)) / float64(time.Millisecond)
	if ms < s.lastNow {
		ms = s.lastNow
	}
	s.lastNow = ms
	return ms
}

// stateRegistry maps instance names to their state.
type stateRegistry struct {
	states sync.Map
}

func (r *stateRegistry) register(st *instanceState) {
	r.states.Store(st.name, st)
}

func (r *stateRegistry) remove(name string) {
	r.states.Delete(name)
}

func (r *stateRegistry) lookup(mod api.Module) *instanceState {
	if mod == nil {
		return nil
	}
	v, ok := r.states.Load(mod.Name())
	if !ok {
		return nil
	}
	st := v.(*instanceState)
	st.bind(mod)
	return st
}
