package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/emhost/dispatch"
)

// Config holds engine configuration options.
type Config struct {
	// Logger overrides the package logger for this engine.
	Logger *zap.Logger

	// MemoryLimitPages caps guest memory in 64KiB pages. Zero keeps the
	// wazero default of 65536 pages (4GiB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal, needed by
	// guests built with -pthread. Shared memory stays guest-only.
	EnableThreads bool

	// DiagnosticsDepth is the number of recent degraded dispatch outcomes
	// kept per instance.
	DiagnosticsDepth int

	// WASI binds imports from wasi_snapshot_preview1. Emscripten emits them
	// for fd_write and friends when the guest prints.
	WASI bool

	// StrictSignatures aborts the guest call when a dispatched table entry
	// does not have the trampoline's type instead of returning the default.
	StrictSignatures bool

	// DeriveTrampolines binds any well-formed invoke_ import, not only the
	// fixed catalogue.
	DeriveTrampolines bool

	// SignalThrew calls the guest's setThrew(1, 0) export after a
	// trampoline stopped an exception, so the guest's landing pad runs.
	SignalThrew bool
}

// DefaultConfig returns the configuration used by runtime.New.
func DefaultConfig() Config {
	return Config{
		DiagnosticsDepth: dispatch.DefaultDepth,
		WASI:             true,
		SignalThrew:      true,
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return Logger()
}
