// Package emhost runs WebAssembly modules built by Emscripten for the browser
// inside a plain wazero host.
//
// Such modules import a catalogue of functions the JavaScript glue normally
// provides: invoke_* trampolines for indirect calls, the C++ exception ABI
// (__cxa_throw and friends), process control, clocks and a handful of
// syscalls. emhost supplies all of them from Go.
//
// # Architecture Overview
//
//	emhost/            Root package with the linear Memory interface
//	├── runtime/       High-level API: load, instantiate, call
//	├── engine/        wazero integration, import registry and host glue
//	├── abi/           Call signatures, trampoline catalogue, Outcome codes
//	├── dispatch/      Indirect call dispatcher (invoke_* trampolines)
//	├── exception/     C++ exception ABI emulator
//	├── sysstub/       Deterministic syscall sentinels
//	├── errors/        Structured error types
//	└── cmd/emrun/     Command line runner
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err) // *errors.MissingImportsError lists unbound imports
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	result, err := inst.Call(ctx, "process", 42)
//
// # Exceptions
//
// The host cannot unwind the guest's private stack frame by frame. A throw
// therefore aborts the in-flight call back to the nearest host frame: either
// an invoke_* trampoline, which returns the default value, or the embedding
// caller, which receives runtime.ErrUncaughtException.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT thread-safe:
// the call table, linear memory and exception state of one instance must be
// driven by a single goroutine at a time.
package emhost
