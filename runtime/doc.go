// Package runtime provides the high-level API for running Emscripten guests.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	result, err := inst.Call(ctx, "add", 2, 3)
//	fmt.Println(result) // int32(5)
//
// # Typed Calls
//
// Without WIT, exports are called with the signed equivalents of their core
// types. WIT text narrows them and lets string parameters and results travel
// as NUL-terminated pointers:
//
//	mod, err := rt.LoadWithWIT(ctx, wasmBytes, `
//	    export greet: func(name: string) -> string;
//	`)
//
// String arguments are copied into memory obtained from the guest's malloc
// and released with its free after the call.
//
// # Termination
//
// A call that ends by uncaught exception, exit or abort returns a
// *TerminationError matching ErrUncaughtException, ErrExit or ErrAbort:
//
//	if code, ok := runtime.ExitCode(err); ok {
//	    os.Exit(int(code))
//	}
package runtime
