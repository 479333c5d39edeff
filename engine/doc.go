// Package engine hosts Emscripten guests on wazero.
//
// # Load Flow
//
//  1. wasmbin.Parse reads the guest's import, type, table and export sections
//  2. Link resolves every import against the host catalogue; anything it
//     cannot bind is reported at once as *errors.MissingImportsError
//  3. The binary is rewritten: env imports move to a namespace private to
//     this load (emhost.<n>/env) and call table helpers are injected for
//     each trampoline signature the guest imports
//  4. The rewritten binary is compiled and its env host module instantiated
//
// # Instance State
//
// Host functions are shared by every instance of a Module. Each call finds
// the exception emulator, dispatcher and clocks of the calling instance by
// the instance's unique module name, so instances never observe each
// other's state.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use.
// Instance is NOT thread-safe and should be used by a single goroutine.
//
// Most users should use the runtime package for a simpler API.
package engine
