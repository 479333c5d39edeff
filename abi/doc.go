// Package abi describes the call surface an Emscripten module expects from
// its host: trampoline signatures, the fixed catalogue of invoke_ shapes,
// and the Outcome every host ABI operation reports.
//
// A Signature is decoded from the trampoline name once, at link time:
//
//	sig, _ := abi.ParseSignature("invoke_viji")
//	sig.ImportParams() // [i32 i32 i64 i32]: table index, then callee params
//	sig.Results()      // []
//
// Operations never panic to report degraded behavior. They return an
// Outcome whose Code says what happened; callers decide whether to log.
package abi
