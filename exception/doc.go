// Package exception emulates the C++ exception ABI an Emscripten guest
// imports (__cxa_throw, __cxa_begin_catch and friends) without native stack
// unwinding.
//
// A throw registers a Record and abandons the in-flight guest call with a
// *PropagatedError. The invoke_ trampoline that started the call catches it
// and returns to guest code, whose landing pad then asks which exception is
// in flight:
//
//	Idle --begin_throw--> Thrown --begin_catch--> Caught --end_catch--> Idle
//
// Catch matching is approximate: the most recent throw always matches, and
// the selector is the thrown type itself.
package exception
