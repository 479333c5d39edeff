// Package errors provides structured error types for emhost.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the symbol involved (import or export
// name), the call signature when relevant, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindNotCallable).
//		Symbol("invoke_vii").
//		Value(index).
//		Detail("table slot %d is empty", index).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotInitialized(errors.PhaseDispatch, "table")
//	err := errors.UnsupportedArity("invoke_iiiiiiiiiiiiii", 13, 12)
//
// Imports the host cannot bind are reported together, before instantiation,
// as a *MissingImportsError.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
