package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // module decoding and rewriting
	PhaseLinking   Phase = "linking"   // import resolution
	PhaseRuntime   Phase = "runtime"   // instantiation and export calls
	PhaseDispatch  Phase = "dispatch"  // invoke_* trampolines
	PhaseException Phase = "exception" // C++ exception ABI
	PhaseSyscall   Phase = "syscall"   // stubbed syscalls
	PhaseProcess   Phase = "process"   // abort, exit, longjmp
	PhaseMemory    Phase = "memory"    // linear memory access
	PhaseHost      Phase = "host"      // host module construction
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds       Kind = "out_of_bounds"
	KindNotInitialized    Kind = "not_initialized"
	KindUnsupportedArity  Kind = "unsupported_arity"
	KindTypeMismatch      Kind = "type_mismatch"
	KindNotCallable       Kind = "not_callable"
	KindHostFault         Kind = "host_fault"
	KindPropagated        Kind = "propagated_exception"
	KindNoActiveException Kind = "no_active_exception"
	KindAbort             Kind = "abort"
	KindExit              Kind = "exit"
	KindUnsupported       Kind = "unsupported"
	KindMissingImport     Kind = "missing_import"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindInstantiation     Kind = "instantiation"
	KindTrap              Kind = "trap"
)

// Error is the structured error type used throughout emhost
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Symbol    string
	Signature string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(" at ")
		b.WriteString(e.Symbol)
	}
	if e.Signature != "" {
		b.WriteString(" (")
		b.WriteString(e.Signature)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Symbol sets the import or export name involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Signature sets the call signature involved
func (b *Builder) Signature(sig string) *Builder {
	b.err.Signature = sig
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// NotInitialized creates a not-initialized error for a missing table or instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// UnsupportedArity creates an error for a trampoline beyond the supported arity
func UnsupportedArity(symbol string, arity, limit int) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnsupportedArity,
		Symbol: symbol,
		Detail: fmt.Sprintf("%d parameters exceeds limit of %d", arity, limit),
		Value:  arity,
	}
}

// TypeMismatch creates a signature contract violation
func TypeMismatch(phase Phase, symbol, signature string, cause error) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindTypeMismatch,
		Symbol:    symbol,
		Signature: signature,
		Cause:     cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Abort creates the error a guest abort terminates its call with
func Abort(symbol, detail string) *Error {
	return &Error{
		Phase:  PhaseProcess,
		Kind:   KindAbort,
		Symbol: symbol,
		Detail: detail,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HasKind reports whether err's chain holds an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "env"
	Name      string // e.g., "invoke_viiiiiiiiiiiiiii"
	Reason    string // e.g., "no binding", "type mismatch"
}

// MissingImportsError is returned before instantiation when the module
// declares imports the host cannot satisfy.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from collected missing imports,
// ordered by namespace then name.
func NewMissingImportsError(imports []MissingImport) *MissingImportsError {
	sorted := make([]MissingImport, len(imports))
	copy(sorted, imports)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Namespace != sorted[j].Namespace {
			return sorted[i].Namespace < sorted[j].Namespace
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &MissingImportsError{Imports: sorted}
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[linking] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	byNS := make(map[string][]MissingImport)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, imp := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(imp.Name)
			if imp.Reason != "" {
				b.WriteString(" (")
				b.WriteString(imp.Reason)
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
