// Package sysstub answers the OS-facing syscalls an Emscripten guest imports
// with fixed sentinel values. Nothing is performed: the guest sees every
// file operation fail or come back empty and takes its own error path.
package sysstub

import (
	"sort"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/errors"
)

// Policy is the side-effect policy of a stub.
type Policy uint8

const (
	// NoOp reports success without doing anything.
	NoOp Policy = iota
	// Unsupported reports the operation failed.
	Unsupported
	// Empty reports success with no results.
	Empty
)

func (p Policy) String() string {
	switch p {
	case NoOp:
		return "no-op"
	case Unsupported:
		return "unsupported"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Stub is one syscall binding.
type Stub struct {
	Name     string
	Sentinel int32
	Policy   Policy
}

var stubs = map[string]Stub{}

func init() {
	for _, s := range []Stub{
		{Name: "__syscall_openat", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_fcntl64", Sentinel: 0, Policy: NoOp},
		{Name: "__syscall_ioctl", Sentinel: 0, Policy: NoOp},
		{Name: "__syscall_fstat64", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_stat64", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_lstat64", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_newfstatat", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_ftruncate64", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_getdents64", Sentinel: 0, Policy: Empty},
		{Name: "__syscall_unlinkat", Sentinel: -1, Policy: Unsupported},
		{Name: "__syscall_rmdir", Sentinel: -1, Policy: Unsupported},
	} {
		stubs[s.Name] = s
	}
}

// Lookup returns the stub bound to a syscall import name.
func Lookup(name string) (Stub, bool) {
	s, ok := stubs[name]
	return s, ok
}

// Stubs returns every stub ordered by name.
func Stubs() []Stub {
	out := make([]Stub, 0, len(stubs))
	for _, s := range stubs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call returns the stub's sentinel. The arguments are not inspected.
func (s Stub) Call(args ...uint64) abi.Outcome {
	out := abi.Return(uint64(uint32(s.Sentinel)))
	if s.Policy == Unsupported {
		out.Code = abi.CodeUnsupported
		out.Err = errors.New(errors.PhaseSyscall, errors.KindUnsupported).
			Symbol(s.Name).
			Detail("no host implementation").
			Build()
	}
	return out
}
