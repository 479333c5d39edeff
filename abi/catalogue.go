package abi

import "sort"

// trampolineNames lists the invoke_ shapes the Emscripten toolchain emits for
// the supported workload. Only these are bound unless derived trampolines are
// enabled at link time.
var trampolineNames = []string{
	// void result, i32 parameters
	"invoke_v",
	"invoke_vi",
	"invoke_vii",
	"invoke_viii",
	"invoke_viiii",
	"invoke_viiiii",
	"invoke_viiiiii",
	"invoke_viiiiiii",
	"invoke_viiiiiiii",
	"invoke_viiiiiiiii",
	"invoke_viiiiiiiiii",
	"invoke_viiiiiiiiiii",
	"invoke_viiiiiiiiiiii",

	// i32 result, i32 parameters
	"invoke_i",
	"invoke_ii",
	"invoke_iii",
	"invoke_iiii",
	"invoke_iiiii",
	"invoke_iiiiii",
	"invoke_iiiiiii",
	"invoke_iiiiiiii",
	"invoke_iiiiiiiii",
	"invoke_iiiiiiiiii",
	"invoke_iiiiiiiiiii",
	"invoke_iiiiiiiiiiii",
	"invoke_iiiiiiiiiiiii",

	// 64-bit integers
	"invoke_ji",
	"invoke_jii",
	"invoke_jiii",
	"invoke_jiji",
	"invoke_iij",
	"invoke_iiji",
	"invoke_iiiij",
	"invoke_vij",
	"invoke_viji",
	"invoke_viiji",

	// floating point
	"invoke_di",
	"invoke_dii",
	"invoke_fi",
	"invoke_vid",
	"invoke_viid",
	"invoke_vif",

	// thirteen parameters: bound to the unsupported-arity fallback
	"invoke_iiiiiiiiiiiiii",
	"invoke_viiiiiiiiiiiii",
}

var (
	catalogue []Signature
	byName    map[string]Signature
)

func init() {
	catalogue = make([]Signature, 0, len(trampolineNames))
	byName = make(map[string]Signature, len(trampolineNames))
	for _, name := range trampolineNames {
		sig, err := ParseSignature(name)
		if err != nil {
			panic(err)
		}
		catalogue = append(catalogue, sig)
		byName[name] = sig
	}
}

// Catalogue returns every trampoline signature this host provides, ordered
// by name.
func Catalogue() []Signature {
	out := make([]Signature, len(catalogue))
	copy(out, catalogue)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the catalogue entry for a trampoline import name.
func Lookup(name string) (Signature, bool) {
	sig, ok := byName[name]
	return sig, ok
}
