// Package wasmbin provides section-level WebAssembly binary parsing and
// rewriting for the host.
//
// The wazero public API does not give host functions access to a guest's
// function table, so guests are rewritten before compilation to export the
// table operations the host needs.
//
// # Parsing
//
//	m, err := wasmbin.Parse(guest)
//	for _, imp := range m.FuncImports() {
//		fmt.Println(imp.Module, imp.Name, imp.Type.Params)
//	}
//
// # Rewriting
//
// Rewrite renames import namespaces and injects one slot inspector export plus one
// call_indirect helper per requested callee type:
//
//	res, err := wasmbin.Rewrite(m, wasmbin.Plan{
//		RenameImports: map[string]string{"env": "emhost.1/env"},
//		Dispatch:      []wasmbin.DispatchHelper{{Export: wasmbin.DispatchExport("vi"), Callee: ft}},
//	})
//
// # Synthetic Modules
//
// Builder assembles small guests for tests.
//
// This package is internal to emhost and should not be used directly.
package wasmbin
