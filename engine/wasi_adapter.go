package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// instantiateWASI instantiates WASI preview1 under its standard name.
// Emscripten only reaches it for stdio (fd_write, fd_close, fd_seek) and
// environ/clock queries; wazero's implementation covers all of them.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(NamespaceWASI)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}
