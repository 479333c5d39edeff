package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/emhost/engine"
	"github.com/wippyai/emhost/runtime"
)

var version = "<unknown>"

// options are the runtime flags shared by every subcommand.
type options struct {
	logLevel    string
	witFile     string
	memoryPages uint32
	strict      bool
	derive      bool
	noWASI      bool
	noThrew     bool
}

func (o *options) logger() (*zap.Logger, error) {
	if o.logLevel == "" || o.logLevel == "off" {
		return zap.NewNop(), nil
	}
	level, err := zap.ParseAtomicLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func (o *options) newRuntime(ctx context.Context) (*runtime.Runtime, error) {
	log, err := o.logger()
	if err != nil {
		return nil, err
	}
	engine.SetLogger(log)

	return runtime.New(ctx, runtime.Options{
		Logger:             log,
		MemoryLimitPages:   o.memoryPages,
		DisableWASI:        o.noWASI,
		StrictSignatures:   o.strict,
		DeriveTrampolines:  o.derive,
		DisableThrewSignal: o.noThrew,
	})
}

// loadModule reads a guest and the WIT file, if any, describing its exports.
func (o *options) loadModule(ctx context.Context, rt *runtime.Runtime, path string) (*runtime.Module, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	var witText string
	if o.witFile != "" {
		data, err := os.ReadFile(o.witFile)
		if err != nil {
			return nil, fmt.Errorf("read WIT: %w", err)
		}
		witText = string(data)
	}
	return rt.LoadWithWIT(ctx, wasm, witText)
}

func configureCLI() *cobra.Command {
	opts := &options{}

	rootCommand := &cobra.Command{
		Use:           "emrun",
		Short:         "Run browser-targeted Emscripten modules",
		Long:          "emrun - load Emscripten modules built for the browser and call their exports from a plain host",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCommand.AddCommand(importsCommand(opts))
	rootCommand.AddCommand(exportsCommand(opts))
	rootCommand.AddCommand(callCommand(opts))

	flags := rootCommand.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log", "warn", "host log level (debug, info, warn, error, off)")
	flags.StringVar(&opts.witFile, "wit", "", "WIT file declaring export types")
	flags.Uint32Var(&opts.memoryPages, "memory-pages", 0, "cap guest memory in 64KiB pages")
	flags.BoolVar(&opts.strict, "strict", false, "trap on indirect calls through a table entry of the wrong type")
	flags.BoolVar(&opts.derive, "derive-trampolines", false, "accept invoke_* imports outside the fixed catalogue")
	flags.BoolVar(&opts.noWASI, "no-wasi", false, "reject modules importing wasi_snapshot_preview1")
	flags.BoolVar(&opts.noThrew, "no-threw", false, "do not call setThrew after an exception stops at a trampoline")

	return rootCommand
}

func main() {
	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		if code, ok := runtime.ExitCode(err); ok {
			os.Exit(int(code))
		}
		var exit *exitStatus
		if stderrors.As(err, &exit) {
			os.Exit(exit.code)
		}

		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// exitStatus ends the process with a code after output was already written.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
