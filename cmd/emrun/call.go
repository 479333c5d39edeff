package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/abi"
	"github.com/wippyai/emhost/runtime"
)

// convertArg parses a command line value as a WIT primitive.
func convertArg(value string, t wit.Type) (any, error) {
	switch t.(type) {
	case wit.String:
		return value, nil
	case wit.U8:
		v, err := strconv.ParseUint(value, 0, 8)
		return uint8(v), err
	case wit.U16:
		v, err := strconv.ParseUint(value, 0, 16)
		return uint16(v), err
	case wit.U32:
		v, err := strconv.ParseUint(value, 0, 32)
		return uint32(v), err
	case wit.S8:
		v, err := strconv.ParseInt(value, 0, 8)
		return int8(v), err
	case wit.S16:
		v, err := strconv.ParseInt(value, 0, 16)
		return int16(v), err
	case wit.S32:
		v, err := strconv.ParseInt(value, 0, 32)
		return int32(v), err
	case wit.U64:
		return strconv.ParseUint(value, 0, 64)
	case wit.S64:
		return strconv.ParseInt(value, 0, 64)
	case wit.F32:
		v, err := strconv.ParseFloat(value, 32)
		return float32(v), err
	case wit.F64:
		return strconv.ParseFloat(value, 64)
	case wit.Bool:
		return strconv.ParseBool(value)
	case wit.Char:
		r := []rune(value)
		if len(r) != 1 {
			return nil, fmt.Errorf("%q is not a single character", value)
		}
		return r[0], nil
	default:
		return nil, fmt.Errorf("unsupported type %s", runtime.TypeName(t))
	}
}

func convertArgs(values []string, types []wit.Type) ([]any, error) {
	if len(values) != len(types) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(types), len(values))
	}
	args := make([]any, len(values))
	for i, v := range values {
		arg, err := convertArg(v, types[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

// formatResult prints a call result by its WIT type. A char and an s32
// are both int32 in Go.
func formatResult(result any, results []wit.Type) string {
	if result == nil || len(results) == 0 {
		return "(no result)"
	}
	switch results[0].(type) {
	case wit.String:
		if s, ok := result.(string); ok {
			return strconv.Quote(s)
		}
	case wit.Char:
		if r, ok := result.(rune); ok {
			return strconv.QuoteRune(r)
		}
	}
	return fmt.Sprintf("%v", result)
}

// printDiagnostics summarizes indirect calls that did not complete
// normally.
func printDiagnostics(w io.Writer, inst *runtime.Instance) {
	counts := inst.Diagnostics().Counts()
	delete(counts, abi.CodeOK.String())
	if len(counts) == 0 {
		return
	}
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s=%d", code, counts[code])
	}
	fmt.Fprintf(w, "degraded indirect calls: %s\n", strings.Join(parts, " "))
}

func callCommand(opts *options) *cobra.Command {
	var interactive bool
	var env []string

	command := &cobra.Command{
		Use:   "call [path to module] [export] [args...]",
		Short: "Call a module export",
		Long: "Instantiate a module and call one of its exports. Arguments are parsed with the\n" +
			"export's WIT types. With -i, exports are picked and called from a terminal UI.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := opts.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			mod, err := opts.loadModule(ctx, rt, args[0])
			if err != nil {
				return err
			}
			defer mod.Close(ctx)

			cfg := runtime.InstanceConfig{
				Name:   args[0],
				Stdout: os.Stdout,
				Stderr: os.Stderr,
				Args:   []string{args[0]},
				Env:    parseEnv(env),
			}

			if interactive {
				if len(args) > 1 {
					return fmt.Errorf("-i takes no export or arguments")
				}
				return runInteractive(ctx, args[0], mod, cfg)
			}
			if len(args) < 2 {
				return fmt.Errorf("expected an export name; see 'emrun exports %s'", args[0])
			}

			name := args[1]
			params, results, _, err := mod.FunctionTypes(name)
			if err != nil {
				return err
			}
			callArgs, err := convertArgs(args[2:], params)
			if err != nil {
				return fmt.Errorf("call %s: %w", name, err)
			}

			inst, err := mod.InstantiateWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			result, err := inst.Call(ctx, name, callArgs...)
			printDiagnostics(cmd.ErrOrStderr(), inst)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(result, results))
			return nil
		},
	}

	command.Flags().BoolVarP(&interactive, "interactive", "i", false, "pick and call exports from a terminal UI")
	command.Flags().StringArrayVarP(&env, "env", "e", nil, "guest environment variable KEY=VALUE")
	return command
}

func parseEnv(kvs []string) map[string]string {
	env := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}
