package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/emhost/runtime"
)

type exportRow struct {
	Name     string `csv:"name"`
	Params   string `csv:"params"`
	Results  string `csv:"results"`
	Declared bool   `csv:"declared"`
}

func typeNames(types []wit.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = runtime.TypeName(t)
	}
	return strings.Join(names, ", ")
}

func exportsCommand(opts *options) *cobra.Command {
	var format string

	command := &cobra.Command{
		Use:   "exports [path to module]",
		Short: "List module exports",
		Long:  "List the functions a module exports with the types call converts arguments to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

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

			var rows []exportRow
			for _, exp := range mod.Exports() {
				rows = append(rows, exportRow{
					Name:     exp.Name,
					Params:   typeNames(exp.Params),
					Results:  typeNames(exp.Results),
					Declared: exp.Declared,
				})
			}

			out := cmd.OutOrStdout()
			if format == formatCSV {
				return writeCSV(out, rows)
			}
			cells := make([][]string, len(rows))
			for i, r := range rows {
				source := "core"
				if r.Declared {
					source = "wit"
				}
				cells[i] = []string{r.Name, "(" + r.Params + ")", "(" + r.Results + ")", source}
			}
			return writeTable(out, []string{"NAME", "PARAMS", "RESULTS", "TYPES"}, cells, nil)
		},
	}

	command.Flags().StringVarP(&format, "format", "f", formatTable, "output format (table, csv)")
	return command
}
