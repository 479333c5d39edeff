package main

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/wippyai/emhost/engine"
	"github.com/wippyai/emhost/errors"
)

const (
	statusProvided = "provided"
	statusBound    = "bound"
	statusMissing  = "missing"
)

type importRow struct {
	Namespace string `csv:"namespace"`
	Name      string `csv:"name"`
	Group     string `csv:"group"`
	Signature string `csv:"signature"`
	Status    string `csv:"status"`
	Reason    string `csv:"reason,omitempty"`
}

func catalogueRows() []importRow {
	cat := engine.Catalogue()
	rows := make([]importRow, len(cat))
	for i, fn := range cat {
		rows[i] = importRow{
			Namespace: engine.NamespaceEnv,
			Name:      fn.Name,
			Group:     string(fn.Group),
			Signature: fn.Signature,
			Status:    statusProvided,
		}
	}
	return rows
}

// moduleRows reports how every import of a guest binds. Missing imports are
// listed after the bound ones.
func moduleRows(bindings []engine.Binding, missing *errors.MissingImportsError) []importRow {
	rows := make([]importRow, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, importRow{
			Namespace: b.Namespace,
			Name:      b.Name,
			Group:     string(b.Group),
			Signature: b.Signature(),
			Status:    statusBound,
		})
	}
	if missing != nil {
		for _, m := range missing.Imports {
			rows = append(rows, importRow{
				Namespace: m.Namespace,
				Name:      m.Name,
				Status:    statusMissing,
				Reason:    m.Reason,
			})
		}
	}
	return rows
}

func writeImports(w io.Writer, rows []importRow, format string) error {
	if format == formatCSV {
		return writeCSV(w, rows)
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		detail := r.Signature
		if r.Status == statusMissing {
			detail = r.Reason
		}
		cells[i] = []string{r.Namespace, r.Name, r.Group, detail, r.Status}
	}
	return writeTable(w, []string{"NAMESPACE", "NAME", "GROUP", "SIGNATURE", "STATUS"}, cells, func(row int) bool {
		return rows[row].Status == statusMissing
	})
}

func importsCommand(opts *options) *cobra.Command {
	var format string

	command := &cobra.Command{
		Use:   "imports [path to module]",
		Short: "List host imports",
		Long: "List the host functions emhost provides, or how the imports of a module bind.\n" +
			"A module with imports the host cannot satisfy exits with status 2.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return writeImports(out, catalogueRows(), format)
			}

			ctx := context.Background()
			rt, err := opts.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			mod, err := opts.loadModule(ctx, rt, args[0])
			var missing *errors.MissingImportsError
			switch {
			case err == nil:
				defer mod.Close(ctx)
				return writeImports(out, moduleRows(mod.Imports(), nil), format)
			case stderrors.As(err, &missing):
				if err := writeImports(out, moduleRows(nil, missing), format); err != nil {
					return err
				}
				return &exitStatus{code: 2}
			default:
				return err
			}
		},
	}

	command.Flags().StringVarP(&format, "format", "f", formatTable, "output format (table, csv)")
	return command
}
