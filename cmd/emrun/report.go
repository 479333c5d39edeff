package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jszwec/csvutil"
	"golang.org/x/term"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Padding(0, 1)
)

// isTerminal reports whether w is a terminal, so styling can be dropped
// for pipes and files.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatCSV:
		return nil
	default:
		return fmt.Errorf("unknown format %q: expected %s or %s", format, formatTable, formatCSV)
	}
}

// writeCSV encodes rows with their csv struct tags.
func writeCSV[T any](w io.Writer, rows []T) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)
	if len(rows) == 0 {
		var zero T
		return encoder.EncodeHeader(zero)
	}
	for _, r := range rows {
		if err := encoder.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// writeTable renders rows as a table. highlight marks rows drawn in the
// error style.
func writeTable(w io.Writer, headers []string, rows [][]string, highlight func(row int) bool) error {
	if !isTerminal(w) {
		t := table.New().
			Border(lipgloss.HiddenBorder()).
			BorderTop(false).
			BorderBottom(false).
			Headers(headers...).
			Rows(rows...)
		_, err := fmt.Fprintln(w, t.Render())
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case highlight != nil && highlight(row):
				return missingStyle
			default:
				return cellStyle
			}
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
