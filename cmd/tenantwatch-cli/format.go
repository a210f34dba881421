package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// stdout receives all command output; tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// stderr receives progress notes that must not mix with streamed output.
var stderr io.Writer = os.Stderr

func formatJSON(v any) {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		fatal("encode json", err)
	}
}

// formatTable prints headers, a dashed rule and rows in aligned columns.
func formatTable(headers []string, rows [][]string) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleDefault)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateHeader = true

	tw.AppendHeader(toRow(headers))
	for _, r := range rows {
		tw.AppendRow(toRow(r))
	}

	fmt.Fprintln(stdout, tw.Render())
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func formatQuiet(id string) {
	fmt.Fprintln(stdout, id)
}

// notef prints a trailing hint below table output.
func notef(format string, args ...any) {
	fmt.Fprintf(stdout, format+"\n", args...)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func moneyCell(amount float64, currency string) string {
	s := fmt.Sprintf("%.2f", amount)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// percentCell renders p with one decimal; signed forces a leading +.
func percentCell(p float64, signed bool) string {
	verb := "%.1f%%"
	if signed {
		verb = "%+.1f%%"
	}
	return fmt.Sprintf(verb, p)
}

// output prints v as JSON, or only quietVal in quiet mode. Table views are
// rendered by the command before it gets here.
func output(v any, quietVal string) {
	if flagFmt == "quiet" {
		formatQuiet(quietVal)
		return
	}

	formatJSON(v)
}
