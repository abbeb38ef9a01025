package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

const (
	outputAuto  = "auto"
	outputTable = "table"
	outputPlain = "plain"
	outputJSON  = "json"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// printer renders command results in the selected format
type printer struct {
	out    io.Writer
	format string
	color  bool
}

func newPrinter(cmd *cobra.Command, format string) (*printer, error) {
	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	switch format {
	case outputAuto, "":
		format = outputPlain
		if tty {
			format = outputTable
		}
	case outputTable, outputPlain, outputJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &printer{out: out, format: format, color: tty && format == outputTable}, nil
}

func (p *printer) isJSON() bool {
	return p.format == outputJSON
}

// writeJSON encodes v as indented JSON
func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(headers []string, rows [][]string, aligns []columnAlignment) {
	fmt.Fprintln(p.out, renderTable(headers, rows, aligns, p.format == outputTable, p.color))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// state colours a state name on a terminal
func (p *printer) state(s string) string {
	if !p.color {
		return s
	}
	st := domainwf.State(s)
	switch {
	case st.IsEffective():
		return text.FgGreen.Sprint(s)
	case st == domainwf.StateTerminated || st == domainwf.StateObsolete:
		return text.FgRed.Sprint(s)
	case st.IsTerminal():
		return text.Faint.Sprint(s)
	case st.IsInFlight():
		return text.FgYellow.Sprint(s)
	default:
		return s
	}
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment, boxed, color bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	switch {
	case boxed && color:
		tw.SetStyle(table.StyleColoredDark)
	case boxed:
		tw.SetStyle(table.StyleRounded)
	default:
		style := table.StyleDefault
		style.Options = table.OptionsNoBordersAndSeparators
		tw.SetStyle(style)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
