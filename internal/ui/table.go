package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Table is a titled grid of cells.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

// RenderTable writes t as an aligned borderless table.
func RenderTable(w io.Writer, t Table) {
	if t.Title != "" {
		title := t.Title
		if supportsColor {
			title = color.New(color.Bold, color.FgCyan).Sprint(title)
		}
		fmt.Fprintf(w, "\n%s\n", title)
	}

	if len(t.Rows) == 0 {
		fmt.Fprintf(w, "  %s\n", ColorDim("(no rows)"))
		return
	}

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(t.Header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(t.Rows)
	table.Render()

	io.WriteString(w, buf.String())
}

// RenderTables writes each table in turn.
func RenderTables(w io.Writer, tables []Table) {
	for _, t := range tables {
		RenderTable(w, t)
	}
}

// StatusCell colors a pass or fail marker.
func StatusCell(ok bool) string {
	if !supportsColor {
		if ok {
			return "OK"
		}
		return "FAIL"
	}
	if ok {
		return color.GreenString("OK")
	}
	return color.RedString("FAIL")
}
