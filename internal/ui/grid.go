package ui

import (
	"strings"

	"querychat/internal/conversation"
	"querychat/internal/schema"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const (
	maxColumnWidth = 32
	minColumnWidth = 4
)

// visibleTable is the result table after the active filter and sort.
func (m Model) visibleTable() conversation.Table {
	if m.table.Empty() {
		return conversation.Table{}
	}
	rows := schema.Filter(m.table.Rows, m.table.Schema, m.filter.Value())
	cols := m.table.Schema.Columns
	if m.sortCol >= 0 && m.sortCol < len(cols) && cols[m.sortCol].Sortable {
		rows = schema.Sort(rows, cols[m.sortCol].Name, m.sortDesc)
	}
	return conversation.Table{Schema: m.table.Schema, Rows: rows}
}

func (m *Model) rebuildGrid() {
	// Rows must be cleared before the column count changes or the table
	// renders stale rows against the new header.
	m.grid.SetRows(nil)
	if m.table.Empty() {
		m.grid.SetColumns(nil)
		m.visible = 0
		return
	}

	vt := m.visibleTable()
	names := vt.Schema.Names()
	cells := make([][]string, len(vt.Rows))
	for i, r := range vt.Rows {
		cells[i] = flatten(schema.Cells(r, vt.Schema))
	}

	titles := make([]string, len(names))
	for i, n := range names {
		titles[i] = n
		if i == m.sortCol {
			if m.sortDesc {
				titles[i] += " ▼"
			} else {
				titles[i] += " ▲"
			}
		}
	}

	widths := fitWidths(titles, cells)
	columns := make([]table.Column, len(titles))
	for i, t := range titles {
		columns[i] = table.Column{Title: t, Width: widths[i]}
	}
	rows := make([]table.Row, len(cells))
	for i, row := range cells {
		out := make(table.Row, len(row))
		for j, c := range row {
			out[j] = ansi.Truncate(c, widths[j], "…")
		}
		rows[i] = out
	}

	m.grid.SetColumns(columns)
	m.grid.SetRows(rows)
	// The table does not clamp its cursor to the new row count, and a cursor
	// past the last row renders an empty page.
	if m.grid.Cursor() >= len(rows) {
		m.grid.SetCursor(max(len(rows)-1, 0))
	}
	m.visible = len(rows)
}

func (m *Model) cycleSort() {
	n := len(m.table.Schema.Columns)
	if n == 0 {
		return
	}
	m.sortCol++
	if m.sortCol >= n {
		m.sortCol = -1
		m.sortDesc = false
	}
	m.rebuildGrid()
}

func fitWidths(titles []string, cells [][]string) []int {
	widths := make([]int, len(titles))
	for i, t := range titles {
		widths[i] = max(ansi.StringWidth(t), minColumnWidth)
	}
	for _, row := range cells {
		for i, c := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], ansi.StringWidth(c))
			}
		}
	}
	for i := range widths {
		widths[i] = min(widths[i], maxColumnWidth)
	}
	return widths
}

func flatten(cells []string) []string {
	r := strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ")
	for i, c := range cells {
		cells[i] = r.Replace(c)
	}
	return cells
}

func gridStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("16")).
		Background(lipgloss.Color("39")).
		Bold(false)
	return s
}
