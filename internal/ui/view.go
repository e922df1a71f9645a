package ui

import (
	"fmt"
	"strings"

	"querychat/internal/status"

	"github.com/charmbracelet/lipgloss"
)

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	inner := m.width - 4
	if inner < 20 {
		inner = 20
	}
	m.input.Width = inner - lipgloss.Width(m.input.Prompt) - 1
	m.filter.Width = inner - lipgloss.Width(m.filter.Prompt) - 1
	m.editor.SetWidth(inner)
	m.help.Width = m.width

	helpHeight := 1
	if m.help.ShowAll {
		helpHeight = 7
	}
	avail := m.height - 1 - helpHeight - 3

	editorH := 0
	if m.selected >= 0 {
		editorH = editorHeight + 3
	}

	gridH := 0
	if !m.table.Empty() {
		rows := m.visible
		if rows < 1 {
			rows = 1
		}
		gridH = min(rows+2, max(avail/3, 4)) + 2
		if m.focus == focusFilter || m.filter.Value() != "" {
			gridH++
		}
		m.grid.SetHeight(gridH - 2)
		m.grid.SetWidth(inner)
	}

	chatH := avail - editorH - gridH
	if chatH < 5 {
		chatH = 5
	}
	m.viewport.Width = inner
	m.viewport.Height = chatH - 2
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}
	w := m.width - 2

	sections := []string{
		m.statusLine(),
		panelStyle(false).Width(w).Render(m.viewport.View()),
	}

	if !m.table.Empty() {
		gridView := m.grid.View()
		if m.focus == focusFilter || m.filter.Value() != "" {
			gridView = m.filter.View() + "\n" + gridView
		}
		active := m.focus == focusGrid || m.focus == focusFilter
		sections = append(sections, panelStyle(active).Width(w).Render(gridView))
	}

	if m.selected >= 0 {
		title := titleStyle.Render(fmt.Sprintf("Staged query %d/%d", m.selected+1, len(m.blocks)))
		body := title + "\n" + m.editor.View()
		sections = append(sections, panelStyle(m.focus == focusEditor).Width(w).Render(body))
	}

	sections = append(sections,
		panelStyle(m.focus == focusInput).Width(w).Render(m.input.View()),
		m.help.View(m.keys),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) statusLine() string {
	var parts []string
	if m.busy() {
		label := "sending..."
		if m.executing {
			label = "executing..."
		}
		parts = append(parts, m.spinner.View()+" "+label)
	}

	if id, ok := m.engine.SessionID(); ok {
		parts = append(parts, "session="+shorten(id, 12))
	} else {
		parts = append(parts, "session=new")
	}
	parts = append(parts, fmt.Sprintf("messages=%d", len(m.messages)))

	if !m.table.Empty() {
		rows := fmt.Sprintf("rows=%d", len(m.table.Rows))
		if m.visible != len(m.table.Rows) {
			rows = fmt.Sprintf("rows=%d/%d", m.visible, len(m.table.Rows))
		}
		parts = append(parts, rows)
		if m.sortCol >= 0 && m.sortCol < len(m.table.Schema.Columns) {
			dir := "asc"
			if m.sortDesc {
				dir = "desc"
			}
			parts = append(parts, "sort="+m.table.Schema.Columns[m.sortCol].Name+" "+dir)
		}
		if f := strings.TrimSpace(m.filter.Value()); f != "" {
			parts = append(parts, "filter="+shorten(f, 20))
		}
		if len(m.table.Dropped) > 0 {
			parts = append(parts, fmt.Sprintf("[%d hidden cols]", len(m.table.Dropped)))
		}
	}

	if sig, ok := m.signals.Current(); ok {
		parts = append(parts, signalStyle(sig.Kind).Render(shorten(sig.Text, 80)))
	}
	if strings.TrimSpace(m.status) != "" {
		parts = append(parts, shorten(strings.TrimSpace(m.status), 80))
	}
	if m.err != nil {
		parts = append(parts, "err="+shorten(m.err.Error(), 60))
	}
	return statusStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

func signalStyle(k status.Kind) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("24"))
	switch k {
	case status.Success:
		return s.Foreground(lipgloss.Color("120"))
	case status.Error:
		return s.Foreground(lipgloss.Color("210"))
	default:
		return s.Foreground(lipgloss.Color("221"))
	}
}

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	if active {
		return lipgloss.NewStyle().
			Border(border, true).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}
