package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"querychat/internal/clipboard"
	"querychat/internal/config"
	"querychat/internal/conversation"
	"querychat/internal/export"
	"querychat/internal/status"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusEditor
	focusGrid
	focusFilter
)

const editorHeight = 5

type Model struct {
	cfg      config.AppConfig
	engine   *conversation.Engine
	exporter *export.Exporter
	signals  *status.Channel
	log      *zap.Logger
	copy     func(ctx context.Context, text string) error
	cleared  chan struct{}

	viewport viewport.Model
	input    textinput.Model
	editor   textarea.Model
	grid     table.Model
	filter   textinput.Model
	help     help.Model
	spinner  spinner.Model
	keys     keyMap

	width  int
	height int
	focus  focusArea

	messages []conversation.Message
	table    conversation.Table
	visible  int

	// blocks holds the indexes of assistant messages carrying a query;
	// selected indexes into blocks. staged is keyed by message index.
	blocks   []int
	selected int
	staged   map[int]string

	sortCol  int
	sortDesc bool

	pendingSends int
	executing    bool
	renderNonce  int
	scrolledTo   int

	status string
	err    error
}

type turnBegunMsg struct {
	turn *conversation.Turn
	err  error
}
type replyMsg struct {
	reply conversation.Message
}
type execMsg struct {
	out conversation.Outcome
	err error
}
type resetMsg struct {
	id  string
	err error
}
type healthMsg struct {
	err error
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct {
	what string
	err  error
}
type renderMsg struct {
	rendered string
	nonce    int
	count    int
}
type statusClearedMsg struct{}

func NewModel(cfg config.AppConfig, eng *conversation.Engine, exp *export.Exporter, signals *status.Channel, log *zap.Logger) Model {
	if log == nil {
		log = zap.NewNop()
	}
	if signals == nil {
		signals = status.New(cfg.StatusWindow)
	}

	vp := viewport.New(80, 20)
	vp.SetContent("Ask a question about your data to get started.")

	in := textinput.New()
	in.Placeholder = "Ask about your data..."
	in.Prompt = "> "
	in.CharLimit = 4000
	in.Focus()

	ed := textarea.New()
	ed.Placeholder = "Staged SQL"
	ed.ShowLineNumbers = false
	ed.CharLimit = 0
	ed.SetHeight(editorHeight)
	ed.Blur()

	grid := table.New(table.WithFocused(false), table.WithHeight(6))
	grid.SetStyles(gridStyles())

	flt := textinput.New()
	flt.Prompt = "filter: "
	flt.Placeholder = "substring, any column"
	flt.CharLimit = 256

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	cleared := make(chan struct{}, 1)
	signals.OnClear(func(status.Signal) {
		select {
		case cleared <- struct{}{}:
		default:
		}
	})

	return Model{
		cfg:      cfg,
		engine:   eng,
		exporter: exp,
		signals:  signals,
		log:      log,
		copy:     clipboard.Copy,
		cleared:  cleared,

		viewport: vp,
		input:    in,
		editor:   ed,
		grid:     grid,
		filter:   flt,
		help:     h,
		spinner:  sp,
		keys:     defaultKeys(),

		selected: -1,
		staged:   make(map[int]string),
		sortCol:  -1,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.healthCmd(), m.waitForClear())
}

func (m Model) beginCmd(text string) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		turn, err := eng.Begin(context.Background(), text)
		return turnBegunMsg{turn: turn, err: err}
	}
}

func resolveCmd(turn *conversation.Turn) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{reply: turn.Resolve(context.Background())}
	}
}

func (m Model) executeCmd(staged string) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		out, err := eng.Execute(context.Background(), staged)
		return execMsg{out: out, err: err}
	}
}

func (m Model) resetCmd() tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		id, err := eng.ResetSession(context.Background())
		return resetMsg{id: id, err: err}
	}
}

func (m Model) healthCmd() tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		return healthMsg{err: eng.CheckHealth(context.Background())}
	}
}

func (m Model) exportCmd() tea.Cmd {
	exp := m.exporter
	if exp == nil {
		return nil
	}
	msgs := append([]conversation.Message(nil), m.messages...)
	tbl := m.table
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		path, err := exp.Export(ctx, msgs, tbl)
		return exportMsg{path: path, err: err}
	}
}

func (m Model) copyCmd(what, text string) tea.Cmd {
	cp := m.copy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return copyMsg{what: what, err: cp(ctx, text)}
	}
}

func (m Model) waitForClear() tea.Cmd {
	ch := m.cleared
	return func() tea.Msg {
		<-ch
		return statusClearedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.render())

	case turnBegunMsg:
		if msg.err != nil || msg.turn == nil {
			m.pendingSends--
			if msg.err != nil {
				m.err = msg.err
				m.status = "Send failed: " + msg.err.Error()
			}
			break
		}
		m.refresh()
		cmds = append(cmds, m.render(), resolveCmd(msg.turn))

	case replyMsg:
		m.pendingSends--
		m.refresh()
		m.selectLatestBlock()
		cmds = append(cmds, m.render())

	case execMsg:
		m.executing = false
		switch {
		case errors.Is(msg.err, conversation.ErrBusy):
			m.status = "A query is already running"
		case errors.Is(msg.err, conversation.ErrEmptyQuery):
			m.status = "The staged query is empty"
		case msg.err != nil:
			m.err = msg.err
		case msg.out.Discarded:
		default:
			m.err = nil
			m.refresh()
			if msg.out.Appended == nil && !m.table.Empty() {
				m.status = fmt.Sprintf("Query returned %d rows", len(m.table.Rows))
			} else {
				m.status = ""
			}
			cmds = append(cmds, m.render())
		}

	case resetMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.status = ""
		m.staged = make(map[int]string)
		m.selected = -1
		m.editor.Reset()
		m.sortCol, m.sortDesc = -1, false
		m.filter.SetValue("")
		m.focus = focusInput
		m.applyFocus()
		m.refresh()
		cmds = append(cmds, m.render())

	case healthMsg:
		if msg.err != nil {
			m.log.Debug("health probe failed", zap.Error(msg.err))
		}

	case exportMsg:
		switch {
		case errors.Is(msg.err, export.ErrNoMessages):
			m.signals.Signal(status.Error, status.TopicExport, "Nothing to export yet")
		case msg.err != nil:
			m.signals.Signal(status.Error, status.TopicExport, "Export failed: "+msg.err.Error())
		default:
			m.signals.Signal(status.Success, status.TopicExport, "Exported: "+msg.path)
		}

	case copyMsg:
		switch {
		case errors.Is(msg.err, clipboard.ErrToolNotFound):
			m.signals.Signal(status.Error, status.TopicClipboard, "Could not copy: clipboard tool not found")
		case msg.err != nil:
			m.signals.Signal(status.Error, status.TopicClipboard, "Could not copy: "+msg.err.Error())
		default:
			m.signals.Signal(status.Success, status.TopicClipboard, "Copied "+msg.what+" to clipboard")
		}

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.viewport.SetContent(msg.rendered)
		if msg.count != m.scrolledTo {
			m.viewport.GotoBottom()
			m.scrolledTo = msg.count
		}

	case statusClearedMsg:
		cmds = append(cmds, m.waitForClear())

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)

	default:
		var cmd tea.Cmd
		switch m.focus {
		case focusInput:
			m.input, cmd = m.input.Update(msg)
		case focusEditor:
			m.editor, cmd = m.editor.Update(msg)
		case focusFilter:
			m.filter, cmd = m.filter.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextFocus):
		m.cycleFocus(1)
		return m, nil
	case key.Matches(msg, m.keys.PrevFocus):
		m.cycleFocus(-1)
		return m, nil
	case key.Matches(msg, m.keys.Execute):
		return m.execute()
	case key.Matches(msg, m.keys.NewSession):
		return m, m.resetCmd()
	case key.Matches(msg, m.keys.Health):
		return m, m.healthCmd()
	case key.Matches(msg, m.keys.Export):
		if m.exporter == nil {
			return m, nil
		}
		m.signals.Signal(status.Pending, status.TopicExport, "Exporting conversation...")
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.CopyQuery):
		if m.selected < 0 || strings.TrimSpace(m.editor.Value()) == "" {
			m.status = "No staged query to copy"
			return m, nil
		}
		return m, m.copyCmd("query", m.editor.Value())
	case key.Matches(msg, m.keys.CopyTable):
		if m.table.Empty() {
			m.status = "No result table to copy"
			return m, nil
		}
		return m, m.copyCmd("table", clipboard.TableTSV(m.visibleTable()))
	case key.Matches(msg, m.keys.PrevBlock):
		if m.moveBlock(-1) {
			return m, m.render()
		}
		return m, nil
	case key.Matches(msg, m.keys.NextBlock):
		if m.moveBlock(1) {
			return m, m.render()
		}
		return m, nil
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusInput:
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
		m.input, cmd = m.input.Update(msg)
	case focusEditor:
		m.editor, cmd = m.editor.Update(msg)
	case focusFilter:
		switch msg.Type {
		case tea.KeyEnter:
			m.focus = focusGrid
			m.applyFocus()
			return m, nil
		case tea.KeyEsc:
			m.filter.SetValue("")
			m.focus = focusGrid
			m.applyFocus()
			m.rebuildGrid()
			return m, nil
		}
		before := m.filter.Value()
		m.filter, cmd = m.filter.Update(msg)
		if m.filter.Value() != before {
			m.rebuildGrid()
		}
	case focusGrid:
		switch {
		case key.Matches(msg, m.keys.Sort):
			m.cycleSort()
		case key.Matches(msg, m.keys.Reverse):
			m.sortDesc = !m.sortDesc
			m.rebuildGrid()
		case key.Matches(msg, m.keys.Filter):
			m.focus = focusFilter
			m.applyFocus()
			m.resize()
		case key.Matches(msg, m.keys.ClearGrid):
			m.filter.SetValue("")
			m.sortCol, m.sortDesc = -1, false
			m.rebuildGrid()
		default:
			m.grid, cmd = m.grid.Update(msg)
		}
	}
	return m, cmd
}

// submit sends the input line. Whitespace-only input is dropped locally.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	m.input.SetValue("")
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.pendingSends++
	m.status = ""
	return m, tea.Batch(m.beginCmd(text), m.spinner.Tick)
}

// execute runs the editor's current text, which may differ from the query
// the assistant originally proposed.
func (m Model) execute() (tea.Model, tea.Cmd) {
	if m.selected < 0 {
		m.status = "No query to execute"
		return m, nil
	}
	staged := m.editor.Value()
	if strings.TrimSpace(staged) == "" {
		m.status = "The staged query is empty"
		return m, nil
	}
	if m.executing {
		m.status = "A query is already running"
		return m, nil
	}
	m.staged[m.blocks[m.selected]] = staged
	m.executing = true
	m.status = ""
	return m, tea.Batch(m.executeCmd(staged), m.spinner.Tick)
}

func (m Model) busy() bool {
	return m.pendingSends > 0 || m.executing
}

// refresh pulls fresh snapshots from the engine and rebuilds what derives
// from them.
func (m *Model) refresh() {
	prevNames := m.table.Schema.Names()
	m.messages = m.engine.Messages()
	m.table = m.engine.Table()
	if !equalStrings(prevNames, m.table.Schema.Names()) {
		m.sortCol, m.sortDesc = -1, false
	}

	m.blocks = nil
	for i, msg := range m.messages {
		if msg.Role == conversation.RoleAssistant && msg.Parse().HasQuery {
			m.blocks = append(m.blocks, i)
		}
	}
	if m.selected >= len(m.blocks) {
		m.selected = -1
		m.editor.Reset()
	}
	if m.table.Empty() && (m.focus == focusGrid || m.focus == focusFilter) {
		m.focus = focusInput
		m.applyFocus()
	}
	m.rebuildGrid()
	m.resize()
}

func (m *Model) selectLatestBlock() {
	if len(m.blocks) == 0 {
		return
	}
	last := len(m.blocks) - 1
	if m.selected != last {
		m.selectBlock(last)
	}
}

// selectBlock stores the editor's text for the current block before loading
// the staged text (or the original query) of block i.
func (m *Model) selectBlock(i int) {
	if i < 0 || i >= len(m.blocks) {
		return
	}
	if m.selected >= 0 && m.selected < len(m.blocks) {
		m.staged[m.blocks[m.selected]] = m.editor.Value()
	}
	m.selected = i
	idx := m.blocks[i]
	text, ok := m.staged[idx]
	if !ok {
		text = m.messages[idx].Parse().Query
	}
	m.editor.SetValue(text)
	m.resize()
}

func (m *Model) moveBlock(delta int) bool {
	if len(m.blocks) == 0 {
		return false
	}
	next := m.selected + delta
	if m.selected < 0 {
		next = len(m.blocks) - 1
	}
	if next < 0 || next >= len(m.blocks) {
		return false
	}
	m.selectBlock(next)
	return true
}

func (m *Model) cycleFocus(delta int) {
	order := []focusArea{focusInput}
	if m.selected >= 0 {
		order = append(order, focusEditor)
	}
	if !m.table.Empty() {
		order = append(order, focusGrid)
	}
	cur := m.focus
	if cur == focusFilter {
		cur = focusGrid
	}
	pos := 0
	for i, f := range order {
		if f == cur {
			pos = i
		}
	}
	pos = (pos + delta + len(order)) % len(order)
	m.focus = order[pos]
	m.applyFocus()
}

func (m *Model) applyFocus() {
	m.input.Blur()
	m.editor.Blur()
	m.grid.Blur()
	m.filter.Blur()
	switch m.focus {
	case focusInput:
		m.input.Focus()
	case focusEditor:
		m.editor.Focus()
	case focusGrid:
		m.grid.Focus()
	case focusFilter:
		m.grid.Focus()
		m.filter.Focus()
	}
}

func (m *Model) render() tea.Cmd {
	m.renderNonce++
	nonce := m.renderNonce
	selectedMsg := -1
	if m.selected >= 0 && m.selected < len(m.blocks) {
		selectedMsg = m.blocks[m.selected]
	}
	md := transcriptMarkdown(m.messages, selectedMsg)
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	style := m.cfg.GlamourStyle
	if style == "" {
		style = config.DefaultGlamourStyle
	}
	count := len(m.messages)

	return func() tea.Msg {
		rendered := md
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrap),
		)
		if err == nil {
			if out, renderErr := r.Render(md); renderErr == nil {
				rendered = out
			}
		}
		return renderMsg{rendered: rendered, nonce: nonce, count: count}
	}
}

func transcriptMarkdown(msgs []conversation.Message, selectedMsg int) string {
	if len(msgs) == 0 {
		return "_Ask a question about your data to get started._"
	}
	var b strings.Builder
	n := 0
	for i, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		if msg.Role == conversation.RoleUser {
			b.WriteString("### You\n\n" + content + "\n\n")
			continue
		}
		b.WriteString("### Assistant\n\n")
		p := msg.Parse()
		if !p.HasQuery {
			b.WriteString(content + "\n\n")
			continue
		}
		n++
		label := fmt.Sprintf("_query %d_", n)
		if i == selectedMsg {
			label = fmt.Sprintf("**▶ query %d (staged below)**", n)
		}
		if before := strings.TrimSpace(p.Before); before != "" {
			b.WriteString(before + "\n\n")
		}
		b.WriteString(label + "\n\n```sql\n" + p.Query + "\n```\n\n")
		if after := strings.TrimSpace(p.After); after != "" {
			b.WriteString(after + "\n\n")
		}
	}
	return b.String()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
