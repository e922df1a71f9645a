package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send       key.Binding
	Execute    key.Binding
	NextFocus  key.Binding
	PrevFocus  key.Binding
	PrevBlock  key.Binding
	NextBlock  key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	NewSession key.Binding
	Health     key.Binding
	Export     key.Binding
	CopyQuery  key.Binding
	CopyTable  key.Binding
	Sort       key.Binding
	Reverse    key.Binding
	Filter     key.Binding
	ClearGrid  key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Execute: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "run staged query"),
		),
		NextFocus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next pane"),
		),
		PrevFocus: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "prev pane"),
		),
		PrevBlock: key.NewBinding(
			key.WithKeys("alt+up", "ctrl+p"),
			key.WithHelp("alt+↑", "prev query"),
		),
		NextBlock: key.NewBinding(
			key.WithKeys("alt+down", "ctrl+n"),
			key.WithHelp("alt+↓", "next query"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll down"),
		),
		NewSession: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "new session"),
		),
		Health: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("ctrl+g", "health check"),
		),
		Export: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "export"),
		),
		CopyQuery: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("ctrl+y", "copy query"),
		),
		CopyTable: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("ctrl+t", "copy table"),
		),
		Sort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "sort column"),
		),
		Reverse: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reverse sort"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter rows"),
		),
		ClearGrid: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear sort/filter"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("f1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Execute, k.NextFocus, k.NextBlock, k.NewSession, k.Export, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Execute, k.NextFocus, k.PrevFocus, k.PrevBlock, k.NextBlock},
		{k.PageUp, k.PageDown, k.Sort, k.Reverse, k.Filter, k.ClearGrid},
		{k.NewSession, k.Health, k.Export, k.CopyQuery, k.CopyTable, k.Help, k.Quit},
	}
}
