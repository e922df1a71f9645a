// Package extract splits an embedded ```sql fenced block out of free-form
// assistant text.
package extract

import "strings"

const (
	OpenFence  = "```sql"
	CloseFence = "```"
)

type Parsed struct {
	HasQuery bool
	Before   string
	Query    string
	After    string
}

// Parse locates the first ```sql block in text. Only one pass is made: any
// later fenced block is left inside After untouched.
func Parse(text string) Parsed {
	start := strings.Index(text, OpenFence)
	if start < 0 {
		return Parsed{Before: text}
	}
	bodyStart := start + len(OpenFence)
	rel := strings.Index(text[bodyStart:], CloseFence)
	if rel < 0 {
		return Parsed{Before: text}
	}
	bodyEnd := bodyStart + rel

	return Parsed{
		HasQuery: true,
		Before:   text[:start],
		Query:    strings.TrimSpace(text[bodyStart:bodyEnd]),
		After:    text[bodyEnd+len(CloseFence):],
	}
}

// Content is the original text for messages without a block.
func (p Parsed) Content() string {
	if !p.HasQuery {
		return p.Before
	}
	return p.Reconstruct()
}

func (p Parsed) Reconstruct() string {
	if !p.HasQuery {
		return p.Before
	}
	var b strings.Builder
	b.WriteString(p.Before)
	b.WriteString(OpenFence)
	b.WriteString("\n")
	b.WriteString(p.Query)
	b.WriteString("\n")
	b.WriteString(CloseFence)
	b.WriteString(p.After)
	return b.String()
}

func HasQuery(text string) bool {
	return Parse(text).HasQuery
}
