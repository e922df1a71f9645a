// Package schema infers a table layout from loosely shaped query results.
//
// The first row is trusted as representative: its keys, in order, become the
// columns. Keys that only appear in later rows are reported in
// Projection.Dropped but never displayed.
package schema

import (
	"sort"
	"strings"
)

type Column struct {
	Name       string
	Sortable   bool
	Filterable bool
}

type TableSchema struct {
	Columns []Column
}

func (s TableSchema) Empty() bool { return len(s.Columns) == 0 }

func (s TableSchema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

type Projection struct {
	Schema  TableSchema
	Rows    []Record
	Dropped []string
}

func (p Projection) Empty() bool { return p.Schema.Empty() }

func Project(rows []Record) Projection {
	if len(rows) == 0 {
		return Projection{}
	}

	keys := rows[0].Keys()
	cols := make([]Column, len(keys))
	known := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		cols[i] = Column{Name: k, Sortable: true, Filterable: true}
		known[k] = struct{}{}
	}

	var dropped []string
	for _, r := range rows[1:] {
		for _, k := range r.Keys() {
			if _, ok := known[k]; ok {
				continue
			}
			known[k] = struct{}{}
			dropped = append(dropped, k)
		}
	}

	return Projection{
		Schema:  TableSchema{Columns: cols},
		Rows:    rows,
		Dropped: dropped,
	}
}

// Cells renders a row against the schema. Missing keys render as empty
// strings.
func Cells(r Record, s TableSchema) []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		if v, ok := r.Get(c.Name); ok {
			out[i] = v.String()
		}
	}
	return out
}

// Sort returns a sorted copy. Numbers compare numerically, nulls and missing
// cells sort first, everything else compares as text.
func Sort(rows []Record, column string, desc bool) []Record {
	out := append([]Record(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Get(column)
		b, _ := out[j].Get(column)
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
	return out
}

func less(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && !b.IsNull()
	}
	af, aok := a.Float()
	bf, bok := b.Float()
	if aok && bok {
		return af < bf
	}
	return strings.ToLower(a.String()) < strings.ToLower(b.String())
}

func Filter(rows []Record, s TableSchema, term string) []Record {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return rows
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		for _, c := range s.Columns {
			if !c.Filterable {
				continue
			}
			v, ok := r.Get(c.Name)
			if ok && strings.Contains(strings.ToLower(v.String()), term) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
