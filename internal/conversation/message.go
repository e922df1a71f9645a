package conversation

import (
	"querychat/internal/extract"
	"querychat/internal/schema"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func (m Message) Parse() extract.Parsed {
	return extract.Parse(m.Content)
}

// Table is the projected result of the most recent successful execution.
type Table struct {
	Schema  schema.TableSchema
	Rows    []schema.Record
	Dropped []string
}

func (t Table) Empty() bool { return t.Schema.Empty() }

const (
	msgAffectedRows = "Query executed successfully. Affected rows: %d"
	msgNoData       = "Query executed successfully, but returned no data."
)
