package devserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// Responder produces the assistant reply for one chat message.
type Responder interface {
	Reply(ctx context.Context, sessionID, message string) (string, error)
}

type Catalog interface {
	Tables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context) (string, error)
}

// RuleResponder answers without a model: SQL is echoed back fenced, a
// message naming a known table gets a starter query, anything else gets
// a short help text.
type RuleResponder struct {
	catalog Catalog
}

func NewRuleResponder(c Catalog) *RuleResponder {
	return &RuleResponder{catalog: c}
}

var sqlStart = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "PRAGMA": true, "EXPLAIN": true, "VALUES": true,
}

func (r *RuleResponder) Reply(ctx context.Context, _ string, message string) (string, error) {
	msg := strings.TrimSpace(message)
	if sqlStart[firstKeyword(msg)] {
		return "Here is your query, ready to run:\n\n" + fence(msg), nil
	}

	tables, err := r.catalog.Tables(ctx)
	if err != nil {
		return "", err
	}
	words := wordSet(msg)
	for _, t := range tables {
		if words[strings.ToLower(t)] {
			q := fmt.Sprintf("SELECT * FROM %s LIMIT 50", t)
			return fmt.Sprintf("This query returns the first rows of `%s`:\n\n%s\n\nEdit it before running if you need a filter or ordering.", t, fence(q)), nil
		}
	}

	if len(tables) == 0 {
		return "The database has no tables yet. Send a CREATE TABLE statement to get started.", nil
	}
	return "I can write SQL for these tables: " + strings.Join(tables, ", ") +
		". Mention one by name, or send a SQL statement directly.", nil
}

var wordRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordRe.FindAllString(s, -1) {
		out[strings.ToLower(w)] = true
	}
	return out
}

func fence(q string) string {
	return "```sql\n" + strings.TrimSpace(q) + "\n```"
}

const systemPrompt = `You are a SQL assistant for a SQLite database with this schema:

%s
Answer briefly. When the user asks for data, include exactly one query in a fenced block that starts with ` + "```sql" + ` and ends with ` + "```" + `. Never invent tables or columns.`

// LLMResponder asks a langchaingo model, keeping a bounded per-session
// history.
type LLMResponder struct {
	model    llms.Model
	catalog  Catalog
	maxTurns int

	mu      sync.Mutex
	history map[string][]llms.MessageContent
}

func NewLLMResponder(model llms.Model, c Catalog) *LLMResponder {
	return &LLMResponder{model: model, catalog: c, maxTurns: 10, history: map[string][]llms.MessageContent{}}
}

func NewOllamaResponder(modelName, serverURL string, c Catalog) (*LLMResponder, error) {
	opts := []ollama.Option{ollama.WithModel(modelName)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return NewLLMResponder(m, c), nil
}

func (r *LLMResponder) Reply(ctx context.Context, sessionID, message string) (string, error) {
	desc, err := r.catalog.Describe(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	past := append([]llms.MessageContent(nil), r.history[sessionID]...)
	r.mu.Unlock()

	msgs := make([]llms.MessageContent, 0, len(past)+2)
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, fmt.Sprintf(systemPrompt, desc)))
	msgs = append(msgs, past...)
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, message))

	resp, err := r.model.GenerateContent(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	answer := resp.Choices[0].Content

	r.mu.Lock()
	h := append(r.history[sessionID],
		llms.TextParts(schema.ChatMessageTypeHuman, message),
		llms.TextParts(schema.ChatMessageTypeAI, answer))
	if over := len(h) - 2*r.maxTurns; over > 0 {
		h = h[over:]
	}
	r.history[sessionID] = h
	r.mu.Unlock()

	return answer, nil
}
