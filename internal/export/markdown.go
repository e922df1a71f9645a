package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"querychat/internal/conversation"
	"querychat/internal/schema"
)

func BuildTranscriptMarkdown(messages []conversation.Message, table conversation.Table) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case conversation.RoleUser:
			b.WriteString("## You\n\n")
		default:
			b.WriteString("## Assistant\n\n")
			if p := m.Parse(); p.HasQuery {
				content = strings.TrimSpace(p.Reconstruct())
			}
		}
		b.WriteString(content + "\n\n")
	}

	if !table.Empty() {
		b.WriteString(fmt.Sprintf("## Results (%d rows)\n\n", len(table.Rows)))
		b.WriteString(tableMarkdown(table))
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func tableMarkdown(t conversation.Table) string {
	names := t.Schema.Names()
	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(names), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(names)) + "\n")
	for _, r := range t.Rows {
		b.WriteString("| " + strings.Join(escapeCells(schema.Cells(r, t.Schema)), " | ") + " |\n")
	}
	return b.String()
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	r := strings.NewReplacer("|", `\|`, "\n", " ")
	for i, c := range cells {
		out[i] = r.Replace(c)
	}
	return out
}

const pageCSS = `body{font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;max-width:960px;margin:24px auto;padding:0 16px;color:#1f2328}
h2{border-bottom:1px solid #d0d7de;padding-bottom:4px}
pre{background:#f6f8fa;padding:12px;border-radius:6px;overflow-x:auto}
table{border-collapse:collapse}th,td{border:1px solid #d0d7de;padding:4px 8px}`

// BuildHTML converts the transcript into a standalone page for capture.
func BuildHTML(markdown string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString("Chat history"))
	b.WriteString("</title><style>" + pageCSS + "</style></head><body>")
	b.Write(body.Bytes())
	b.WriteString("</body></html>")
	return b.String(), nil
}
