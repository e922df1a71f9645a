package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"querychat/internal/config"
	"querychat/internal/conversation"
	"querychat/internal/schema"
)

type fakeCapturer struct {
	html string
	err  error
}

func (f *fakeCapturer) Capture(_ context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\x89PNG"), nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)

func sampleMessages() []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleUser, Content: "Show me top scorers"},
		{Role: conversation.RoleAssistant, Content: "Here:\n```sql\n  SELECT name FROM players  \n```\nDone."},
	}
}

func sampleTable() conversation.Table {
	rows := []schema.Record{
		schema.NewRecord(schema.Field{Name: "name", Value: schema.String("A|n")}),
	}
	p := schema.Project(rows)
	return conversation.Table{Schema: p.Schema, Rows: p.Rows}
}

func TestFileName(t *testing.T) {
	got := FileName(fixedNow, "png")
	if got != "chat-history-2024-05-01T12-30-45-123Z.png" {
		t.Fatalf("unexpected file name %q", got)
	}
	local := fixedNow.In(time.FixedZone("X", 3600))
	if FileName(local, "md") != "chat-history-2024-05-01T12-30-45-123Z.md" {
		t.Fatalf("expected UTC stamp, got %q", FileName(local, "md"))
	}
}

func TestBuildTranscriptMarkdown(t *testing.T) {
	out := BuildTranscriptMarkdown(sampleMessages(), sampleTable())
	if !strings.HasPrefix(out, "## You\n\nShow me top scorers") {
		t.Fatalf("expected user header first, got:\n%s", out)
	}
	if !strings.Contains(out, "## Assistant\n\nHere:\n```sql\nSELECT name FROM players\n```\nDone.") {
		t.Fatalf("expected canonical query block, got:\n%s", out)
	}
	if !strings.Contains(out, "## Results (1 rows)") || !strings.Contains(out, `| A\|n |`) {
		t.Fatalf("expected escaped result table, got:\n%s", out)
	}
}

func TestBuildTranscriptMarkdown_SkipsBlankMessages(t *testing.T) {
	out := BuildTranscriptMarkdown([]conversation.Message{
		{Role: conversation.RoleUser, Content: "  "},
		{Role: conversation.RoleAssistant, Content: "ok"},
	}, conversation.Table{})
	if strings.Contains(out, "## You") {
		t.Fatalf("blank user message should be skipped:\n%s", out)
	}
	if strings.Contains(out, "## Results") {
		t.Fatalf("empty table should not be rendered:\n%s", out)
	}
}

func TestBuildHTML(t *testing.T) {
	html, err := BuildHTML("## You\n\n| a |\n| --- |\n| 1 |\n")
	if err != nil {
		t.Fatalf("build html: %v", err)
	}
	if !strings.Contains(html, "<h2>You</h2>") || !strings.Contains(html, "<table>") {
		t.Fatalf("unexpected html:\n%s", html)
	}
}

func TestExportPNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	fc := &fakeCapturer{}
	e, err := New(dir, config.FormatPNG, WithCapturer(fc), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	path, err := e.Export(context.Background(), sampleMessages(), conversation.Table{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "chat-history-2024-05-01T12-30-45-123Z.png" {
		t.Fatalf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "\x89PNG" {
		t.Fatalf("unexpected file content %q (%v)", data, err)
	}
	if !strings.Contains(fc.html, "Show me top scorers") {
		t.Fatalf("capturer did not receive the transcript")
	}
}

func TestExportMarkdown(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, config.FormatMarkdown, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	path, err := e.Export(context.Background(), sampleMessages(), sampleTable())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "## Results") {
		t.Fatalf("expected results section, got:\n%s", data)
	}
}

func TestExportErrors(t *testing.T) {
	e, _ := New(t.TempDir(), config.FormatPNG, WithCapturer(&fakeCapturer{err: errors.New("no chrome")}))
	if _, err := e.Export(context.Background(), nil, conversation.Table{}); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
	if _, err := e.Export(context.Background(), sampleMessages(), conversation.Table{}); err == nil {
		t.Fatal("expected capture error")
	}
	if _, err := New(t.TempDir(), "gif"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
