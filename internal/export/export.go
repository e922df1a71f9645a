package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"querychat/internal/config"
	"querychat/internal/conversation"
)

var ErrNoMessages = errors.New("nothing to export")

// Capturer renders an HTML document into a PNG of the full page.
type Capturer interface {
	Capture(ctx context.Context, html string) ([]byte, error)
}

type Exporter struct {
	dir      string
	format   string
	capturer Capturer
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Exporter)

func WithCapturer(c Capturer) Option { return func(e *Exporter) { e.capturer = c } }

func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.log = l
		}
	}
}

func New(dir, format string, opts ...Option) (*Exporter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
		dir = cwd
	}
	if format == "" {
		format = config.FormatPNG
	}
	if format != config.FormatPNG && format != config.FormatMarkdown {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	e := &Exporter{dir: dir, format: format, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.format == config.FormatPNG && e.capturer == nil {
		e.capturer = &RodCapturer{}
	}
	return e, nil
}

func (e *Exporter) Format() string { return e.format }

// Export writes the conversation, and the result table when there is one,
// into a single file under the export directory and returns its path.
func (e *Exporter) Export(ctx context.Context, messages []conversation.Message, table conversation.Table) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	md := BuildTranscriptMarkdown(messages, table)
	path := filepath.Join(e.dir, FileName(e.now(), e.format))

	var data []byte
	switch e.format {
	case config.FormatMarkdown:
		data = []byte(md)
	default:
		html, err := BuildHTML(md)
		if err != nil {
			return "", err
		}
		data, err = e.capturer.Capture(ctx, html)
		if err != nil {
			return "", fmt.Errorf("capture screenshot: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	e.log.Info("conversation exported", zap.String("path", path), zap.Int("messages", len(messages)))
	return path, nil
}

// FileName is chat-history-<UTC timestamp with millis>.<ext>, with the
// characters that are awkward in file names replaced by dashes.
func FileName(now time.Time, ext string) string {
	now = now.UTC()
	stamp := fmt.Sprintf("%s-%03dZ", now.Format("2006-01-02T15-04-05"), now.Nanosecond()/int(time.Millisecond))
	return "chat-history-" + stamp + "." + ext
}
