// Package conversation owns the message log and the result table, and
// orchestrates chat sends, query execution and session resets against the
// backend.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"querychat/internal/api"
	"querychat/internal/schema"
	"querychat/internal/session"
	"querychat/internal/status"
)

var (
	ErrBusy       = errors.New("an execution is already in flight")
	ErrEmptyQuery = errors.New("staged query is empty")
)

type Backend interface {
	Chat(ctx context.Context, message, sessionID string) (api.ChatResponse, error)
	Execute(ctx context.Context, query, sessionID string) api.ExecutionResult
	NewSessionID(ctx context.Context) (string, error)
	Health(ctx context.Context) (api.HealthResponse, error)
}

type Engine struct {
	backend  Backend
	sessions *session.Store
	status   *status.Channel
	log      *zap.Logger

	// sendSlot serializes sends; executing is a no-op guard.
	sendSlot  chan struct{}
	sending   atomic.Bool
	executing atomic.Bool

	mu       sync.Mutex
	epoch    uint64
	messages []Message
	table    Table
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithStatus(c *status.Channel) Option {
	return func(e *Engine) { e.status = c }
}

func WithSessionStore(s *session.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.sessions = s
		}
	}
}

func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		sessions: session.NewStore(),
		log:      zap.NewNop(),
		sendSlot: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.messages...)
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

func (e *Engine) Table() Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.table
	t.Rows = append([]schema.Record(nil), e.table.Rows...)
	return t
}

func (e *Engine) SessionID() (string, bool) { return e.sessions.CurrentID() }

func (e *Engine) Sending() bool   { return e.sending.Load() }
func (e *Engine) Executing() bool { return e.executing.Load() }

// Turn is a send whose user message is already in the log and whose reply
// is still outstanding.
type Turn struct {
	e     *Engine
	text  string
	epoch uint64
	once  sync.Once
	reply Message
}

// Begin appends the user message and claims the send slot, waiting for any
// earlier send to resolve first. Whitespace-only text is ignored: the turn
// is nil and so is the error.
func (e *Engine) Begin(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	select {
	case e.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	e.sending.Store(true)

	e.mu.Lock()
	e.messages = append(e.messages, Message{Role: RoleUser, Content: text})
	epoch := e.epoch
	e.mu.Unlock()

	return &Turn{e: e, text: text, epoch: epoch}, nil
}

func (t *Turn) Text() string { return t.text }

// Resolve calls the chat API and appends the reply, or the failure text.
// It is safe to call more than once; later calls return the first reply.
func (t *Turn) Resolve(ctx context.Context) Message {
	t.once.Do(func() {
		e := t.e
		defer func() {
			e.sending.Store(false)
			<-e.sendSlot
		}()

		sid, _ := e.sessions.CurrentID()
		resp, err := e.backend.Chat(ctx, t.text, sid)
		reply := Message{Role: RoleAssistant, Content: resp.Response}
		if err != nil {
			e.log.Warn("chat call failed", zap.Error(err))
			reply.Content = api.ChatFailureText(err)
		}
		t.reply = reply

		stale := false
		e.sessions.Update(func(_ string, set func(string)) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.epoch != t.epoch {
				stale = true
				return
			}
			e.messages = append(e.messages, reply)
			if err == nil {
				set(resp.SessionID)
			}
		})
		if stale {
			e.log.Info("dropping chat reply from before session reset")
		}
	})
	return t.reply
}

// Send is Begin followed by Resolve. sent is false for blank input.
func (e *Engine) Send(ctx context.Context, text string) (reply Message, sent bool, err error) {
	turn, err := e.Begin(ctx, text)
	if err != nil || turn == nil {
		return Message{}, false, err
	}
	return turn.Resolve(ctx), true, nil
}

type Outcome struct {
	Result     api.ExecutionResult
	Projection schema.Projection
	// Appended is the synthesized message added to the log, if any.
	Appended *Message
	// Discarded is set when a session reset landed while the query ran.
	Discarded bool
}

// Execute runs the staged query text. The caller passes whatever is staged
// at the moment of execution, not the text originally extracted.
func (e *Engine) Execute(ctx context.Context, staged string) (Outcome, error) {
	if strings.TrimSpace(staged) == "" {
		return Outcome{}, ErrEmptyQuery
	}
	if !e.executing.CompareAndSwap(false, true) {
		return Outcome{}, ErrBusy
	}
	defer e.executing.Store(false)

	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	sid, _ := e.sessions.CurrentID()
	res := e.backend.Execute(ctx, staged, sid)
	out := Outcome{Result: res}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		e.log.Info("dropping execution result from before session reset")
		out.Discarded = true
		return out, nil
	}

	if !res.Success {
		out.Appended = e.appendLocked(RoleAssistant, res.FailureText())
		return out, nil
	}

	proj := schema.Project(res.Rows)
	out.Projection = proj
	if proj.Empty() {
		e.table = Table{}
		if res.AffectedCount != nil {
			out.Appended = e.appendLocked(RoleAssistant, fmt.Sprintf(msgAffectedRows, *res.AffectedCount))
		} else {
			out.Appended = e.appendLocked(RoleAssistant, msgNoData)
		}
		return out, nil
	}

	if len(proj.Dropped) > 0 {
		e.log.Warn("result rows carry columns absent from the first row",
			zap.Strings("dropped", proj.Dropped))
	}
	e.table = Table{Schema: proj.Schema, Rows: proj.Rows, Dropped: proj.Dropped}
	e.log.Debug("query projected",
		zap.Int("columns", len(proj.Schema.Columns)),
		zap.Int("rows", len(proj.Rows)))
	return out, nil
}

func (e *Engine) appendLocked(role Role, content string) *Message {
	m := Message{Role: role, Content: content}
	e.messages = append(e.messages, m)
	return &m
}

// ResetSession fetches a new session id from the backend and clears the log
// and the table in the same step. Nothing is cleared if the backend call
// fails.
func (e *Engine) ResetSession(ctx context.Context) (string, error) {
	id, err := e.sessions.Reset(ctx, e.backend, func(string) {
		e.mu.Lock()
		e.epoch++
		e.messages = nil
		e.table = Table{}
		e.mu.Unlock()
	})
	if err != nil {
		e.log.Warn("session reset failed", zap.Error(err))
		e.signal(status.Error, status.TopicSession, "Session reset failed: "+api.ChatFailureText(err))
		return "", err
	}
	e.log.Info("session reset", zap.String("session_id", id))
	e.signal(status.Success, status.TopicSession, "New session started")
	return id, nil
}

func (e *Engine) CheckHealth(ctx context.Context) error {
	_, err := e.backend.Health(ctx)
	if err != nil {
		e.log.Warn("health check failed", zap.Error(err))
		e.signal(status.Error, status.TopicHealth, "API health check failed!")
		return err
	}
	e.signal(status.Success, status.TopicHealth, "API health check successful!")
	return nil
}

func (e *Engine) signal(kind status.Kind, topic status.Topic, text string) {
	if e.status != nil {
		e.status.Signal(kind, topic, text)
	}
}
