package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"querychat/internal/api"
	"querychat/internal/schema"
	"querychat/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu       sync.Mutex
	chat     func(ctx context.Context, message, sessionID string) (api.ChatResponse, error)
	execute  func(ctx context.Context, query, sessionID string) api.ExecutionResult
	nextID   func(ctx context.Context) (string, error)
	health   error
	queries  []string
	sessions []string
	calls    atomic.Int32
}

func (f *fakeBackend) Chat(ctx context.Context, message, sessionID string) (api.ChatResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	if f.chat != nil {
		return f.chat(ctx, message, sessionID)
	}
	return api.ChatResponse{Response: "ok", SessionID: "s1"}, nil
}

func (f *fakeBackend) Execute(ctx context.Context, query, sessionID string) api.ExecutionResult {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(ctx, query, sessionID)
	}
	return api.ExecutionResult{Success: true}
}

func (f *fakeBackend) NewSessionID(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.nextID != nil {
		return f.nextID(ctx)
	}
	return "fresh", nil
}

func (f *fakeBackend) Health(context.Context) (api.HealthResponse, error) {
	f.calls.Add(1)
	if f.health != nil {
		return api.HealthResponse{}, f.health
	}
	return api.HealthResponse{Status: "healthy", Version: "0.1.0"}, nil
}

func scorerRows() []schema.Record {
	return []schema.Record{
		schema.NewRecord(schema.Field{Name: "name", Value: schema.String("Ann")}, schema.Field{Name: "goals", Value: schema.Int(3)}),
		schema.NewRecord(schema.Field{Name: "name", Value: schema.String("Bo")}, schema.Field{Name: "goals", Value: schema.Int(5)}),
	}
}

func TestSendThenExecute_ProducesTwoColumnTable(t *testing.T) {
	be := &fakeBackend{
		chat: func(_ context.Context, msg, _ string) (api.ChatResponse, error) {
			return api.ChatResponse{
				Response:  "Here you go:\n```sql\nSELECT name, goals FROM players ORDER BY goals DESC\n```",
				SessionID: "s1",
			}, nil
		},
		execute: func(context.Context, string, string) api.ExecutionResult {
			return api.ExecutionResult{Success: true, Rows: scorerRows()}
		},
	}
	e := New(be)
	ctx := context.Background()

	reply, sent, err := e.Send(ctx, "Show me top scorers")
	require.NoError(t, err)
	require.True(t, sent)
	parsed := reply.Parse()
	require.True(t, parsed.HasQuery)

	out, err := e.Execute(ctx, parsed.Query)
	require.NoError(t, err)
	assert.Nil(t, out.Appended)

	tbl := e.Table()
	assert.Equal(t, []string{"name", "goals"}, tbl.Schema.Names())
	assert.Len(t, tbl.Rows, 2)
	assert.Len(t, e.Messages(), 2)

	id, ok := e.SessionID()
	assert.True(t, ok)
	assert.Equal(t, "s1", id)
	assert.Equal(t, []string{"SELECT name, goals FROM players ORDER BY goals DESC"}, be.queries)
}

func TestSend_SessionIDCarriedOnLaterRequests(t *testing.T) {
	be := &fakeBackend{}
	e := New(be)
	ctx := context.Background()

	_, _, err := e.Send(ctx, "one")
	require.NoError(t, err)
	_, _, err = e.Send(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "s1"}, be.sessions)
}

func TestSend_WhitespaceIsNoop(t *testing.T) {
	be := &fakeBackend{}
	e := New(be)

	_, sent, err := e.Send(context.Background(), "  \n\t ")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, e.Messages())
	assert.Zero(t, be.calls.Load())
}

func TestSend_FailureBecomesAssistantMessage(t *testing.T) {
	be := &fakeBackend{
		chat: func(context.Context, string, string) (api.ChatResponse, error) {
			return api.ChatResponse{}, &api.StatusError{Code: 503, Text: "Service Unavailable"}
		},
	}
	e := New(be)

	reply, _, err := e.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Error: 503 - Service Unavailable", reply.Content)

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	_, ok := e.SessionID()
	assert.False(t, ok)
}

func TestBegin_UserMessageVisibleBeforeReply(t *testing.T) {
	release := make(chan struct{})
	be := &fakeBackend{
		chat: func(context.Context, string, string) (api.ChatResponse, error) {
			<-release
			return api.ChatResponse{Response: "later", SessionID: "s1"}, nil
		},
	}
	e := New(be)
	ctx := context.Background()

	turn, err := e.Begin(ctx, "hello")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.True(t, e.Sending())
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, e.Messages())

	done := make(chan Message)
	go func() { done <- turn.Resolve(ctx) }()
	close(release)
	assert.Equal(t, "later", (<-done).Content)
	assert.False(t, e.Sending())
	assert.Equal(t, "later", turn.Resolve(ctx).Content)
}

func TestSend_SerializedInSubmissionOrder(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	be := &fakeBackend{
		chat: func(_ context.Context, msg, _ string) (api.ChatResponse, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return api.ChatResponse{Response: "re:" + msg, SessionID: "s1"}, nil
		},
	}
	e := New(be)
	ctx := context.Background()

	first, err := e.Begin(ctx, "a")
	require.NoError(t, err)

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _, _ = e.Send(ctx, "b")
	}()

	first.Resolve(ctx)
	<-secondDone

	assert.Equal(t, int32(1), maxInFlight.Load())
	var contents []string
	for _, m := range e.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"a", "re:a", "b", "re:b"}, contents)
}

func TestBegin_ContextCancelledWhileWaiting(t *testing.T) {
	e := New(&fakeBackend{})
	first, err := e.Begin(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	turn, err := e.Begin(ctx, "b")
	assert.Nil(t, turn)
	assert.ErrorIs(t, err, context.Canceled)

	first.Resolve(context.Background())
	assert.Len(t, e.Messages(), 2)
}

func TestExecute_EmptyStagedQueryMakesNoCall(t *testing.T) {
	be := &fakeBackend{}
	e := New(be)

	_, err := e.Execute(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, be.calls.Load())
	assert.Empty(t, e.Messages())
}

func TestExecute_SubmitsStagedTextVerbatim(t *testing.T) {
	be := &fakeBackend{}
	e := New(be)

	staged := "  SELECT name\n  FROM players -- top\n"
	_, err := e.Execute(context.Background(), staged)
	require.NoError(t, err)
	assert.Equal(t, []string{staged}, be.queries)
}

func TestExecute_AffectedRowsMessage(t *testing.T) {
	n := int64(5)
	be := &fakeBackend{
		execute: func(context.Context, string, string) api.ExecutionResult {
			return api.ExecutionResult{Success: true, AffectedCount: &n}
		},
	}
	e := New(be)

	out, err := e.Execute(context.Background(), "DELETE FROM players WHERE goals = 0")
	require.NoError(t, err)
	require.NotNil(t, out.Appended)
	assert.Equal(t, "Query executed successfully. Affected rows: 5", out.Appended.Content)
	assert.True(t, e.Table().Empty())
}

func TestExecute_NoDataMessageClearsTable(t *testing.T) {
	calls := 0
	be := &fakeBackend{
		execute: func(context.Context, string, string) api.ExecutionResult {
			calls++
			if calls == 1 {
				return api.ExecutionResult{Success: true, Rows: scorerRows()}
			}
			return api.ExecutionResult{Success: true}
		},
	}
	e := New(be)
	ctx := context.Background()

	_, err := e.Execute(ctx, "SELECT * FROM players")
	require.NoError(t, err)
	require.False(t, e.Table().Empty())

	out, err := e.Execute(ctx, "SELECT * FROM players WHERE 0")
	require.NoError(t, err)
	require.NotNil(t, out.Appended)
	assert.Equal(t, "Query executed successfully, but returned no data.", out.Appended.Content)
	assert.True(t, e.Table().Empty())
}

func TestExecute_FailureKeepsTable(t *testing.T) {
	fail := false
	be := &fakeBackend{
		execute: func(context.Context, string, string) api.ExecutionResult {
			if fail {
				return api.ExecutionResult{Failure: api.FailureBackend, ErrorDetail: "no such table: x"}
			}
			return api.ExecutionResult{Success: true, Rows: scorerRows()}
		},
	}
	e := New(be)
	ctx := context.Background()

	_, err := e.Execute(ctx, "SELECT * FROM players")
	require.NoError(t, err)
	fail = true
	out, err := e.Execute(ctx, "SELECT * FROM x")
	require.NoError(t, err)

	require.NotNil(t, out.Appended)
	assert.Equal(t, "Query execution failed: no such table: x", out.Appended.Content)
	assert.Len(t, e.Table().Rows, 2)
}

func TestExecute_SecondCallWhileBusyIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	be := &fakeBackend{
		execute: func(context.Context, string, string) api.ExecutionResult {
			close(started)
			<-release
			return api.ExecutionResult{Success: true}
		},
	}
	e := New(be)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Execute(ctx, "SELECT 1")
	}()
	<-started
	assert.True(t, e.Executing())

	_, err := e.Execute(ctx, "SELECT 2")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	assert.False(t, e.Executing())
	assert.Equal(t, []string{"SELECT 1"}, be.queries)
}

func TestResetSession_ClearsLogAndTable(t *testing.T) {
	be := &fakeBackend{
		execute: func(context.Context, string, string) api.ExecutionResult {
			return api.ExecutionResult{Success: true, Rows: scorerRows()}
		},
	}
	ch := status.New(time.Hour)
	defer ch.Close()
	e := New(be, WithStatus(ch))
	ctx := context.Background()

	_, _, err := e.Send(ctx, "one")
	require.NoError(t, err)
	_, err = e.Execute(ctx, "SELECT * FROM players")
	require.NoError(t, err)
	_, _, err = e.Send(ctx, "two")
	require.NoError(t, err)
	require.Len(t, e.Messages(), 4)
	require.Len(t, e.Table().Rows, 2)

	id, err := e.ResetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", id)
	assert.Empty(t, e.Messages())
	assert.True(t, e.Table().Empty())
	cur, _ := e.SessionID()
	assert.Equal(t, "fresh", cur)

	sig, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, status.Success, sig.Kind)
	assert.Equal(t, status.TopicSession, sig.Topic)
}

func TestResetSession_FailureKeepsEverything(t *testing.T) {
	be := &fakeBackend{
		nextID: func(context.Context) (string, error) { return "", errors.New("down") },
	}
	ch := status.New(time.Hour)
	defer ch.Close()
	e := New(be, WithStatus(ch))
	ctx := context.Background()

	_, _, err := e.Send(ctx, "one")
	require.NoError(t, err)

	_, err = e.ResetSession(ctx)
	require.Error(t, err)
	assert.Len(t, e.Messages(), 2)
	id, _ := e.SessionID()
	assert.Equal(t, "s1", id)

	sig, ok := ch.Current()
	require.True(t, ok)
	assert.Equal(t, status.Error, sig.Kind)
}

func TestResetSession_LateReplyIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	be := &fakeBackend{
		chat: func(context.Context, string, string) (api.ChatResponse, error) {
			<-release
			return api.ChatResponse{Response: "stale", SessionID: "old"}, nil
		},
	}
	e := New(be)
	ctx := context.Background()

	turn, err := e.Begin(ctx, "hello")
	require.NoError(t, err)
	_, err = e.ResetSession(ctx)
	require.NoError(t, err)

	close(release)
	turn.Resolve(ctx)

	assert.Empty(t, e.Messages())
	id, _ := e.SessionID()
	assert.Equal(t, "fresh", id)
}

func TestCheckHealth_SignalsOutcome(t *testing.T) {
	ch := status.New(time.Hour)
	defer ch.Close()
	be := &fakeBackend{}
	e := New(be, WithStatus(ch))

	require.NoError(t, e.CheckHealth(context.Background()))
	sig, _ := ch.Current()
	assert.Equal(t, "API health check successful!", sig.Text)

	be.health = errors.New("refused")
	require.Error(t, e.CheckHealth(context.Background()))
	sig, _ = ch.Current()
	assert.Equal(t, status.Error, sig.Kind)
	assert.Equal(t, "API health check failed!", sig.Text)
}
