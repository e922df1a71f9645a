package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"querychat/internal/devserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := devserver.OpenStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background()))

	srv := devserver.NewServer(store, devserver.NewRuleResponder(store),
		devserver.WithIDFunc(func() string { return "sess-42" }))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func run(t *testing.T, apiURL string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("QUERYCHAT_EXPORT_FORMAT", "")
	t.Setenv("QUERYCHAT_TIMEOUT", "")

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{
		"--api-url", apiURL,
		"--log-file", filepath.Join(dir, "querychat.log"),
		"--glamour-style", "notty",
	}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestSQLPrintsTable(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "sql", "SELECT name, goals FROM players ORDER BY goals DESC LIMIT 2")
	require.NoError(t, err)
	assert.Contains(t, out, "name")
	assert.Contains(t, out, "goals")
	assert.Contains(t, out, "Ada Kovac")
	assert.Contains(t, out, "Hana Ito")
	assert.Contains(t, out, "(2 rows)")
}

func TestSQLReportsAffectedRows(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "sql", "UPDATE players SET goals = goals + 1 WHERE team = 'Riverside'")
	require.NoError(t, err)
	assert.Contains(t, out, "Query executed successfully. Affected rows: 2")
}

func TestSQLFailureIsAnError(t *testing.T) {
	ts := newBackend(t)

	_, err := run(t, ts.URL, "sql", "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Query execution failed:")
	assert.Contains(t, err.Error(), "missing_table")
}

func TestAskExecutesProposedQuery(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "ask", "show", "me", "players", "--execute")
	require.NoError(t, err)
	assert.Contains(t, out, "Running: SELECT * FROM players LIMIT 50")
	assert.Contains(t, out, "Farah Nadim")
	assert.Contains(t, out, "(8 rows)")
}

func TestAskWithoutQuery(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "ask", "hello", "--execute")
	require.NoError(t, err)
	assert.Contains(t, out, "players")
	assert.Contains(t, out, "did not include a query")
}

func TestHealth(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "API health check successful!")
	assert.Contains(t, out, devserver.Version)
}

func TestHealthUnreachable(t *testing.T) {
	ts := newBackend(t)
	url := ts.URL
	ts.Close()

	out, err := run(t, url, "health", "--timeout", "2s")
	require.Error(t, err)
	assert.Contains(t, out, "API health check failed!")
}

func TestSessionNew(t *testing.T) {
	ts := newBackend(t)

	out, err := run(t, ts.URL, "session", "new")
	require.NoError(t, err)
	assert.Equal(t, "sess-42\n", out)
}

func TestInvalidExportFormatFailsSetup(t *testing.T) {
	ts := newBackend(t)

	_, err := run(t, ts.URL, "health", "--export-format", "gif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "http://localhost:1", "--version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{{"ask"}, {"sql"}, {"health"}, {"session", "new"}, {"devserver"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
