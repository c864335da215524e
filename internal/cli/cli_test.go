package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/server"
	"github.com/lazypower/tiermem/internal/store"
)

// localEnv points --local commands at a fresh sqlite file and the echo LLM.
func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TIERMEM_DB_DRIVER", "sqlite")
	t.Setenv("TIERMEM_DB", filepath.Join(t.TempDir(), "tiermem.db"))
	t.Setenv("TIERMEM_LLM_PROVIDER", "mock")
	t.Setenv("TIERMEM_LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	require.NoError(t, err, "tiermem %s", strings.Join(args, " "))
	return out
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	assert.True(t, strings.HasPrefix(out, "tiermem dev"))
	assert.Equal(t, "dev (unknown)", VersionString())
}

func TestLocalWorkflow(t *testing.T) {
	localEnv(t)

	id := strings.TrimSpace(mustRun(t, "--local", "entity", "create", "Aoi"))
	require.NotEmpty(t, id)

	mustRun(t, "--local", "record", "add", id, "walked the dog by the river", "--day", "10")

	out := mustRun(t, "--local", "sleep", id, "--day", "10")
	assert.Equal(t, "day 10: 2 records (daily_summary, level_10)\n", out)

	out = mustRun(t, "--local", "record", "list", id, "--tier", "level_10")
	assert.Contains(t, out, "[level_10] day 1-10")

	out = mustRun(t, "--local", "context", id, "--day", "10")
	assert.True(t, strings.HasPrefix(out, "[memory]\n"))
	assert.Contains(t, out, "--- today's record ---")
	assert.Contains(t, out, "walked the dog by the river")

	out = mustRun(t, "--local", "entity", "show", id)
	assert.Contains(t, out, "Aoi ("+id+")")
	assert.Contains(t, out, "last day:   10")
	assert.Regexp(t, `daily_raw\s+1\n`, out)

	out = mustRun(t, "--local", "entity", "list")
	assert.Contains(t, out, "last day 10")
}

func TestLocalStaleDay(t *testing.T) {
	localEnv(t)
	id := strings.TrimSpace(mustRun(t, "--local", "entity", "create", "Aoi"))
	mustRun(t, "--local", "sleep", id, "--day", "10")

	out, err := run(t, "", "--local", "sleep", id, "--day", "5")
	require.ErrorIs(t, err, engine.ErrStaleDay)
	assert.Contains(t, out, "day 5: failed")
}

func TestLocalIngestFromStdin(t *testing.T) {
	localEnv(t)
	id := strings.TrimSpace(mustRun(t, "--local", "entity", "create", "Aoi"))

	out, err := run(t, "User: let's plant tomatoes\nAssistant: I'd love that!", "--local", "ingest", id, "--day", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "tomatoes")

	_, err = run(t, "  \n", "--local", "ingest", id, "--day", "3")
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	localEnv(t)
	id := strings.TrimSpace(mustRun(t, "--local", "entity", "create", "Aoi"))
	for _, day := range []string{"1", "2", "3"} {
		mustRun(t, "--local", "record", "add", id, "day "+day+" happened", "--day", day)
	}

	out := mustRun(t, "--local", "simulate", id, "--from", "1", "--to", "10")
	assert.Contains(t, out, "day 1: 1 record (daily_summary)")
	assert.Contains(t, out, "day 10: 1 record (level_10)")
	assert.Contains(t, out, "simulated 10 days, 4 records created")

	_, err := run(t, "", "--local", "simulate", id, "--from", "5", "--to", "2")
	assert.Error(t, err)
}

func TestSessionReset(t *testing.T) {
	localEnv(t)
	id := strings.TrimSpace(mustRun(t, "--local", "entity", "create", "Aoi"))
	out := mustRun(t, "--local", "session", "reset", id)
	assert.Equal(t, "closed 0 sessions\n", out)
}

func TestRemoteBackend(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock := &llm.MockClient{Response: &llm.Response{Content: "a quiet day"}}
	srv := httptest.NewServer(server.New(db, engine.New(db, llm.NewGenerator(mock, 0, 0)), "test"))
	t.Cleanup(srv.Close)

	id := strings.TrimSpace(mustRun(t, "--server", srv.URL, "entity", "create", "Aoi"))
	mustRun(t, "--server", srv.URL, "record", "add", id, "rained all day", "--day", "1")

	out := mustRun(t, "--server", srv.URL, "sleep", id, "--day", "1")
	assert.Equal(t, "day 1: 1 record (daily_summary)\n", out)

	out = mustRun(t, "--server", srv.URL, "context", id, "--day", "1", "--json")
	assert.Contains(t, out, `"formatted"`)
	assert.Contains(t, out, "a quiet day")

	_, err = run(t, "", "--server", srv.URL, "entity", "show", "missing")
	assert.Error(t, err)
}

func TestRecordListRejectsUnknownTier(t *testing.T) {
	localEnv(t)
	_, err := run(t, "", "--local", "record", "list", "x", "--tier", "level_7")
	assert.Error(t, err)
}
