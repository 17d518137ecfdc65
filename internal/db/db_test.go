package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("REVIEWFACTORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("REVIEWFACTORY_TEST_DATABASE_URL not set")
	}
	d, err := Open(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, d.Migrate(context.Background()))
	t.Cleanup(d.Close)
	return d
}

func TestMigrate_Idempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	require.NoError(t, d.Migrate(ctx))

	var version int
	require.NoError(t, d.pool.QueryRow(ctx, "SELECT max(version) FROM schema_version").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestRunEvents(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, d.LogRunEvent(ctx, runID, "queued", "", ""))
	require.NoError(t, d.LogRunEvent(ctx, runID, "stage_done", "audit", "succeeded"))
	require.NoError(t, d.LogRunEvent(ctx, uuid.NewString(), "queued", "", ""))

	events, err := d.RunEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "queued", events[0].Event)
	assert.Empty(t, events[0].Stage)
	assert.Equal(t, "audit", events[1].Stage)
	assert.Equal(t, "succeeded", events[1].Detail)
	assert.False(t, events[1].CreatedAt.IsZero())
}

func TestToolRuns(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, d.LogToolRun(ctx, ToolRun{RunID: runID, Adapter: "style", Tool: "ruff", ExitCode: 1, DurationMs: 40, Findings: 3, Summary: "3 findings"}))
	require.NoError(t, d.LogToolRun(ctx, ToolRun{RunID: runID, Adapter: "security", Tool: "bandit", Failed: true, TimedOut: true, ExitCode: -1}))

	runs, err := d.ToolRuns(ctx, runID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "bandit", runs[0].Tool)
	assert.True(t, runs[0].TimedOut)
	assert.Equal(t, 3, runs[1].Findings)
}

func TestSinceQueries(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	runID := uuid.NewString()
	before := time.Now().Add(-time.Second)

	require.NoError(t, d.LogRunEvent(ctx, runID, "queued", "", ""))
	require.NoError(t, d.LogToolRun(ctx, ToolRun{RunID: runID, Adapter: "style", Tool: "ruff", DurationMs: 10}))

	runs, err := d.ToolRunsSince(ctx, before)
	require.NoError(t, err)
	assert.True(t, containsRun(runs, runID))

	events, err := d.RunEventsSince(ctx, before)
	require.NoError(t, err)
	found := false
	for _, e := range events {
		found = found || e.RunID == runID
	}
	assert.True(t, found)

	runs, err = d.ToolRunsSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, containsRun(runs, runID))
}

func containsRun(runs []ToolRun, runID string) bool {
	for _, r := range runs {
		if r.RunID == runID {
			return true
		}
	}
	return false
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz")
	require.Error(t, err)
}
