package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stravu/crystal-sub000/internal/eventlog"
	"github.com/stravu/crystal-sub000/internal/model"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryReloadTransformsIdentically(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)

	for _, file := range []string{
		filepath.Join("codex-sessions", "nested.jsonl"),
		filepath.Join("codex-sessions", "rollout.jsonl"),
		filepath.Join("claude-sessions", "sample-with-tools.jsonl"),
	} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(testdataRoot, file)
			original, err := Load(path, "", fixedOptions())
			require.NoError(t, err)
			summary := Summarize(original)

			err = h.Import(ctx, HistorySession{ID: summary.ID, Agent: original.Agent, SourcePath: path}, original.Events)
			require.NoError(t, err)

			session, events, err := h.Load(ctx, summary.ID)
			require.NoError(t, err)
			assert.Equal(t, original.Agent, session.Agent)
			assert.Equal(t, path, session.SourcePath)
			assert.Len(t, events, len(original.Events))

			reloaded, err := Transform(path, events, session.Agent, fixedOptions())
			require.NoError(t, err)
			assert.Equal(t, original.Messages, reloaded.Messages)
		})
	}
}

func TestHistoryOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)

	events := []model.RawEvent{
		model.NewWrapped(model.EventStdout, "second", "2025-01-01T00:00:02Z"),
		model.NewWrapped(model.EventStdout, "untimed follows second", ""),
		model.NewWrapped(model.EventStdout, "first", "2025-01-01T00:00:01Z"),
	}
	require.NoError(t, h.Import(ctx, HistorySession{ID: "s", Agent: model.AgentClaude}, events))

	_, loaded, err := h.Load(ctx, "s")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "first", loaded[0].Text())
	assert.Equal(t, "second", loaded[1].Text())
	assert.Equal(t, "untimed follows second", loaded[2].Text())
}

func TestHistorySessions(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)

	events, err := eventlog.ReadFile(filepath.Join(testdataRoot, "codex-sessions", "exec-json.jsonl"))
	require.NoError(t, err)

	require.NoError(t, h.Import(ctx, HistorySession{ID: "th-1", Agent: model.AgentCodex}, events))
	// re-import replaces the stored events
	require.NoError(t, h.Import(ctx, HistorySession{ID: "th-1", Agent: model.AgentCodex}, events[:3]))

	sessions, err := h.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "th-1", sessions[0].ID)
	assert.Equal(t, model.AgentCodex, sessions[0].Agent)
	assert.Equal(t, 3, sessions[0].EventCount)
	assert.True(t, sessions[0].ImportedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, h.Delete(ctx, "th-1"))
	sessions, err = h.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	assert.ErrorIs(t, h.Delete(ctx, "th-1"), ErrSessionNotFound)
	_, _, err = h.Load(ctx, "th-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryInMemory(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(":memory:")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Import(ctx, HistorySession{ID: "m", Agent: model.AgentClaude}, []model.RawEvent{
		model.NewWrapped(model.EventStdout, "hello", ""),
	}))
	session, events, err := h.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1, session.EventCount)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Text())

	assert.Error(t, h.Import(ctx, HistorySession{}, nil))
}
