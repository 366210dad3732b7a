package claude

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stravu/crystal-sub000/internal/eventlog"
	"github.com/stravu/crystal-sub000/internal/model"
)

func fixturePath(parts ...string) string {
	elems := append([]string{"..", "..", "testdata", "claude-sessions"}, parts...)
	return filepath.Join(elems...)
}

func newTestTransformer(opts model.Options) *Transformer {
	opts.Now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	return New(opts)
}

func loadFixture(t *testing.T, name string) []model.RawEvent {
	t.Helper()
	events, err := eventlog.ReadFile(fixturePath(name))
	require.NoError(t, err)
	return events
}

func record(t *testing.T, line string) model.RawEvent {
	t.Helper()
	ev, err := model.NewRecord([]byte(line))
	require.NoError(t, err, line)
	return ev
}

func TestTransformSessionWithTools(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform(loadFixture(t, "sample-with-tools.jsonl"))
	require.Len(t, messages, 7)

	assert.Equal(t, model.SubtypeSessionInfo, messages[0].Subtype())
	assert.Equal(t, model.SubtypeInit, messages[1].Subtype())
	assert.Equal(t, "sess-1", messages[1].Segments[0].Info["sessionId"])

	prompt := messages[2]
	assert.Equal(t, model.RoleUser, prompt.Role)
	assert.Equal(t, "Add a health check", prompt.Segments[0].Content, "enhanced prompt should be restored")

	first := messages[3]
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, "2025-01-05T10:00:03.000Z", first.Timestamp)
	require.Len(t, first.Segments, 3)
	assert.Equal(t, model.SegmentThinking, first.Segments[0].Type)
	assert.Equal(t, model.SegmentText, first.Segments[1].Type)
	read := first.Segments[2].Tool
	require.NotNil(t, read)
	assert.Equal(t, "toolu_read", read.ID)
	assert.Equal(t, model.ToolSuccess, read.Status)
	require.NotNil(t, read.Result)
	assert.Equal(t, "package main", read.Result.Content)
	assert.NotContains(t, first.Metadata, model.MetaTokens, "token usage should be hidden by default")

	task := messages[4].Segments[0].Tool
	require.NotNil(t, task)
	assert.True(t, task.IsSubAgent)
	assert.Equal(t, "Explore", task.SubAgentType)
	assert.Equal(t, model.ToolSuccess, task.Status)
	assert.Equal(t, "One route: /", task.Result.Content)
	require.Len(t, task.ChildToolCalls, 2)
	assert.Equal(t, "toolu_grep", task.ChildToolCalls[0].ID)
	assert.Equal(t, "toolu_bash", task.ChildToolCalls[1].ID)
	assert.Equal(t, "server.go:12", task.ChildToolCalls[0].Result.Content)
	assert.Equal(t, model.ToolError, task.ChildToolCalls[1].Status)

	for _, m := range messages {
		for _, seg := range m.Segments {
			if seg.Tool != nil {
				assert.Empty(t, seg.Tool.ParentToolID, "nested call %s emitted at top level", seg.Tool.ID)
			}
		}
	}

	assert.Equal(t, "Added `/healthz`.", messages[5].Segments[0].Content)

	runtime := messages[6]
	assert.Equal(t, model.SubtypeSessionRuntime, runtime.Subtype())
	assert.Equal(t, 0.0123, runtime.Metadata[model.MetaCostUSD])
	assert.NotContains(t, runtime.Segments[0].Info, "usage", "usage should be hidden by default")
}

func TestTransformIsIdempotent(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	events := loadFixture(t, "sample-with-tools.jsonl")

	first := tr.Transform(events)
	second := tr.Transform(events)
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(newTestTransformer(model.Options{}).Transform(events))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b), "fresh transformer produced different output")
}

func TestTransformShowsTokenUsage(t *testing.T) {
	tr := newTestTransformer(model.Options{ShowTokenUsage: true})
	messages := tr.Transform(loadFixture(t, "sample-with-tools.jsonl"))

	usage, ok := messages[3].Metadata[model.MetaTokens].(map[string]any)
	require.True(t, ok, "assistant usage missing: %v", messages[3].Metadata)
	assert.Equal(t, 10, usage["inputTokens"])

	last := messages[len(messages)-1]
	assert.Contains(t, last.Segments[0].Info, "usage")
}

func TestTransformHistoryFilters(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform(loadFixture(t, "sample-history.jsonl"))

	want := []struct {
		role    model.Role
		subtype model.SystemSubtype
	}{
		{model.RoleSystem, model.SubtypeSessionInfo},
		{model.RoleSystem, model.SubtypeSlashCommandResult},
		{model.RoleUser, ""},
		{model.RoleAssistant, ""},
		{model.RoleSystem, model.SubtypeContextCompacted},
		{model.RoleSystem, ""},
	}
	require.Len(t, messages, len(want))
	for i, w := range want {
		assert.Equal(t, w.role, messages[i].Role, "message %d", i)
		assert.Equal(t, w.subtype, messages[i].Subtype(), "message %d", i)
	}
	assert.Equal(t, "Cleared conversation", messages[1].Segments[0].Content)
	assert.True(t, messages[5].IsRaw(), "unknown record should fall back to raw")
}

func TestSlashCommandOutputKeepsToolResults(t *testing.T) {
	events := []model.RawEvent{
		record(t, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`),
		record(t, `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"<local-command-stdout>hi</local-command-stdout>"},{"type":"tool_result","tool_use_id":"t1","content":"out"}]}}`),
	}

	tr := newTestTransformer(model.Options{})
	messages := tr.Transform(events)
	require.Len(t, messages, 2)

	call := messages[0].Segments[0].Tool
	require.NotNil(t, call)
	assert.Equal(t, model.ToolSuccess, call.Status)
	require.NotNil(t, call.Result)
	assert.Equal(t, "out", call.Result.Content)

	assert.Equal(t, model.SubtypeSlashCommandResult, messages[1].Subtype())
	require.Len(t, messages[1].Segments, 1)
	assert.Equal(t, "hi", messages[1].Segments[0].Content)

	stream := newTestTransformer(model.Options{})
	stream.ParseMessage(events[0])
	msg := stream.ParseMessage(events[1])
	require.NotNil(t, msg)
	assert.Equal(t, model.SubtypeSlashCommandResult, msg.Subtype())
	require.Len(t, msg.Segments, 2)
	assert.Equal(t, model.SegmentToolResult, msg.Segments[1].Type)
	assert.Equal(t, "t1", msg.Segments[1].ToolCallID)
	assert.Equal(t, "out", msg.Segments[1].Result.Content)
}

func TestExampleScenario(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform([]model.RawEvent{
		record(t, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{"file":"a.py"}}]}}`),
		record(t, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"..."}]}}`),
	})

	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, model.RoleAssistant, msg.Role)
	require.Len(t, msg.Segments, 1)
	call := msg.Segments[0].Tool
	assert.Equal(t, model.ToolSuccess, call.Status)
	assert.Equal(t, "...", call.Result.Content)
	assert.Equal(t, "a.py", call.Input["file"])
	assert.Equal(t, "2025-02-01T00:00:00.000Z", msg.Timestamp, "undated event should use the clock")
}

func TestOrphanResultIsVisible(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform([]model.RawEvent{
		record(t, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"gone","content":"late output"}]}}`),
	})
	require.Len(t, messages, 1)
	seg := messages[0].Segments[0]
	assert.Equal(t, model.SegmentToolResult, seg.Type)
	assert.Equal(t, "gone", seg.ToolCallID)
	assert.Equal(t, "late output", seg.Result.Content)

	calls := tr.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "unknown", calls[0].Name)
}

func TestResultBeforeCallIsFoldedIntoCall(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform([]model.RawEvent{
		record(t, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"early"}]}}`),
		record(t, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{"file":"a.py"}}]}}`),
	})

	require.Len(t, messages, 1)
	require.Len(t, messages[0].Segments, 1)
	call := messages[0].Segments[0].Tool
	require.NotNil(t, call)
	assert.Equal(t, "Read", call.Name)
	assert.Equal(t, model.ToolSuccess, call.Status)
	require.NotNil(t, call.Result)
	assert.Equal(t, "early", call.Result.Content)

	calls := tr.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.ToolSuccess, calls[0].Status)
}

func TestWrappedEvents(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	messages := tr.Transform([]model.RawEvent{
		model.NewWrapped(model.EventJSON, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`, "2025-01-01T00:00:00Z"),
		model.NewWrapped(model.EventJSON, `{not json`, ""),
		model.NewWrapped(model.EventStdout, "plain output", ""),
		model.NewWrapped(model.EventStderr, "[DEBUG] loading config", ""),
		model.NewWrapped(model.EventStderr, "Error: invalid API key", ""),
		record(t, `{"type":"error","error":{"message":"overloaded"}}`),
	})

	require.Len(t, messages, 4)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", messages[0].Timestamp)
	assert.Equal(t, "hi", messages[0].Segments[0].Content)
	assert.Equal(t, model.RoleAssistant, messages[1].Role, "stdout should become assistant text")
	assert.Equal(t, "plain output", messages[1].Segments[0].Content)
	assert.Equal(t, "Error: invalid API key", messages[2].Segments[0].Error.Message)
	assert.Equal(t, model.SubtypeError, messages[3].Subtype())
	assert.Equal(t, "overloaded", messages[3].Segments[0].Error.Message)
}

func TestResultError(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	msg := tr.ParseMessage(record(t, `{"type":"result","subtype":"error_max_turns","is_error":true,"errors":["too many turns"]}`))
	require.NotNil(t, msg)
	assert.Equal(t, model.SubtypeError, msg.Subtype())
	assert.Equal(t, "too many turns", msg.Segments[0].Error.Details)
}

func TestParseMessageIncremental(t *testing.T) {
	tr := newTestTransformer(model.Options{})

	call := tr.ParseMessage(record(t, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`))
	require.NotNil(t, call)
	assert.Equal(t, model.ToolPending, call.Segments[0].Tool.Status)

	assert.Nil(t, tr.ParseMessage(record(t, `{"type":"stream_event","event":{}}`)), "stream events should be dropped")

	result := tr.ParseMessage(record(t, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"a.txt"}]}}`))
	require.NotNil(t, result)
	assert.Equal(t, model.SegmentToolResult, result.Segments[0].Type)
	assert.Equal(t, "t1", result.Segments[0].ToolCallID)
	assert.Equal(t, model.ToolPending, call.Segments[0].Tool.Status, "returned messages must not change afterwards")
}

func TestDeltaSuppression(t *testing.T) {
	tr := newTestTransformer(model.Options{})
	events := []model.RawEvent{}
	for i := 0; i < 5; i++ {
		events = append(events, record(t, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}}`))
	}
	events = append(events, record(t, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"xxxxx"}]}}`))

	messages := tr.Transform(events)
	require.Len(t, messages, 1)
	assert.Equal(t, "xxxxx", messages[0].Segments[0].Content)
}

func TestRegistered(t *testing.T) {
	tr, err := model.New(model.AgentClaude, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Claude", tr.AgentName())
	assert.True(t, tr.SupportsThinking())
	assert.True(t, tr.SupportsToolCalls())
	assert.True(t, tr.SupportsStreaming())
}
