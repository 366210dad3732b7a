package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMeta(t *testing.T) {
	msg := NewMessage("m1", RoleSystem, "2025-01-01T00:00:00.000Z")
	msg.SetMeta(MetaSystemSubtype, SubtypeInit).SetMeta(MetaModel, "").SetMeta(MetaCostUSD, nil)

	assert.Equal(t, SubtypeInit, msg.Subtype())
	assert.NotContains(t, msg.Metadata, MetaModel)
	assert.NotContains(t, msg.Metadata, MetaCostUSD)
	assert.False(t, msg.IsRaw())

	var nilMsg *Message
	assert.Equal(t, SystemSubtype(""), nilMsg.Subtype())
}

func TestSegmentJSONShape(t *testing.T) {
	seg := ToolCallSegment(&ToolCall{ID: "t1", Name: "Read", Input: map[string]any{"file": "a.py"}, Status: ToolPending})
	out, err := json.Marshal(seg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_call","tool":{"id":"t1","name":"Read","input":{"file":"a.py"},"status":"pending"}}`, string(out))

	seg = ErrorSegment("failed", "")
	out, err = json.Marshal(seg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"message":"failed"}}`, string(out))
}

func TestToolStatusSettled(t *testing.T) {
	assert.False(t, ToolPending.Settled())
	assert.True(t, ToolSuccess.Settled())
	assert.True(t, ToolError.Settled())
}

func TestRegistry(t *testing.T) {
	Register("test-agent", func(opts Options) Transformer { return nil })
	_, err := New("test-agent", Options{})
	require.NoError(t, err)

	_, err = New("missing", Options{})
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestParseAgentType(t *testing.T) {
	got, err := ParseAgentType(" Claude-Code ")
	require.NoError(t, err)
	assert.Equal(t, AgentClaude, got)

	got, err = ParseAgentType("codex")
	require.NoError(t, err)
	assert.Equal(t, AgentCodex, got)

	_, err = ParseAgentType("gemini")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestDetectAgent(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		want   AgentType
		wantOK bool
	}{
		{name: "claude assistant", lines: []string{`{"type":"assistant","message":{"content":[]}}`}, want: AgentClaude, wantOK: true},
		{name: "claude init", lines: []string{`{"type":"system","subtype":"init","session_id":"s"}`}, want: AgentClaude, wantOK: true},
		{name: "codex nested", lines: []string{`{"id":"0","msg":{"type":"task_started"}}`}, want: AgentCodex, wantOK: true},
		{name: "codex flat", lines: []string{`{"type":"item.completed","item":{"id":"i","type":"agent_message"}}`}, want: AgentCodex, wantOK: true},
		{name: "codex rollout", lines: []string{`{"timestamp":"2025-01-01T00:00:00Z","type":"session_meta","payload":{}}`}, want: AgentCodex, wantOK: true},
		{name: "skips undecided", lines: []string{`{"type":"session_info","initial_prompt":"x"}`, `{"type":"thread.started","thread_id":"t"}`}, want: AgentCodex, wantOK: true},
		{name: "unknown", lines: []string{`{"type":"session_info"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make([]RawEvent, 0, len(tt.lines))
			for _, line := range tt.lines {
				ev, err := NewRecord([]byte(line))
				require.NoError(t, err)
				events = append(events, ev)
			}
			got, ok := DetectAgent(events)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectAgentUnwrapsJSONEvents(t *testing.T) {
	ev := NewWrapped(EventJSON, `{"type":"assistant","message":{"content":[]}}`, "")
	got, ok := DetectAgent([]RawEvent{ev})
	require.True(t, ok)
	assert.Equal(t, AgentClaude, got)
}

func TestSchema(t *testing.T) {
	out, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "Message", doc["title"])
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "segments")
	assert.Contains(t, props, "role")
}
