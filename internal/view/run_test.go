package view

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/stravu/crystal-sub000/internal/claude"
	_ "github.com/stravu/crystal-sub000/internal/codex"
	"github.com/stravu/crystal-sub000/internal/format"
	"github.com/stravu/crystal-sub000/internal/model"
	"github.com/stravu/crystal-sub000/internal/store"
)

func loadTranscript(t *testing.T, parts ...string) *store.Transcript {
	t.Helper()
	path := filepath.Join(append([]string{"..", "..", "testdata"}, parts...)...)
	opts := model.Options{Now: func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }}
	tr, err := store.Load(path, "", opts)
	require.NoError(t, err)
	return tr
}

func message(role model.Role, ts string, segments ...model.Segment) model.Message {
	msg := model.NewMessage("m", role, ts)
	msg.Append(segments...)
	return *msg
}

func TestBuildViewFilters(t *testing.T) {
	filters, err := buildViewFilters("", "", false, false)
	require.NoError(t, err)
	assert.Nil(t, filters.roles)
	assert.Nil(t, filters.subtypes)

	filters, err = buildViewFilters("user, Assistant", "init,error", true, true)
	require.NoError(t, err)
	assert.Len(t, filters.roles, 2)
	assert.Contains(t, filters.subtypes, model.SubtypeInit)
	assert.True(t, filters.hideThinking)

	_, err = buildViewFilters("user,tool", "", false, false)
	assert.Error(t, err)
	_, err = buildViewFilters("", "nope", false, false)
	assert.Error(t, err)
}

func TestApplyFilters(t *testing.T) {
	thinkingOnly := message(model.RoleAssistant, "", model.ThinkingSegment("hmm"))
	mixed := message(model.RoleAssistant, "", model.ThinkingSegment("hmm"), model.TextSegment("answer"))
	user := message(model.RoleUser, "", model.TextSegment("question"))
	initMsg := message(model.RoleSystem, "", model.SystemInfoSegment(map[string]any{"model": "x"}))
	initMsg.SetMeta(model.MetaSystemSubtype, model.SubtypeInit)
	raw := *model.RawFallback("r", []byte(`{"type":"odd"}`), "")

	messages := []model.Message{thinkingOnly, mixed, user, initMsg, raw}

	filters, err := buildViewFilters("", "", true, true)
	require.NoError(t, err)
	out := applyFilters(messages, filters)
	require.Len(t, out, 3)
	assert.Equal(t, []model.Segment{model.TextSegment("answer")}, out[0].Segments)
	assert.Len(t, mixed.Segments, 2, "filtering must not mutate the transcript")

	filters, err = buildViewFilters("system", "init", false, false)
	require.NoError(t, err)
	out = applyFilters(messages, filters)
	require.Len(t, out, 1)
	assert.Equal(t, model.SubtypeInit, out[0].Subtype())
}

func TestRenderChatLinesAlignment(t *testing.T) {
	messages := []model.Message{
		message(model.RoleUser, "2025-10-27T12:00:00.000Z", model.TextSegment("hello there")),
		message(model.RoleAssistant, "2025-10-27T12:00:05.000Z", model.TextSegment("hi, how can I help you today?")),
		message(model.RoleSystem, "2025-10-27T12:00:10.000Z", model.ErrorSegment("boom", "")),
	}

	lines := renderChatTranscript(messages, 80, false, format.LineOptions{})
	require.NotEmpty(t, lines)

	userTop := findLine(lines, "╭")
	require.GreaterOrEqual(t, userTop, 0)
	next := findLine(lines[userTop+1:], "╭")
	require.GreaterOrEqual(t, next, 0)
	assistantTop := next + userTop + 1

	assert.Greater(t, strings.Index(lines[userTop], "╭"), 2, "user bubble should be right aligned")
	assert.True(t, strings.HasPrefix(lines[assistantTop], "  ╭"), "assistant bubble should be left aligned: %q", lines[assistantTop])
	assert.Contains(t, lines[userTop+1], "User · Oct 27 12:00")
}

func findLine(lines []string, substr string) int {
	for i, line := range lines {
		if strings.Contains(line, substr) {
			return i
		}
	}
	return -1
}

func TestWrapTextWideRunes(t *testing.T) {
	lines := wrapText("日本語のテキスト", 6)
	for _, l := range lines {
		assert.LessOrEqual(t, visibleWidth(l), 6)
	}
	assert.Equal(t, "日本語のテキスト", strings.Join(lines, ""))
}

func TestTruncateToWidthKeepsColor(t *testing.T) {
	colored := colorize(true, ansiUser, "abcdef")
	out := truncateToWidth(colored, 3)
	assert.Equal(t, 3, visibleWidth(out))
	assert.True(t, strings.HasPrefix(out, ansiUser))
}

func TestRunFormatRaw(t *testing.T) {
	tr := loadTranscript(t, "codex-sessions", "rollout.jsonl")
	var buf bytes.Buffer
	require.NoError(t, Run(Options{Transcript: tr, Format: "raw", Out: &buf}))

	want, err := os.ReadFile(tr.Path)
	require.NoError(t, err)
	assert.Equal(t, string(want), buf.String())
}

func TestRunFormatText(t *testing.T) {
	tr := loadTranscript(t, "codex-sessions", "nested.jsonl")
	var buf bytes.Buffer
	require.NoError(t, Run(Options{Transcript: tr, Format: "text", Out: &buf, ForceNoColor: true, RoleArg: "user,assistant"}))

	out := buf.String()
	assert.Contains(t, out, "[#001] user | 2025-10-01T12:00:03.000Z")
	assert.Contains(t, out, "| List files")
	assert.Contains(t, out, "| Tool: Bash [success]")
	assert.NotContains(t, out, "session_info")
}

func TestRunFormatJSONAndTail(t *testing.T) {
	tr := loadTranscript(t, "codex-sessions", "exec-json.jsonl")
	var buf bytes.Buffer
	require.NoError(t, Run(Options{Transcript: tr, Format: "json", Out: &buf, MaxMessages: 2}))

	var decoded []model.Message
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "usage limit reached", decoded[1].Segments[0].Error.Message)

	buf.Reset()
	require.NoError(t, Run(Options{Transcript: tr, Format: "jsonl", Out: &buf, SubtypeArg: "error", RoleArg: "system"}))
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 2)
}

func TestRunFormatChat(t *testing.T) {
	tr := loadTranscript(t, "claude-sessions", "sample-with-tools.jsonl")
	var buf bytes.Buffer
	require.NoError(t, Run(Options{Transcript: tr, Format: "chat", Wrap: 100, Out: &buf, ForceNoColor: true, HideThinking: true}))

	out := buf.String()
	assert.Contains(t, out, "╭")
	assert.NotContains(t, out, "[thinking]")
}

func TestRunUnsupportedFormat(t *testing.T) {
	tr := loadTranscript(t, "codex-sessions", "nested.jsonl")
	assert.Error(t, Run(Options{Transcript: tr, Format: "xml", Out: &bytes.Buffer{}}))
	assert.Error(t, Run(Options{Out: &bytes.Buffer{}}))
}
