package format

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stravu/crystal-sub000/internal/model"
	"github.com/stravu/crystal-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummaries() []store.Session {
	return []store.Session{
		{
			ID:              "session-a",
			Agent:           model.AgentCodex,
			CWD:             "/tmp/project",
			StartedAt:       time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
			Summary:         "Alpha",
			MessageCount:    10,
			ToolCallCount:   3,
			DurationSeconds: 90,
		},
		{
			ID:              "session-b",
			Agent:           model.AgentClaude,
			CWD:             "/tmp/other",
			StartedAt:       time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC),
			Summary:         "Beta\nsecond line",
			MessageCount:    20,
			DurationSeconds: 45,
		},
	}
}

func TestWriteSummariesPlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaries(&buf, sampleSummaries(), true, "plain"))

	expected := strings.Join([]string{
		"timestamp\tagent\tsession_id\tcwd\tduration\tmessage_count\ttool_calls\tsummary",
		"2025-10-01T12:00:00Z\tcodex\tsession-a\t/tmp/project\t00:01:30\t10\t3\tAlpha",
		"2025-10-02T09:30:00Z\tclaude\tsession-b\t/tmp/other\t00:00:45\t20\t0\tBeta\\nsecond line",
	}, "\n") + "\n"
	assert.Equal(t, expected, buf.String())
}

func TestWriteSummariesTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaries(&buf, sampleSummaries(), true, "table"))

	out := buf.String()
	for _, col := range []string{"DURATION", "MESSAGES", "AGENT", "TOOLS"} {
		assert.Contains(t, out, col)
	}
	assert.Less(t, strings.Index(out, "session-a"), strings.Index(out, "session-b"))
}

func TestWriteSummariesEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummaries(&buf, nil, true, "table"))
	assert.Contains(t, buf.String(), "(no sessions)")
}

func TestWriteSummariesInvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteSummaries(&buf, sampleSummaries(), true, "xml"))
}

func TestWriteSummariesJSONL(t *testing.T) {
	var buf bytes.Buffer
	items := sampleSummaries()
	require.NoError(t, WriteSummaries(&buf, items, false, "jsonl"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(items))
	assert.Contains(t, lines[0], `"session-a"`)
	assert.Contains(t, lines[0], `"DurationSeconds":90`)
}

func TestWriteSessionInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSessionInfo(&buf, sampleSummaries()[0], "table"))

	out := buf.String()
	for _, want := range []string{"session-a", "codex", "00:01:30", "Tool calls"} {
		assert.Contains(t, out, want)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{0: "00:00:00", -5: "00:00:00", 59: "00:00:59", 3661: "01:01:01"}
	for in, want := range cases {
		assert.Equal(t, want, formatDuration(in), "formatDuration(%d)", in)
	}
}

func TestWriteHistorySessions(t *testing.T) {
	items := []store.HistorySession{{
		ID:         "s-1",
		Agent:      model.AgentCodex,
		SourcePath: "/logs/s-1.jsonl",
		EventCount: 12,
		ImportedAt: time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteHistorySessions(&buf, items, "plain"))
	assert.Equal(t, "s-1\tcodex\t12\t2025-10-03T08:00:00Z\t/logs/s-1.jsonl\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteHistorySessions(&buf, nil, "table"))
	assert.Contains(t, buf.String(), "(no sessions)")

	buf.Reset()
	require.NoError(t, WriteHistorySessions(&buf, nil, "json"))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}
