package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stravu/crystal-sub000/internal/model"
)

func TestRegisterAndApplyByID(t *testing.T) {
	tbl := New()
	id := tbl.Register("t1", "Read", map[string]any{"file": "a.py"})
	require.Equal(t, "t1", id)

	resolved, synthesized := tbl.ApplyResult("t1", model.ToolResult{Content: "..."})
	assert.Equal(t, "t1", resolved)
	assert.False(t, synthesized)
	assert.Equal(t, 1, tbl.Len())

	call, ok := tbl.Get("t1")
	require.True(t, ok)
	assert.Equal(t, model.ToolSuccess, call.Status)
	require.NotNil(t, call.Result)
	assert.Equal(t, "...", call.Result.Content)
}

func TestApplyErrorResult(t *testing.T) {
	tbl := New()
	tbl.Register("t1", "Bash", nil)
	tbl.ApplyResult("t1", model.ToolResult{Content: "exit 1", IsError: true})

	call, _ := tbl.Get("t1")
	assert.Equal(t, model.ToolError, call.Status)
	assert.True(t, call.Result.IsError)
	assert.Equal(t, map[string]any{}, call.Input)
}

func TestRegisterReusedIDResetsInPlace(t *testing.T) {
	tbl := New()
	tbl.Register("t1", "Bash", map[string]any{"command": "ls"})
	tbl.ApplyResult("t1", model.ToolResult{Content: "a"})
	tbl.Register("t1", "Bash", map[string]any{"command": "pwd"})

	assert.Equal(t, 1, tbl.Len())
	call, _ := tbl.Get("t1")
	assert.Equal(t, model.ToolPending, call.Status)
	assert.Nil(t, call.Result)
	assert.Equal(t, "pwd", call.Input["command"])
}

func TestRegisterSynthesizesMissingIDs(t *testing.T) {
	tbl := New()
	tbl.Register("tool-1", "Read", nil)
	a := tbl.Register("", "Bash", nil)
	b := tbl.Register("", "Bash", nil)

	assert.Equal(t, "tool-2", a)
	assert.Equal(t, "tool-3", b)
}

func TestMissingIDFallsBackToMostRecentPending(t *testing.T) {
	tbl := New()
	first := tbl.Register("", "Read", nil)
	second := tbl.Register("", "Bash", nil)

	resolved, synthesized := tbl.ApplyResult("", model.ToolResult{Content: "out"})
	assert.False(t, synthesized)
	assert.Equal(t, second, resolved)

	resolved, _ = tbl.ApplyResult("", model.ToolResult{Content: "file"})
	assert.Equal(t, first, resolved)
}

// Interleaved id-less calls are ambiguous: the first result is attached to
// the newest pending call even if it was produced by the older one.
func TestMissingIDAmbiguityPicksNewestPending(t *testing.T) {
	tbl := New()
	slow := tbl.Register("", "Bash", map[string]any{"command": "sleep 5; echo slow"})
	fast := tbl.Register("", "Bash", map[string]any{"command": "echo fast"})

	resolved, _ := tbl.ApplyResult("", model.ToolResult{Content: "slow"})
	assert.Equal(t, fast, resolved)

	call, _ := tbl.Get(fast)
	assert.Equal(t, "slow", call.Result.Content)
	call, _ = tbl.Get(slow)
	assert.Equal(t, model.ToolPending, call.Status)
}

func TestOrphanResultSynthesizesUnknownCall(t *testing.T) {
	tbl := New()
	resolved, synthesized := tbl.ApplyResult("", model.ToolResult{Content: "lost"})
	assert.True(t, synthesized)
	assert.Equal(t, "tool-1", resolved)

	call, _ := tbl.Get(resolved)
	assert.Equal(t, UnknownTool, call.Name)
	assert.Equal(t, model.ToolSuccess, call.Status)

	resolved, synthesized = tbl.ApplyResult("call_9", model.ToolResult{Content: "x", IsError: true})
	assert.True(t, synthesized)
	assert.Equal(t, "call_9", resolved)
	call, _ = tbl.Get("call_9")
	assert.Equal(t, model.ToolError, call.Status)
}

func TestSettledCallsAlwaysCarryResult(t *testing.T) {
	tbl := New()
	tbl.Register("a", "Read", nil)
	tbl.Register("", "Bash", nil)
	tbl.ApplyResult("a", model.ToolResult{})
	tbl.ApplyResult("", model.ToolResult{})
	tbl.ApplyResult("zzz", model.ToolResult{})

	for _, call := range tbl.Calls() {
		if call.Status.Settled() {
			assert.NotNil(t, call.Result, call.ID)
		}
	}
}

func TestSubAgentNesting(t *testing.T) {
	tbl := New()
	tbl.Register("task", "Task", map[string]any{"subagent_type": "explore"})
	tbl.MarkSubAgent("task", "explore")
	tbl.Register("c1", "Read", nil)
	require.True(t, tbl.SetParent("c1", "task"))
	tbl.Register("c2", "Grep", nil)
	require.True(t, tbl.SetParent("c2", "task"))
	tbl.ApplyResult("c1", model.ToolResult{Content: "r1"})
	tbl.ApplyResult("c2", model.ToolResult{Content: "r2"})

	messages := []model.Message{
		{ID: "m1", Role: model.RoleAssistant, Segments: []model.Segment{model.ToolCallSegment(&model.ToolCall{ID: "task"})}},
		{ID: "m2", Role: model.RoleAssistant, Segments: []model.Segment{model.ToolCallSegment(&model.ToolCall{ID: "c1"})}},
		{ID: "m3", Role: model.RoleAssistant, Segments: []model.Segment{
			model.TextSegment("looking"),
			model.ToolCallSegment(&model.ToolCall{ID: "c2"}),
		}},
	}
	out := tbl.Resolve(messages)

	require.Len(t, out, 2)
	assert.Equal(t, "m1", out[0].ID)
	parent := out[0].Segments[0].Tool
	require.NotNil(t, parent)
	assert.True(t, parent.IsSubAgent)
	assert.Equal(t, "explore", parent.SubAgentType)
	require.Len(t, parent.ChildToolCalls, 2)
	assert.Equal(t, "c1", parent.ChildToolCalls[0].ID)
	assert.Equal(t, "c2", parent.ChildToolCalls[1].ID)
	assert.Equal(t, "task", parent.ChildToolCalls[0].ParentToolID)
	assert.Equal(t, "r2", parent.ChildToolCalls[1].Result.Content)

	assert.Equal(t, "m3", out[1].ID)
	require.Len(t, out[1].Segments, 1)
	assert.Equal(t, model.SegmentText, out[1].Segments[0].Type)
}

func TestSetParentRefusesCyclesAndUnknownParents(t *testing.T) {
	tbl := New()
	tbl.Register("a", "Task", nil)
	tbl.Register("b", "Task", nil)

	assert.False(t, tbl.SetParent("a", "missing"))
	assert.False(t, tbl.SetParent("a", "a"))
	require.True(t, tbl.SetParent("b", "a"))
	assert.False(t, tbl.SetParent("a", "b"))
	assert.True(t, tbl.IsNested("b"))
	assert.False(t, tbl.IsNested("a"))

	calls := tbl.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].ID)
}

func TestSetParentMovesChild(t *testing.T) {
	tbl := New()
	tbl.Register("p1", "Task", nil)
	tbl.Register("p2", "Task", nil)
	tbl.Register("c", "Read", nil)
	tbl.SetParent("c", "p1")
	tbl.SetParent("c", "p2")

	p1, _ := tbl.Get("p1")
	p2, _ := tbl.Get("p2")
	assert.Empty(t, p1.ChildToolCalls)
	require.Len(t, p2.ChildToolCalls, 1)
	assert.Equal(t, "p2", p2.ChildToolCalls[0].ParentToolID)
}

func TestResolveSnapshotsAreIndependent(t *testing.T) {
	tbl := New()
	tbl.Register("t1", "Read", nil)
	out := tbl.Resolve([]model.Message{{ID: "m", Segments: []model.Segment{model.ToolCallSegment(&model.ToolCall{ID: "t1"})}}})
	tbl.ApplyResult("t1", model.ToolResult{Content: "late"})

	assert.Equal(t, model.ToolPending, out[0].Segments[0].Tool.Status)
	assert.Nil(t, out[0].Segments[0].Tool.Result)
}

func TestUpdateInput(t *testing.T) {
	tbl := New()
	tbl.Register("t1", "Bash", map[string]any{"command": "ls"})
	tbl.UpdateInput("t1", map[string]any{"cwd": "/tmp"})
	tbl.UpdateInput("missing", map[string]any{"x": 1})

	call, _ := tbl.Get("t1")
	assert.Equal(t, map[string]any{"command": "ls", "cwd": "/tmp"}, call.Input)
	assert.False(t, tbl.Has("missing"))
}

func TestReset(t *testing.T) {
	tbl := New()
	tbl.Register("", "Read", nil)
	tbl.Reset()
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, "tool-1", tbl.Register("", "Read", nil))
}

func TestIDs(t *testing.T) {
	var ids IDs
	assert.Equal(t, "msg-1", ids.Next(""))
	assert.Equal(t, "abc", ids.Next("abc"))
	assert.Equal(t, "abc-1", ids.Next("abc"))
	assert.Equal(t, "abc-2", ids.Next("abc"))
	assert.Equal(t, "msg-5", ids.Next(""))

	ids.Reset()
	assert.Equal(t, "msg-1", ids.Next(""))
	assert.Equal(t, "abc", ids.Next("abc"))
}

func TestRegisterAdoptsEarlyResult(t *testing.T) {
	tbl := New()
	_, synthesized := tbl.ApplyResult("t1", model.ToolResult{Content: "early"})
	require.True(t, synthesized)
	assert.True(t, tbl.Has("t1"))
	assert.False(t, tbl.Known("t1"))

	id := tbl.Register("t1", "Read", map[string]any{"file": "a.py"})
	assert.Equal(t, "t1", id)
	assert.True(t, tbl.Known("t1"))
	assert.Equal(t, 1, tbl.Len())

	call, _ := tbl.Get("t1")
	assert.Equal(t, "Read", call.Name)
	assert.Equal(t, "a.py", call.Input["file"])
	assert.Equal(t, model.ToolSuccess, call.Status)
	require.NotNil(t, call.Result)
	assert.Equal(t, "early", call.Result.Content)

	messages := []model.Message{
		{ID: "m1", Role: model.RoleAssistant, Segments: []model.Segment{
			model.ToolResultSegment("t1", &model.ToolResult{Content: "early"}),
		}},
		{ID: "m2", Role: model.RoleAssistant, Segments: []model.Segment{Placeholder("t1")}},
	}
	out := tbl.Resolve(messages)
	require.Len(t, out, 1)
	assert.Equal(t, "m2", out[0].ID)
	require.NotNil(t, out[0].Segments[0].Tool)
	assert.Equal(t, model.ToolSuccess, out[0].Segments[0].Tool.Status)
}
