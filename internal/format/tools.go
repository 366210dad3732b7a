package format

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/stravu/crystal-sub000/internal/model"
)

// CollectToolCalls returns the top-level tool calls of a transcript in
// emission order.
func CollectToolCalls(messages []model.Message) []model.ToolCall {
	var calls []model.ToolCall
	for _, msg := range messages {
		for _, seg := range msg.Segments {
			if seg.Type == model.SegmentToolCall && seg.Tool != nil {
				calls = append(calls, *seg.Tool)
			}
		}
	}
	return calls
}

// WriteToolCalls writes tool calls, with sub-agent children indented under
// their parent.
func WriteToolCalls(w io.Writer, calls []model.ToolCall, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return writeToolCallsTable(w, calls)
	case "plain":
		return writeToolCallsPlain(w, calls)
	case "json":
		return writeJSON(w, calls)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

type toolRow struct {
	depth int
	call  model.ToolCall
}

func flattenCalls(calls []model.ToolCall, depth int, out []toolRow) []toolRow {
	for _, call := range calls {
		out = append(out, toolRow{depth: depth, call: call})
		out = flattenCalls(call.ChildToolCalls, depth+1, out)
	}
	return out
}

func writeToolCallsTable(w io.Writer, calls []model.ToolCall) error {
	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 50},
		{Number: 5, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 50},
	})
	tw.AppendHeader(table.Row{"Tool", "ID", "Status", "Input", "Result"})

	rows := flattenCalls(calls, 0, nil)
	for _, r := range rows {
		tw.AppendRow(table.Row{
			toolLabel(r),
			r.call.ID,
			r.call.Status,
			oneLine(InputSummary(r.call.Input), 50),
			oneLine(resultText(r.call.Result), 50),
		})
	}
	if len(rows) == 0 {
		tw.AppendRow(table.Row{"(no tool calls)", "-", "-", "-", "-"})
	}

	_ = tw.Render()
	return nil
}

func writeToolCallsPlain(w io.Writer, calls []model.ToolCall) error {
	for _, r := range flattenCalls(calls, 0, nil) {
		line := fmt.Sprintf("%s\t%s\t%s\t%s",
			toolLabel(r),
			r.call.ID,
			r.call.Status,
			escapeNewlines(InputSummary(r.call.Input)),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func toolLabel(r toolRow) string {
	label := r.call.Name
	if r.call.IsSubAgent && r.call.SubAgentType != "" {
		label = fmt.Sprintf("%s (%s)", label, r.call.SubAgentType)
	}
	if r.depth == 0 {
		return label
	}
	return strings.Repeat("  ", r.depth-1) + "└─ " + label
}

// Input keys shown in preference to a JSON dump.
var summaryKeys = []string{"command", "file_path", "path", "pattern", "query", "url", "description", "prompt"}

// InputSummary renders the most telling field of a tool input.
func InputSummary(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	for _, k := range summaryKeys {
		if v, ok := input[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if changes, ok := input["changes"].(map[string]any); ok && len(changes) > 0 {
		paths := make([]string, 0, len(changes))
		for p, kind := range changes {
			paths = append(paths, fmt.Sprintf("%v %s", kind, p))
		}
		sort.Strings(paths)
		return strings.Join(paths, ", ")
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(encoded)
}

func resultText(res *model.ToolResult) string {
	if res == nil {
		return ""
	}
	return strings.TrimSpace(res.Content)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit-1]) + "…"
	}
	return s
}
