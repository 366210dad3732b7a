package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stravu/crystal-sub000/internal/model"
)

// LineOptions control how message bodies are rendered.
type LineOptions struct {
	WrapWidth int
	// Markdown renders text segments of assistant messages when set.
	Markdown *MarkdownRenderer
}

// RenderMessageLines returns the formatted body lines for a message.
func RenderMessageLines(msg model.Message, opts LineOptions) []string {
	parts := make([]string, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		if body := renderSegment(msg, seg, opts); body != "" {
			parts = append(parts, body)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.Split(strings.Join(parts, "\n"), "\n")
}

// RenderMessage converts a message into a printable string with a
// [timestamp][label] header.
func RenderMessage(msg model.Message, opts LineOptions) string {
	lines := RenderMessageLines(msg, opts)
	return fmt.Sprintf("[%s][%s]\n%s", msg.Timestamp, MessageLabel(msg), strings.Join(lines, "\n"))
}

// MessageLabel names a message by role, or by subtype for system messages.
func MessageLabel(msg model.Message) string {
	if sub := msg.Subtype(); sub != "" {
		return string(sub)
	}
	if msg.IsRaw() {
		return "raw"
	}
	return string(msg.Role)
}

func renderSegment(msg model.Message, seg model.Segment, opts LineOptions) string {
	switch seg.Type {
	case model.SegmentText:
		if opts.Markdown != nil && msg.Role == model.RoleAssistant && !msg.IsRaw() {
			if out, err := opts.Markdown.Render(seg.Content); err == nil {
				return out
			}
		}
		if msg.IsRaw() {
			return seg.Content
		}
		return wrapBody(strings.TrimSpace(seg.Content), opts.WrapWidth)
	case model.SegmentThinking:
		return "[thinking] " + wrapBody(strings.TrimSpace(seg.Content), opts.WrapWidth)
	case model.SegmentToolCall:
		if seg.Tool == nil {
			return ""
		}
		return strings.Join(renderToolCall(*seg.Tool, 0), "\n")
	case model.SegmentToolResult:
		return renderResult(fmt.Sprintf("Result (%s)", seg.ToolCallID), seg.Result)
	case model.SegmentSystemInfo:
		return renderInfo(seg.Info)
	case model.SegmentDiff:
		return strings.TrimRight(seg.Diff, "\n")
	case model.SegmentError:
		if seg.Error == nil {
			return "Error"
		}
		out := "Error: " + seg.Error.Message
		if seg.Error.Details != "" {
			out += "\n" + seg.Error.Details
		}
		return out
	}
	return ""
}

func renderToolCall(call model.ToolCall, depth int) []string {
	indent := strings.Repeat("  ", depth)
	header := fmt.Sprintf("%sTool: %s [%s]", indent, call.Name, call.Status)
	if call.IsSubAgent && call.SubAgentType != "" {
		header = fmt.Sprintf("%sAgent: %s (%s) [%s]", indent, call.Name, call.SubAgentType, call.Status)
	}
	lines := []string{header}

	if len(call.Input) > 0 {
		encoded, err := json.Marshal(call.Input)
		if err == nil {
			lines = append(lines, indentLines(formatArguments(string(encoded)), indent)...)
		}
	}
	for _, child := range call.ChildToolCalls {
		lines = append(lines, renderToolCall(child, depth+1)...)
	}
	if call.Result != nil {
		lines = append(lines, indentLines(renderResult("Output", call.Result), indent)...)
	}
	return lines
}

func formatArguments(raw string) string {
	formatted := formatJSON(raw)
	if formatted == raw && !strings.Contains(raw, "\n") && len(raw) < 80 {
		return "Arguments: " + raw
	}
	return "Arguments:\n" + formatted
}

func renderResult(label string, res *model.ToolResult) string {
	if res == nil {
		return label + ":"
	}
	if res.IsError {
		label += " (error)"
	}
	content := strings.TrimRight(res.Content, "\n")
	formatted := formatJSON(content)
	if formatted == content && !strings.Contains(content, "\n") {
		return fmt.Sprintf("%s: %s", label, content)
	}
	return fmt.Sprintf("%s:\n%s", label, formatted)
}

func renderInfo(info map[string]any) string {
	if len(info) == 0 {
		return ""
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := info[k]
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", k, val))
		case map[string]any, []any:
			encoded, err := json.Marshal(val)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", k, encoded))
		default:
			lines = append(lines, fmt.Sprintf("%s: %v", k, val))
		}
	}
	return strings.Join(lines, "\n")
}

func indentLines(text, indent string) []string {
	lines := strings.Split(text, "\n")
	if indent == "" {
		return lines
	}
	for i, l := range lines {
		lines[i] = indent + l
	}
	return lines
}

func wrapBody(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	paragraphs := strings.Split(text, "\n")
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		out = append(out, wrapParagraph(p, width))
	}
	return strings.Join(out, "\n")
}

func wrapParagraph(text string, width int) string {
	if len(text) <= width {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func formatJSON(raw string) string {
	if raw == "" {
		return raw
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err == nil {
		return buf.String()
	}
	return raw
}
