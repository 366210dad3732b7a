package codex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stravu/crystal-sub000/internal/correlate"
	"github.com/stravu/crystal-sub000/internal/model"
)

// beginCall registers an invocation. A begin for an id that is already known
// updates that call in place; during Transform it adds no new segment.
func (t *Transformer) beginCall(id, name string, input map[string]any, ts json.RawMessage) *model.Message {
	known := id != "" && t.run.Table.Known(id)
	id = t.run.Table.Register(id, name, input)
	if known && t.fold {
		return nil
	}
	msg := t.assistantMessage("", ts)
	msg.Append(correlate.Placeholder(id))
	return msg
}

// endCall settles an invocation. A completion for a call that was never
// announced registers and settles it in one step when the tool is known.
func (t *Transformer) endCall(id, name string, input map[string]any, result model.ToolResult, ts json.RawMessage) *model.Message {
	table := t.run.Table
	if id != "" && !table.Known(id) && name != "" {
		table.Register(id, name, input)
		table.ApplyResult(id, result)
		msg := t.assistantMessage("", ts)
		msg.Append(correlate.Placeholder(id))
		return msg
	}
	if id != "" {
		table.UpdateInput(id, input)
	}

	resolved, synthesized := table.ApplyResult(id, result)
	if t.fold && !synthesized {
		return nil
	}
	msg := t.assistantMessage("", ts)
	res := result
	msg.Append(model.ToolResultSegment(resolved, &res))
	return msg
}

func execInput(m eventMsg) map[string]any {
	input := map[string]any{}
	if cmd := commandString(m.Command); cmd != "" {
		input["command"] = cmd
	}
	if m.CWD != "" {
		input["cwd"] = m.CWD
	}
	return input
}

func execResult(m eventMsg) model.ToolResult {
	content := firstNonEmpty(m.AggregatedOutput, m.FormattedOutput)
	if content == "" {
		content = strings.TrimRight(joinNonEmpty("\n", m.Stdout, m.Stderr), "\n")
	}
	res := model.ToolResult{Content: content, Metadata: map[string]any{}}
	if m.ExitCode != nil {
		res.IsError = *m.ExitCode != 0
		res.Metadata["exitCode"] = *m.ExitCode
	}
	if d := durationText(m.Duration); d != "" {
		res.Metadata["duration"] = d
	}
	if len(res.Metadata) == 0 {
		res.Metadata = nil
	}
	return res
}

// patchChanges reads the per-file change map of a patch event. Entries are
// either typed, {"type":"update","unified_diff":...}, or keyed by kind,
// {"update":{"unified_diff":...}}.
func patchChanges(raw json.RawMessage) (map[string]any, string) {
	var changes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &changes); err != nil || len(changes) == 0 {
		return map[string]any{}, ""
	}

	paths := make([]string, 0, len(changes))
	for path := range changes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	files := make(map[string]any, len(paths))
	var diff strings.Builder
	for _, path := range paths {
		kind, detail := decodeChange(changes[path])
		files[path] = kind
		switch kind {
		case "update":
			target := firstNonEmpty(detail.MovePath, path)
			fmt.Fprintf(&diff, "--- a/%s\n+++ b/%s\n", path, target)
			if body := strings.TrimRight(detail.UnifiedDiff, "\n"); body != "" {
				diff.WriteString(body + "\n")
			}
		case "add":
			fmt.Fprintf(&diff, "--- /dev/null\n+++ b/%s\n", path)
			for _, line := range strings.Split(strings.TrimRight(detail.Content, "\n"), "\n") {
				diff.WriteString("+" + line + "\n")
			}
		case "delete":
			fmt.Fprintf(&diff, "--- a/%s\n+++ /dev/null\n", path)
		}
	}
	return map[string]any{"changes": files}, strings.TrimRight(diff.String(), "\n")
}

type changeDetail struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	UnifiedDiff string `json:"unified_diff"`
	MovePath    string `json:"move_path"`
}

var changeKinds = []string{"add", "delete", "update"}

func decodeChange(raw json.RawMessage) (string, changeDetail) {
	var detail changeDetail
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Type != "" {
		return detail.Type, detail
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil || len(keyed) == 0 {
		return "unknown", changeDetail{}
	}
	kind := ""
	for _, k := range changeKinds {
		if _, ok := keyed[k]; ok {
			kind = k
			break
		}
	}
	if kind == "" {
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kind = keys[0]
	}
	detail = changeDetail{}
	_ = json.Unmarshal(keyed[kind], &detail)
	return kind, detail
}

func patchResult(m eventMsg) model.ToolResult {
	res := model.ToolResult{Content: strings.TrimSpace(joinNonEmpty("\n", m.Stdout, m.Stderr))}
	if m.Success != nil && !*m.Success {
		res.IsError = true
	}
	return res
}

func fileChangeInput(it flatItem) map[string]any {
	files := make(map[string]any, len(it.Changes))
	for _, c := range it.Changes {
		files[c.Path] = c.Kind
	}
	return map[string]any{"changes": files}
}

func mcpName(server, tool string) string {
	if server == "" {
		return firstNonEmpty(tool, "mcp")
	}
	return fmt.Sprintf("mcp__%s__%s", server, tool)
}

func mcpCall(inv *mcpInvocation) (string, map[string]any) {
	if inv == nil {
		return "mcp", map[string]any{}
	}
	return mcpName(inv.Server, inv.Tool), model.DecodeInput(inv.Arguments)
}

// mcpResult reads {"Ok": {content, is_error}}, {"Err": msg} or a bare
// {content, is_error} result.
func mcpResult(raw json.RawMessage, duration json.RawMessage) model.ToolResult {
	var wrapped struct {
		Ok  json.RawMessage `json:"Ok"`
		Err json.RawMessage `json:"Err"`
	}
	_ = json.Unmarshal(raw, &wrapped)

	var res model.ToolResult
	switch {
	case len(wrapped.Err) > 0:
		res = model.ToolResult{Content: model.Stringify(wrapped.Err), IsError: true}
	case len(wrapped.Ok) > 0:
		res = mcpContent(wrapped.Ok)
	default:
		res = mcpContent(raw)
	}
	if d := durationText(duration); d != "" {
		res.Metadata = map[string]any{"duration": d}
	}
	return res
}

func mcpContent(raw json.RawMessage) model.ToolResult {
	var body struct {
		Content      json.RawMessage `json:"content"`
		IsError      bool            `json:"is_error"`
		IsErrorCamel bool            `json:"isError"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Content) == 0 {
		return model.ToolResult{Content: model.Stringify(raw)}
	}
	return model.ToolResult{
		Content: model.Stringify(body.Content),
		IsError: body.IsError || body.IsErrorCamel,
	}
}

func itemResult(it flatItem) model.ToolResult {
	failed := it.Status == "failed" || it.Status == "declined"
	switch it.Type {
	case ItemTypeCommandExecution:
		res := model.ToolResult{Content: it.AggregatedOutput, IsError: failed}
		if it.ExitCode != nil {
			res.IsError = res.IsError || *it.ExitCode != 0
			res.Metadata = map[string]any{"exitCode": *it.ExitCode}
		}
		if it.Status == "declined" && res.Content == "" {
			res.Content = "Command declined"
		}
		return res
	case ItemTypeFileChange:
		lines := make([]string, 0, len(it.Changes))
		for _, c := range it.Changes {
			lines = append(lines, fmt.Sprintf("%s %s", c.Kind, c.Path))
		}
		return model.ToolResult{Content: strings.Join(lines, "\n"), IsError: failed}
	case ItemTypeMCPToolCall:
		if msg := errorText(it.Error); msg != "" {
			return model.ToolResult{Content: msg, IsError: true}
		}
		res := mcpContent(it.Result)
		res.IsError = res.IsError || failed
		return res
	case ItemTypeWebSearch:
		return model.ToolResult{Content: it.Query, IsError: failed}
	}
	return model.ToolResult{IsError: failed}
}

func queryInput(query string) map[string]any {
	if query == "" {
		return map[string]any{}
	}
	return map[string]any{"query": query}
}

var shellFunctions = map[string]bool{
	"shell":          true,
	"shell_command":  true,
	"container.exec": true,
	"local_shell":    true,
	"exec_command":   true,
}

// functionCall normalizes rollout function calls. Shell invocations are shown
// like exec events.
func functionCall(name string, input map[string]any) (string, map[string]any) {
	if !shellFunctions[name] {
		return name, input
	}
	out := map[string]any{}
	for k, v := range input {
		out[k] = v
	}
	if cmd, ok := input["command"]; ok {
		out["command"] = commandFromAny(cmd)
	}
	return ToolShell, out
}

// functionOutput reads a rollout call output. Shell outputs are a JSON
// string of {output, metadata:{exit_code, duration_seconds}}.
func functionOutput(raw json.RawMessage) model.ToolResult {
	text := model.Stringify(raw)
	var structured struct {
		Output   *string `json:"output"`
		Metadata *struct {
			ExitCode        *int    `json:"exit_code"`
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(text), &structured); err != nil || structured.Output == nil {
		return model.ToolResult{Content: text}
	}
	res := model.ToolResult{Content: *structured.Output}
	if md := structured.Metadata; md != nil {
		res.Metadata = map[string]any{}
		if md.ExitCode != nil {
			res.IsError = *md.ExitCode != 0
			res.Metadata["exitCode"] = *md.ExitCode
		}
		if md.DurationSeconds > 0 {
			res.Metadata["duration"] = fmt.Sprintf("%.1fs", md.DurationSeconds)
		}
	}
	return res
}

// commandString renders a command given as a string or an argv array.
func commandString(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return commandFromAny(v)
}

func commandFromAny(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		argv := make([]string, 0, len(c))
		for _, a := range c {
			argv = append(argv, fmt.Sprint(a))
		}
		// bash -lc "script" is shown as the script.
		if len(argv) == 3 && (argv[1] == "-lc" || argv[1] == "-c") {
			switch argv[0] {
			case "bash", "sh", "zsh", "/bin/bash", "/bin/sh", "/bin/zsh":
				return argv[2]
			}
		}
		return strings.Join(argv, " ")
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// durationText renders {secs, nanos}, a string or a number of milliseconds.
func durationText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var parts struct {
		Secs  int64 `json:"secs"`
		Nanos int64 `json:"nanos"`
	}
	if err := json.Unmarshal(trimmed, &parts); err == nil && (parts.Secs > 0 || parts.Nanos > 0) {
		return fmt.Sprintf("%.1fs", float64(parts.Secs)+float64(parts.Nanos)/1e9)
	}
	var ms float64
	if err := json.Unmarshal(trimmed, &ms); err == nil {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return ""
}

func decodeMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func detailsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return model.Stringify(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	kept := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, sep)
}
