package claude

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/stravu/crystal-sub000/internal/correlate"
	"github.com/stravu/crystal-sub000/internal/heuristic"
	"github.com/stravu/crystal-sub000/internal/model"
)

func init() {
	model.Register(model.AgentClaude, func(opts model.Options) model.Transformer {
		return New(opts)
	})
}

const (
	commandNameTag = "<command-name>"
	caveatPrefix   = "Caveat: The messages below were generated by the user while running local commands"
)

var localCommandStdout = regexp.MustCompile(`(?s)<local-command-stdout>(.*?)</local-command-stdout>`)

// Transformer converts Claude Code records into unified messages.
type Transformer struct {
	opts   model.Options
	log    *slog.Logger
	run    *correlate.Run
	prompt *heuristic.PromptDetector
	noise  *heuristic.NoiseFilter
	index  int
	// fold folds matched results into their calls instead of emitting them.
	fold   bool
}

// New returns a transformer with its own correlation state.
func New(opts model.Options) *Transformer {
	opts = opts.WithDefaults()
	noise, err := heuristic.NewNoiseFilter(opts.DebugPatterns)
	if err != nil {
		opts.Logger.Warn("ignoring debug patterns", "error", err)
	}
	return &Transformer{
		opts:   opts,
		log:    opts.Logger.With("agent", string(model.AgentClaude)),
		run:    correlate.NewRun(opts.Now),
		prompt: heuristic.NewPromptDetector(opts.PromptMarkers),
		noise:  noise,
	}
}

func (t *Transformer) AgentName() string { return "Claude" }
func (t *Transformer) SupportsStreaming() bool { return true }
func (t *Transformer) SupportsThinking() bool { return true }
func (t *Transformer) SupportsToolCalls() bool { return true }

// Transform converts a full event log. Results are folded into their calls
// and sub-agent calls are nested under their parents.
func (t *Transformer) Transform(events []model.RawEvent) []model.Message {
	t.run.Reset()
	t.prompt.Reset()
	t.fold = true

	out := make([]model.Message, 0, len(events))
	for i, ev := range events {
		t.index = i
		if msg := t.parse(ev); msg != nil {
			out = append(out, *msg)
		}
	}
	return t.run.Table.Resolve(out)
}

// ParseMessage converts one event against the state built by earlier calls.
// Tool results are returned as tool_result segments.
func (t *Transformer) ParseMessage(ev model.RawEvent) *model.Message {
	t.fold = false
	msg := t.parse(ev)
	t.run.Fill(msg)
	t.index++
	return msg
}

// ToolCalls returns the top-level calls of the last run with their children.
func (t *Transformer) ToolCalls() []model.ToolCall {
	return t.run.Table.Calls()
}

func (t *Transformer) parse(ev model.RawEvent) *model.Message {
	switch ev.Type {
	case model.EventStdout:
		return t.stdout(ev)
	case model.EventStderr:
		return t.stderr(ev)
	}

	payload, err := ev.Payload()
	if err != nil {
		t.log.Warn("dropping malformed event", "index", t.index, "error", err)
		return nil
	}

	var entry rawEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return t.run.Fallback(payload, ev.Timestamp)
	}
	ts := correlate.FirstTimestamp(ev.Timestamp, entry.Timestamp)

	switch entry.Type {
	case EntryTypeAssistant:
		return t.assistant(entry, payload, ts)
	case EntryTypeUser:
		return t.user(entry, payload, ts)
	case EntryTypeSystem:
		return t.system(entry, payload, ts)
	case EntryTypeResult:
		return t.result(entry, ts)
	case EntryTypeStreamEvent:
		return nil
	case EntryTypeError:
		return t.errorEntry(entry, ts)
	case EntryTypeSummary:
		return t.summary(entry, payload, ts)
	case EntryTypeSessionInfo:
		return t.sessionInfo(entry, payload, ts)
	case EntryTypeGitOperation:
		msg := t.systemMessage(model.SubtypeGitOperation, ts)
		msg.Append(model.TextSegment(stringOrMessage(entry.Message)))
		return msg
	case EntryTypeGitError:
		msg := t.systemMessage(model.SubtypeGitError, ts)
		msg.Append(model.ErrorSegment(stringOrMessage(entry.Message), detailsText(entry.Details)))
		return msg
	case EntryTypeSessionStatus:
		msg := t.systemMessage(model.SubtypeSessionStatus, ts)
		msg.Append(model.SystemInfoSegment(map[string]any{
			"status":  entry.Status,
			"message": stringOrMessage(entry.Message),
		}))
		return msg
	}
	return t.run.Fallback(payload, ts)
}

func (t *Transformer) assistant(entry rawEntry, payload json.RawMessage, ts json.RawMessage) *model.Message {
	var body messagePayload
	if err := json.Unmarshal(entry.Message, &body); err != nil {
		return t.run.Fallback(payload, ts)
	}
	blocks, ok := decodeContent(body.Content)
	if !ok {
		return t.run.Fallback(payload, ts)
	}

	msg := t.run.Message(model.RoleAssistant, firstNonEmpty(entry.UUID, body.ID), ts)
	msg.SetMeta(model.MetaAgent, t.AgentName()).
		SetMeta(model.MetaModel, body.Model).
		SetMeta(model.MetaParentToolID, entry.ParentToolUseID)
	if t.opts.ShowTokenUsage {
		if usage := body.Usage.info(); usage != nil {
			msg.SetMeta(model.MetaTokens, usage)
		}
	}

	for _, block := range blocks {
		switch block.Type {
		case ContentBlockTypeText:
			if strings.TrimSpace(block.Text) != "" {
				msg.Append(model.TextSegment(block.Text))
			}
		case ContentBlockTypeThinking:
			if strings.TrimSpace(block.Thinking) != "" {
				msg.Append(model.ThinkingSegment(block.Thinking))
			}
		case ContentBlockTypeRedactedThinking:
			msg.Append(model.ThinkingSegment("[redacted thinking]"))
		case ContentBlockTypeToolUse:
			known := block.ID != "" && t.run.Table.Known(block.ID)
			id := t.registerToolUse(block, entry.ParentToolUseID)
			if known && t.fold {
				continue
			}
			msg.Append(correlate.Placeholder(id))
		default:
			t.log.Debug("unrecognized assistant block", "index", t.index, "type", block.Type)
			msg.Append(model.TextSegment(model.Stringify(mustMarshal(block))))
		}
	}
	if len(msg.Segments) == 0 {
		return nil
	}
	return msg
}

func (t *Transformer) registerToolUse(block contentBlock, parentID string) string {
	input := model.DecodeInput(block.Input)
	id := t.run.Table.Register(block.ID, block.Name, input)
	if subAgentTools[block.Name] {
		agentType, _ := input["subagent_type"].(string)
		if agentType == "" {
			agentType = "general-purpose"
		}
		t.run.Table.MarkSubAgent(id, agentType)
	}
	if parentID != "" && !t.run.Table.SetParent(id, parentID) {
		t.log.Debug("parent tool call not seen", "index", t.index, "tool", id, "parent", parentID)
	}
	return id
}

func (t *Transformer) user(entry rawEntry, payload json.RawMessage, ts json.RawMessage) *model.Message {
	var body messagePayload
	if err := json.Unmarshal(entry.Message, &body); err != nil {
		return t.run.Fallback(payload, ts)
	}
	blocks, ok := decodeContent(body.Content)
	if !ok {
		return t.run.Fallback(payload, ts)
	}
	if entry.IsMeta {
		return nil
	}

	var texts, results []model.Segment
	var slashOutput []string
	for _, block := range blocks {
		switch block.Type {
		case ContentBlockTypeText:
			text := block.Text
			if strings.TrimSpace(text) == "" || strings.Contains(text, commandNameTag) || strings.HasPrefix(text, caveatPrefix) {
				continue
			}
			if m := localCommandStdout.FindStringSubmatch(text); m != nil {
				slashOutput = append(slashOutput, m[1])
				continue
			}
			if display, enhanced := t.prompt.Display(text); enhanced {
				text = display
			}
			texts = append(texts, model.TextSegment(text))
		case ContentBlockTypeToolResult:
			result := model.ToolResult{
				Content: model.Stringify(block.Content),
				IsError: block.IsError,
			}
			id, synthesized := t.run.Table.ApplyResult(block.ToolUseID, result)
			if synthesized && entry.ParentToolUseID != "" {
				t.run.Table.SetParent(id, entry.ParentToolUseID)
			}
			if t.fold && !synthesized {
				continue
			}
			res := result
			results = append(results, model.ToolResultSegment(id, &res))
		case ContentBlockTypeImage:
			mediaType := "image"
			if block.Source != nil && block.Source.MediaType != "" {
				mediaType = block.Source.MediaType
			}
			texts = append(texts, model.TextSegment(fmt.Sprintf("[%s attachment]", mediaType)))
		default:
			texts = append(texts, model.TextSegment(model.Stringify(mustMarshal(block))))
		}
	}
	if len(slashOutput) > 0 {
		if msg := t.slashCommandResult(strings.Join(slashOutput, "\n"), ts); msg != nil {
			msg.Append(texts...)
			msg.Append(results...)
			return msg
		}
	}
	if len(texts) == 0 && len(results) == 0 {
		return nil
	}

	role := model.RoleUser
	if len(texts) == 0 {
		role = model.RoleAssistant
	}
	msg := t.run.Message(role, entry.UUID, ts)
	msg.SetMeta(model.MetaParentToolID, entry.ParentToolUseID)
	msg.Append(texts...)
	msg.Append(results...)
	return msg
}

func (t *Transformer) slashCommandResult(output string, ts json.RawMessage) *model.Message {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}
	msg := t.systemMessage(model.SubtypeSlashCommandResult, ts)
	msg.Append(model.TextSegment(output))
	return msg
}

func (t *Transformer) system(entry rawEntry, payload json.RawMessage, ts json.RawMessage) *model.Message {
	switch entry.Subtype {
	case SubtypeInit:
		msg := t.systemMessage(model.SubtypeInit, ts)
		msg.SetMeta(model.MetaModel, entry.Model)
		msg.Append(model.SystemInfoSegment(map[string]any{
			"sessionId":      entry.sessionID(),
			"model":          entry.Model,
			"cwd":            entry.CWD,
			"tools":          entry.Tools,
			"mcpServers":     len(entry.MCPServers),
			"permissionMode": entry.PermissionMode,
			"version":        firstNonEmpty(entry.ClaudeCodeVersion, entry.Version),
		}))
		return msg
	case SubtypeCompactBoundary:
		msg := t.systemMessage(model.SubtypeContextCompacted, ts)
		info := map[string]any{}
		if entry.CompactMetadata != nil {
			info["trigger"] = entry.CompactMetadata.Trigger
			info["preTokens"] = entry.CompactMetadata.PreTokens
		}
		msg.Append(model.SystemInfoSegment(info))
		return msg
	}
	return t.run.Fallback(payload, ts)
}

func (t *Transformer) result(entry rawEntry, ts json.RawMessage) *model.Message {
	failed := entry.IsError || strings.HasPrefix(entry.Subtype, "error")
	if failed {
		msg := t.systemMessage(model.SubtypeError, ts)
		details := entry.Result
		if len(entry.Errors) > 0 {
			details = strings.Join(entry.Errors, "\n")
		}
		msg.Append(model.ErrorSegment(fmt.Sprintf("Session ended with %s", firstNonEmpty(entry.Subtype, "error")), details))
		return msg
	}

	msg := t.systemMessage(model.SubtypeSessionRuntime, ts)
	msg.SetMeta(model.MetaDurationMs, entry.DurationMs).
		SetMeta(model.MetaCostUSD, entry.TotalCostUSD)
	info := map[string]any{
		"durationMs":    entry.DurationMs,
		"durationApiMs": entry.DurationAPIMs,
		"numTurns":      entry.NumTurns,
		"costUsd":       entry.TotalCostUSD,
	}
	if t.opts.ShowTokenUsage {
		if usage := entry.Usage.info(); usage != nil {
			info["usage"] = usage
			msg.SetMeta(model.MetaTokens, usage)
		}
	}
	msg.Append(model.SystemInfoSegment(info))
	return msg
}

func (t *Transformer) errorEntry(entry rawEntry, ts json.RawMessage) *model.Message {
	text := firstNonEmpty(stringOrMessage(entry.Error), stringOrMessage(entry.Message), "Unknown error")
	msg := t.systemMessage(model.SubtypeError, ts)
	msg.Append(model.ErrorSegment(text, detailsText(entry.Details)))
	return msg
}

func (t *Transformer) summary(entry rawEntry, payload json.RawMessage, ts json.RawMessage) *model.Message {
	if strings.TrimSpace(entry.Summary) == "" {
		return t.run.Fallback(payload, ts)
	}
	msg := t.systemMessage(model.SubtypeSessionInfo, ts)
	msg.Append(model.SystemInfoSegment(map[string]any{"summary": entry.Summary}))
	return msg
}

func (t *Transformer) sessionInfo(entry rawEntry, payload json.RawMessage, ts json.RawMessage) *model.Message {
	t.prompt.Capture(firstNonEmpty(entry.InitialPrompt, entry.Prompt))

	var info map[string]any
	if err := json.Unmarshal(payload, &info); err != nil {
		return t.run.Fallback(payload, ts)
	}
	delete(info, "type")
	delete(info, "timestamp")
	msg := t.systemMessage(model.SubtypeSessionInfo, ts)
	msg.SetMeta(model.MetaModel, entry.Model)
	msg.Append(model.SystemInfoSegment(info))
	return msg
}

func (t *Transformer) stdout(ev model.RawEvent) *model.Message {
	text := ev.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := t.run.Message(model.RoleAssistant, "", ev.Timestamp)
	msg.SetMeta(model.MetaAgent, t.AgentName())
	msg.Append(model.TextSegment(text))
	return msg
}

func (t *Transformer) stderr(ev model.RawEvent) *model.Message {
	text := strings.TrimSpace(ev.Text())
	if text == "" || t.noise.IsNoise(text) {
		return nil
	}
	msg := t.systemMessage(model.SubtypeError, ev.Timestamp)
	msg.Append(model.ErrorSegment(text, ""))
	return msg
}

func (t *Transformer) systemMessage(subtype model.SystemSubtype, ts json.RawMessage) *model.Message {
	msg := t.run.Message(model.RoleSystem, "", ts)
	msg.SetMeta(model.MetaSystemSubtype, subtype)
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func mustMarshal(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return out
}
