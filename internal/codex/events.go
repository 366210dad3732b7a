package codex

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stravu/crystal-sub000/internal/model"
)

// handleMsg handles nested protocol events and rollout event_msg records.
func (t *Transformer) handleMsg(e msgEvent, payload json.RawMessage, ts json.RawMessage) *model.Message {
	m := e.msg
	var msg *model.Message

	switch m.Type {
	case EventMsgTypeAgentMessageDelta,
		EventMsgTypeAgentReasoningDelta,
		EventMsgTypeReasoningRawDelta,
		EventMsgTypeReasoningSectionBreak,
		EventMsgTypeExecCommandOutput:
		return nil

	case EventMsgTypeSessionConfigured:
		msg = t.infoMessage(model.SubtypeInit, map[string]any{
			"sessionId":       m.SessionID,
			"model":           m.Model,
			"reasoningEffort": m.ReasoningEffort,
			"rolloutPath":     m.RolloutPath,
		}, ts)
		msg.SetMeta(model.MetaModel, m.Model)
	case EventMsgTypeTaskStarted:
		info := map[string]any{}
		if m.ModelContextWindow > 0 {
			info["modelContextWindow"] = m.ModelContextWindow
		}
		msg = t.infoMessage(model.SubtypeTaskStarted, info, ts)
	case EventMsgTypeTaskComplete:
		info := map[string]any{}
		if m.LastAgentMessage != "" {
			info["lastAgentMessage"] = m.LastAgentMessage
		}
		msg = t.infoMessage(model.SubtypeTaskComplete, info, ts)

	case EventMsgTypeAgentMessage:
		msg = t.textMessage(model.RoleAssistant, "", m.Message, ts)
	case EventMsgTypeAgentReasoning, EventMsgTypeReasoningRawContent:
		msg = t.thinkingMessage("", m.Text, ts)
	case EventMsgTypeUserMessage:
		msg = t.userMessage(m.Message, ts)

	case EventMsgTypeExecCommandBegin:
		msg = t.beginCall(m.CallID, ToolShell, execInput(m), ts)
	case EventMsgTypeExecCommandEnd:
		msg = t.endCall(m.CallID, ToolShell, execInput(m), execResult(m), ts)
	case EventMsgTypePatchApplyBegin:
		input, diff := patchChanges(m.Changes)
		input["autoApproved"] = m.AutoApproved
		msg = t.beginCall(m.CallID, ToolPatch, input, ts)
		if msg != nil && diff != "" {
			msg.Append(model.DiffSegment(diff))
		}
	case EventMsgTypePatchApplyEnd:
		msg = t.endCall(m.CallID, ToolPatch, nil, patchResult(m), ts)
	case EventMsgTypeMCPToolCallBegin:
		name, input := mcpCall(m.Invocation)
		msg = t.beginCall(m.CallID, name, input, ts)
	case EventMsgTypeMCPToolCallEnd:
		name, input := mcpCall(m.Invocation)
		msg = t.endCall(m.CallID, name, input, mcpResult(m.Result, m.Duration), ts)
	case EventMsgTypeWebSearchBegin:
		msg = t.beginCall(m.CallID, ToolWebSearch, queryInput(m.Query), ts)
	case EventMsgTypeWebSearchEnd:
		msg = t.endCall(m.CallID, ToolWebSearch, queryInput(m.Query), model.ToolResult{Content: m.Query}, ts)

	case EventMsgTypeTurnDiff:
		if strings.TrimSpace(m.UnifiedDiff) == "" {
			return nil
		}
		msg = t.assistantMessage("", ts)
		msg.Append(model.DiffSegment(m.UnifiedDiff))
	case EventMsgTypePlanUpdate:
		msg = t.textMessage(model.RoleAssistant, "", planText(m.Explanation, m.Plan), ts)
	case EventMsgTypeTokenCount:
		msg = t.tokenUsage(tokenInfo(m), ts)

	case EventMsgTypeError:
		msg = t.errorMessage(model.SubtypeError, m.Message, "", ts)
	case EventMsgTypeStreamError:
		msg = t.errorMessage(model.SubtypeStreamError, m.Message, "", ts)
	case EventMsgTypeTurnAborted:
		msg = t.infoMessage(model.SubtypeSessionStatus, map[string]any{
			"status": "aborted",
			"reason": m.Reason,
		}, ts)
	case EventMsgTypeBackgroundEvent:
		msg = t.infoMessage(model.SubtypeSessionStatus, map[string]any{
			"message": m.Message,
		}, ts)

	default:
		t.log.Debug("unrecognized event type", "index", t.index, "type", m.Type)
		return t.run.Fallback(payload, ts)
	}

	if msg != nil {
		msg.SetMeta(model.MetaSourceID, e.id)
	}
	return msg
}

// handleItem handles flat item.* events. Text-like items only count once completed.
func (t *Transformer) handleItem(e itemEvent, payload json.RawMessage, ts json.RawMessage) *model.Message {
	it := e.item
	completed := e.phase == FlatItemCompleted

	switch it.Type {
	case ItemTypeAgentMessage:
		if !completed {
			return nil
		}
		return t.textMessage(model.RoleAssistant, it.ID, it.Text, ts)
	case ItemTypeReasoning:
		if !completed {
			return nil
		}
		return t.thinkingMessage(it.ID, it.Text, ts)
	case ItemTypeTodoList:
		if !completed {
			return nil
		}
		steps := make([]planStep, 0, len(it.Items))
		for _, item := range it.Items {
			status := "pending"
			if item.Completed {
				status = "completed"
			}
			steps = append(steps, planStep{Step: item.Text, Status: status})
		}
		return t.textMessage(model.RoleAssistant, it.ID, planText("", steps), ts)
	case ItemTypeError:
		if e.phase == FlatItemUpdated {
			return nil
		}
		return t.errorMessage(model.SubtypeError, it.Message, "", ts)
	}

	var name string
	var input map[string]any
	switch it.Type {
	case ItemTypeCommandExecution:
		name, input = ToolShell, map[string]any{"command": commandString(it.Command)}
	case ItemTypeFileChange:
		name, input = ToolPatch, fileChangeInput(it)
	case ItemTypeMCPToolCall:
		name, input = mcpName(it.Server, it.Tool), model.DecodeInput(it.Arguments)
	case ItemTypeWebSearch:
		name, input = ToolWebSearch, queryInput(it.Query)
	default:
		t.log.Debug("unrecognized item type", "index", t.index, "type", it.Type)
		return t.run.Fallback(payload, ts)
	}

	switch e.phase {
	case FlatItemStarted:
		return t.beginCall(it.ID, name, input, ts)
	case FlatItemUpdated:
		t.run.Table.UpdateInput(it.ID, input)
		return nil
	}
	return t.endCall(it.ID, name, input, itemResult(it), ts)
}

// handleFlat handles thread and turn lifecycle events of the flat stream.
func (t *Transformer) handleFlat(e flatEvent, ts json.RawMessage) *model.Message {
	switch e.kind {
	case FlatThreadStarted:
		return t.infoMessage(model.SubtypeInit, map[string]any{"threadId": e.threadID}, ts)
	case FlatTurnStarted:
		return t.infoMessage(model.SubtypeTaskStarted, map[string]any{}, ts)
	case FlatTurnCompleted:
		info := map[string]any{}
		msg := t.systemMessage(model.SubtypeTaskComplete, ts)
		if t.opts.ShowTokenUsage {
			if usage := decodeMap(e.usage); usage != nil {
				info["usage"] = usage
				msg.SetMeta(model.MetaTokens, usage)
			}
		}
		msg.Append(model.SystemInfoSegment(info))
		return msg
	case FlatTurnFailed:
		return t.errorMessage(model.SubtypeError, e.message, "", ts)
	}
	return t.errorMessage(model.SubtypeError, e.message, "", ts)
}

// handleResponse handles rollout response_item records.
func (t *Transformer) handleResponse(e responseEvent, payload json.RawMessage, ts json.RawMessage) *model.Message {
	it := e.item
	switch it.Type {
	case ResponseItemTypeMessage:
		return t.rolloutMessage(it, ts)
	case ResponseItemTypeReasoning:
		parts := make([]string, 0, len(it.Summary))
		for _, s := range it.Summary {
			if strings.TrimSpace(s.Text) != "" {
				parts = append(parts, s.Text)
			}
		}
		return t.thinkingMessage("", strings.Join(parts, "\n\n"), ts)
	case ResponseItemTypeFunctionCall:
		name, input := functionCall(it.Name, model.DecodeInput(it.Arguments))
		return t.beginCall(it.CallID, name, input, ts)
	case ResponseItemTypeCustomToolCall:
		input := model.DecodeInput(it.Input)
		if v, ok := input["value"]; ok && len(input) == 1 {
			input = map[string]any{"input": v}
		}
		return t.beginCall(it.CallID, it.Name, input, ts)
	case ResponseItemTypeFunctionCallOutput, ResponseItemTypeCustomToolCallOutput:
		return t.endCall(it.CallID, "", nil, functionOutput(it.Output), ts)
	case ResponseItemTypeLocalShellCall:
		input := map[string]any{}
		if it.Action != nil {
			input["command"] = commandString(it.Action.Command)
		}
		return t.beginCall(firstNonEmpty(it.CallID, it.ID), ToolShell, input, ts)
	case ResponseItemTypeWebSearchCall:
		query := ""
		if it.Action != nil {
			query = it.Action.Query
		}
		result := model.ToolResult{Content: query, IsError: it.Status == "failed"}
		return t.endCall(firstNonEmpty(it.CallID, it.ID), ToolWebSearch, queryInput(query), result, ts)
	}
	t.log.Debug("unrecognized response item", "index", t.index, "type", it.Type)
	return t.run.Fallback(payload, ts)
}

// Prefixes of context blocks injected into rollout user messages.
var injectedContext = []string{
	"<environment_context>",
	"<user_instructions>",
	"# AGENTS.md instructions",
}

func (t *Transformer) rolloutMessage(it responseItem, ts json.RawMessage) *model.Message {
	parts := make([]string, 0, len(it.Content))
	for _, c := range it.Content {
		text := strings.TrimSpace(c.Text)
		if text == "" || isInjected(text) {
			continue
		}
		parts = append(parts, c.Text)
	}
	text := strings.Join(parts, "\n")

	switch it.Role {
	case PayloadRoleUser:
		return t.userMessage(text, ts)
	case PayloadRoleAssistant:
		return t.textMessage(model.RoleAssistant, "", text, ts)
	}
	// developer and system messages carry instructions, not conversation.
	return nil
}

func isInjected(text string) bool {
	for _, prefix := range injectedContext {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// handleMeta handles rollout session_meta, turn_context and compacted records.
func (t *Transformer) handleMeta(e metaEvent, ts json.RawMessage) *model.Message {
	switch e.kind {
	case EntryTypeSessionMeta:
		info := map[string]any{
			"sessionId":  e.meta.ID,
			"cwd":        e.meta.CWD,
			"originator": e.meta.Originator,
			"cliVersion": e.meta.CLIVersion,
		}
		if git := decodeMap(e.meta.Git); git != nil {
			info["git"] = git
		}
		return t.infoMessage(model.SubtypeInit, info, ts)
	case EntryTypeTurnContext:
		info := map[string]any{
			"cwd":            e.context.CWD,
			"approvalPolicy": e.context.ApprovalPolicy,
			"model":          e.context.Model,
			"effort":         e.context.Effort,
		}
		if sandbox := decodeAny(e.context.SandboxPolicy); sandbox != nil {
			info["sandboxPolicy"] = sandbox
		}
		msg := t.infoMessage(model.SubtypeSessionRuntime, info, ts)
		msg.SetMeta(model.MetaModel, e.context.Model)
		return msg
	}
	return t.infoMessage(model.SubtypeContextCompacted, map[string]any{"message": e.message}, ts)
}

// handleRunner handles records written by the session runner.
func (t *Transformer) handleRunner(e runnerEvent, ts json.RawMessage) *model.Message {
	rec := e.rec
	switch rec.Type {
	case EntryTypeSessionInfo:
		t.prompt.Capture(firstNonEmpty(rec.InitialPrompt, rec.Prompt))
		info := decodeMap(e.payload)
		delete(info, "type")
		delete(info, "timestamp")
		msg := t.infoMessage(model.SubtypeSessionInfo, info, ts)
		msg.SetMeta(model.MetaModel, rec.Model)
		return msg
	case EntryTypeGitOperation:
		msg := t.systemMessage(model.SubtypeGitOperation, ts)
		msg.Append(model.TextSegment(rec.Message))
		return msg
	case EntryTypeGitError:
		return t.errorMessage(model.SubtypeGitError, firstNonEmpty(rec.Message, rec.Error), detailsText(rec.Details), ts)
	}
	return t.infoMessage(model.SubtypeSessionStatus, map[string]any{
		"status":  rec.Status,
		"message": rec.Message,
	}, ts)
}

func (t *Transformer) tokenUsage(info map[string]any, ts json.RawMessage) *model.Message {
	if !t.opts.ShowTokenUsage || info == nil {
		return nil
	}
	msg := t.infoMessage(model.SubtypeTokenUsage, info, ts)
	msg.SetMeta(model.MetaTokens, info)
	return msg
}

func planText(explanation string, steps []planStep) string {
	var b strings.Builder
	if strings.TrimSpace(explanation) != "" {
		b.WriteString(strings.TrimSpace(explanation))
		b.WriteString("\n\n")
	}
	for _, s := range steps {
		mark := " "
		switch s.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = "~"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, s.Step)
	}
	return strings.TrimRight(b.String(), "\n")
}

func tokenInfo(m eventMsg) map[string]any {
	if info := decodeMap(m.Info); info != nil {
		return info
	}
	if m.InputTokens == nil && m.OutputTokens == nil {
		return nil
	}
	info := map[string]any{}
	if m.InputTokens != nil {
		info["inputTokens"] = *m.InputTokens
	}
	if m.OutputTokens != nil {
		info["outputTokens"] = *m.OutputTokens
	}
	return info
}
