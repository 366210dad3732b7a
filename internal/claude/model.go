// Package claude transforms Claude Code stream-json output and conversation
// history into unified transcript messages.
package claude

import (
	"encoding/json"
	"strings"
)

// EntryType represents the top-level "type" field values of Claude records.
type EntryType string

const (
	EntryTypeUser        EntryType = "user"
	EntryTypeAssistant   EntryType = "assistant"
	EntryTypeSystem      EntryType = "system"
	EntryTypeResult      EntryType = "result"
	EntryTypeSummary     EntryType = "summary"
	EntryTypeStreamEvent EntryType = "stream_event"
	EntryTypeError       EntryType = "error"

	// Records written by the session runner.
	EntryTypeSessionInfo   EntryType = "session_info"
	EntryTypeGitOperation  EntryType = "git_operation"
	EntryTypeGitError      EntryType = "git_error"
	EntryTypeSessionStatus EntryType = "session_status"
)

// System record subtypes.
const (
	SubtypeInit            = "init"
	SubtypeCompactBoundary = "compact_boundary"
)

// ContentBlockType represents the "type" field in content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText             ContentBlockType = "text"
	ContentBlockTypeThinking         ContentBlockType = "thinking"
	ContentBlockTypeRedactedThinking ContentBlockType = "redacted_thinking"
	ContentBlockTypeToolUse          ContentBlockType = "tool_use"
	ContentBlockTypeToolResult       ContentBlockType = "tool_result"
	ContentBlockTypeImage            ContentBlockType = "image"
)

// Tools that run a nested agent.
var subAgentTools = map[string]bool{
	"Task":  true,
	"Agent": true,
}

type rawEntry struct {
	Type            EntryType       `json:"type"`
	Subtype         string          `json:"subtype"`
	UUID            string          `json:"uuid"`
	SessionID       string          `json:"session_id"`
	SessionIDAlt    string          `json:"sessionId"`
	CWD             string          `json:"cwd"`
	Version         string          `json:"version"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Message         json.RawMessage `json:"message"`
	ParentToolUseID string          `json:"parent_tool_use_id"`
	IsMeta          bool            `json:"isMeta"`
	Summary         string          `json:"summary"`

	// system init
	Model             string            `json:"model"`
	Tools             []string          `json:"tools"`
	MCPServers        []json.RawMessage `json:"mcp_servers"`
	PermissionMode    string            `json:"permissionMode"`
	ClaudeCodeVersion string            `json:"claude_code_version"`
	CompactMetadata   *struct {
		Trigger   string `json:"trigger"`
		PreTokens int    `json:"pre_tokens"`
	} `json:"compact_metadata"`

	// result
	IsError       bool            `json:"is_error"`
	DurationMs    float64         `json:"duration_ms"`
	DurationAPIMs float64         `json:"duration_api_ms"`
	NumTurns      int             `json:"num_turns"`
	Result        string          `json:"result"`
	TotalCostUSD  float64         `json:"total_cost_usd"`
	Usage         *tokenUsage     `json:"usage"`
	Errors        []string        `json:"errors"`
	Error         json.RawMessage `json:"error"`

	// session runner records
	InitialPrompt string          `json:"initial_prompt"`
	Prompt        string          `json:"prompt"`
	Status        string          `json:"status"`
	Details       json.RawMessage `json:"details"`
}

func (e rawEntry) sessionID() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.SessionIDAlt
}

type messagePayload struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *tokenUsage     `json:"usage"`
}

type tokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

func (u *tokenUsage) info() map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"inputTokens":         u.InputTokens,
		"outputTokens":        u.OutputTokens,
		"cacheCreationTokens": u.CacheCreationInputTokens,
		"cacheReadTokens":     u.CacheReadInputTokens,
	}
}

type contentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text"`
	Thinking  string           `json:"thinking"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Input     json.RawMessage  `json:"input"`
	ToolUseID string           `json:"tool_use_id"`
	Content   json.RawMessage  `json:"content"`
	IsError   bool             `json:"is_error"`
	Source    *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
	} `json:"source"`
}

// decodeContent accepts either a plain string or an array of blocks.
func decodeContent(raw json.RawMessage) ([]contentBlock, bool) {
	if len(raw) == 0 {
		return nil, true
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []contentBlock{{Type: ContentBlockTypeText, Text: asString}}, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// stringOrMessage extracts text from a field that is either a string or an
// object with a "message" field.
func stringOrMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return ""
}

func detailsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
