// Package codex transforms Codex CLI output into unified transcript
// messages. It accepts the nested protocol stream, the flat exec --json
// stream and rollout session files, in any mix.
package codex

import "encoding/json"

// EntryType represents the top-level "type" field values of rollout files.
type EntryType string

const (
	EntryTypeSessionMeta  EntryType = "session_meta"
	EntryTypeResponseItem EntryType = "response_item"
	EntryTypeEventMsg     EntryType = "event_msg"
	EntryTypeTurnContext  EntryType = "turn_context"
	EntryTypeCompacted    EntryType = "compacted"

	// Records written by the session runner.
	EntryTypeSessionInfo   EntryType = "session_info"
	EntryTypeGitOperation  EntryType = "git_operation"
	EntryTypeGitError      EntryType = "git_error"
	EntryTypeSessionStatus EntryType = "session_status"
)

// ResponseItemType captures the "payload.type" values in response_item entries.
type ResponseItemType string

const (
	ResponseItemTypeMessage              ResponseItemType = "message"
	ResponseItemTypeReasoning            ResponseItemType = "reasoning"
	ResponseItemTypeFunctionCall         ResponseItemType = "function_call"
	ResponseItemTypeFunctionCallOutput   ResponseItemType = "function_call_output"
	ResponseItemTypeCustomToolCall       ResponseItemType = "custom_tool_call"
	ResponseItemTypeCustomToolCallOutput ResponseItemType = "custom_tool_call_output"
	ResponseItemTypeLocalShellCall       ResponseItemType = "local_shell_call"
	ResponseItemTypeWebSearchCall        ResponseItemType = "web_search_call"
)

// EventMsgType captures the "msg.type" values of the nested protocol. Rollout
// event_msg payloads use the same vocabulary.
type EventMsgType string

const (
	EventMsgTypeSessionConfigured     EventMsgType = "session_configured"
	EventMsgTypeTaskStarted           EventMsgType = "task_started"
	EventMsgTypeTaskComplete          EventMsgType = "task_complete"
	EventMsgTypeAgentMessage          EventMsgType = "agent_message"
	EventMsgTypeAgentMessageDelta     EventMsgType = "agent_message_delta"
	EventMsgTypeAgentReasoning        EventMsgType = "agent_reasoning"
	EventMsgTypeAgentReasoningDelta   EventMsgType = "agent_reasoning_delta"
	EventMsgTypeReasoningRawContent   EventMsgType = "agent_reasoning_raw_content"
	EventMsgTypeReasoningRawDelta     EventMsgType = "agent_reasoning_raw_content_delta"
	EventMsgTypeReasoningSectionBreak EventMsgType = "agent_reasoning_section_break"
	EventMsgTypeExecCommandBegin      EventMsgType = "exec_command_begin"
	EventMsgTypeExecCommandOutput     EventMsgType = "exec_command_output_delta"
	EventMsgTypeExecCommandEnd        EventMsgType = "exec_command_end"
	EventMsgTypePatchApplyBegin       EventMsgType = "patch_apply_begin"
	EventMsgTypePatchApplyEnd         EventMsgType = "patch_apply_end"
	EventMsgTypeMCPToolCallBegin      EventMsgType = "mcp_tool_call_begin"
	EventMsgTypeMCPToolCallEnd        EventMsgType = "mcp_tool_call_end"
	EventMsgTypeWebSearchBegin        EventMsgType = "web_search_begin"
	EventMsgTypeWebSearchEnd          EventMsgType = "web_search_end"
	EventMsgTypeTurnDiff              EventMsgType = "turn_diff"
	EventMsgTypePlanUpdate            EventMsgType = "plan_update"
	EventMsgTypeTokenCount            EventMsgType = "token_count"
	EventMsgTypeError                 EventMsgType = "error"
	EventMsgTypeStreamError           EventMsgType = "stream_error"
	EventMsgTypeUserMessage           EventMsgType = "user_message"
	EventMsgTypeTurnAborted           EventMsgType = "turn_aborted"
	EventMsgTypeBackgroundEvent       EventMsgType = "background_event"
)

// Flat exec --json event types.
const (
	FlatThreadStarted = "thread.started"
	FlatTurnStarted   = "turn.started"
	FlatTurnCompleted = "turn.completed"
	FlatTurnFailed    = "turn.failed"
	FlatItemStarted   = "item.started"
	FlatItemUpdated   = "item.updated"
	FlatItemCompleted = "item.completed"
	FlatError         = "error"
)

// ItemType captures the "item.type" values of flat events.
type ItemType string

const (
	ItemTypeAgentMessage     ItemType = "agent_message"
	ItemTypeReasoning        ItemType = "reasoning"
	ItemTypeCommandExecution ItemType = "command_execution"
	ItemTypeFileChange       ItemType = "file_change"
	ItemTypeMCPToolCall      ItemType = "mcp_tool_call"
	ItemTypeWebSearch        ItemType = "web_search"
	ItemTypeTodoList         ItemType = "todo_list"
	ItemTypeError            ItemType = "error"
)

// PayloadRole captures the "payload.role" values observed in response items.
type PayloadRole string

const (
	PayloadRoleUser      PayloadRole = "user"
	PayloadRoleAssistant PayloadRole = "assistant"
	PayloadRoleDeveloper PayloadRole = "developer"
	PayloadRoleSystem    PayloadRole = "system"
)

// Tool names shown for built-in Codex actions.
const (
	ToolShell     = "Bash"
	ToolPatch     = "apply_patch"
	ToolWebSearch = "WebSearch"
)

// eventMsg is the union of fields carried by nested msg payloads.
type eventMsg struct {
	Type EventMsgType `json:"type"`

	Message string `json:"message"`
	Text    string `json:"text"`
	Delta   string `json:"delta"`

	// session_configured
	SessionID       string `json:"session_id"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort"`
	RolloutPath     string `json:"rollout_path"`

	// task_started / task_complete
	ModelContextWindow int    `json:"model_context_window"`
	LastAgentMessage   string `json:"last_agent_message"`
	TurnID             string `json:"turn_id"`

	// tool lifecycle
	CallID           string          `json:"call_id"`
	Command          json.RawMessage `json:"command"`
	CWD              string          `json:"cwd"`
	Stdout           string          `json:"stdout"`
	Stderr           string          `json:"stderr"`
	AggregatedOutput string          `json:"aggregated_output"`
	FormattedOutput  string          `json:"formatted_output"`
	ExitCode         *int            `json:"exit_code"`
	Duration         json.RawMessage `json:"duration"`
	Success          *bool           `json:"success"`
	AutoApproved     bool            `json:"auto_approved"`
	Changes          json.RawMessage `json:"changes"`
	Invocation       *mcpInvocation  `json:"invocation"`
	Result           json.RawMessage `json:"result"`
	Query            string          `json:"query"`

	// turn_diff / plan_update
	UnifiedDiff string     `json:"unified_diff"`
	Explanation string     `json:"explanation"`
	Plan        []planStep `json:"plan"`

	// token_count
	Info         json.RawMessage `json:"info"`
	InputTokens  *int            `json:"input_tokens"`
	OutputTokens *int            `json:"output_tokens"`

	// turn_aborted
	Reason string `json:"reason"`
}

type mcpInvocation struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type planStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// flatItem is the union of item payloads in flat events.
type flatItem struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	Text   string   `json:"text"`
	Status string   `json:"status"`

	// command_execution
	Command          json.RawMessage `json:"command"`
	AggregatedOutput string          `json:"aggregated_output"`
	ExitCode         *int            `json:"exit_code"`

	// file_change
	Changes []struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"changes"`

	// mcp_tool_call
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
	Error     json.RawMessage `json:"error"`

	// web_search
	Query string `json:"query"`

	// todo_list
	Items []struct {
		Text      string `json:"text"`
		Completed bool   `json:"completed"`
	} `json:"items"`

	// error
	Message string `json:"message"`
}

// responseItem is the union of rollout response_item payloads.
type responseItem struct {
	Type ResponseItemType `json:"type"`

	// message
	Role    PayloadRole `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`

	// reasoning
	Summary []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"summary"`

	// calls
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Input     json.RawMessage `json:"input"`
	CallID    string          `json:"call_id"`
	ID        string          `json:"id"`
	Output    json.RawMessage `json:"output"`
	Status    string          `json:"status"`
	Action    *struct {
		Type    string          `json:"type"`
		Command json.RawMessage `json:"command"`
		Query   string          `json:"query"`
	} `json:"action"`
}

type sessionMeta struct {
	ID         string          `json:"id"`
	CWD        string          `json:"cwd"`
	Originator string          `json:"originator"`
	CLIVersion string          `json:"cli_version"`
	Git        json.RawMessage `json:"git"`
}

type turnContext struct {
	CWD            string          `json:"cwd"`
	ApprovalPolicy string          `json:"approval_policy"`
	SandboxPolicy  json.RawMessage `json:"sandbox_policy"`
	Model          string          `json:"model"`
	Effort         string          `json:"effort"`
}

// runnerRecord is a record written by the session runner.
type runnerRecord struct {
	Type          EntryType       `json:"type"`
	InitialPrompt string          `json:"initial_prompt"`
	Prompt        string          `json:"prompt"`
	Model         string          `json:"model"`
	Message       string          `json:"message"`
	Status        string          `json:"status"`
	Details       json.RawMessage `json:"details"`
	Error         string          `json:"error"`
}
