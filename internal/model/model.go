package model

// Role identifies who produced a message. It is fixed when the message is built.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SegmentType discriminates the content carried by a Segment.
type SegmentType string

const (
	SegmentText       SegmentType = "text"
	SegmentThinking   SegmentType = "thinking"
	SegmentToolCall   SegmentType = "tool_call"
	SegmentToolResult SegmentType = "tool_result"
	SegmentSystemInfo SegmentType = "system_info"
	SegmentDiff       SegmentType = "diff"
	SegmentError      SegmentType = "error"
)

// SystemSubtype classifies system messages. It is stored under
// Metadata[MetaSystemSubtype].
type SystemSubtype string

const (
	SubtypeSessionInfo        SystemSubtype = "session_info"
	SubtypeSessionRuntime     SystemSubtype = "session_runtime"
	SubtypeError              SystemSubtype = "error"
	SubtypeStreamError        SystemSubtype = "stream_error"
	SubtypeContextCompacted   SystemSubtype = "context_compacted"
	SubtypeSlashCommandResult SystemSubtype = "slash_command_result"
	SubtypeGitOperation       SystemSubtype = "git_operation"
	SubtypeGitError           SystemSubtype = "git_error"
	SubtypeTokenUsage         SystemSubtype = "token_usage"
	SubtypeTaskStarted        SystemSubtype = "task_started"
	SubtypeTaskComplete       SystemSubtype = "task_complete"
	SubtypeSessionStatus      SystemSubtype = "session_status"
	SubtypeInit               SystemSubtype = "init"
)

// Well-known metadata keys.
const (
	MetaSystemSubtype = "systemSubtype"
	MetaRaw           = "raw"
	MetaAgent         = "agent"
	MetaModel         = "model"
	MetaDurationMs    = "duration"
	MetaCostUSD       = "cost"
	MetaTokens        = "tokens"
	MetaParentToolID  = "parentToolId"
	MetaSourceID      = "sourceId"
)

// Message is one rendering unit of a transcript.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Timestamp string         `json:"timestamp"`
	Segments  []Segment      `json:"segments"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage returns a message with an initialized metadata map.
func NewMessage(id string, role Role, timestamp string) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Timestamp: timestamp,
		Segments:  []Segment{},
		Metadata:  map[string]any{},
	}
}

// Append adds segments in emission order.
func (m *Message) Append(segments ...Segment) *Message {
	m.Segments = append(m.Segments, segments...)
	return m
}

// SetMeta stores a metadata value, skipping empty strings and nil values.
func (m *Message) SetMeta(key string, value any) *Message {
	if value == nil {
		return m
	}
	if s, ok := value.(string); ok && s == "" {
		return m
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[key] = value
	return m
}

// Subtype returns the system subtype recorded in metadata, if any.
func (m *Message) Subtype() SystemSubtype {
	if m == nil || m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[MetaSystemSubtype].(type) {
	case SystemSubtype:
		return v
	case string:
		return SystemSubtype(v)
	}
	return ""
}

// IsRaw reports whether the message is a raw fallback dump.
func (m *Message) IsRaw() bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	raw, _ := m.Metadata[MetaRaw].(bool)
	return raw
}

// Segment is one typed piece of message content. Exactly the fields that
// belong to Type are populated; use the constructors below.
type Segment struct {
	Type       SegmentType    `json:"type"`
	Content    string         `json:"content,omitempty"`
	Tool       *ToolCall      `json:"tool,omitempty"`
	Result     *ToolResult    `json:"result,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Info       map[string]any `json:"info,omitempty"`
	Diff       string         `json:"diff,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
}

// ErrorInfo is the payload of an error segment.
type ErrorInfo struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func TextSegment(content string) Segment {
	return Segment{Type: SegmentText, Content: content}
}

func ThinkingSegment(content string) Segment {
	return Segment{Type: SegmentThinking, Content: content}
}

func ToolCallSegment(tool *ToolCall) Segment {
	return Segment{Type: SegmentToolCall, Tool: tool}
}

func ToolResultSegment(toolCallID string, result *ToolResult) Segment {
	return Segment{Type: SegmentToolResult, ToolCallID: toolCallID, Result: result}
}

func SystemInfoSegment(info map[string]any) Segment {
	return Segment{Type: SegmentSystemInfo, Info: info}
}

func DiffSegment(diff string) Segment {
	return Segment{Type: SegmentDiff, Diff: diff}
}

func ErrorSegment(message, details string) Segment {
	return Segment{Type: SegmentError, Error: &ErrorInfo{Message: message, Details: details}}
}

// ToolStatus is the lifecycle state of a tool call. It only moves from
// pending to one of the settled states.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Settled reports whether the status is terminal.
func (s ToolStatus) Settled() bool {
	return s == ToolSuccess || s == ToolError
}

// ToolCall is a tool invocation and, once settled, its result.
type ToolCall struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Input          map[string]any `json:"input"`
	Status         ToolStatus     `json:"status" jsonschema:"enum=pending,enum=success,enum=error"`
	Result         *ToolResult    `json:"result,omitempty"`
	IsSubAgent     bool           `json:"isSubAgent,omitempty"`
	SubAgentType   string         `json:"subAgentType,omitempty"`
	ParentToolID   string         `json:"parentToolId,omitempty"`
	ChildToolCalls []ToolCall     `json:"childToolCalls,omitempty"`
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"isError"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
