package codex

import (
	"encoding/json"
	"strings"
)

// event is one decoded Codex record. Exactly one variant applies; records
// that match no known shape decode to unknownEvent.
type event interface {
	timestamp() json.RawMessage
}

type header struct {
	ts json.RawMessage
}

func (h header) timestamp() json.RawMessage { return h.ts }

// msgEvent is a nested {id, msg} event or a rollout event_msg. Rollout
// mirrors duplicate response items and are dropped by the transformer.
type msgEvent struct {
	header
	id     string
	msg    eventMsg
	mirror bool
}

// flatEvent is a thread/turn/error event of the flat stream.
type flatEvent struct {
	header
	kind     string
	threadID string
	usage    json.RawMessage
	message  string
}

// itemEvent is an item.started/updated/completed event.
type itemEvent struct {
	header
	phase string
	item  flatItem
}

// responseEvent is a rollout response_item.
type responseEvent struct {
	header
	item responseItem
}

// metaEvent is a rollout session_meta, turn_context or compacted record.
type metaEvent struct {
	header
	kind    EntryType
	meta    sessionMeta
	context turnContext
	message string
}

// runnerEvent is a record written by the session runner.
type runnerEvent struct {
	header
	rec     runnerRecord
	payload json.RawMessage
}

// unknownEvent carries any record that matched no known shape.
type unknownEvent struct {
	header
	raw json.RawMessage
}

type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Msg       json.RawMessage `json:"msg"`
	Payload   json.RawMessage `json:"payload"`
	Item      json.RawMessage `json:"item"`
	ThreadID  string          `json:"thread_id"`
	Usage     json.RawMessage `json:"usage"`
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
}

// decode classifies one record. It never fails: anything unexpected becomes
// an unknownEvent carrying the record.
func decode(raw json.RawMessage) event {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return unknownEvent{raw: raw}
	}
	h := header{ts: env.Timestamp}
	unknown := unknownEvent{header: h, raw: raw}

	if len(env.Msg) > 0 && env.Type == "" {
		var msg eventMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil || msg.Type == "" {
			return unknown
		}
		return msgEvent{header: h, id: env.ID, msg: msg}
	}

	switch EntryType(env.Type) {
	case EntryTypeEventMsg:
		var msg eventMsg
		if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.Type == "" {
			return unknown
		}
		return msgEvent{header: h, msg: msg, mirror: isMirror(msg.Type)}
	case EntryTypeResponseItem:
		var item responseItem
		if err := json.Unmarshal(env.Payload, &item); err != nil || item.Type == "" {
			return unknown
		}
		return responseEvent{header: h, item: item}
	case EntryTypeSessionMeta:
		var meta sessionMeta
		if err := json.Unmarshal(env.Payload, &meta); err != nil {
			return unknown
		}
		return metaEvent{header: h, kind: EntryTypeSessionMeta, meta: meta}
	case EntryTypeTurnContext:
		var tc turnContext
		if err := json.Unmarshal(env.Payload, &tc); err != nil {
			return unknown
		}
		return metaEvent{header: h, kind: EntryTypeTurnContext, context: tc}
	case EntryTypeCompacted:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(env.Payload, &body)
		return metaEvent{header: h, kind: EntryTypeCompacted, message: body.Message}
	case EntryTypeSessionInfo, EntryTypeGitOperation, EntryTypeGitError, EntryTypeSessionStatus:
		var rec runnerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return unknown
		}
		return runnerEvent{header: h, rec: rec, payload: raw}
	}

	switch env.Type {
	case FlatItemStarted, FlatItemUpdated, FlatItemCompleted:
		var item flatItem
		if err := json.Unmarshal(env.Item, &item); err != nil || item.Type == "" {
			return unknown
		}
		return itemEvent{header: h, phase: env.Type, item: item}
	case FlatThreadStarted, FlatTurnStarted, FlatTurnCompleted, FlatTurnFailed, FlatError:
		message := env.Message
		if message == "" {
			message = errorText(env.Error)
		}
		return flatEvent{header: h, kind: env.Type, threadID: env.ThreadID, usage: env.Usage, message: message}
	}
	return unknown
}

func isMirror(t EventMsgType) bool {
	switch t {
	case EventMsgTypeUserMessage,
		EventMsgTypeAgentMessage,
		EventMsgTypeAgentReasoning,
		EventMsgTypeReasoningRawContent:
		return true
	}
	s := string(t)
	return strings.HasPrefix(s, "exec_command_") ||
		strings.HasPrefix(s, "patch_apply_") ||
		strings.HasPrefix(s, "mcp_tool_call_") ||
		strings.HasPrefix(s, "web_search_")
}

// errorText reads an error that is either a string or {message}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}
