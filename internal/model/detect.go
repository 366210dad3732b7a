package model

import (
	"encoding/json"
	"strings"
)

type recordShape struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
	Msg     json.RawMessage `json:"msg"`
	Payload json.RawMessage `json:"payload"`
	Subtype string          `json:"subtype"`
}

// DetectAgent sniffs which agent produced the events. It reports false when
// no record is decisive.
func DetectAgent(events []RawEvent) (AgentType, bool) {
	for _, ev := range events {
		if ev.Type == EventStdout || ev.Type == EventStderr {
			continue
		}
		payload, err := ev.Payload()
		if err != nil {
			continue
		}
		if agent, ok := detectRecord(payload); ok {
			return agent, true
		}
	}
	return "", false
}

func detectRecord(payload json.RawMessage) (AgentType, bool) {
	var p recordShape
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", false
	}
	if len(p.Msg) > 0 {
		return AgentCodex, true
	}
	switch {
	case strings.HasPrefix(p.Type, "item."),
		strings.HasPrefix(p.Type, "thread."),
		strings.HasPrefix(p.Type, "turn."):
		return AgentCodex, true
	}
	switch p.Type {
	case "session_meta", "response_item", "event_msg", "turn_context":
		return AgentCodex, true
	case "user", "assistant":
		if len(p.Message) > 0 {
			return AgentClaude, true
		}
	case "system":
		if p.Subtype != "" {
			return AgentClaude, true
		}
	case "result", "stream_event", "summary":
		return AgentClaude, true
	}
	return "", false
}
