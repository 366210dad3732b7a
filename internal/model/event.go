package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wrapper event types written by the session runner around agent output.
const (
	EventJSON   = "json"
	EventStdout = "stdout"
	EventStderr = "stderr"
)

// TimestampLayout is the normalized ISO-8601 form used for every message.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrMalformedPayload is returned when an event payload is not valid JSON.
var ErrMalformedPayload = errors.New("malformed payload")

// RawEvent is one record of an agent's output stream. Wrapper events carry
// the agent payload in Data; bare protocol records are kept whole in Record.
type RawEvent struct {
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Record    json.RawMessage `json:"-"`
}

type rawEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// UnmarshalJSON keeps the full record alongside the envelope fields.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.Type = env.Type
	e.Data = env.Data
	e.Timestamp = env.Timestamp
	e.Record = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original record when one is known.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	if len(e.Record) > 0 {
		return e.Record, nil
	}
	return json.Marshal(rawEnvelope{Type: e.Type, Data: e.Data, Timestamp: e.Timestamp})
}

// NewRecord builds an event from one encoded protocol record.
func NewRecord(record []byte) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(record, &ev); err != nil {
		return RawEvent{}, fmt.Errorf("decode record: %w", err)
	}
	return ev, nil
}

// NewWrapped builds a wrapper event. data may be a string, raw JSON bytes or
// any value encodable as JSON.
func NewWrapped(eventType string, data any, timestamp string) RawEvent {
	ev := RawEvent{Type: eventType}
	switch v := data.(type) {
	case json.RawMessage:
		ev.Data = v
	case []byte:
		ev.Data = v
	default:
		encoded, err := json.Marshal(v)
		if err == nil {
			ev.Data = encoded
		}
	}
	if timestamp != "" {
		ev.Timestamp, _ = json.Marshal(timestamp)
	}
	return ev
}

// IsWrapper reports whether the event is a json/stdout/stderr envelope.
func (e RawEvent) IsWrapper() bool {
	switch e.Type {
	case EventJSON, EventStdout, EventStderr:
		return true
	}
	return false
}

// Payload returns the protocol record carried by the event. Data holding a
// JSON string is decoded and re-parsed.
func (e RawEvent) Payload() (json.RawMessage, error) {
	if e.Type == EventJSON {
		return reparse(e.Data)
	}
	if len(e.Record) > 0 {
		return e.Record, nil
	}
	encoded, err := json.Marshal(rawEnvelope{Type: e.Type, Data: e.Data, Timestamp: e.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return encoded, nil
}

func reparse(data json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty data", ErrMalformedPayload)
	}
	if trimmed[0] != '"' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
		}
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	inner = strings.TrimSpace(inner)
	if inner == "" || !json.Valid([]byte(inner)) {
		return nil, fmt.Errorf("%w: data string is not json", ErrMalformedPayload)
	}
	return json.RawMessage(inner), nil
}

// Text returns the textual content of a stdout/stderr event.
func (e RawEvent) Text() string {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(e.Data)
}

// NormalizeTimestamp converts a raw timestamp to TimestampLayout in UTC.
// Strings are parsed as RFC3339, numbers as unix milliseconds (or seconds
// when too small to be milliseconds). Anything else falls back to now.
func NormalizeTimestamp(raw json.RawMessage, now func() time.Time) string {
	if t, ok := ParseTimestamp(raw); ok {
		return FormatTimestamp(t)
	}
	if now == nil {
		now = time.Now
	}
	return FormatTimestamp(now())
}

// FormatTimestamp renders t in the normalized layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp decodes a string or numeric timestamp.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, false
		}
		return ParseTimestampString(s)
	}
	n, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n < 1e11 {
		return time.UnixMilli(int64(n * 1000)), true
	}
	return time.UnixMilli(int64(n)), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestampString parses the textual timestamp forms seen in agent logs.
func ParseTimestampString(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RawFallback wraps an unrecognized payload in a system message so it stays
// visible in the transcript.
func RawFallback(id string, payload []byte, timestamp string) *Message {
	var buf bytes.Buffer
	content := string(payload)
	if err := json.Indent(&buf, bytes.TrimSpace(payload), "", "  "); err == nil {
		content = buf.String()
	}
	msg := NewMessage(id, RoleSystem, timestamp)
	msg.Append(TextSegment(content))
	msg.Metadata[MetaRaw] = true
	return msg
}

// Stringify renders a tool output value as text. Strings are returned as is,
// arrays of text blocks are joined and anything else is indented JSON.
func Stringify(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '[':
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &blocks); err == nil {
			parts := make([]string, 0, len(blocks))
			textOnly := true
			for _, b := range blocks {
				if b.Type != "text" && b.Type != "input_text" && b.Type != "output_text" {
					textOnly = false
					break
				}
				parts = append(parts, b.Text)
			}
			if textOnly && len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err == nil {
		return buf.String()
	}
	return string(trimmed)
}

// DecodeInput decodes a tool argument object. Arguments encoded as a JSON
// string are re-parsed; non-object values are kept under "value".
func DecodeInput(raw json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return map[string]any{}
			}
			var inner map[string]any
			if err := json.Unmarshal([]byte(s), &inner); err == nil && inner != nil {
				return inner
			}
			return map[string]any{"value": s}
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj != nil {
		return obj
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err == nil {
		return map[string]any{"value": value}
	}
	return map[string]any{"value": string(trimmed)}
}
