package correlate

import (
	"encoding/json"
	"time"

	"github.com/stravu/crystal-sub000/internal/model"
)

// Run bundles the per-transform state a transformer owns: the correlation
// table, message numbering and the clock for undated events.
type Run struct {
	Table *Table
	IDs   IDs
	Now   func() time.Time
}

// NewRun returns an empty run.
func NewRun(now func() time.Time) *Run {
	if now == nil {
		now = time.Now
	}
	return &Run{Table: New(), Now: now}
}

// Reset clears correlation state and numbering.
func (r *Run) Reset() {
	r.Table.Reset()
	r.IDs.Reset()
}

// Message starts a message with a run-unique id and a normalized timestamp.
func (r *Run) Message(role model.Role, rawID string, timestamp json.RawMessage) *model.Message {
	return model.NewMessage(r.IDs.Next(rawID), role, r.Timestamp(timestamp))
}

// Timestamp normalizes a raw timestamp against the run clock.
func (r *Run) Timestamp(raw json.RawMessage) string {
	return model.NormalizeTimestamp(raw, r.Now)
}

// Fallback builds a raw fallback message for an unrecognized payload.
func (r *Run) Fallback(payload []byte, timestamp json.RawMessage) *model.Message {
	return model.RawFallback(r.IDs.Next(""), payload, r.Timestamp(timestamp))
}

// Fill replaces tool_call placeholders in msg with the current state of each
// call, nested calls included.
func (r *Run) Fill(msg *model.Message) {
	if msg == nil {
		return
	}
	for i, seg := range msg.Segments {
		if seg.Type != model.SegmentToolCall || seg.Tool == nil {
			continue
		}
		if call, ok := r.Table.Get(seg.Tool.ID); ok {
			msg.Segments[i].Tool = &call
		}
	}
}

// Placeholder returns a tool_call segment resolved later by Fill or Resolve.
func Placeholder(id string) model.Segment {
	return model.ToolCallSegment(&model.ToolCall{ID: id})
}

// FirstTimestamp returns the first non-empty raw timestamp.
func FirstTimestamp(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 && string(c) != "null" {
			return c
		}
	}
	return nil
}
