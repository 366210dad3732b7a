// Package correlate pairs tool invocations with their results and threads
// sub-agent calls into a tree.
package correlate

import (
	"fmt"
	"maps"

	"github.com/stravu/crystal-sub000/internal/model"
)

// UnknownTool names calls synthesized for results that matched nothing.
const UnknownTool = "unknown"

const noParent = -1

type node struct {
	call     model.ToolCall
	parent   int
	children []int
	// synthetic marks a record created for a result that matched no call.
	synthetic bool
	// adopted marks a synthetic record later claimed by its invocation.
	adopted bool
}

// Table is the per-run correlation state of one transformer. Nodes live in an
// arena and refer to each other by index only.
type Table struct {
	nodes   []*node
	index   map[string]int
	counter int
}

// New returns an empty table.
func New() *Table {
	return &Table{index: map[string]int{}}
}

// Reset discards every record.
func (t *Table) Reset() {
	t.nodes = nil
	t.index = map[string]int{}
	t.counter = 0
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.nodes)
}

// Has reports whether id is known.
func (t *Table) Has(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Known reports whether id was registered by an invocation. Records
// synthesized for early results do not count.
func (t *Table) Known(id string) bool {
	idx, ok := t.index[id]
	return ok && !t.nodes[idx].synthetic
}

// Register records a tool invocation and returns its id. A known id is reset
// to pending in place; an empty id is synthesized. A record synthesized for a
// result that arrived first is completed with name and input and keeps its
// result.
func (t *Table) Register(id, name string, input map[string]any) string {
	if input == nil {
		input = map[string]any{}
	}
	if id != "" {
		if idx, ok := t.index[id]; ok {
			n := t.nodes[idx]
			n.call.Name = name
			n.call.Input = input
			if n.synthetic {
				n.synthetic = false
				n.adopted = true
				return id
			}
			n.call.Status = model.ToolPending
			n.call.Result = nil
			return id
		}
	} else {
		id = t.nextID()
	}
	t.add(id, name, input)
	return id
}

// UpdateInput merges additional arguments into a known call.
func (t *Table) UpdateInput(id string, input map[string]any) {
	idx, ok := t.index[id]
	if !ok || len(input) == 0 {
		return
	}
	n := t.nodes[idx]
	merged := make(map[string]any, len(n.call.Input)+len(input))
	maps.Copy(merged, n.call.Input)
	maps.Copy(merged, input)
	n.call.Input = merged
}

// MarkSubAgent flags a call as spawning a nested agent.
func (t *Table) MarkSubAgent(id, subAgentType string) {
	if idx, ok := t.index[id]; ok {
		t.nodes[idx].call.IsSubAgent = true
		t.nodes[idx].call.SubAgentType = subAgentType
	}
}

// SetParent links a call under an already registered parent. Links that
// would make a call its own ancestor are refused.
func (t *Table) SetParent(id, parentID string) bool {
	idx, ok := t.index[id]
	if !ok {
		return false
	}
	pidx, ok := t.index[parentID]
	if !ok || pidx == idx {
		return false
	}
	for cur := pidx; cur != noParent; cur = t.nodes[cur].parent {
		if cur == idx {
			return false
		}
	}
	n := t.nodes[idx]
	if n.parent == pidx {
		return true
	}
	if n.parent != noParent {
		t.detach(idx)
	}
	n.parent = pidx
	n.call.ParentToolID = parentID
	t.nodes[pidx].children = append(t.nodes[pidx].children, idx)
	return true
}

func (t *Table) detach(idx int) {
	old := t.nodes[t.nodes[idx].parent]
	for i, c := range old.children {
		if c == idx {
			old.children = append(old.children[:i], old.children[i+1:]...)
			break
		}
	}
}

// ApplyResult settles the call matching id and returns the id it settled.
// Without an id the most recently registered pending call is used. When
// nothing matches a settled "unknown" call is synthesized and synthesized is
// true.
//
// The id-less fallback is ambiguous when calls interleave: it always picks
// the newest pending call, whichever call the result belonged to.
func (t *Table) ApplyResult(id string, result model.ToolResult) (resolved string, synthesized bool) {
	idx := noParent
	if id != "" {
		if i, ok := t.index[id]; ok {
			idx = i
		}
	} else {
		idx = t.lastPending()
	}
	if idx == noParent {
		if id == "" {
			id = t.nextID()
		}
		idx = t.add(id, UnknownTool, map[string]any{})
		t.nodes[idx].synthetic = true
		synthesized = true
	}

	n := t.nodes[idx]
	res := result
	if result.Metadata != nil {
		res.Metadata = maps.Clone(result.Metadata)
	}
	n.call.Result = &res
	if result.IsError {
		n.call.Status = model.ToolError
	} else {
		n.call.Status = model.ToolSuccess
	}
	return n.call.ID, synthesized
}

// Get returns a snapshot of the call with its nested children.
func (t *Table) Get(id string) (model.ToolCall, bool) {
	idx, ok := t.index[id]
	if !ok {
		return model.ToolCall{}, false
	}
	return t.snapshot(idx), true
}

// IsNested reports whether id has a parent call.
func (t *Table) IsNested(id string) bool {
	idx, ok := t.index[id]
	return ok && t.nodes[idx].parent != noParent
}

// Calls returns snapshots of every top-level call in registration order.
func (t *Table) Calls() []model.ToolCall {
	out := make([]model.ToolCall, 0, len(t.nodes))
	for idx, n := range t.nodes {
		if n.parent == noParent {
			out = append(out, t.snapshot(idx))
		}
	}
	return out
}

// Resolve replaces every tool_call segment with the final state of its call.
// Nested calls are removed from the top level, as are early tool_result
// segments whose call turned up later. Messages left without segments are
// dropped.
func (t *Table) Resolve(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		removed := false
		segments := make([]model.Segment, 0, len(msg.Segments))
		for _, seg := range msg.Segments {
			if seg.Type == model.SegmentToolResult {
				if idx, ok := t.index[seg.ToolCallID]; ok && t.nodes[idx].adopted {
					removed = true
					continue
				}
			}
			if seg.Type == model.SegmentToolCall && seg.Tool != nil {
				idx, ok := t.index[seg.Tool.ID]
				if ok {
					if t.nodes[idx].parent != noParent {
						removed = true
						continue
					}
					call := t.snapshot(idx)
					seg.Tool = &call
				}
			}
			segments = append(segments, seg)
		}
		if removed && len(segments) == 0 {
			continue
		}
		msg.Segments = segments
		out = append(out, msg)
	}
	return out
}

func (t *Table) snapshot(idx int) model.ToolCall {
	n := t.nodes[idx]
	call := n.call
	if n.call.Result != nil {
		res := *n.call.Result
		call.Result = &res
	}
	call.ChildToolCalls = nil
	if len(n.children) > 0 {
		call.ChildToolCalls = make([]model.ToolCall, 0, len(n.children))
		for _, c := range n.children {
			call.ChildToolCalls = append(call.ChildToolCalls, t.snapshot(c))
		}
	}
	return call
}

func (t *Table) add(id, name string, input map[string]any) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, &node{
		call: model.ToolCall{
			ID:     id,
			Name:   name,
			Input:  input,
			Status: model.ToolPending,
		},
		parent: noParent,
	})
	t.index[id] = idx
	return idx
}

func (t *Table) lastPending() int {
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if t.nodes[i].call.Status == model.ToolPending {
			return i
		}
	}
	return noParent
}

func (t *Table) nextID() string {
	for {
		t.counter++
		id := fmt.Sprintf("tool-%d", t.counter)
		if _, taken := t.index[id]; !taken {
			return id
		}
	}
}
