// Package model provides the unified transcript model shared by every agent
// transformer and every renderer.
package model

import (
	"log/slog"
	"time"
)

// Transformer converts the raw output of one agent CLI into unified messages.
//
// A Transformer owns per-run correlation state and must not be shared between
// sessions that transform concurrently. Transform resets that state on entry,
// so calling it twice with the same events yields the same messages.
type Transformer interface {
	// Transform converts an ordered event log into an ordered transcript.
	Transform(events []RawEvent) []Message

	// ParseMessage converts a single event. It returns nil for events that
	// carry nothing visible (deltas, debug noise, dropped telemetry).
	ParseMessage(event RawEvent) *Message

	SupportsStreaming() bool
	SupportsThinking() bool
	SupportsToolCalls() bool

	// AgentName is a display label.
	AgentName() string
}

// Options tune transformer behavior that is policy rather than protocol.
type Options struct {
	Logger *slog.Logger
	// Now supplies timestamps for events that carry none.
	Now func() time.Time
	// ShowTokenUsage surfaces token/telemetry events as token_usage messages
	// instead of dropping them.
	ShowTokenUsage bool
	// PromptMarkers are substrings of boilerplate appended to a user prompt
	// before it reaches the agent.
	PromptMarkers []string
	// DebugPatterns are regular expressions matching stderr lines that are
	// internal logging rather than user-visible errors.
	DebugPatterns []string
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.PromptMarkers == nil {
		o.PromptMarkers = DefaultPromptMarkers
	}
	if o.DebugPatterns == nil {
		o.DebugPatterns = DefaultDebugPatterns
	}
	return o
}

// DefaultPromptMarkers match the instructions the session runner appends to
// prompts it forwards to the agent.
var DefaultPromptMarkers = []string{
	"Please make sure to commit your changes",
	"IMPORTANT: When you are done",
	"<system-reminder>",
	"Structured output instructions:",
}

// DefaultDebugPatterns match tracing lines written to stderr by the agent CLIs.
var DefaultDebugPatterns = []string{
	`^\[?\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z?\]?\s+(TRACE|DEBUG|INFO|WARN)\b`,
	`^\s*(TRACE|DEBUG)\s`,
	`^\[DEBUG\]`,
	`^\s*at .+ \(.+:\d+:\d+\)$`,
}
