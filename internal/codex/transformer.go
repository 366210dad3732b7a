package codex

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/stravu/crystal-sub000/internal/correlate"
	"github.com/stravu/crystal-sub000/internal/heuristic"
	"github.com/stravu/crystal-sub000/internal/model"
)

func init() {
	model.Register(model.AgentCodex, func(opts model.Options) model.Transformer {
		return New(opts)
	})
}

// Transformer converts Codex records into unified messages.
type Transformer struct {
	opts   model.Options
	log    *slog.Logger
	run    *correlate.Run
	prompt *heuristic.PromptDetector
	noise  *heuristic.NoiseFilter
	index  int
	// fold folds matched results into their calls instead of emitting them.
	fold   bool
}

// New returns a transformer with its own correlation state.
func New(opts model.Options) *Transformer {
	opts = opts.WithDefaults()
	noise, err := heuristic.NewNoiseFilter(opts.DebugPatterns)
	if err != nil {
		opts.Logger.Warn("ignoring debug patterns", "error", err)
	}
	return &Transformer{
		opts:   opts,
		log:    opts.Logger.With("agent", string(model.AgentCodex)),
		run:    correlate.NewRun(opts.Now),
		prompt: heuristic.NewPromptDetector(opts.PromptMarkers),
		noise:  noise,
	}
}

func (t *Transformer) AgentName() string { return "Codex" }
func (t *Transformer) SupportsStreaming() bool { return true }
func (t *Transformer) SupportsThinking() bool { return true }
func (t *Transformer) SupportsToolCalls() bool { return true }

// Transform converts a full event log.
func (t *Transformer) Transform(events []model.RawEvent) []model.Message {
	t.run.Reset()
	t.prompt.Reset()
	t.fold = true

	out := make([]model.Message, 0, len(events))
	for i, ev := range events {
		t.index = i
		if msg := t.parse(ev); msg != nil {
			out = append(out, *msg)
		}
	}
	return t.run.Table.Resolve(out)
}

// ParseMessage converts one event against the state built by earlier calls.
func (t *Transformer) ParseMessage(ev model.RawEvent) *model.Message {
	t.fold = false
	msg := t.parse(ev)
	t.run.Fill(msg)
	t.index++
	return msg
}

// ToolCalls returns the top-level calls of the last run.
func (t *Transformer) ToolCalls() []model.ToolCall {
	return t.run.Table.Calls()
}

func (t *Transformer) parse(ev model.RawEvent) *model.Message {
	switch ev.Type {
	case model.EventStdout:
		return t.stdout(ev)
	case model.EventStderr:
		return t.stderr(ev)
	}

	payload, err := ev.Payload()
	if err != nil {
		t.log.Warn("dropping malformed event", "index", t.index, "error", err)
		return nil
	}

	decoded := decode(payload)
	ts := correlate.FirstTimestamp(ev.Timestamp, decoded.timestamp())

	switch e := decoded.(type) {
	case msgEvent:
		if e.mirror {
			return nil
		}
		return t.handleMsg(e, payload, ts)
	case itemEvent:
		return t.handleItem(e, payload, ts)
	case flatEvent:
		return t.handleFlat(e, ts)
	case responseEvent:
		return t.handleResponse(e, payload, ts)
	case metaEvent:
		return t.handleMeta(e, ts)
	case runnerEvent:
		return t.handleRunner(e, ts)
	case unknownEvent:
		t.log.Debug("unrecognized record", "index", t.index)
		return t.run.Fallback(e.raw, ts)
	}
	return t.run.Fallback(payload, ts)
}

func (t *Transformer) stdout(ev model.RawEvent) *model.Message {
	text := ev.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := t.assistantMessage("", ev.Timestamp)
	msg.Append(model.TextSegment(text))
	return msg
}

func (t *Transformer) stderr(ev model.RawEvent) *model.Message {
	text := strings.TrimSpace(ev.Text())
	if text == "" || t.noise.IsNoise(text) {
		return nil
	}
	msg := t.systemMessage(model.SubtypeError, ev.Timestamp)
	msg.Append(model.ErrorSegment(text, ""))
	return msg
}

func (t *Transformer) assistantMessage(rawID string, ts json.RawMessage) *model.Message {
	msg := t.run.Message(model.RoleAssistant, rawID, ts)
	msg.SetMeta(model.MetaAgent, t.AgentName())
	return msg
}

func (t *Transformer) systemMessage(subtype model.SystemSubtype, ts json.RawMessage) *model.Message {
	msg := t.run.Message(model.RoleSystem, "", ts)
	msg.SetMeta(model.MetaSystemSubtype, subtype)
	return msg
}

func (t *Transformer) textMessage(role model.Role, rawID, text string, ts json.RawMessage) *model.Message {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var msg *model.Message
	if role == model.RoleAssistant {
		msg = t.assistantMessage(rawID, ts)
	} else {
		msg = t.run.Message(role, rawID, ts)
	}
	msg.Append(model.TextSegment(text))
	return msg
}

func (t *Transformer) thinkingMessage(rawID, text string, ts json.RawMessage) *model.Message {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := t.assistantMessage(rawID, ts)
	msg.Append(model.ThinkingSegment(text))
	return msg
}

func (t *Transformer) userMessage(text string, ts json.RawMessage) *model.Message {
	if display, ok := t.prompt.Display(text); ok {
		text = display
	}
	return t.textMessage(model.RoleUser, "", text, ts)
}

func (t *Transformer) errorMessage(subtype model.SystemSubtype, message, details string, ts json.RawMessage) *model.Message {
	if strings.TrimSpace(message) == "" {
		message = "Unknown error"
	}
	msg := t.systemMessage(subtype, ts)
	msg.Append(model.ErrorSegment(message, details))
	return msg
}

func (t *Transformer) infoMessage(subtype model.SystemSubtype, info map[string]any, ts json.RawMessage) *model.Message {
	msg := t.systemMessage(subtype, ts)
	msg.Append(model.SystemInfoSegment(info))
	return msg
}
