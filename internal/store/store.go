// Package store provides session enumeration, lookup and event history.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stravu/crystal-sub000/internal/eventlog"
	"github.com/stravu/crystal-sub000/internal/model"
)

var (
	// ErrSessionNotFound is returned when no session matches an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUndetectedAgent is returned when a log matches no known protocol
	// and no agent was forced.
	ErrUndetectedAgent = errors.New("cannot detect agent")

	errStop = errors.New("stop iteration")
)

// Transcript is a session log together with its unified messages.
type Transcript struct {
	Path     string
	Agent    model.AgentType
	Events   []model.RawEvent
	Messages []model.Message
}

// Load reads a session log and transforms it. An empty agent is detected
// from the records.
func Load(path string, agent model.AgentType, opts model.Options) (*Transcript, error) {
	events, err := eventlog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Transform(path, events, agent, opts)
}

// Transform converts already loaded events.
func Transform(path string, events []model.RawEvent, agent model.AgentType, opts model.Options) (*Transcript, error) {
	if agent == "" {
		detected, ok := model.DetectAgent(events)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndetectedAgent, path)
		}
		agent = detected
	}
	tr, err := model.New(agent, opts)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		Path:     path,
		Agent:    agent,
		Events:   events,
		Messages: tr.Transform(events),
	}, nil
}

// Session summarizes one session log.
type Session struct {
	ID              string
	Agent           model.AgentType
	Path            string
	CWD             string
	Model           string
	StartedAt       time.Time
	EndedAt         time.Time
	Summary         string
	MessageCount    int
	ToolCallCount   int
	DurationSeconds int
}

// ListOptions controls how sessions are enumerated.
type ListOptions struct {
	Root       string
	Agent      model.AgentType
	CWD        string
	ExactCWD   bool
	After      *time.Time
	Before     *time.Time
	Limit      int
	MaxSummary int
	Options    model.Options
}

// ListResult contains session summaries and non-fatal warnings.
type ListResult struct {
	Summaries []Session
	Warnings  []error
}

// ListSessions enumerates sessions under Root according to options.
func ListSessions(opts ListOptions) (ListResult, error) {
	root := opts.Root
	if root == "" {
		return ListResult{}, errors.New("root directory is required")
	}

	var result ListResult

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("walk %s: %w", path, walkErr))
			return nil
		}

		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}

		t, err := Load(path, opts.Agent, opts.Options)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("load %s: %w", path, err))
			return nil
		}
		s := Summarize(t)

		if opts.CWD != "" {
			if opts.ExactCWD {
				if s.CWD != opts.CWD {
					return nil
				}
			} else if !strings.HasPrefix(s.CWD, opts.CWD) {
				return nil
			}
		}
		if opts.After != nil && s.StartedAt.Before(*opts.After) {
			return nil
		}
		if opts.Before != nil && s.StartedAt.After(*opts.Before) {
			return nil
		}

		if opts.MaxSummary > 0 {
			s.Summary = truncate(s.Summary, opts.MaxSummary)
		}
		result.Summaries = append(result.Summaries, s)
		return nil
	})
	if err != nil {
		return result, err
	}

	sort.SliceStable(result.Summaries, func(i, j int) bool {
		return result.Summaries[i].StartedAt.After(result.Summaries[j].StartedAt)
	})

	if opts.Limit > 0 && len(result.Summaries) > opts.Limit {
		result.Summaries = result.Summaries[:opts.Limit]
	}

	return result, nil
}

// Summarize builds a session summary from a transcript.
func Summarize(t *Transcript) Session {
	s := Session{
		Agent:        t.Agent,
		Path:         t.Path,
		MessageCount: len(t.Messages),
	}

	// Recorded times come from the log itself; message timestamps are only
	// used when no record carries one.
	for _, ev := range t.Events {
		if ts, ok := eventTime(ev); ok {
			s.observe(ts)
		}
	}
	recorded := !s.StartedAt.IsZero()

	for _, msg := range t.Messages {
		if !recorded {
			if ts, ok := model.ParseTimestampString(msg.Timestamp); ok {
				s.observe(ts)
			}
		}
		if s.Model == "" {
			if m, ok := msg.Metadata[model.MetaModel].(string); ok {
				s.Model = m
			}
		}
		for _, seg := range msg.Segments {
			switch seg.Type {
			case model.SegmentToolCall:
				if seg.Tool != nil {
					s.ToolCallCount += countCalls(*seg.Tool)
				}
			case model.SegmentSystemInfo:
				if s.ID == "" {
					s.ID = infoString(seg.Info, "sessionId", "threadId")
				}
				if s.CWD == "" {
					s.CWD = infoString(seg.Info, "cwd", "worktree_path")
				}
			case model.SegmentText:
				if s.Summary == "" && msg.Role == model.RoleUser {
					s.Summary = strings.TrimSpace(seg.Content)
				}
			}
		}
	}

	if s.ID == "" || s.CWD == "" {
		id, cwd := scanRecords(t.Events)
		if s.ID == "" {
			s.ID = id
		}
		if s.CWD == "" {
			s.CWD = cwd
		}
	}
	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(t.Path), filepath.Ext(t.Path))
	}
	s.DurationSeconds = durationSeconds(s.StartedAt, s.EndedAt)
	return s
}

func (s *Session) observe(ts time.Time) {
	if s.StartedAt.IsZero() || ts.Before(s.StartedAt) {
		s.StartedAt = ts
	}
	if ts.After(s.EndedAt) {
		s.EndedAt = ts
	}
}

func countCalls(call model.ToolCall) int {
	n := 1
	for _, child := range call.ChildToolCalls {
		n += countCalls(child)
	}
	return n
}

func infoString(info map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := info[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// recordProbe reads the session id and working directory fields that the
// agents write on ordinary records.
type recordProbe struct {
	SessionID      string `json:"session_id"`
	SessionIDCamel string `json:"sessionId"`
	CWD            string `json:"cwd"`
}

func scanRecords(events []model.RawEvent) (id, cwd string) {
	for _, ev := range events {
		payload, err := ev.Payload()
		if err != nil {
			continue
		}
		var p recordProbe
		if err := json.Unmarshal(payload, &p); err != nil {
			continue
		}
		if id == "" {
			id = firstNonEmpty(p.SessionID, p.SessionIDCamel)
		}
		if cwd == "" {
			cwd = p.CWD
		}
		if id != "" && cwd != "" {
			return id, cwd
		}
	}
	return id, cwd
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// FindSessionPath searches for a session file whose session id matches id.
func FindSessionPath(root, id string, agent model.AgentType, opts model.Options) (string, error) {
	if root == "" {
		return "", errors.New("root directory is required")
	}
	if id == "" {
		return "", errors.New("session id is required")
	}

	var matched string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		t, err := Load(path, agent, opts)
		if err != nil {
			return nil
		}
		if Summarize(t).ID == id {
			matched = path
			return errStop
		}
		return nil
	})

	if matched != "" {
		return matched, nil
	}
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	return "", fmt.Errorf("%w: %s under %s", ErrSessionNotFound, id, root)
}

func durationSeconds(start, end time.Time) int {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Seconds())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
