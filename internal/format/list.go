// Package format provides formatting and rendering functions for session data.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/stravu/crystal-sub000/internal/store"
)

// WriteSummaries writes session summaries to w in the requested format.
func WriteSummaries(w io.Writer, items []store.Session, includeHeader bool, format string) error {
	format = strings.ToLower(format)
	switch format {
	case "", "table":
		return writeSummariesTable(w, items, includeHeader)
	case "plain":
		return writeSummariesPlain(w, items, includeHeader)
	case "json":
		return writeJSON(w, items)
	case "jsonl":
		return writeSummariesJSONL(w, items)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeSummariesPlain(w io.Writer, items []store.Session, includeHeader bool) error {
	if includeHeader {
		if _, err := fmt.Fprintln(w, "timestamp\tagent\tsession_id\tcwd\tduration\tmessage_count\ttool_calls\tsummary"); err != nil {
			return err
		}
	}

	for _, item := range items {
		line := fmt.Sprintf(
			"%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s",
			formatTime(item.StartedAt),
			item.Agent,
			item.ID,
			item.CWD,
			formatDuration(item.DurationSeconds),
			item.MessageCount,
			item.ToolCallCount,
			escapeNewlines(item.Summary),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummariesJSONL(w io.Writer, items []store.Session) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func escapeNewlines(text string) string {
	return strings.ReplaceAll(text, "\n", "\\n")
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = true
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true
	return tw
}

func writeSummariesTable(w io.Writer, items []store.Session, includeHeader bool) error {
	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 7, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 8, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 80},
	})

	if includeHeader {
		tw.AppendHeader(table.Row{"Timestamp", "Agent", "Session ID", "CWD", "Duration", "Messages", "Tools", "Summary"})
	}

	for _, item := range items {
		tw.AppendRow(table.Row{
			formatTime(item.StartedAt),
			item.Agent,
			item.ID,
			item.CWD,
			formatDuration(item.DurationSeconds),
			item.MessageCount,
			item.ToolCallCount,
			escapeNewlines(item.Summary),
		})
	}

	if len(items) == 0 {
		tw.AppendRow(table.Row{"-", "-", "(no sessions)", "-", "00:00:00", 0, 0, "-"})
	}

	_ = tw.Render()
	return nil
}

// WriteSessionInfo writes the details of one session as a two-column table.
func WriteSessionInfo(w io.Writer, s store.Session, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return writeJSON(w, s)
	case "", "table":
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	tw := newTable(w)
	tw.Style().Options.SeparateRows = false
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
	})
	tw.AppendRows([]table.Row{
		{"Session ID", s.ID},
		{"Agent", s.Agent},
		{"Path", s.Path},
		{"CWD", s.CWD},
		{"Model", s.Model},
		{"Started", formatTime(s.StartedAt)},
		{"Ended", formatTime(s.EndedAt)},
		{"Duration", formatDuration(s.DurationSeconds)},
		{"Messages", s.MessageCount},
		{"Tool calls", s.ToolCallCount},
		{"Summary", s.Summary},
	})
	_ = tw.Render()
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "00:00:00"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// WriteHistorySessions writes the sessions stored in the history database.
func WriteHistorySessions(w io.Writer, items []store.HistorySession, format string) error {
	switch strings.ToLower(format) {
	case "json":
		if items == nil {
			items = []store.HistorySession{}
		}
		return writeJSON(w, items)
	case "plain":
		for _, item := range items {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				item.ID, item.Agent, item.EventCount, formatTime(item.ImportedAt), item.SourcePath); err != nil {
				return err
			}
		}
		return nil
	case "", "table":
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	tw := newTable(w)
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{"Session ID", "Agent", "Events", "Imported", "Source"})
	for _, item := range items {
		tw.AppendRow(table.Row{item.ID, item.Agent, item.EventCount, formatTime(item.ImportedAt), item.SourcePath})
	}
	if len(items) == 0 {
		tw.AppendRow(table.Row{"(no sessions)", "-", 0, "-", "-"})
	}
	_ = tw.Render()
	return nil
}
