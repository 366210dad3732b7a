// Package view renders transcripts for the terminal.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/stravu/crystal-sub000/internal/eventlog"
	"github.com/stravu/crystal-sub000/internal/format"
	"github.com/stravu/crystal-sub000/internal/model"
	"github.com/stravu/crystal-sub000/internal/store"
)

// Options defines the configurable parameters for rendering a view.
type Options struct {
	Transcript    *store.Transcript
	Format        string
	Wrap          int
	MaxMessages   int
	RoleArg       string
	SubtypeArg    string
	HideThinking  bool
	HideRaw       bool
	Markdown      bool
	MarkdownStyle string
	ForceColor    bool
	ForceNoColor  bool
	NoPager       bool
	RawFile       bool
	Out           io.Writer
	OutFile       *os.File
}

// Run renders a transcript according to the provided options.
func Run(opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Transcript == nil {
		return fmt.Errorf("no transcript to render")
	}

	if opts.RawFile {
		return copyFile(opts.Out, opts.Transcript.Path)
	}

	formatMode := strings.ToLower(opts.Format)
	if formatMode == "" {
		formatMode = "text"
	}

	if formatMode == "raw" {
		events := opts.Transcript.Events
		if opts.MaxMessages > 0 && len(events) > opts.MaxMessages {
			events = events[len(events)-opts.MaxMessages:]
		}
		return eventlog.Write(opts.Out, events)
	}

	filters, err := buildViewFilters(opts.RoleArg, opts.SubtypeArg, opts.HideThinking, opts.HideRaw)
	if err != nil {
		return err
	}
	messages := applyFilters(opts.Transcript.Messages, filters)
	if opts.MaxMessages > 0 && len(messages) > opts.MaxMessages {
		messages = messages[len(messages)-opts.MaxMessages:]
	}

	switch formatMode {
	case "text":
		useColor := resolveColorChoice(opts)
		lineOpts, err := lineOptions(opts, determineWidth(opts.OutFile, opts.Wrap))
		if err != nil {
			return err
		}
		lineOpts.WrapWidth = opts.Wrap
		for idx, msg := range messages {
			if idx > 0 {
				fmt.Fprintln(opts.Out)
			}
			printMessage(opts.Out, msg, idx+1, lineOpts, useColor)
		}
		return nil

	case "json":
		enc := json.NewEncoder(opts.Out)
		enc.SetIndent("", "  ")
		if messages == nil {
			messages = []model.Message{}
		}
		return enc.Encode(messages)

	case "jsonl":
		enc := json.NewEncoder(opts.Out)
		for _, msg := range messages {
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
		return nil

	case "chat":
		colorEnabled := resolveColorChoice(opts)
		width := determineWidth(opts.OutFile, opts.Wrap)
		if len(messages) == 0 {
			return nil
		}

		lineOpts, err := lineOptions(opts, width-16)
		if err != nil {
			return err
		}
		lines := renderChatTranscript(messages, width, colorEnabled, lineOpts)
		if len(lines) == 0 {
			return nil
		}
		if !opts.NoPager && opts.OutFile != nil && isatty.IsTerminal(opts.OutFile.Fd()) {
			return pipeThroughPager(lines, colorEnabled)
		}
		return writeLines(opts.Out, lines)

	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func lineOptions(opts Options, width int) (format.LineOptions, error) {
	var lineOpts format.LineOptions
	if !opts.Markdown {
		return lineOpts, nil
	}
	if width < 20 {
		width = 20
	}
	style := opts.MarkdownStyle
	if style == "" && !resolveColorChoice(opts) {
		style = "notty"
	}
	md, err := format.NewMarkdownRenderer(width, style)
	if err != nil {
		return lineOpts, fmt.Errorf("create markdown renderer: %w", err)
	}
	lineOpts.Markdown = md
	return lineOpts, nil
}

type viewFilters struct {
	roles        map[model.Role]struct{}
	subtypes     map[model.SystemSubtype]struct{}
	hideThinking bool
	hideRaw      bool
}

func buildViewFilters(roleArg, subtypeArg string, hideThinking, hideRaw bool) (viewFilters, error) {
	filters := viewFilters{hideThinking: hideThinking, hideRaw: hideRaw}

	roles, err := parseRoleArg(roleArg)
	if err != nil {
		return filters, err
	}
	filters.roles = roles

	subtypes, err := parseSubtypeArg(subtypeArg)
	if err != nil {
		return filters, err
	}
	filters.subtypes = subtypes
	return filters, nil
}

func parseRoleArg(arg string) (map[model.Role]struct{}, error) {
	values := parseCSV(arg)
	if len(values) == 0 || (len(values) == 1 && values[0] == "all") {
		return nil, nil
	}

	lookup := map[string]model.Role{
		"user":      model.RoleUser,
		"assistant": model.RoleAssistant,
		"system":    model.RoleSystem,
	}

	set := make(map[model.Role]struct{}, len(values))
	for _, token := range values {
		role, ok := lookup[token]
		if !ok {
			return nil, fmt.Errorf("unknown role %q", token)
		}
		set[role] = struct{}{}
	}
	return set, nil
}

var knownSubtypes = []model.SystemSubtype{
	model.SubtypeSessionInfo,
	model.SubtypeSessionRuntime,
	model.SubtypeError,
	model.SubtypeStreamError,
	model.SubtypeContextCompacted,
	model.SubtypeSlashCommandResult,
	model.SubtypeGitOperation,
	model.SubtypeGitError,
	model.SubtypeTokenUsage,
	model.SubtypeTaskStarted,
	model.SubtypeTaskComplete,
	model.SubtypeSessionStatus,
	model.SubtypeInit,
}

func parseSubtypeArg(arg string) (map[model.SystemSubtype]struct{}, error) {
	values := parseCSV(arg)
	if len(values) == 0 || (len(values) == 1 && values[0] == "all") {
		return nil, nil
	}

	set := make(map[model.SystemSubtype]struct{}, len(values))
	for _, token := range values {
		found := false
		for _, st := range knownSubtypes {
			if string(st) == token {
				set[st] = struct{}{}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown system subtype %q", token)
		}
	}
	return set, nil
}

func parseCSV(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(strings.ToLower(part))
		if token != "" {
			output = append(output, token)
		}
	}
	return output
}

// applyFilters returns the visible messages. Filtering never mutates the
// transcript; a message whose segments are all hidden is dropped.
func applyFilters(messages []model.Message, filters viewFilters) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if !messageMatchesFilters(msg, filters) {
			continue
		}
		if filters.hideThinking {
			segments := make([]model.Segment, 0, len(msg.Segments))
			for _, seg := range msg.Segments {
				if seg.Type != model.SegmentThinking {
					segments = append(segments, seg)
				}
			}
			if len(segments) == 0 {
				continue
			}
			msg.Segments = segments
		}
		out = append(out, msg)
	}
	return out
}

func messageMatchesFilters(msg model.Message, filters viewFilters) bool {
	if filters.hideRaw && msg.IsRaw() {
		return false
	}
	if filters.roles != nil {
		if _, ok := filters.roles[msg.Role]; !ok {
			return false
		}
	}
	if filters.subtypes != nil && msg.Role == model.RoleSystem {
		if _, ok := filters.subtypes[msg.Subtype()]; !ok {
			return false
		}
	}
	return true
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func pipeThroughPager(lines []string, colorEnabled bool) error {
	text := strings.Join(lines, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	pagerCmd := os.Getenv("PAGER")
	var cmd *exec.Cmd
	if pagerCmd == "" {
		args := []string{"less"}
		if colorEnabled {
			args = append(args, "-R")
		}
		cmd = exec.Command(args[0], args[1:]...) // #nosec G204
	} else {
		cmd = exec.Command("sh", "-c", pagerCmd) // #nosec G204
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create pager pipe: %w", err)
	}
	go func() {
		defer stdin.Close()
		io.WriteString(stdin, text) //nolint:errcheck
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run pager: %w", err)
	}

	return nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func printMessage(out io.Writer, msg model.Message, index int, lineOpts format.LineOptions, useColor bool) {
	label := format.MessageLabel(msg)
	ts := msg.Timestamp
	if ts == "" {
		ts = "-"
	}
	headerPlain := fmt.Sprintf("[#%03d] %s | %s", index, label, ts)

	indexText := fmt.Sprintf("#%03d", index)
	roleText := label
	tsText := ts
	separator := "|"

	if useColor {
		indexText = colorize(true, ansiBoldWhite, indexText)
		roleText = colorize(true, roleColor(msg.Role), roleText)
		tsText = colorize(true, ansiTimestamp, tsText)
		separator = colorize(true, ansiSeparator, "|")
	}

	header := fmt.Sprintf("[%s] %s %s %s", indexText, roleText, separator, tsText)
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, strings.Repeat("-", len(headerPlain)))

	lines := format.RenderMessageLines(msg, lineOpts)
	if len(lines) == 0 {
		prefix := "|"
		if useColor {
			prefix = colorize(true, ansiSeparator, "|")
		}
		fmt.Fprintf(out, "%s %s\n", prefix, "(no content)")
		return
	}
	linePrefix := "| "
	emptyPrefix := "|"
	if useColor {
		separatorColor := colorize(true, ansiSeparator, "|")
		linePrefix = separatorColor + " "
		emptyPrefix = separatorColor
	}
	for _, line := range lines {
		if line == "" {
			fmt.Fprintln(out, emptyPrefix)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", linePrefix, line)
	}
}

const (
	ansiReset     = "\x1b[0m"
	ansiBoldWhite = "\x1b[1;97m"
	ansiTimestamp = "\x1b[38;5;245m"
	ansiSeparator = "\x1b[38;5;240m"
	ansiAssistant = "\x1b[38;5;44m"
	ansiUser      = "\x1b[38;5;220m"
	ansiSystem    = "\x1b[38;5;207m"
)

func colorize(enabled bool, code string, text string) string {
	if !enabled {
		return text
	}
	return code + text + ansiReset
}

func roleColor(role model.Role) string {
	switch role {
	case model.RoleAssistant:
		return ansiAssistant
	case model.RoleUser:
		return ansiUser
	case model.RoleSystem:
		return ansiSystem
	default:
		return ansiSeparator
	}
}

func resolveColorChoice(opts Options) bool {
	if opts.ForceColor {
		return true
	}
	if opts.ForceNoColor {
		return false
	}
	return shouldUseColorAuto(opts.Out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(dst, f)
	return err
}
