// Package main provides the transcript CLI for browsing Claude Code and Codex
// session logs as unified transcripts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	// Import both agent packages to trigger init() registration
	_ "github.com/stravu/crystal-sub000/internal/claude"
	_ "github.com/stravu/crystal-sub000/internal/codex"
	"github.com/stravu/crystal-sub000/internal/config"
	"github.com/stravu/crystal-sub000/internal/format"
	"github.com/stravu/crystal-sub000/internal/model"
	"github.com/stravu/crystal-sub000/internal/store"
	"github.com/stravu/crystal-sub000/internal/view"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "transcript: %v\n", err)
		os.Exit(1)
	}
}

// app carries the configuration resolved before any subcommand runs.
type app struct {
	configPath     string
	agentFlag      string
	sessionsDir    string
	logLevel       string
	showTokenUsage bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "transcript",
		Short:         "Render Claude Code and Codex session logs as unified transcripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (env: TRANSCRIPT_CONFIG, default: ~/.config/transcript/config.yaml)")
	flags.StringVar(&a.agentFlag, "agent", "", "agent type: 'claude', 'codex' or 'auto' (env: TRANSCRIPT_AGENT, default: auto)")
	flags.StringVar(&a.sessionsDir, "sessions-dir", "", "override the sessions directory (env: TRANSCRIPT_SESSIONS_DIR)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error (env: TRANSCRIPT_LOG_LEVEL)")
	flags.BoolVar(&a.showTokenUsage, "show-token-usage", false, "surface token usage events as system messages")

	root.AddCommand(
		a.newListCmd(),
		a.newViewCmd(),
		a.newInfoCmd(),
		a.newToolsCmd(),
		a.newImportCmd(),
		a.newHistoryCmd(),
		newSchemaCmd(),
	)
	return root
}

// setup loads the config file and environment, then applies flags on top.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("agent") {
		cfg.Agent = a.agentFlag
	}
	if flags.Changed("sessions-dir") {
		cfg.SessionsDir = a.sessionsDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("show-token-usage") {
		cfg.ShowTokenUsage = a.showTokenUsage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) agent() model.AgentType {
	// Validate already rejected unknown names.
	agent, _ := a.cfg.AgentType()
	return agent
}

func (a *app) modelOptions() model.Options {
	return a.cfg.ModelOptions(a.logger)
}

// loadTranscript resolves a session id or path and transforms it.
func (a *app) loadTranscript(arg string) (*store.Transcript, error) {
	path, err := a.resolveSessionPath(arg)
	if err != nil {
		return nil, err
	}
	t, err := store.Load(path, a.agent(), a.modelOptions())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("transcript loaded", "path", path, "agent", t.Agent, "events", len(t.Events), "messages", len(t.Messages))
	return t, nil
}

func (a *app) resolveSessionPath(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("session identifier is empty")
	}

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}

	root := a.cfg.SessionsRoot(a.agent())
	candidate := filepath.Join(root, arg)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, nil
	}

	return store.FindSessionPath(root, arg, a.agent(), a.modelOptions())
}

func (a *app) newListCmd() *cobra.Command {
	var (
		cwd          string
		all          bool
		afterStr     string
		beforeStr    string
		limit        int
		formatFlag   string
		noHeader     bool
		summaryWidth int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session metadata in reverse chronological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all && cwd != "" {
				return errors.New("--cwd cannot be used with --all")
			}

			after, err := parseTimeFlag("after", afterStr)
			if err != nil {
				return err
			}
			before, err := parseTimeFlag("before", beforeStr)
			if err != nil {
				return err
			}

			opts := store.ListOptions{
				Root:       a.cfg.SessionsRoot(a.agent()),
				Agent:      a.agent(),
				After:      after,
				Before:     before,
				Limit:      limit,
				MaxSummary: summaryWidth,
				Options:    a.modelOptions(),
			}

			if !all {
				if cwd != "" {
					opts.CWD = cwd
				} else {
					wd, err := os.Getwd()
					if err != nil {
						return fmt.Errorf("determine current directory: %w", err)
					}
					opts.CWD = wd
				}
				opts.ExactCWD = true
			}

			result, err := store.ListSessions(opts)
			if err != nil {
				return err
			}

			for _, warn := range result.Warnings {
				a.logger.Warn("skipped session log", "err", warn)
			}

			return format.WriteSummaries(cmd.OutOrStdout(), result.Summaries, !noHeader, formatFlag)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cwd, "cwd", "", "filter sessions whose cwd equals the provided path")
	flags.BoolVar(&all, "all", false, "include sessions from all directories")
	flags.StringVar(&afterStr, "after", "", "include sessions starting on/after the given RFC3339 timestamp")
	flags.StringVar(&beforeStr, "before", "", "include sessions starting on/before the given RFC3339 timestamp")
	flags.IntVar(&limit, "limit", 0, "limit number of sessions returned (0 means no limit)")
	flags.StringVar(&formatFlag, "format", "table", "output format: table, plain, json, or jsonl")
	flags.BoolVar(&noHeader, "no-header", false, "omit header row")
	flags.IntVar(&summaryWidth, "summary-width", 160, "maximum characters included in the summary column")

	return cmd
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}

// viewFlags are shared by view and history show.
type viewFlags struct {
	format        string
	raw           bool
	wrap          int
	maxMessages   int
	roles         string
	subtypes      string
	hideThinking  bool
	hideRaw       bool
	markdown      bool
	markdownStyle string
	forceColor    bool
	forceNoColor  bool
	noPager       bool
}

func (f *viewFlags) bind(cmd *cobra.Command, allowRawFile bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", "text", "output format: text, chat, json, jsonl, or raw")
	if allowRawFile {
		flags.BoolVar(&f.raw, "raw", false, "copy the session file without parsing")
	}
	flags.IntVar(&f.wrap, "wrap", 0, "wrap message body at the given column width")
	flags.IntVar(&f.maxMessages, "max", 0, "show only the most recent N messages (0 means no limit)")
	flags.StringVarP(&f.roles, "role", "R", "", "comma-separated roles to include: user, assistant, system (default: all)")
	flags.StringVarP(&f.subtypes, "subtype", "S", "", "comma-separated system subtypes to include (default: all)")
	flags.BoolVar(&f.hideThinking, "hide-thinking", false, "omit thinking segments")
	flags.BoolVar(&f.hideRaw, "hide-raw", false, "omit raw fallback messages")
	flags.BoolVar(&f.markdown, "markdown", false, "render assistant text as markdown")
	flags.StringVar(&f.markdownStyle, "markdown-style", "", "markdown style: dark, light, notty (default: auto)")
	flags.BoolVar(&f.forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&f.forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")
	flags.BoolVar(&f.noPager, "no-pager", false, "never pipe chat output through a pager")
}

func (f *viewFlags) run(cmd *cobra.Command, cfg *config.Config, t *store.Transcript) error {
	if f.forceColor && f.forceNoColor {
		return errors.New("--color and --no-color cannot be used together")
	}

	out := cmd.OutOrStdout()
	outFile, _ := out.(*os.File)
	markdownStyle := f.markdownStyle
	if markdownStyle == "" {
		markdownStyle = cfg.MarkdownStyle
	}
	return view.Run(view.Options{
		Transcript:    t,
		Format:        f.format,
		Wrap:          f.wrap,
		MaxMessages:   f.maxMessages,
		RoleArg:       f.roles,
		SubtypeArg:    f.subtypes,
		HideThinking:  f.hideThinking,
		HideRaw:       f.hideRaw,
		Markdown:      f.markdown || cfg.Markdown,
		MarkdownStyle: markdownStyle,
		ForceColor:    f.forceColor,
		ForceNoColor:  f.forceNoColor || (cfg.NoColor && !f.forceColor),
		NoPager:       f.noPager,
		RawFile:       f.raw,
		Out:           out,
		OutFile:       outFile,
	})
}

func (a *app) newViewCmd() *cobra.Command {
	var flags viewFlags

	cmd := &cobra.Command{
		Use:   "view <session-id-or-path>",
		Short: "Render a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTranscript(args[0])
			if err != nil {
				return err
			}
			return flags.run(cmd, a.cfg, t)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func (a *app) newInfoCmd() *cobra.Command {
	var (
		formatFlag  string
		summaryMode string
	)

	cmd := &cobra.Command{
		Use:   "info <session-id-or-path>",
		Short: "Show session metadata and file details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(summaryMode) {
			case "", "clip", "full":
			default:
				return fmt.Errorf("invalid --summary value: %s", summaryMode)
			}

			t, err := a.loadTranscript(args[0])
			if err != nil {
				return err
			}

			s := store.Summarize(t)
			if strings.ToLower(summaryMode) != "full" {
				s.Summary = clipSummary(collapseWhitespace(s.Summary), 160)
			}
			return format.WriteSessionInfo(cmd.OutOrStdout(), s, formatFlag)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "table", "output format: table or json")
	flags.StringVar(&summaryMode, "summary", "clip", "summary display: clip or full")

	return cmd
}

func (a *app) newToolsCmd() *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "tools <session-id-or-path>",
		Short: "List the tool calls of a session with their results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTranscript(args[0])
			if err != nil {
				return err
			}
			return format.WriteToolCalls(cmd.OutOrStdout(), format.CollectToolCalls(t.Messages), formatFlag)
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "table", "output format: table, plain, or json")
	return cmd
}

func (a *app) openHistory() (*store.History, error) {
	path := a.cfg.HistoryPath()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	return store.OpenHistory(path)
}

func (a *app) newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <session-id-or-path>...",
		Short: "Store session events in the history database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			for _, arg := range args {
				t, err := a.loadTranscript(arg)
				if err != nil {
					return err
				}
				s := store.Summarize(t)
				session := store.HistorySession{ID: s.ID, Agent: t.Agent, SourcePath: t.Path}
				if err := h.Import(cmd.Context(), session, t.Events); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d events)\n", s.ID, len(t.Events)) //nolint:errcheck
			}
			return nil
		},
	}
	return cmd
}

func (a *app) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse sessions stored in the history database",
	}

	var listFormat string
	list := &cobra.Command{
		Use:   "list",
		Short: "List imported sessions, most recent import first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			sessions, err := h.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return format.WriteHistorySessions(cmd.OutOrStdout(), sessions, listFormat)
		},
	}
	list.Flags().StringVar(&listFormat, "format", "table", "output format: table, plain, or json")

	var showFlags viewFlags
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Rebuild and render an imported session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			session, events, err := h.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t, err := store.Transform(session.SourcePath, events, session.Agent, a.modelOptions())
			if err != nil {
				return err
			}
			return showFlags.run(cmd, a.cfg, t)
		},
	}
	showFlags.bind(show, false)

	remove := &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an imported session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0]) //nolint:errcheck
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a transcript message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := model.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}

func clipSummary(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen == 1 {
		return "…"
	}
	return string(runes[:maxLen-1]) + "…"
}
