package format

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer renders assistant text as terminal markdown.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
	style    string
}

// NewMarkdownRenderer creates a renderer. style is "dark", "light", "notty"
// or empty for auto detection.
func NewMarkdownRenderer(width int, style string) (*MarkdownRenderer, error) {
	r, err := newTermRenderer(width, style)
	if err != nil {
		return nil, err
	}
	return &MarkdownRenderer{renderer: r, width: width, style: style}, nil
}

// Render renders markdown text. Surrounding blank lines added by glamour are
// trimmed so callers control spacing.
func (m *MarkdownRenderer) Render(text string) (string, error) {
	out, err := m.renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\n"), nil
}

// SetWidth updates the word wrap width.
func (m *MarkdownRenderer) SetWidth(width int) error {
	if width == m.width {
		return nil
	}
	r, err := newTermRenderer(width, m.style)
	if err != nil {
		return err
	}
	m.renderer = r
	m.width = width
	return nil
}

func newTermRenderer(width int, style string) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamourOption(style),
		glamour.WithWordWrap(width),
	)
}

func glamourOption(style string) glamour.TermRendererOption {
	switch style {
	case "dark", "light", "notty":
		return glamour.WithStandardStyle(style)
	default:
		return glamour.WithAutoStyle()
	}
}
