// Package heuristic holds the content-sniffing rules applied to agent
// output. Both rules are driven by configuration data.
package heuristic

import "strings"

// PromptDetector recognizes user prompts that were extended with runner
// boilerplate before being sent to the agent.
type PromptDetector struct {
	markers  []string
	original string
}

// NewPromptDetector returns a detector for the given marker substrings.
func NewPromptDetector(markers []string) *PromptDetector {
	kept := make([]string, 0, len(markers))
	for _, m := range markers {
		if strings.TrimSpace(m) != "" {
			kept = append(kept, m)
		}
	}
	return &PromptDetector{markers: kept}
}

// Capture records the original prompt. Only the first non-empty prompt of a
// run is kept.
func (d *PromptDetector) Capture(prompt string) {
	if d.original != "" {
		return
	}
	d.original = strings.TrimSpace(prompt)
}

// Original returns the captured prompt.
func (d *PromptDetector) Original() string {
	return d.original
}

// Display returns the text to show for a user input. Inputs that begin with
// the original prompt and contain a marker are shown as the original.
func (d *PromptDetector) Display(text string) (string, bool) {
	if d.original == "" {
		return text, false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == d.original || !strings.HasPrefix(trimmed, d.original) {
		return text, false
	}
	rest := trimmed[len(d.original):]
	for _, m := range d.markers {
		if strings.Contains(rest, m) {
			return d.original, true
		}
	}
	return text, false
}

// Reset forgets the captured prompt.
func (d *PromptDetector) Reset() {
	d.original = ""
}
