package heuristic

import (
	"fmt"
	"regexp"
	"strings"
)

var errorLevel = regexp.MustCompile(`\b(ERROR|FATAL|PANIC)\b`)

// NoiseFilter drops debug logging written to stderr by the agent CLIs.
type NoiseFilter struct {
	patterns []*regexp.Regexp
}

// NewNoiseFilter compiles the given patterns.
func NewNoiseFilter(patterns []string) (*NoiseFilter, error) {
	f := &NoiseFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile noise pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// IsNoise reports whether every non-blank line of text is debug output.
// Text mentioning an error level is never noise.
func (f *NoiseFilter) IsNoise(text string) bool {
	if f == nil || len(f.patterns) == 0 {
		return false
	}
	if errorLevel.MatchString(text) {
		return false
	}
	matched := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !f.matchLine(line) {
			return false
		}
		matched = true
	}
	return matched
}

func (f *NoiseFilter) matchLine(line string) bool {
	for _, re := range f.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
