package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// AgentType represents the type of AI agent.
type AgentType string

const (
	// AgentCodex represents the Codex CLI agent.
	AgentCodex AgentType = "codex"
	// AgentClaude represents the Claude Code agent.
	AgentClaude AgentType = "claude"
)

// ErrUnknownAgent is returned for agent types without a registered transformer.
var ErrUnknownAgent = errors.New("unknown agent type")

// Factory creates a transformer. We use this to avoid circular dependencies
// between model and agent packages.
type Factory func(Options) Transformer

var (
	registryMu sync.RWMutex
	registry   = map[AgentType]Factory{}
)

// Register registers the transformer factory for an agent type. Agent
// packages call it from init.
func Register(agent AgentType, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[agent] = factory
}

// New creates a fresh transformer for the specified agent type.
func New(agent AgentType, opts Options) (Transformer, error) {
	registryMu.RLock()
	factory, ok := registry[agent]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return factory(opts.WithDefaults()), nil
}

// ParseAgentType normalizes a user-supplied agent name.
func ParseAgentType(value string) (AgentType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "claude", "claude-code", "claude_code":
		return AgentClaude, nil
	case "codex":
		return AgentCodex, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, value)
	}
}
