package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation-context entry sent to the model backend.
// Assistant messages that requested tools carry the calls, so later tool-role
// results stay paired with their originating turn on the wire.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallEvent `json:"tool_calls,omitempty"`
}

// ToolDef describes one entry of the tool manifest advertised to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCallEvent is a model-requested tool invocation surfaced by a turn.
type ToolCallEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// GenerationRequest is the normalized request sent to the model backend.
type GenerationRequest struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
}

// GenerationResult is the final outcome after streaming deltas.
type GenerationResult struct {
	Text      string          `json:"text"`
	ToolCalls []ToolCallEvent `json:"tool_calls,omitempty"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the relay with a streaming language-model backend.
type Adapter interface {
	StreamCompletion(ctx context.Context, req GenerationRequest, onDelta DeltaHandler) (GenerationResult, error)
}

// AdapterConfig controls adapter construction.
type AdapterConfig struct {
	Mode    string
	URL     string
	APIKey  string
	ModelID string
	Timeout time.Duration
}

func NewAdapter(cfg AdapterConfig) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIAdapter(cfg.URL, cfg.APIKey, cfg.ModelID, cfg.Timeout), nil
		}
		return NewMockAdapter(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("model API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg.URL, cfg.APIKey, cfg.ModelID, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported model backend mode %q", cfg.Mode)
	}
}
