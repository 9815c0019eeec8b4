package responder

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no model backend is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamCompletion(
	ctx context.Context,
	req GenerationRequest,
	onDelta DeltaHandler,
) (GenerationResult, error) {
	select {
	case <-ctx.Done():
		return GenerationResult{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return GenerationResult{}, err
		}
	}
	return GenerationResult{Text: text}, nil
}

func buildMockReply(req GenerationRequest) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser || req.Messages[i].Role == RoleSystem {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", last)
}
