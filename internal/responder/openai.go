package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIAdapter streams chat completions from an OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	url     string
	apiKey  string
	modelID string
	client  *http.Client
}

func NewOpenAIAdapter(url, apiKey, modelID string, timeout time.Duration) *OpenAIAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIAdapter{
		url:     strings.TrimSpace(url),
		apiKey:  strings.TrimSpace(apiKey),
		modelID: strings.TrimSpace(modelID),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) StreamCompletion(ctx context.Context, req GenerationRequest, onDelta DeltaHandler) (GenerationResult, error) {
	payload, err := json.Marshal(buildChatRequest(a.modelID, req))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return GenerationResult{}, fmt.Errorf("model backend status %d: %s", res.StatusCode, string(body))
	}

	return consumeChatStream(res.Body, onDelta)
}

func buildChatRequest(modelID string, req GenerationRequest) chatRequest {
	out := chatRequest{Model: modelID, Stream: true}
	for _, m := range req.Messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			call := chatToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = encodeToolArguments(tc.Arguments)
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		ct := chatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ct)
	}
	return out
}

func encodeToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func consumeChatStream(body io.Reader, onDelta DeltaHandler) (GenerationResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	calls := map[int]*toolCallAccumulator{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			out.WriteString(delta.Content)
			if onDelta != nil {
				if err := onDelta(delta.Content); err != nil {
					return GenerationResult{}, err
				}
			}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := calls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return GenerationResult{}, fmt.Errorf("stream read: %w", err)
	}

	return GenerationResult{
		Text:      out.String(),
		ToolCalls: finishToolCalls(calls),
	}, nil
}

func finishToolCalls(calls map[int]*toolCallAccumulator) []ToolCallEvent {
	if len(calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCallEvent, 0, len(calls))
	for _, i := range indexes {
		acc := calls[i]
		if acc.name == "" {
			continue
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(acc.args.String()); raw != "" {
			// Malformed argument JSON degrades to an empty mapping; the tool
			// handler reports the missing fields in its own result.
			_ = json.Unmarshal([]byte(raw), &args)
		}
		out = append(out, ToolCallEvent{ID: acc.id, Name: acc.name, Arguments: args})
	}
	return out
}
