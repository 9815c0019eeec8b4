package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/responder"
)

type Classification string

const (
	// ClassificationRelay results are spoken back into the call.
	ClassificationRelay Classification = "relay"
	// ClassificationSideChannel results are logged and returned to the model
	// context but never spoken verbatim.
	ClassificationSideChannel Classification = "side-channel"
)

// Handler executes one tool call. Returned fields are merged into the
// uniform {success, message, ...} payload.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is one registered tool. Classification is fixed at registration and
// never changes.
type Tool struct {
	Name           string
	Type           string
	Description    string
	Parameters     map[string]any
	Classification Classification
	Handler        Handler
}

// Outcome is one finished tool call, tagged with the turn that issued it so
// the gateway can suppress spoken output for stale turns.
type Outcome struct {
	CallID         string
	TurnID         string
	Name           string
	Type           string
	Classification Classification
	Payload        map[string]any
}

func (o Outcome) Success() bool {
	ok, _ := o.Payload["success"].(bool)
	return ok
}

// ResultFunc receives outcomes in issuance order for one turn.
type ResultFunc func(Outcome)

// Dispatcher resolves and executes model-requested tool calls off the
// session gateway's frame loop.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]Tool)}
}

func (d *Dispatcher) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}
	if tool.Classification != ClassificationRelay && tool.Classification != ClassificationSideChannel {
		return fmt.Errorf("tool %q has invalid classification %q", tool.Name, tool.Classification)
	}
	if tool.Type == "" {
		tool.Type = "tool-result"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	d.tools[tool.Name] = tool
	return nil
}

func (d *Dispatcher) Lookup(name string) (Tool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tools[name]
	return t, ok
}

// Manifest builds the tool definitions advertised to the model backend.
func (d *Dispatcher) Manifest() []responder.ToolDef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]responder.ToolDef, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, responder.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Dispatch executes the calls of one model turn on a single worker goroutine,
// preserving issuance order for result delivery. A failing call yields an
// error-tagged payload rather than aborting the turn.
func (d *Dispatcher) Dispatch(ctx context.Context, turnID string, calls []responder.ToolCallEvent, deliver ResultFunc) {
	if len(calls) == 0 || deliver == nil {
		return
	}

	go func() {
		for _, call := range calls {
			deliver(d.execute(ctx, turnID, call))
		}
	}()
}

func (d *Dispatcher) execute(ctx context.Context, turnID string, call responder.ToolCallEvent) Outcome {
	tool, ok := d.Lookup(call.Name)
	if !ok {
		slog.Warn("unknown tool requested", "tool", call.Name, "turn_id", turnID)
		return Outcome{
			CallID:         call.ID,
			TurnID:         turnID,
			Name:           call.Name,
			Type:           "tool-result",
			Classification: ClassificationSideChannel,
			Payload: map[string]any{
				"success": false,
				"message": fmt.Sprintf("unknown tool %q", call.Name),
			},
		}
	}

	payload, err := tool.Handler(ctx, call.Arguments)
	if payload == nil {
		payload = map[string]any{}
	}
	if err != nil {
		payload["success"] = false
		if _, ok := payload["message"]; !ok {
			payload["message"] = err.Error()
		}
		slog.Warn("tool call failed", "tool", tool.Name, "turn_id", turnID, "error", err)
	} else {
		if _, ok := payload["success"]; !ok {
			payload["success"] = true
		}
		if _, ok := payload["message"]; !ok {
			payload["message"] = "ok"
		}
	}

	return Outcome{
		CallID:         call.ID,
		TurnID:         turnID,
		Name:           tool.Name,
		Type:           tool.Type,
		Classification: tool.Classification,
		Payload:        payload,
	}
}
