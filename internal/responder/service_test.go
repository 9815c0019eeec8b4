package responder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedAdapter emits deltas when released, so tests can interleave
// interrupts with an in-flight generation.
type scriptedAdapter struct {
	mu      sync.Mutex
	deltas  []string
	calls   []ToolCallEvent
	err     error
	release chan struct{}
	started chan struct{}
}

func newScriptedAdapter(deltas []string) *scriptedAdapter {
	return &scriptedAdapter{
		deltas:  deltas,
		release: make(chan struct{}),
		started: make(chan struct{}, 8),
	}
}

func (a *scriptedAdapter) StreamCompletion(ctx context.Context, req GenerationRequest, onDelta DeltaHandler) (GenerationResult, error) {
	a.started <- struct{}{}
	select {
	case <-ctx.Done():
		return GenerationResult{}, ctx.Err()
	case <-a.release:
	}

	a.mu.Lock()
	deltas := a.deltas
	calls := a.calls
	err := a.err
	a.mu.Unlock()

	if err != nil {
		return GenerationResult{}, err
	}

	var out strings.Builder
	for _, d := range deltas {
		select {
		case <-ctx.Done():
			return GenerationResult{}, ctx.Err()
		default:
		}
		if onDelta != nil {
			if derr := onDelta(d); derr != nil {
				return GenerationResult{}, derr
			}
		}
		out.WriteString(d)
	}
	return GenerationResult{Text: out.String(), ToolCalls: calls}, nil
}

type recordedToken struct {
	token string
	last  bool
}

type recorder struct {
	mu     sync.Mutex
	tokens []recordedToken
	calls  []ToolCallEvent
	errs   []string
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 8)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnContent: func(_, token string, last bool) {
			r.mu.Lock()
			r.tokens = append(r.tokens, recordedToken{token: token, last: last})
			r.mu.Unlock()
			if last {
				r.done <- struct{}{}
			}
		},
		OnToolCalls: func(_ string, calls []ToolCallEvent) {
			r.mu.Lock()
			r.calls = append(r.calls, calls...)
			r.mu.Unlock()
		},
		OnError: func(_, code, _ string) {
			r.mu.Lock()
			r.errs = append(r.errs, code)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
	}
}

func (r *recorder) tokenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func waitCh(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestGenerateResponseCompletesToIdle(t *testing.T) {
	adapter := newScriptedAdapter([]string{"Hi ", "Des"})
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "hello")
	waitCh(t, adapter.started, "generation start")
	if got := svc.State(); got != StateGenerating {
		t.Fatalf("state = %q, want %q", got, StateGenerating)
	}

	close(adapter.release)
	waitCh(t, rec.done, "turn completion")

	if got := svc.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.tokens) != 3 {
		t.Fatalf("tokens = %+v, want two deltas plus final", rec.tokens)
	}
	if !rec.tokens[2].last || rec.tokens[2].token != "" {
		t.Fatalf("final token = %+v, want empty last marker", rec.tokens[2])
	}
}

func TestInterruptSuppressesRemainingTokens(t *testing.T) {
	adapter := newScriptedAdapter([]string{"never", "spoken"})
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "hello")
	waitCh(t, adapter.started, "generation start")

	svc.Interrupt()
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state after interrupt = %q, want %q", got, StateIdle)
	}

	close(adapter.release)
	time.Sleep(50 * time.Millisecond)
	if n := rec.tokenCount(); n != 0 {
		t.Fatalf("tokens after interrupt = %d, want 0", n)
	}
}

func TestInterruptDiscardsToolCalls(t *testing.T) {
	adapter := newScriptedAdapter(nil)
	adapter.calls = []ToolCallEvent{{ID: "tc1", Name: "send-sms"}}
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "text me the details")
	waitCh(t, adapter.started, "generation start")
	svc.Interrupt()
	close(adapter.release)
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 0 {
		t.Fatalf("tool calls after interrupt = %+v, want none", rec.calls)
	}
}

func TestGenerateWhileGeneratingForcesInterrupt(t *testing.T) {
	adapter := newScriptedAdapter([]string{"first turn"})
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "one")
	waitCh(t, adapter.started, "first generation start")

	svc.GenerateResponse(context.Background(), RoleUser, "two")
	waitCh(t, adapter.started, "second generation start")
	if got := svc.State(); got != StateGenerating {
		t.Fatalf("state = %q, want %q", got, StateGenerating)
	}

	close(adapter.release)
	waitCh(t, rec.done, "second turn completion")

	// Only the second turn's output may be delivered.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, tok := range rec.tokens {
		if strings.Contains(tok.token, "first") && len(rec.tokens) > 2 {
			t.Fatalf("first turn leaked tokens: %+v", rec.tokens)
		}
	}
}

func TestBackendErrorSurfacesThroughHandler(t *testing.T) {
	adapter := newScriptedAdapter(nil)
	adapter.err = errors.New("backend unreachable")
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "hello")
	waitCh(t, adapter.started, "generation start")
	close(adapter.release)
	waitCh(t, rec.done, "error delivery")

	if got := svc.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 || rec.errs[0] != "generation_failed" {
		t.Fatalf("errs = %v, want [generation_failed]", rec.errs)
	}
}

func TestToolResultsEnterContext(t *testing.T) {
	adapter := newScriptedAdapter([]string{"ok"})
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.UpdateContext("you are a support agent")
	svc.InsertMessage(RoleSystem, "caller verified")
	svc.InsertToolResult("tc1", `{"success":true}`)

	svc.GenerateResponse(context.Background(), RoleUser, "did it work?")
	waitCh(t, adapter.started, "generation start")
	close(adapter.release)
	waitCh(t, rec.done, "turn completion")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.messages) < 4 {
		t.Fatalf("messages = %d, want system directive + tool result + user + assistant", len(svc.messages))
	}
	if svc.messages[1].Role != RoleTool || svc.messages[1].ToolCallID != "tc1" {
		t.Fatalf("tool message = %+v", svc.messages[1])
	}
}

func TestToolCallTurnPairsWithLaterResult(t *testing.T) {
	adapter := newScriptedAdapter(nil)
	adapter.calls = []ToolCallEvent{{ID: "tc1", Name: "send-verification-code", Arguments: map[string]any{"phone": "+614"}}}
	rec := newRecorder()
	svc := NewService("VX1", adapter, rec.handlers())

	svc.GenerateResponse(context.Background(), RoleUser, "verify me")
	waitCh(t, adapter.started, "generation start")
	close(adapter.release)
	waitCh(t, rec.done, "turn completion")

	svc.InsertToolResult("tc1", `{"success":true}`)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.messages) != 3 {
		t.Fatalf("messages = %+v, want user + assistant tool-call turn + tool result", svc.messages)
	}
	assistant := svc.messages[1]
	if assistant.Role != RoleAssistant || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "tc1" {
		t.Fatalf("assistant message = %+v, want recorded tool call tc1", assistant)
	}
	if svc.messages[2].Role != RoleTool || svc.messages[2].ToolCallID != "tc1" {
		t.Fatalf("tool message = %+v, want result paired to tc1", svc.messages[2])
	}
}

func TestForcedInterruptNeverInterleavesHandlers(t *testing.T) {
	adapter := newScriptedAdapter([]string{"first-a", "first-b"})
	rec := newRecorder()
	blocked := make(chan struct{})
	proceed := make(chan struct{})

	var once sync.Once
	svc := NewService("VX1", adapter, Handlers{
		OnContent: func(_, token string, last bool) {
			if token == "first-a" {
				once.Do(func() {
					close(blocked)
					<-proceed
				})
			}
			rec.mu.Lock()
			rec.tokens = append(rec.tokens, recordedToken{token: token, last: last})
			rec.mu.Unlock()
			if last {
				rec.done <- struct{}{}
			}
		},
	})

	svc.GenerateResponse(context.Background(), RoleUser, "one")
	waitCh(t, adapter.started, "first generation start")
	close(adapter.release)
	waitCh(t, blocked, "first delta in flight")

	// Second prompt forces an interrupt while the first delta's handler is
	// still running; its output must wait, not interleave.
	adapter.mu.Lock()
	adapter.deltas = []string{"second"}
	adapter.mu.Unlock()
	svc.GenerateResponse(context.Background(), RoleUser, "two")
	waitCh(t, adapter.started, "second generation start")

	close(proceed)
	waitCh(t, rec.done, "second turn completion")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, tok := range rec.tokens {
		if strings.HasPrefix(tok.token, "first") && i > 0 {
			t.Fatalf("superseded turn token %q delivered after position 0: %+v", tok.token, rec.tokens)
		}
	}
	lastTok := rec.tokens[len(rec.tokens)-1]
	if !lastTok.last {
		t.Fatalf("final token = %+v, want last marker", lastTok)
	}
	for _, tok := range rec.tokens {
		if tok.token == "first-b" {
			t.Fatalf("token after interrupt leaked: %+v", rec.tokens)
		}
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	adapter := newScriptedAdapter(nil)
	svc := NewService("VX1", adapter, Handlers{})
	svc.Cleanup()
	svc.Cleanup()
	svc.GenerateResponse(context.Background(), RoleUser, "ignored after cleanup")
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
}
