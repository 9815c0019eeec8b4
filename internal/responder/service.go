package responder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle        State = "idle"
	StateGenerating  State = "generating"
	StateInterrupted State = "interrupted"
)

// Handlers are registered once at construction and scoped to one session.
// They are invoked in arrival order and never concurrently with each other.
type Handlers struct {
	OnContent   func(turnID, token string, last bool)
	OnToolCalls func(turnID string, calls []ToolCallEvent)
	OnError     func(turnID, code, detail string)
}

// Service owns the conversation context and generation state machine for one
// session. At most one generation is in flight at any instant: a generate
// request while generating forces an interrupt of the running turn first.
type Service struct {
	adapter  Adapter
	handlers Handlers

	// handlerMu serializes handler invocation: tokens and tool calls from a
	// superseded turn can never interleave with the replacement turn's output.
	// Always acquired before mu, never while holding it.
	handlerMu sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID string
	system    string
	messages  []Message
	tools     []ToolDef

	turnCancel context.CancelFunc
	turnToken  int64
	turnID     string
	closed     bool
}

func NewService(sessionID string, adapter Adapter, handlers Handlers) *Service {
	return &Service{
		adapter:   adapter,
		handlers:  handlers,
		state:     StateIdle,
		sessionID: sessionID,
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GenerateResponse starts a new generation from the given role and prompt.
// Backend failures surface through the error handler, never as a panic or an
// error return across the session boundary.
func (s *Service) GenerateResponse(ctx context.Context, role, prompt string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == StateGenerating {
		s.interruptLocked()
	}

	s.messages = append(s.messages, Message{Role: role, Content: prompt})
	s.state = StateGenerating
	s.turnToken++
	token := s.turnToken
	turnID := uuid.NewString()
	s.turnID = turnID

	turnCtx, cancel := context.WithCancel(ctx)
	s.turnCancel = cancel

	req := GenerationRequest{
		SessionID: s.sessionID,
		TurnID:    turnID,
		Messages:  s.snapshotMessagesLocked(),
		Tools:     append([]ToolDef(nil), s.tools...),
	}
	s.mu.Unlock()

	go s.runTurn(turnCtx, token, turnID, req)
}

// InsertMessage appends to the conversation context without starting a
// generation; used for non-spoken system directives and tool results.
func (s *Service) InsertMessage(role, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.messages = append(s.messages, Message{Role: role, Content: message})
}

// InsertToolResult records a tool outcome in the conversation context so the
// model can narrate or summarize it on the next turn.
func (s *Service) InsertToolResult(toolCallID, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.messages = append(s.messages, Message{Role: RoleTool, Content: payload, ToolCallID: toolCallID})
}

// Interrupt cancels any in-flight generation immediately. Already-emitted
// tokens stand; no further tokens or tool calls are delivered for the
// cancelled turn.
func (s *Service) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Service) interruptLocked() {
	if s.state != StateGenerating {
		return
	}
	s.state = StateInterrupted
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	// Invalidate the running turn so late deltas and tool calls are dropped.
	s.turnToken++
	s.turnID = ""
	s.state = StateIdle
}

// UpdateContext hot-swaps the system prompt for subsequent generations.
func (s *Service) UpdateContext(system string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = system
}

// UpdateTools hot-swaps the tool manifest for subsequent generations.
func (s *Service) UpdateTools(tools []ToolDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append([]ToolDef(nil), tools...)
}

// Cleanup releases handlers and cancels any in-flight work. Safe to call
// more than once.
func (s *Service) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.closed = true
	s.handlers = Handlers{}
	s.messages = nil
}

func (s *Service) snapshotMessagesLocked() []Message {
	out := make([]Message, 0, len(s.messages)+1)
	if s.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: s.system})
	}
	out = append(out, s.messages...)
	return out
}

func (s *Service) runTurn(ctx context.Context, token int64, turnID string, req GenerationRequest) {
	onDelta := func(delta string) error {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()

		s.mu.Lock()
		current := s.turnToken == token && !s.closed
		handler := s.handlers.OnContent
		s.mu.Unlock()
		if !current {
			return context.Canceled
		}
		if handler != nil && delta != "" {
			handler(turnID, delta, false)
		}
		return nil
	}

	result, err := s.adapter.StreamCompletion(ctx, req, onDelta)

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.mu.Lock()
	if s.turnToken != token || s.closed {
		// Turn was interrupted or the session closed; drop everything.
		s.mu.Unlock()
		return
	}
	s.turnCancel = nil
	s.turnID = ""
	s.state = StateIdle

	contentHandler := s.handlers.OnContent
	toolHandler := s.handlers.OnToolCalls
	errHandler := s.handlers.OnError

	if err == nil && (result.Text != "" || len(result.ToolCalls) > 0) {
		// A tool-call-only turn still enters the context: the tool results
		// inserted later must follow an assistant message carrying the calls.
		s.messages = append(s.messages, Message{
			Role:      RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if errHandler != nil {
			errHandler(turnID, "generation_failed", err.Error())
		}
		return
	}

	if contentHandler != nil {
		contentHandler(turnID, "", true)
	}
	if len(result.ToolCalls) > 0 && toolHandler != nil {
		toolHandler(turnID, result.ToolCalls)
	}
}
