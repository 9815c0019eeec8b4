package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/calllog"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/crm"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/observability"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/policy"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/protocol"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/responder"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/session"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/silence"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/tools"
)

const (
	reEngagementDirective = "The caller has been silent. Gently check whether they are still on the line and restate how you can help, in one short sentence."
	greetingDirective     = "Greet the caller and ask how you can help."
	goodbyeLine           = "It sounds like you've stepped away, so I'll end the call here. Feel free to ring back any time. Goodbye."
	fallbackLine          = "Sorry, I'm having trouble answering right now. Could you say that again?"

	auditTimeout = 2 * time.Second
)

// Deps are the collaborators one Gateway shares across all connections.
type Deps struct {
	Sessions   *session.Manager
	Adapter    responder.Adapter
	Tools      *tools.Dispatcher
	Customers  *crm.Client
	Audit      calllog.Store
	Metrics    *observability.Metrics
	Silence    time.Duration
	RetryLimit int
}

// Gateway owns the frame loop for telephony websocket connections: it binds
// each connection to a session, a response service and a silence monitor, and
// routes frames between the transport and the model backend.
type Gateway struct {
	deps Deps
}

func NewGateway(deps Deps) *Gateway {
	return &Gateway{deps: deps}
}

// connState is the per-connection turn bookkeeping shared between the frame
// loop and the response-service callbacks.
type connState struct {
	mu          sync.Mutex
	currentTurn string
	promptAt    time.Time
	latencySeen bool
	suppressed  map[string]struct{}
}

func (c *connState) noteTurn(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTurn = turnID
}

func (c *connState) notePrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptAt = time.Now()
	c.latencySeen = false
}

// firstTokenLatency reports the prompt-to-first-token delay once per turn.
func (c *connState) firstTokenLatency() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latencySeen || c.promptAt.IsZero() {
		return 0, false
	}
	c.latencySeen = true
	return time.Since(c.promptAt), true
}

// suppressCurrent marks the current turn's pending tool results as
// not-for-speech. Returns the suppressed turn id, if any.
func (c *connState) suppressCurrent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTurn == "" {
		return ""
	}
	if c.suppressed == nil {
		c.suppressed = make(map[string]struct{})
	}
	c.suppressed[c.currentTurn] = struct{}{}
	return c.currentTurn
}

func (c *connState) isSuppressed(turnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.suppressed[turnID]
	return ok
}

// RunConnection drives one telephony connection until the transport closes,
// the context ends, or silence escalation hangs up. The first frame must be
// setup; anything else is logged and dropped while the connection stays open.
func (g *Gateway) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	setup, ok := g.awaitSetup(connCtx, inbound)
	if !ok {
		return nil
	}

	sess := g.deps.Sessions.Register(setup.SessionID, setup.CallSID, setup.From, setup.To)
	g.deps.Metrics.ActiveSessions.Inc()
	g.deps.Metrics.SessionEvents.WithLabelValues("started").Inc()
	defer func() {
		g.deps.Metrics.ActiveSessions.Dec()
		g.deps.Metrics.SessionEvents.WithLabelValues("ended").Inc()
		_, _ = g.deps.Sessions.Close(sess.ID)
		g.recordEvent(sess, calllog.EventCallEnded, nil)
	}()

	profile := g.loadCustomer(connCtx, sess)
	if err := g.deps.Sessions.Activate(sess.ID, profile.FirstName); err != nil {
		slog.Warn("activate session failed", "session_id", sess.ID, "error", err)
	}
	g.recordEvent(sess, calllog.EventCallStarted, map[string]any{
		"from":  sess.From,
		"to":    sess.To,
		"known": profile.FirstName != "",
	})

	state := &connState{}
	var resp *responder.Service
	resp = responder.NewService(sess.ID, g.deps.Adapter, responder.Handlers{
		OnContent: func(turnID, token string, last bool) {
			state.noteTurn(turnID)
			if d, first := state.firstTokenLatency(); first {
				g.deps.Metrics.ObserveGenerationLatency(d)
			}
			g.send(outbound, protocol.TextToken{Type: protocol.TypeText, Token: token, Last: last})
		},
		OnToolCalls: func(turnID string, calls []responder.ToolCallEvent) {
			state.noteTurn(turnID)
			for _, call := range calls {
				_ = g.deps.Sessions.TrackToolCall(sess.ID, call.ID)
			}
			g.deps.Tools.Dispatch(connCtx, turnID, calls, func(o tools.Outcome) {
				g.handleOutcome(sess, state, resp, outbound, o)
			})
		},
		OnError: func(turnID, code, detail string) {
			g.deps.Metrics.ProviderErrors.WithLabelValues("model", code).Inc()
			g.recordEvent(sess, calllog.EventError, map[string]any{"code": code, "detail": detail})
			slog.Error("generation failed", "session_id", sess.ID, "turn_id", turnID, "detail", detail)
			g.send(outbound, protocol.TextToken{Type: protocol.TypeText, Token: fallbackLine, Last: true})
		},
	})
	defer resp.Cleanup()

	resp.UpdateContext(buildSystemPrompt(profile, sess.From))
	resp.UpdateTools(g.deps.Tools.Manifest())

	monitor := silence.NewMonitor(g.deps.Silence, g.deps.RetryLimit)
	defer monitor.Stop()
	monitor.Start(
		func(count int) {
			g.deps.Metrics.SilenceTimeouts.Inc()
			g.recordEvent(sess, calllog.EventSilenceTimeout, map[string]any{"count": count})
			resp.GenerateResponse(connCtx, responder.RoleSystem, reEngagementDirective)
		},
		func() {
			g.recordEvent(sess, calllog.EventSilenceEscalated, nil)
			g.send(outbound, protocol.TextToken{Type: protocol.TypeText, Token: goodbyeLine, Last: true})
			cancel()
		},
	)

	resp.GenerateResponse(connCtx, responder.RoleSystem, greetingDirective)

	for {
		select {
		case <-connCtx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = g.deps.Sessions.Touch(sess.ID)

			switch m := msg.(type) {
			case protocol.PromptFrame:
				monitor.Reset(string(protocol.TypePrompt))
				g.deps.Metrics.Frames.WithLabelValues("inbound", string(protocol.TypePrompt)).Inc()
				state.notePrompt()
				resp.GenerateResponse(connCtx, responder.RoleUser, m.VoicePrompt)
			case protocol.InterruptFrame:
				monitor.Reset(string(protocol.TypeInterrupt))
				g.deps.Metrics.Frames.WithLabelValues("inbound", string(protocol.TypeInterrupt)).Inc()
				_ = g.deps.Sessions.Interrupt(sess.ID)
				suppressedTurn := state.suppressCurrent()
				resp.Interrupt()
				g.deps.Metrics.SessionEvents.WithLabelValues("interrupted").Inc()
				utterance, _ := policy.RedactPII(truncate(m.UtteranceUntilInterrupt, 120))
				g.recordEvent(sess, calllog.EventInterrupted, map[string]any{
					"turn_id":   suppressedTurn,
					"utterance": utterance,
				})
			case protocol.DTMFFrame:
				monitor.Reset(string(protocol.TypeDTMF))
				g.deps.Metrics.Frames.WithLabelValues("inbound", string(protocol.TypeDTMF)).Inc()
				// Keypad input is recorded for diagnostics only; it never
				// enters the conversation context.
				g.recordEvent(sess, calllog.EventDTMF, map[string]any{"digit": m.Digit})
			case protocol.InfoFrame:
				monitor.Reset(string(protocol.TypeInfo))
				g.deps.Metrics.Frames.WithLabelValues("inbound", string(protocol.TypeInfo)).Inc()
				slog.Debug("info frame", "session_id", sess.ID, "description", m.Description)
			case protocol.SetupFrame:
				monitor.Reset(string(protocol.TypeSetup))
				slog.Warn("duplicate setup frame ignored", "session_id", sess.ID)
			case protocol.UnknownFrame:
				monitor.Reset(string(m.Type))
				g.deps.Metrics.Frames.WithLabelValues("inbound", "unknown").Inc()
				slog.Debug("unhandled frame type", "session_id", sess.ID, "frame_type", m.Type)
			default:
				monitor.Reset("unexpected")
				slog.Warn("unexpected frame dropped", "session_id", sess.ID, "frame", fmt.Sprintf("%T", msg))
			}
		}
	}
}

// awaitSetup consumes inbound frames until setup arrives. Pre-setup frames
// are dropped without closing the connection.
func (g *Gateway) awaitSetup(ctx context.Context, inbound <-chan any) (protocol.SetupFrame, bool) {
	for {
		select {
		case <-ctx.Done():
			return protocol.SetupFrame{}, false
		case msg, ok := <-inbound:
			if !ok {
				return protocol.SetupFrame{}, false
			}
			if setup, isSetup := msg.(protocol.SetupFrame); isSetup {
				g.deps.Metrics.Frames.WithLabelValues("inbound", string(protocol.TypeSetup)).Inc()
				return setup, true
			}
			slog.Warn("frame before setup dropped", "frame", fmt.Sprintf("%T", msg))
		}
	}
}

// loadCustomer resolves the caller profile; any failure degrades to an
// anonymous caller rather than failing the session.
func (g *Gateway) loadCustomer(ctx context.Context, sess *session.Session) crm.CustomerProfile {
	if g.deps.Customers == nil {
		return crm.CustomerProfile{}
	}
	profile, err := g.deps.Customers.GetCustomer(ctx, sess.From)
	if err != nil {
		g.deps.Metrics.ProviderErrors.WithLabelValues("crm", "get_customer").Inc()
		slog.Warn("customer lookup failed, continuing anonymous", "session_id", sess.ID, "error", err)
		return crm.CustomerProfile{}
	}
	return profile
}

func (g *Gateway) handleOutcome(sess *session.Session, state *connState, resp *responder.Service, outbound chan<- any, o tools.Outcome) {
	_ = g.deps.Sessions.ResolveToolCall(sess.ID, o.CallID)

	payload, err := json.Marshal(o.Payload)
	if err != nil {
		payload = []byte(`{"success":false,"message":"unencodable tool result"}`)
	}
	resp.InsertToolResult(o.CallID, string(payload))

	outcome := "ok"
	if !o.Success() {
		outcome = "error"
	}
	g.deps.Metrics.ToolCalls.WithLabelValues(o.Name, string(o.Classification), outcome).Inc()

	if state.isSuppressed(o.TurnID) {
		g.recordEvent(sess, calllog.EventToolSuppressed, map[string]any{
			"tool":    o.Name,
			"turn_id": o.TurnID,
			"outcome": outcome,
		})
		return
	}

	kind := calllog.EventToolCall
	if o.Type == "handoff" {
		kind = calllog.EventHandoff
	}
	g.recordEvent(sess, kind, map[string]any{"tool": o.Name, "outcome": outcome})

	if o.Classification == tools.ClassificationRelay {
		g.send(outbound, protocol.ToolResultFrame{Type: o.Type, ToolData: o.Payload})
	}
}

// send never blocks the frame loop: a full outbound buffer drops the frame.
func (g *Gateway) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
		if token, ok := msg.(protocol.TextToken); ok {
			g.deps.Metrics.Frames.WithLabelValues("outbound", string(token.Type)).Inc()
		}
	default:
		slog.Warn("outbound buffer full, dropping frame", "frame", fmt.Sprintf("%T", msg))
	}
}

func (g *Gateway) recordEvent(sess *session.Session, kind calllog.EventKind, detail map[string]any) {
	if g.deps.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := g.deps.Audit.Record(ctx, calllog.Event{
		CallSID:   sess.CallSID,
		SessionID: sess.ID,
		Kind:      kind,
		Detail:    detail,
	})
	if err != nil {
		slog.Warn("audit record failed", "call_sid", sess.CallSID, "kind", kind, "error", err)
	}
}

func buildSystemPrompt(profile crm.CustomerProfile, from string) string {
	var b strings.Builder
	b.WriteString("You are a voice assistant on a live phone call for a customer support line. ")
	b.WriteString("Keep replies short and conversational; they are spoken aloud. ")
	b.WriteString("Never read out codes, account numbers or links; send those by SMS instead.\n\n")

	if profile.FirstName != "" {
		fmt.Fprintf(&b, "The caller is %s %s, calling from %s. Greet them by first name.\n", profile.FirstName, profile.LastName, from)
	} else {
		fmt.Fprintf(&b, "The caller's number is %s but they are not in our records. Greet them warmly without using a name.\n", from)
	}

	b.WriteString("Before discussing account details, verify the caller's identity: ")
	b.WriteString("send a verification code to their phone and have them read it back.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
