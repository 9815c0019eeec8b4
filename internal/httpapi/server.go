package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/calllog"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/config"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/observability"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/protocol"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/session"
)

// Gateway drives one telephony websocket connection end to end.
type Gateway interface {
	RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	gateway  Gateway
	audit    calllog.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, gateway Gateway, audit calllog.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		gateway:  gateway,
		audit:    audit,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony media gateways are not browsers and usually omit
				// Origin; browser connections must come from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/twiml", s.handleTwiML)
	r.Get("/ws", s.handleRelayWS)
	r.Get("/v1/calls/{callSid}/events", s.handleCallEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleTwiML answers the voice webhook with instructions to open the
// streaming websocket back to this host.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(s.cfg.PublicHost)
	if host == "" {
		host = r.Host
	}

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <ConversationRelay url="wss://%s/ws" />
  </Connect>
</Response>
`, host)
}

func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	callSID := strings.TrimSpace(chi.URLParam(r, "callSid"))
	if callSID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_sid", "call sid is required")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.audit.Events(r.Context(), callSID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"callSid": callSID, "events": events})
}

func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "gateway not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.gateway.RunConnection(ctx, inbound, outbound)
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return false
			}
			return true
		}
		for {
			select {
			case msg := <-outbound:
				if !write(msg) {
					return
				}
			case <-runDone:
				// The gateway has hung up; flush whatever it queued on the
				// way out (a goodbye, a final tool result) before the socket
				// closes.
				for {
					select {
					case msg := <-outbound:
						if !write(msg) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	// Once the writer has delivered everything, close the socket so a read
	// loop blocked in ReadMessage does not keep the call leg alive.
	go func() {
		<-writerDone
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseInboundFrame(data)
		if err != nil {
			s.metrics.Frames.WithLabelValues("inbound", "invalid").Inc()
			if errors.Is(err, protocol.ErrInvalidSetup) {
				slog.Warn("unusable setup frame, closing connection", "error", err)
				break
			}
			// Other malformed or unsupported frames are dropped; the call goes on.
			slog.Warn("invalid inbound frame dropped", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
