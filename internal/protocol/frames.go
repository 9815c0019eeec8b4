package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies ConversationRelay websocket payload variants.
type FrameType string

const (
	TypeSetup     FrameType = "setup"
	TypePrompt    FrameType = "prompt"
	TypeInterrupt FrameType = "interrupt"
	TypeDTMF      FrameType = "dtmf"
	TypeInfo      FrameType = "info"

	TypeText FrameType = "text"
)

var (
	ErrUnsupportedType = errors.New("unsupported frame type")

	// ErrInvalidSetup marks a setup frame that cannot open a session; the
	// transport closes the connection rather than waiting for a retry.
	ErrInvalidSetup = errors.New("invalid setup: missing callSid or sessionId")
)

type Envelope struct {
	Type FrameType `json:"type"`
}

// SetupFrame opens a session; it must be the first frame on a connection.
type SetupFrame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
	CallSID   string    `json:"callSid"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// PromptFrame carries the caller's committed speech.
type PromptFrame struct {
	Type        FrameType `json:"type"`
	VoicePrompt string    `json:"voicePrompt"`
	Last        bool      `json:"last"`
}

// InterruptFrame signals the caller spoke over the assistant.
type InterruptFrame struct {
	Type                    FrameType `json:"type"`
	UtteranceUntilInterrupt string    `json:"utteranceUntilInterrupt"`
}

type DTMFFrame struct {
	Type  FrameType `json:"type"`
	Digit string    `json:"digit"`
}

type InfoFrame struct {
	Type        FrameType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// UnknownFrame is a well-formed frame with a tag this relay does not handle.
// It still counts as caller-side activity, so it flows to the gateway instead
// of being rejected at the transport.
type UnknownFrame struct {
	Type FrameType `json:"type"`
}

// TextToken is one outbound spoken-text fragment; Last closes the turn.
type TextToken struct {
	Type  FrameType `json:"type"`
	Token string    `json:"token"`
	Last  bool      `json:"last"`
}

// ToolResultFrame carries a relay-classified tool outcome to the transport.
// The type tag mirrors the tool's registered type string.
type ToolResultFrame struct {
	Type     string `json:"type"`
	ToolData any    `json:"toolData"`
}

// ParseInboundFrame sniffs the type tag and decodes the matching variant.
func ParseInboundFrame(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSetup:
		var msg SetupFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallSID == "" || msg.SessionID == "" {
			return nil, ErrInvalidSetup
		}
		return msg, nil
	case TypePrompt:
		var msg PromptFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.VoicePrompt == "" {
			return nil, errors.New("invalid prompt: missing voicePrompt")
		}
		return msg, nil
	case TypeInterrupt:
		var msg InterruptFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeDTMF:
		var msg DTMFFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Digit == "" {
			return nil, errors.New("invalid dtmf: missing digit")
		}
		return msg, nil
	case TypeInfo:
		var msg InfoFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		if env.Type == "" {
			return nil, ErrUnsupportedType
		}
		return UnknownFrame{Type: env.Type}, nil
	}
}
