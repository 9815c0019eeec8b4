package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/crm"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/notify"
)

// Deps holds the external collaborators the standard tool set calls.
type Deps struct {
	SMS   notify.Sender
	CRM   *crm.Client
	Codes *VerificationCodes
}

// RegisterDefaults wires the standard support-line tool set into d.
func RegisterDefaults(d *Dispatcher, deps Deps) error {
	defs := []Tool{
		{
			Name:           "send-verification-code",
			Type:           "tool-result",
			Description:    "Send a six-digit identity verification code to the caller's phone via SMS.",
			Classification: ClassificationRelay,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone": map[string]any{"type": "string", "description": "E.164 phone number to send the code to"},
				},
				"required": []string{"phone"},
			},
			Handler: sendVerificationCode(deps),
		},
		{
			Name:           "verify-code",
			Type:           "tool-result",
			Description:    "Check the verification code the caller read back.",
			Classification: ClassificationRelay,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone": map[string]any{"type": "string"},
					"code":  map[string]any{"type": "string", "description": "the six digits the caller spoke"},
				},
				"required": []string{"phone", "code"},
			},
			Handler: verifyCode(deps),
		},
		{
			Name:           "human-agent-handoff",
			Type:           "handoff",
			Description:    "Hand the caller off to a human agent, with a short summary of the conversation so far.",
			Classification: ClassificationRelay,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason":  map[string]any{"type": "string"},
					"summary": map[string]any{"type": "string"},
				},
				"required": []string{"reason"},
			},
			Handler: humanAgentHandoff(),
		},
		{
			Name:           "send-sms",
			Type:           "tool-result",
			Description:    "Send the caller an informational SMS, e.g. a link or account details.",
			Classification: ClassificationSideChannel,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phone":   map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"phone", "message"},
			},
			Handler: sendSMS(deps),
		},
		{
			Name:           "create-ticket",
			Type:           "tool-result",
			Description:    "Create a support ticket for the caller's issue.",
			Classification: ClassificationSideChannel,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":     map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"phone":       map[string]any{"type": "string"},
					"callSid":     map[string]any{"type": "string"},
				},
				"required": []string{"subject", "description"},
			},
			Handler: createTicket(deps),
		},
	}

	for _, t := range defs {
		if err := d.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func sendVerificationCode(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		phone := stringArg(args, "phone")
		if phone == "" {
			return nil, fmt.Errorf("phone is required")
		}
		code, err := deps.Codes.Issue(phone)
		if err != nil {
			return nil, err
		}
		if err := deps.SMS.SendSMS(ctx, phone, fmt.Sprintf("Your verification code is %s", code)); err != nil {
			return nil, fmt.Errorf("send verification sms: %w", err)
		}
		return map[string]any{
			"message": "Verification code sent. Ask the caller to read the six digits back.",
		}, nil
	}
}

func verifyCode(deps Deps) Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		phone := stringArg(args, "phone")
		code := stringArg(args, "code")
		if phone == "" || code == "" {
			return nil, fmt.Errorf("phone and code are required")
		}
		if !deps.Codes.Check(phone, code) {
			return map[string]any{
				"success":  false,
				"message":  "The code did not match. Offer to resend.",
				"verified": false,
			}, nil
		}
		return map[string]any{
			"message":  "Caller identity verified.",
			"verified": true,
		}, nil
	}
}

func humanAgentHandoff() Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		reason := stringArg(args, "reason")
		if reason == "" {
			return nil, fmt.Errorf("reason is required")
		}
		return map[string]any{
			"message": "Transferring the caller to a human agent.",
			"reason":  reason,
			"summary": stringArg(args, "summary"),
		}, nil
	}
}

func sendSMS(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		phone := stringArg(args, "phone")
		message := stringArg(args, "message")
		if phone == "" || message == "" {
			return nil, fmt.Errorf("phone and message are required")
		}
		if err := deps.SMS.SendSMS(ctx, phone, message); err != nil {
			return nil, fmt.Errorf("send sms: %w", err)
		}
		return map[string]any{"message": "SMS sent."}, nil
	}
}

func createTicket(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		subject := stringArg(args, "subject")
		description := stringArg(args, "description")
		if subject == "" || description == "" {
			return nil, fmt.Errorf("subject and description are required")
		}
		result, err := deps.CRM.CreateTicket(ctx, crm.TicketRequest{
			CallSID:     stringArg(args, "callSid"),
			Phone:       stringArg(args, "phone"),
			Subject:     subject,
			Description: description,
		})
		if err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		return map[string]any{
			"success":  result.Success,
			"message":  result.Message,
			"ticketId": result.TicketID,
		}, nil
	}
}
