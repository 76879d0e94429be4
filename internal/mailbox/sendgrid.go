package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender submits replies through the SendGrid API.
type SendGridSender struct {
	apiKey      string
	fromAddress string
	fromName    string
}

// NewSendGridSender creates the outbound half.
func NewSendGridSender(apiKey, fromAddress, fromName string) *SendGridSender {
	return &SendGridSender{
		apiKey:      apiKey,
		fromAddress: fromAddress,
		fromName:    fromName,
	}
}

// Send submits the reply. The subject gets a "Re: " prefix when missing and
// threading headers are set from the original Message-ID. Authentication and
// permission rejections map to ErrAuth; every other failure is transient and
// left to the caller's retry policy.
func (s *SendGridSender) Send(ctx context.Context, reply OutboundReply) error {
	if s.apiKey == "" {
		return fmt.Errorf("sendgrid: %w: no API key configured", ErrAuth)
	}

	from := mail.NewEmail(s.fromName, s.fromAddress)
	to := mail.NewEmail(reply.ToName, reply.ToAddress)
	subject := ReplySubject(reply.Subject)

	message := mail.NewSingleEmail(from, subject, to, reply.Body, reply.Body)
	if reply.InReplyTo != "" {
		ref := threadingID(reply.InReplyTo)
		message.SetHeader("In-Reply-To", ref)
		message.SetHeader("References", ref)
	}

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", reply.ToAddress, err)
	}
	if err := sendErrorFromStatus(response.StatusCode, response.Body); err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", reply.ToAddress, err)
	}

	log.Info().Str("to", reply.ToAddress).Str("subject", subject).Msg("reply sent")
	return nil
}

// threadingID formats a message id as an RFC 5322 msg-id for the In-Reply-To
// and References headers. Parsed ids arrive without the angle brackets.
func threadingID(id string) string {
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

// sendErrorFromStatus maps a SendGrid response status to the error taxonomy:
// 401/403 are fatal auth failures, other non-2xx statuses are transient.
func sendErrorFromStatus(status int, body string) error {
	switch {
	case status < 400:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, status, body)
	default:
		return fmt.Errorf("status %d: %s", status, body)
	}
}
