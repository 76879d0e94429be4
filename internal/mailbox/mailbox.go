// Package mailbox holds the two transport halves: IMAP inbound scanning and
// SendGrid outbound delivery. Both sit behind interfaces so the pipeline is
// testable without live mail services.
package mailbox

import (
	"context"
	"errors"
	"strings"
)

// ErrAuth marks an authentication or permission failure. It is fatal for the
// affected transport: the cycle surfaces it instead of retrying.
var ErrAuth = errors.New("mail transport authentication failed")

// ErrInvalidState marks an operation issued in a connection state that does
// not permit it. It is recoverable: reconnect and retry once.
var ErrInvalidState = errors.New("operation invalid in current connection state")

// RawMessage is a fetched-but-unparsed mailbox message.
type RawMessage struct {
	UID       uint32
	MessageID string
	Data      []byte
}

// OutboundReply is a reply ready for submission.
type OutboundReply struct {
	ToAddress string
	ToName    string
	Subject   string
	Body      string
	InReplyTo string
}

// Inbox is the inbound half: scan for unread messages and flag them read.
type Inbox interface {
	FetchUnread(ctx context.Context, limit int) ([]RawMessage, error)
	MarkRead(ctx context.Context, uid uint32) error
	Close() error
}

// Sender is the outbound half.
type Sender interface {
	Send(ctx context.Context, reply OutboundReply) error
}

// ReplySubject prefixes subject with "Re: " unless a reply prefix is already
// present.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
