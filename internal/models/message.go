package models

import "time"

// InboxMessage is a normalized inbound email. It is immutable once the
// parser has produced it: body text is decoded to UTF-8 and
// Unicode-normalized, regardless of the charset the sender declared.
type InboxMessage struct {
	UID             uint32    `json:"uid"`
	MessageID       string    `json:"message_id"`
	SenderEmail     string    `json:"sender_email"`
	SenderName      string    `json:"sender_name"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	AttachmentCount int       `json:"attachment_count"`
	LinkCount       int       `json:"link_count"`
	ReceivedAt      time.Time `json:"received_at"`
}

// ProcessedRecord maps a message identifier to the time its reply was
// committed. Insertion is the only mutation the ledger performs.
type ProcessedRecord struct {
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// EvaluationDecision is the per-message retrieval routing decision. It is
// ephemeral: computed for a message, consumed by the pipeline, never stored.
type EvaluationDecision struct {
	Retrieve   bool    `json:"retrieve"`
	Query      string  `json:"query"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Turn directions.
const (
	TurnIncoming = "incoming"
	TurnOutgoing = "outgoing"
)

// ConversationTurn is one message in the per-sender conversation history.
// Turns are append-only and ordered by creation time.
type ConversationTurn struct {
	ID        int       `db:"id" json:"id"`
	Sender    string    `db:"sender" json:"sender"`
	Direction string    `db:"direction" json:"direction"`
	Subject   string    `db:"subject" json:"subject"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
