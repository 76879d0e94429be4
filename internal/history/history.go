// Package history stores the per-sender conversation turns used to build
// multi-turn reply context.
package history

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"mailbot/internal/models"
)

const schemaTurns = `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		direction TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

const schemaTurnsPostgres = `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id SERIAL PRIMARY KEY,
		sender TEXT NOT NULL,
		direction TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

// Store is the sqlx-backed conversation history. Appends past the per-sender
// cap prune that sender's oldest turns.
type Store struct {
	db  *sqlx.DB
	cap int
}

// NewStore creates the backing table if needed. cap bounds how many turns
// are kept per sender; non-positive means 20.
func NewStore(db *sqlx.DB, capPerSender int) (*Store, error) {
	if capPerSender <= 0 {
		capPerSender = 20
	}
	schema := schemaTurns
	if db.DriverName() == "postgres" {
		schema = schemaTurnsPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	return &Store{db: db, cap: capPerSender}, nil
}

// Append stores a turn and prunes the sender's oldest rows past the cap.
func (s *Store) Append(ctx context.Context, turn models.ConversationTurn) error {
	if turn.Sender == "" {
		return fmt.Errorf("conversation turn has no sender")
	}

	insert := s.db.Rebind(`
		INSERT INTO conversation_turns (sender, direction, subject, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, insert,
		turn.Sender, turn.Direction, turn.Subject, turn.Content, turn.CreatedAt); err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}

	prune := s.db.Rebind(`
		DELETE FROM conversation_turns
		WHERE sender = ? AND id NOT IN (
			SELECT id FROM conversation_turns
			WHERE sender = ?
			ORDER BY id DESC
			LIMIT ?
		)`)
	if _, err := s.db.ExecContext(ctx, prune, turn.Sender, turn.Sender, s.cap); err != nil {
		return fmt.Errorf("failed to prune conversation history: %w", err)
	}
	return nil
}

// Recent returns the sender's last n turns in chronological order.
func (s *Store) Recent(ctx context.Context, sender string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	query := s.db.Rebind(`
		SELECT id, sender, direction, subject, content, created_at
		FROM conversation_turns
		WHERE sender = ?
		ORDER BY id DESC
		LIMIT ?`)

	var turns []models.ConversationTurn
	if err := s.db.SelectContext(ctx, &turns, query, sender, n); err != nil {
		return nil, fmt.Errorf("failed to load recent turns for %s: %w", sender, err)
	}

	// reverse into chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// BySender returns the sender's full stored sequence in chronological order.
func (s *Store) BySender(ctx context.Context, sender string) ([]models.ConversationTurn, error) {
	query := s.db.Rebind(`
		SELECT id, sender, direction, subject, content, created_at
		FROM conversation_turns
		WHERE sender = ?
		ORDER BY id ASC`)

	var turns []models.ConversationTurn
	if err := s.db.SelectContext(ctx, &turns, query, sender); err != nil {
		return nil, fmt.Errorf("failed to load turns for %s: %w", sender, err)
	}
	return turns, nil
}
