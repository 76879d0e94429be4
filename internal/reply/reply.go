// Package reply builds the reply prompt from the incoming message, retrieved
// context and prior conversation turns, and runs the generation model.
package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"mailbot/internal/models"
	"mailbot/internal/retry"
	"mailbot/internal/utils"
)

// Completer is the generation capability. *openai.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error)
}

const personaPrompt = `You are a helpful email assistant. You answer incoming emails on behalf of your owner.
Write a complete, polite email reply to the message below. Use the provided context excerpts when they are relevant, but do not mention that you were given context or how you work internally.
Do not include a subject line; write only the reply body. Sign off as "The Assistant".`

// Generator produces reply text for incoming messages.
type Generator struct {
	completer      Completer
	retries        *retry.Policy
	contextCharCap int
	historyWindow  int
	maxReplyTokens int
}

// NewGenerator creates a generator. contextCharCap bounds each retrieved
// chunk, historyWindow bounds the number of prior turns included. A nil
// retries gets the default policy.
func NewGenerator(completer Completer, retries *retry.Policy, contextCharCap, historyWindow int) *Generator {
	if retries == nil {
		retries = retry.NewPolicy()
	}
	if contextCharCap <= 0 {
		contextCharCap = 1200
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &Generator{
		completer:      completer,
		retries:        retries,
		contextCharCap: contextCharCap,
		historyWindow:  historyWindow,
		maxReplyTokens: 700,
	}
}

// Generate returns the reply text for a message. It never returns an error:
// model failures are retried under the generate policy and then degrade to a
// deterministic fallback reply, as does empty output.
func (g *Generator) Generate(ctx context.Context, msg models.InboxMessage, priorTurns []models.ConversationTurn, retrieved []models.ScoredChunk) string {
	prompt := g.buildPrompt(msg, priorTurns, retrieved)
	system := personaPrompt + "\n" + utils.LanguageInstruction(utils.DetectLanguage(msg.Body))

	var text string
	err := g.retries.Do(ctx, retry.KindGenerate, func() error {
		out, err := g.completer.Complete(ctx, system, prompt, g.maxReplyTokens, 0.7)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		log.Warn().Str("message_id", msg.MessageID).Err(err).
			Msg("reply generation failed, using fallback reply")
		return FallbackReply(msg)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn().Str("message_id", msg.MessageID).
			Msg("reply generation returned empty output, using fallback reply")
		return FallbackReply(msg)
	}
	return text
}

func (g *Generator) buildPrompt(msg models.InboxMessage, priorTurns []models.ConversationTurn, retrieved []models.ScoredChunk) string {
	var b strings.Builder

	if len(retrieved) > 0 {
		b.WriteString("Context excerpts:\n")
		for i, sc := range retrieved {
			text := sc.Chunk.Text
			if len([]rune(text)) > g.contextCharCap {
				text = string([]rune(text)[:g.contextCharCap]) + "..."
			}
			fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, sc.Chunk.Title, sc.Chunk.Source, text)
		}
	}

	if len(priorTurns) > g.historyWindow {
		priorTurns = priorTurns[len(priorTurns)-g.historyWindow:]
	}
	if len(priorTurns) > 0 {
		b.WriteString("Previous conversation with this sender:\n")
		for _, turn := range priorTurns {
			role := "Them"
			if turn.Direction == models.TurnOutgoing {
				role = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, turn.Content)
		}
		b.WriteString("\n")
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderEmail
	}
	fmt.Fprintf(&b, "New email from %s\nSubject: %s\n\n%s", sender, msg.Subject, msg.Body)
	return b.String()
}

// FallbackReply is the deterministic reply sent when generation fails. It
// acknowledges the message without leaking any internal error detail.
func FallbackReply(msg models.InboxMessage) string {
	name := strings.TrimSpace(msg.SenderName)
	if name == "" {
		name = "there"
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = "your message"
	} else {
		subject = fmt.Sprintf("%q", subject)
	}
	return fmt.Sprintf(
		"Hello %s,\n\nThank you for your email about %s. I received it and will get back to you with a proper answer as soon as I can.\n\nBest regards,\nThe Assistant",
		name, subject)
}
