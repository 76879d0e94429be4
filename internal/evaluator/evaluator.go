// Package evaluator decides whether an incoming message warrants retrieval
// augmentation and derives the query to issue. Cheap deterministic heuristics
// run first; only messages that pass them reach the classification model.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mailbot/internal/models"
	"mailbot/internal/utils"
)

// Classifier is the model capability the evaluator needs. *openai.Client
// satisfies it.
type Classifier interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error)
}

const classifierSystemPrompt = `You decide whether an incoming email needs information retrieved from a document knowledge base before it can be answered well.
Respond with ONLY a JSON object, no other text:
{"needs_retrieval": true|false, "query": "search query if retrieval is needed, else empty", "confidence": 0.0-1.0, "reasoning": "one short sentence"}`

// shortBodyTokenLimit is the heuristic threshold: bodies with at most this
// many meaningful tokens and no links are answered without retrieval.
const shortBodyTokenLimit = 4

// maxQueryTokens caps the derived fallback query length.
const maxQueryTokens = 12

var transactionalPhrases = []string{
	"unsubscribe",
	"opt out",
	"opt-out",
	"remove me from",
	"stop emailing",
}

var acknowledgementPhrases = []string{
	"thank you",
	"thanks",
	"got it",
	"noted",
	"sounds good",
	"perfect",
	"ok",
	"okay",
}

// Evaluator classifies messages.
type Evaluator struct {
	classifier Classifier
	timeout    time.Duration
}

// New creates an evaluator. A nil classifier disables the model tier so
// every decision comes from the heuristics alone.
func New(classifier Classifier, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Evaluator{classifier: classifier, timeout: timeout}
}

// Evaluate returns the retrieval decision for a message. It never returns an
// error: classifier failures fall back to a direct, non-augmented reply.
func (e *Evaluator) Evaluate(ctx context.Context, msg models.InboxMessage) models.EvaluationDecision {
	if decision, decided := e.heuristic(msg); decided {
		return decision
	}
	if e.classifier == nil {
		return models.EvaluationDecision{
			Retrieve:   false,
			Confidence: 0.5,
			Rationale:  "no classifier configured",
		}
	}
	return e.classify(ctx, msg)
}

// heuristic handles the deterministic cases that never need a model call.
func (e *Evaluator) heuristic(msg models.InboxMessage) (models.EvaluationDecision, bool) {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return models.EvaluationDecision{
			Retrieve:   false,
			Confidence: 1,
			Rationale:  "empty body",
		}, true
	}

	lower := strings.ToLower(body)
	for _, phrase := range transactionalPhrases {
		if strings.Contains(lower, phrase) {
			return models.EvaluationDecision{
				Retrieve:   false,
				Confidence: 1,
				Rationale:  "transactional request",
			}, true
		}
	}

	tokens := utils.ExtractMeaningfulTokens(msg.Subject + " " + body)
	if utils.WordCount(body) <= 10 {
		for _, phrase := range acknowledgementPhrases {
			if lower == phrase || strings.HasPrefix(lower, phrase+" ") || strings.HasPrefix(lower, phrase+",") || strings.HasPrefix(lower, phrase+"!") || strings.HasPrefix(lower, phrase+".") {
				return models.EvaluationDecision{
					Retrieve:   false,
					Confidence: 1,
					Rationale:  "acknowledgement",
				}, true
			}
		}
	}

	if len(tokens) <= shortBodyTokenLimit && msg.LinkCount == 0 {
		return models.EvaluationDecision{
			Retrieve:   false,
			Confidence: 1,
			Rationale:  "too short to need retrieval",
		}, true
	}

	return models.EvaluationDecision{}, false
}

// classifierResponse is the JSON shape the model is instructed to return.
type classifierResponse struct {
	NeedsRetrieval bool    `json:"needs_retrieval"`
	Query          string  `json:"query"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

func (e *Evaluator) classify(ctx context.Context, msg models.InboxMessage) models.EvaluationDecision {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	user := fmt.Sprintf("Subject: %s\nAttachments: %d, Links: %d\n\n%s",
		msg.Subject, msg.AttachmentCount, msg.LinkCount, msg.Body)

	raw, err := e.classifier.Complete(ctx, classifierSystemPrompt, user, 200, 0)
	if err != nil {
		log.Warn().Str("message_id", msg.MessageID).Err(err).
			Msg("classifier unavailable, answering without retrieval")
		return e.fallback(msg, "classifier unavailable")
	}

	var parsed classifierResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		log.Warn().Str("message_id", msg.MessageID).Err(err).
			Msg("classifier returned malformed JSON, answering without retrieval")
		return e.fallback(msg, "malformed classifier response")
	}

	decision := models.EvaluationDecision{
		Retrieve:   parsed.NeedsRetrieval,
		Query:      strings.TrimSpace(parsed.Query),
		Confidence: parsed.Confidence,
		Rationale:  parsed.Reasoning,
	}
	if decision.Retrieve && decision.Query == "" {
		decision.Query = DeriveQuery(msg)
	}
	return decision
}

// fallback is the decision used when the model tier fails: answer directly,
// never fail the message.
func (e *Evaluator) fallback(msg models.InboxMessage, rationale string) models.EvaluationDecision {
	return models.EvaluationDecision{
		Retrieve:   false,
		Query:      DeriveQuery(msg),
		Confidence: 0,
		Rationale:  rationale,
	}
}

// DeriveQuery builds a search query from the meaningful tokens of the
// subject and body.
func DeriveQuery(msg models.InboxMessage) string {
	tokens := utils.ExtractMeaningfulTokens(msg.Subject + " " + msg.Body)
	if len(tokens) > maxQueryTokens {
		tokens = tokens[:maxQueryTokens]
	}
	return strings.Join(tokens, " ")
}

// extractJSON returns the first top-level JSON object in raw, tolerating
// code fences and prose around it.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
