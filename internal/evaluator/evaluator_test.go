package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailbot/internal/models"
)

type fakeClassifier struct {
	response string
	err      error
	calls    int
	delay    time.Duration
}

func (f *fakeClassifier) Complete(ctx context.Context, _, _ string, _ int, _ float32) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestEvaluateEmptyBodySkipsModel(t *testing.T) {
	classifier := &fakeClassifier{}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{Subject: "hi", Body: "   "})

	assert.False(t, decision.Retrieve)
	assert.Equal(t, "empty body", decision.Rationale)
	assert.Equal(t, 0, classifier.calls)
}

func TestEvaluateUnsubscribeSkipsModel(t *testing.T) {
	classifier := &fakeClassifier{}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "please unsubscribe me",
		Body:    "I want to unsubscribe from this list.",
	})

	assert.False(t, decision.Retrieve)
	assert.Equal(t, 0, classifier.calls)
}

func TestEvaluateAcknowledgementSkipsModel(t *testing.T) {
	classifier := &fakeClassifier{}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Re: your answer",
		Body:    "Thanks, that helped a lot!",
	})

	assert.False(t, decision.Retrieve)
	assert.Equal(t, "acknowledgement", decision.Rationale)
	assert.Equal(t, 0, classifier.calls)
}

func TestEvaluateSubstantiveQuestionUsesModel(t *testing.T) {
	classifier := &fakeClassifier{
		response: `{"needs_retrieval": true, "query": "parental leave policy", "confidence": 0.9, "reasoning": "policy question"}`,
	}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Question about leave",
		Body:    "Could you explain how the parental leave policy works for new employees joining mid-year?",
	})

	assert.True(t, decision.Retrieve)
	assert.Equal(t, "parental leave policy", decision.Query)
	assert.InDelta(t, 0.9, decision.Confidence, 0.001)
	assert.Equal(t, 1, classifier.calls)
}

func TestEvaluateModelResponseInCodeFence(t *testing.T) {
	classifier := &fakeClassifier{
		response: "```json\n{\"needs_retrieval\": true, \"query\": \"vacation days\", \"confidence\": 0.8, \"reasoning\": \"hr\"}\n```",
	}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Vacation",
		Body:    "How many vacation days do employees in the engineering department receive each year?",
	})

	assert.True(t, decision.Retrieve)
	assert.Equal(t, "vacation days", decision.Query)
}

func TestEvaluateMalformedResponseFallsBack(t *testing.T) {
	classifier := &fakeClassifier{response: "I think retrieval would be helpful here."}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Billing",
		Body:    "Why was my latest invoice higher than the amount quoted in the original contract document?",
	})

	assert.False(t, decision.Retrieve)
	assert.NotEmpty(t, decision.Query)
	assert.Equal(t, "malformed classifier response", decision.Rationale)
}

func TestEvaluateClassifierErrorFallsBack(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("service down")}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Billing",
		Body:    "Why was my latest invoice higher than the amount quoted in the original contract document?",
	})

	assert.False(t, decision.Retrieve)
	assert.Equal(t, "classifier unavailable", decision.Rationale)
}

func TestEvaluateClassifierTimeoutFallsBack(t *testing.T) {
	classifier := &fakeClassifier{
		response: `{"needs_retrieval": true}`,
		delay:    200 * time.Millisecond,
	}
	e := New(classifier, 20*time.Millisecond)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Billing",
		Body:    "Why was my latest invoice higher than the amount quoted in the original contract document?",
	})

	assert.False(t, decision.Retrieve)
	assert.Equal(t, "classifier unavailable", decision.Rationale)
}

func TestEvaluateRetrievalWithoutQueryDerivesOne(t *testing.T) {
	classifier := &fakeClassifier{
		response: `{"needs_retrieval": true, "query": "", "confidence": 0.7, "reasoning": "question"}`,
	}
	e := New(classifier, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Parking",
		Body:    "Where can visitors park when they come to the downtown office for meetings?",
	})

	assert.True(t, decision.Retrieve)
	assert.NotEmpty(t, decision.Query)
	assert.Contains(t, decision.Query, "parking")
}

func TestEvaluateDeterministicForIdenticalInput(t *testing.T) {
	classifier := &fakeClassifier{
		response: `{"needs_retrieval": true, "query": "remote work", "confidence": 0.85, "reasoning": "policy"}`,
	}
	e := New(classifier, time.Second)
	msg := models.InboxMessage{
		Subject: "Remote work",
		Body:    "What does the company policy say about working remotely from another country for a month?",
	}

	first := e.Evaluate(context.Background(), msg)
	second := e.Evaluate(context.Background(), msg)

	assert.Equal(t, first, second)
}

func TestEvaluateNilClassifier(t *testing.T) {
	e := New(nil, time.Second)

	decision := e.Evaluate(context.Background(), models.InboxMessage{
		Subject: "Policy",
		Body:    "What does the relocation policy cover for employees moving between regional offices?",
	})

	assert.False(t, decision.Retrieve)
}

func TestDeriveQueryCapsTokens(t *testing.T) {
	msg := models.InboxMessage{
		Subject: "one two three four five six seven",
		Body:    "eight nine ten eleven twelve thirteen fourteen fifteen sixteen",
	}

	query := DeriveQuery(msg)
	assert.NotEmpty(t, query)
	assert.LessOrEqual(t, len(query), 150)
}
