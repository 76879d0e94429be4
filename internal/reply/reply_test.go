package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/models"
	"mailbot/internal/retry"
)

type fakeCompleter struct {
	response   string
	err        error
	failTimes  int
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string, _ int, _ float32) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	if f.err != nil {
		return "", f.err
	}
	if f.calls <= f.failTimes {
		return "", errors.New("rate limited")
	}
	return f.response, nil
}

func testPolicy() *retry.Policy {
	return retry.NewPolicy().
		WithSetting(retry.KindGenerate, retry.Setting{MaxAttempts: 2, InitialInterval: time.Millisecond})
}

func TestGenerateReturnsModelOutput(t *testing.T) {
	completer := &fakeCompleter{response: "  Hello Dana, the office opens at 9am.  "}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	reply := g.Generate(context.Background(), models.InboxMessage{
		SenderName: "Dana",
		Subject:    "Opening hours",
		Body:       "When does the office open?",
	}, nil, nil)

	assert.Equal(t, "Hello Dana, the office opens at 9am.", reply)
}

func TestGeneratePromptIncludesContextAndHistory(t *testing.T) {
	completer := &fakeCompleter{response: "reply"}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	g.Generate(context.Background(), models.InboxMessage{
		SenderName: "Dana",
		Subject:    "Benefits",
		Body:       "What does the dental plan cover?",
	}, []models.ConversationTurn{
		{Direction: models.TurnIncoming, Content: "Do we have a dental plan?"},
		{Direction: models.TurnOutgoing, Content: "Yes, through Acme Dental."},
	}, []models.ScoredChunk{
		{Chunk: models.DocumentChunk{Title: "Benefits guide", Source: "handbook", Text: "The dental plan covers two cleanings per year."}, Score: 0.9},
	})

	assert.Contains(t, completer.lastUser, "Benefits guide")
	assert.Contains(t, completer.lastUser, "two cleanings per year")
	assert.Contains(t, completer.lastUser, "Them: Do we have a dental plan?")
	assert.Contains(t, completer.lastUser, "You: Yes, through Acme Dental.")
	assert.Contains(t, completer.lastUser, "What does the dental plan cover?")
}

func TestGenerateTruncatesLongChunks(t *testing.T) {
	completer := &fakeCompleter{response: "reply"}
	g := NewGenerator(completer, testPolicy(), 50, 6)

	long := strings.Repeat("x", 500)
	g.Generate(context.Background(), models.InboxMessage{Body: "question"}, nil, []models.ScoredChunk{
		{Chunk: models.DocumentChunk{Title: "Doc", Text: long}},
	})

	assert.NotContains(t, completer.lastUser, strings.Repeat("x", 51))
	assert.Contains(t, completer.lastUser, strings.Repeat("x", 50)+"...")
}

func TestGenerateWindowsHistory(t *testing.T) {
	completer := &fakeCompleter{response: "reply"}
	g := NewGenerator(completer, testPolicy(), 1200, 2)

	turns := []models.ConversationTurn{
		{Direction: models.TurnIncoming, Content: "oldest question"},
		{Direction: models.TurnOutgoing, Content: "oldest answer"},
		{Direction: models.TurnIncoming, Content: "recent question"},
		{Direction: models.TurnOutgoing, Content: "recent answer"},
	}
	g.Generate(context.Background(), models.InboxMessage{Body: "question"}, turns, nil)

	assert.NotContains(t, completer.lastUser, "oldest question")
	assert.Contains(t, completer.lastUser, "recent question")
	assert.Contains(t, completer.lastUser, "recent answer")
}

func TestGenerateLanguageInstructionFollowsBody(t *testing.T) {
	completer := &fakeCompleter{response: "reply"}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	g.Generate(context.Background(), models.InboxMessage{Body: "מתי המשרד פתוח?"}, nil, nil)
	assert.Contains(t, completer.lastSystem, "Hebrew")

	g.Generate(context.Background(), models.InboxMessage{Body: "When is the office open?"}, nil, nil)
	assert.Contains(t, completer.lastSystem, "English")
}

func TestGenerateFallbackOnError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable: internal token xyz")}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	reply := g.Generate(context.Background(), models.InboxMessage{
		SenderName: "Dana",
		Subject:    "Opening hours",
		Body:       "When does the office open?",
	}, nil, nil)

	require.NotEmpty(t, reply)
	assert.Contains(t, reply, "Dana")
	assert.Contains(t, reply, "Opening hours")
	assert.NotContains(t, reply, "model unavailable")
	assert.NotContains(t, reply, "xyz")
	assert.Equal(t, 2, completer.calls, "the generate policy budget is spent before falling back")
}

func TestGenerateRetriesTransientModelFailure(t *testing.T) {
	completer := &fakeCompleter{response: "Recovered reply.", failTimes: 1}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	reply := g.Generate(context.Background(), models.InboxMessage{
		SenderName: "Dana",
		Body:       "When does the office open?",
	}, nil, nil)

	assert.Equal(t, "Recovered reply.", reply)
	assert.Equal(t, 2, completer.calls)
}

func TestGenerateFallbackOnEmptyOutput(t *testing.T) {
	completer := &fakeCompleter{response: "   \n  "}
	g := NewGenerator(completer, testPolicy(), 1200, 6)

	reply := g.Generate(context.Background(), models.InboxMessage{SenderEmail: "x@example.com"}, nil, nil)

	require.NotEmpty(t, reply)
	assert.Contains(t, reply, "Hello there")
}

func TestFallbackReplyStructure(t *testing.T) {
	reply := FallbackReply(models.InboxMessage{SenderName: "Dana", Subject: "Payroll"})
	assert.Contains(t, reply, "Hello Dana")
	assert.Contains(t, reply, `"Payroll"`)

	reply = FallbackReply(models.InboxMessage{})
	assert.Contains(t, reply, "Hello there")
	assert.Contains(t, reply, "your message")
}
