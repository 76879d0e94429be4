// Package orchestrator wires the pipeline together: fetch unread mail, parse,
// decide on retrieval, generate and send replies, and commit the ledger. One
// pipeline execution runs at a time; the interval loop and the manual trigger
// both funnel through the same run-lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"mailbot/internal/ledger"
	"mailbot/internal/mailbox"
	"mailbot/internal/models"
	"mailbot/internal/retry"
)

// ErrAlreadyRunning is returned by RunNow and Trigger when a pipeline
// execution is already in flight. Triggers are coalesced, never queued.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

// Cycle outcomes reported on the status surface.
const (
	OutcomeOK          = "ok"
	OutcomePartial     = "partial"
	OutcomeIdle        = "idle"
	OutcomeAuthError   = "auth_error"
	OutcomeFetchError  = "fetch_error"
	OutcomeLedgerError = "ledger_error"
)

// Status is a point-in-time snapshot of the orchestrator. Reads are
// lock-free.
type Status struct {
	Running        bool       `json:"running"`
	LastRunAt      *time.Time `json:"last_run_at"`
	LastOutcome    string     `json:"last_outcome"`
	ProcessedCount int        `json:"processed_count"`
	LastError      string     `json:"last_error,omitempty"`
}

// Parser turns raw message bytes into a normalized InboxMessage.
type Parser interface {
	Parse(uid uint32, raw []byte) (*models.InboxMessage, error)
}

// Evaluator decides whether a message needs retrieval.
type Evaluator interface {
	Evaluate(ctx context.Context, msg models.InboxMessage) models.EvaluationDecision
}

// Searcher is the retrieval slice of the index the pipeline uses.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
}

// Generator produces reply text.
type Generator interface {
	Generate(ctx context.Context, msg models.InboxMessage, priorTurns []models.ConversationTurn, retrieved []models.ScoredChunk) string
}

// History is the conversation store slice the pipeline uses.
type History interface {
	Append(ctx context.Context, turn models.ConversationTurn) error
	Recent(ctx context.Context, sender string, n int) ([]models.ConversationTurn, error)
}

// Options bounds a cycle.
type Options struct {
	Interval       time.Duration
	MaxBatchSize   int
	MaxResults     int
	HistoryWindow  int
	MessageTimeout time.Duration
}

// Orchestrator drives the pipeline.
type Orchestrator struct {
	inbox     mailbox.Inbox
	sender    mailbox.Sender
	parser    Parser
	processed ledger.Ledger
	evaluator Evaluator
	index     Searcher
	generator Generator
	history   History
	retries   *retry.Policy
	opts      Options

	runLock sync.Mutex
	status  atomic.Pointer[Status]
	total   atomic.Int64

	closing atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New wires an orchestrator. index may be nil when no retrieval backend is
// configured; retrieval then degrades to direct replies.
func New(inbox mailbox.Inbox, sender mailbox.Sender, parser Parser, processed ledger.Ledger,
	evaluator Evaluator, index Searcher, generator Generator, history History,
	retries *retry.Policy, opts Options) *Orchestrator {

	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 2 * time.Minute
	}

	o := &Orchestrator{
		inbox:     inbox,
		sender:    sender,
		parser:    parser,
		processed: processed,
		evaluator: evaluator,
		index:     index,
		generator: generator,
		history:   history,
		retries:   retries,
		opts:      opts,
		stop:      make(chan struct{}),
	}
	o.status.Store(&Status{LastOutcome: OutcomeIdle})
	return o
}

// Status returns the latest snapshot without taking the run-lock.
func (o *Orchestrator) Status() Status {
	return *o.status.Load()
}

func (o *Orchestrator) setStatus(running bool, outcome string, lastErr error) {
	now := time.Now().UTC()
	prev := o.status.Load()
	next := &Status{
		Running:        running,
		LastRunAt:      prev.LastRunAt,
		LastOutcome:    prev.LastOutcome,
		ProcessedCount: int(o.total.Load()),
	}
	if outcome != "" {
		next.LastRunAt = &now
		next.LastOutcome = outcome
	}
	if lastErr != nil {
		next.LastError = lastErr.Error()
	}
	o.status.Store(next)
}

// RunNow executes one pipeline cycle. A concurrent call returns
// ErrAlreadyRunning instead of starting a second execution.
func (o *Orchestrator) RunNow(ctx context.Context) error {
	if !o.runLock.TryLock() {
		return ErrAlreadyRunning
	}
	defer o.runLock.Unlock()
	return o.cycle(ctx)
}

// Trigger acquires the run-lock and executes the cycle in the background.
// The accepted-or-conflict answer reflects the acquisition itself, so two
// near-simultaneous triggers never both report a started run.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	if !o.runLock.TryLock() {
		return ErrAlreadyRunning
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.runLock.Unlock()
		if err := o.cycle(ctx); err != nil {
			log.Error().Err(err).Msg("triggered run failed")
		}
	}()
	return nil
}

// cycle runs one execution under the already-held run-lock.
func (o *Orchestrator) cycle(ctx context.Context) error {
	o.setStatus(true, "", nil)
	outcome, err := o.runCycle(ctx)
	o.setStatus(false, outcome, err)

	log.Info().Str("outcome", outcome).Err(err).Msg("pipeline cycle finished")
	return err
}

// runCycle fetches the unread batch and processes it message by message.
// Per-message failures are isolated; only transport authentication and
// ledger write failures abort the cycle.
func (o *Orchestrator) runCycle(ctx context.Context) (string, error) {
	var batch []mailbox.RawMessage
	fetchErr := o.retries.Do(ctx, retry.KindFetch, func() error {
		var err error
		batch, err = o.inbox.FetchUnread(ctx, o.opts.MaxBatchSize)
		if errors.Is(err, mailbox.ErrAuth) {
			return retry.Permanent(err)
		}
		return err
	})
	if fetchErr != nil {
		if errors.Is(fetchErr, mailbox.ErrAuth) {
			return OutcomeAuthError, fetchErr
		}
		return OutcomeFetchError, fetchErr
	}
	if len(batch) == 0 {
		return OutcomeIdle, nil
	}

	log.Info().Int("messages", len(batch)).Msg("processing unread batch")

	succeeded, failed := 0, 0
	for _, raw := range batch {
		if ctx.Err() != nil || o.closing.Load() {
			log.Info().Msg("stopping batch before next message")
			break
		}

		// Each message runs under its own deadline so the run-lock is never
		// held across an unbounded wait.
		mctx, cancel := context.WithTimeout(ctx, o.opts.MessageTimeout)
		err := o.processMessage(mctx, raw)
		cancel()
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, mailbox.ErrAuth):
			return OutcomeAuthError, err
		case errors.Is(err, errLedgerWrite):
			return OutcomeLedgerError, err
		case errors.Is(err, errSkipped):
			// already processed, nothing to count
		default:
			failed++
			log.Error().Uint32("uid", raw.UID).Err(err).Msg("message failed, continuing batch")
		}
	}

	if failed > 0 {
		return OutcomePartial, fmt.Errorf("%d of %d messages failed", failed, succeeded+failed)
	}
	return OutcomeOK, nil
}

var (
	errSkipped     = errors.New("message already processed")
	errLedgerWrite = errors.New("ledger write failed")
)

// processMessage runs one message through parse, evaluate, retrieve,
// generate, send and commit.
func (o *Orchestrator) processMessage(ctx context.Context, raw mailbox.RawMessage) error {
	id := raw.MessageID
	if id == "" {
		id = fmt.Sprintf("uid:%d", raw.UID)
	}

	// A fetched message already in the ledger means an earlier crash landed
	// between commit and mark-read. Heal by marking it read, never reply twice.
	if o.processed.Contains(id) {
		log.Info().Str("message_id", id).Msg("message already in ledger, marking read")
		o.markRead(ctx, raw.UID)
		return errSkipped
	}

	parsed, err := o.parser.Parse(raw.UID, raw.Data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	// msg.MessageID stays empty when the header carried none; the synthetic
	// ledger key must not leak into the outbound threading headers.
	msg := *parsed

	decision := o.evaluator.Evaluate(ctx, msg)
	log.Debug().Str("message_id", id).Bool("retrieve", decision.Retrieve).
		Str("rationale", decision.Rationale).Msg("message evaluated")

	var retrieved []models.ScoredChunk
	if decision.Retrieve && o.index != nil {
		searchErr := o.retries.Do(ctx, retry.KindEmbed, func() error {
			var err error
			retrieved, err = o.index.Search(ctx, decision.Query, o.opts.MaxResults)
			return err
		})
		if searchErr != nil {
			// index unavailable degrades to a direct reply
			log.Warn().Str("message_id", id).Err(searchErr).
				Msg("retrieval unavailable, replying without context")
			retrieved = nil
		}
	}

	var priorTurns []models.ConversationTurn
	if o.history != nil {
		priorTurns, err = o.history.Recent(ctx, msg.SenderEmail, o.opts.HistoryWindow)
		if err != nil {
			log.Warn().Str("sender", msg.SenderEmail).Err(err).Msg("history unavailable")
			priorTurns = nil
		}
	}

	text := o.generator.Generate(ctx, msg, priorTurns, retrieved)

	sendErr := o.retries.Do(ctx, retry.KindSend, func() error {
		err := o.sender.Send(ctx, mailbox.OutboundReply{
			ToAddress: msg.SenderEmail,
			ToName:    msg.SenderName,
			Subject:   msg.Subject,
			Body:      text,
			InReplyTo: msg.MessageID,
		})
		if errors.Is(err, mailbox.ErrAuth) {
			return retry.Permanent(err)
		}
		return err
	})
	if sendErr != nil {
		if errors.Is(sendErr, mailbox.ErrAuth) {
			return sendErr
		}
		return fmt.Errorf("send: %w", sendErr)
	}

	// Commit before mark-read: a crash between the two is healed on the next
	// cycle by the ledger check above.
	if err := o.processed.Insert(id, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %s: %v", errLedgerWrite, id, err)
	}
	o.markRead(ctx, raw.UID)
	o.recordTurns(ctx, msg, text)

	o.total.Add(1)
	log.Info().Str("message_id", id).Str("to", msg.SenderEmail).Msg("message processed")
	return nil
}

// markRead flags the message seen. Failure is logged, not retried forever:
// the ledger already guarantees no duplicate reply. An invalid-state error
// gets one reconnect attempt.
func (o *Orchestrator) markRead(ctx context.Context, uid uint32) {
	err := o.inbox.MarkRead(ctx, uid)
	if errors.Is(err, mailbox.ErrInvalidState) {
		if r, ok := o.inbox.(interface{ Reconnect() error }); ok {
			if rerr := r.Reconnect(); rerr == nil {
				err = o.inbox.MarkRead(ctx, uid)
			}
		}
	}
	if err != nil {
		log.Warn().Uint32("uid", uid).Err(err).Msg("failed to mark message read")
	}
}

func (o *Orchestrator) recordTurns(ctx context.Context, msg models.InboxMessage, replyText string) {
	if o.history == nil {
		return
	}
	now := time.Now().UTC()
	turns := []models.ConversationTurn{
		{Sender: msg.SenderEmail, Direction: models.TurnIncoming, Subject: msg.Subject, Content: msg.Body, CreatedAt: now},
		{Sender: msg.SenderEmail, Direction: models.TurnOutgoing, Subject: mailbox.ReplySubject(msg.Subject), Content: replyText, CreatedAt: now},
	}
	for _, turn := range turns {
		if err := o.history.Append(ctx, turn); err != nil {
			log.Warn().Str("sender", msg.SenderEmail).Err(err).Msg("failed to record conversation turn")
		}
	}
}
