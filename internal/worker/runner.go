// Package worker runs queued unsubscribe jobs on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/ledger"
	"github.com/mailsweep/mailsweep/internal/unsubscribe"
)

// LinkStore resolves a message to its stored unsubscribe target.
type LinkStore interface {
	GetUnsubscribeLink(messageID string) (string, error)
}

// Attempter runs one unsubscribe attempt. Satisfied by *unsubscribe.Engine.
type Attempter interface {
	Attempt(ctx context.Context, target unsubscribe.Target) unsubscribe.Outcome
}

// Each attempt gets this long end to end, browser stage included.
const attemptTimeout = 3 * time.Minute

const retryBaseDelay = 2 * time.Second

type job struct {
	ID        string
	MessageID string
}

// Runner drains the job queue with a fixed pool of workers. The browser
// stage inside the engine serializes separately on the global session slot.
type Runner struct {
	cfg    config.WorkerConfig
	store  LinkStore
	ledger *ledger.Store
	engine Attempter
	logger zerolog.Logger

	jobs    chan job
	pending atomic.Int64
	wg      sync.WaitGroup
}

func NewRunner(cfg config.WorkerConfig, store LinkStore, led *ledger.Store, engine Attempter, logger zerolog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}

	return &Runner{
		cfg:    cfg,
		store:  store,
		ledger: led,
		engine: engine,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}
}

// Enqueue submits a message for processing and returns the job ID without
// waiting for the outcome. A full queue is an error, not a block.
func (r *Runner) Enqueue(messageID string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("message ID is required")
	}

	j := job{ID: uuid.NewString(), MessageID: messageID}
	select {
	case r.jobs <- j:
		r.pending.Add(1)
		r.logger.Debug().Str("job", j.ID).Str("message", messageID).Msg("job enqueued")
		return j.ID, nil
	default:
		return "", fmt.Errorf("job queue is full")
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-r.jobs:
					r.process(ctx, j)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Pending returns the number of jobs enqueued but not yet finished.
func (r *Runner) Pending() int {
	return int(r.pending.Load())
}

func (r *Runner) process(ctx context.Context, j job) {
	defer r.pending.Add(-1)

	// A worker must survive anything a single job throws at it
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("job", j.ID).Interface("panic", rec).Msg("job panicked")
		}
	}()

	link, err := r.store.GetUnsubscribeLink(j.MessageID)
	if err != nil || link == "" {
		// No target: record the failure without touching the network
		row := &ledger.Attempt{JobID: j.ID, MessageID: j.MessageID}
		if cerr := r.ledger.Create(row); cerr != nil {
			r.logger.Error().Err(cerr).Str("job", j.ID).Msg("failed to create ledger row")
			return
		}
		if cerr := r.ledger.Complete(row.ID, ledger.StatusFailed, "", unsubscribe.ReasonNoUnsubscribeLink); cerr != nil {
			r.logger.Error().Err(cerr).Str("job", j.ID).Msg("failed to complete ledger row")
		}
		return
	}

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		outcome, recorded := r.runAttempt(ctx, j, link)
		if !recorded {
			return
		}
		if outcome.Success || !unsubscribe.IsRetryable(outcome.Detail) {
			return
		}
		if attempt+1 >= r.cfg.MaxAttempts {
			return
		}

		delay := retryBaseDelay << attempt
		r.logger.Info().Str("job", j.ID).Str("reason", outcome.Detail).Dur("delay", delay).Msg("retrying attempt")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runAttempt performs one engine attempt with its own ledger row. recorded
// is false when the row could not even be created.
func (r *Runner) runAttempt(ctx context.Context, j job, link string) (unsubscribe.Outcome, bool) {
	row := &ledger.Attempt{JobID: j.ID, MessageID: j.MessageID, TargetURL: link}
	if err := r.ledger.Create(row); err != nil {
		r.logger.Error().Err(err).Str("job", j.ID).Msg("failed to create ledger row")
		return unsubscribe.Outcome{}, false
	}
	if err := r.ledger.MarkProcessing(row.ID); err != nil {
		r.logger.Error().Err(err).Str("job", j.ID).Msg("failed to mark ledger row processing")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	outcome := r.engine.Attempt(attemptCtx, unsubscribe.Target{MessageID: j.MessageID, URL: link})
	cancel()

	status := ledger.StatusFailed
	if outcome.Success {
		status = ledger.StatusSuccess
	}
	if err := r.ledger.Complete(row.ID, status, outcome.Method, outcome.Detail); err != nil {
		r.logger.Error().Err(err).Str("job", j.ID).Msg("failed to complete ledger row")
	}

	r.logger.Info().
		Str("job", j.ID).
		Str("message", j.MessageID).
		Bool("success", outcome.Success).
		Str("method", outcome.Method).
		Str("detail", outcome.Detail).
		Msg("attempt finished")

	return outcome, true
}
