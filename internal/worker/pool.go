// Package worker implements the bounded pool that executes extraction tasks.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
	"github.com/shopharvest/crawler/internal/identity"
	"github.com/shopharvest/crawler/internal/queue"
	"github.com/shopharvest/crawler/internal/ratelimit"
	"github.com/shopharvest/crawler/internal/records"
	"github.com/shopharvest/crawler/internal/retry"
)

// Config controls pool behavior. Workers is fixed for the whole run.
type Config struct {
	Workers        int
	RequestTimeout time.Duration
	// StallProbe is how long a task waits before re-checking the identity
	// pool after an exhausted checkout.
	StallProbe time.Duration
}

// Pool pulls eligible tasks from the queue and runs the per-attempt flow:
// rate-limit admission, identity checkout, execution, identity release, and
// retry scheduling. All shared structures are owned elsewhere; the pool only
// coordinates them.
type Pool struct {
	queue      *queue.Queue
	limiter    *ratelimit.Limiter
	identities *identity.Rotator
	retrier    *retry.Policy
	executor   engine.Executor
	sink       engine.Sink
	recs       *records.Pipeline
	clock      engine.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Pool.
func New(
	q *queue.Queue,
	limiter *ratelimit.Limiter,
	identities *identity.Rotator,
	retrier *retry.Policy,
	executor engine.Executor,
	sink engine.Sink,
	recs *records.Pipeline,
	clock engine.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.StallProbe <= 0 {
		cfg.StallProbe = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:      q,
		limiter:    limiter,
		identities: identities,
		retrier:    retrier,
		executor:   executor,
		sink:       sink,
		recs:       recs,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the fixed worker set and blocks until the context finishes and
// every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runWorker(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, n int) {
	logger := p.logger.With(zap.Int("worker", n))
	for {
		task, err := p.queue.DequeueEligible(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		p.processTask(ctx, logger, task)
	}
}

func (p *Pool) processTask(ctx context.Context, logger *zap.Logger, task *engine.Task) {
	// Admission first: the reservation is free to sit out, only this worker
	// suspends while the wait elapses.
	if wait := p.limiter.Admit(task.EndpointClass); wait > 0 {
		if !p.pause(ctx, wait) {
			p.stall(logger, task, p.clock.Now())
			return
		}
	}

	ident, err := p.identities.Checkout(task.EndpointClass)
	if errors.Is(err, identity.ErrPoolExhausted) {
		// Pool-level stall, not a task failure: re-eligible after the probe
		// interval without consuming an attempt.
		p.stall(logger, task, p.clock.Now().Add(p.cfg.StallProbe))
		p.emit(engine.AttemptEvent{
			TaskID:  task.ID,
			Stage:   task.Stage,
			Outcome: engine.OutcomeStalled,
			Error:   err.Error(),
		})
		return
	}

	start := p.clock.Now()
	// The attempt carries its own timeout and survives run cancellation:
	// already-admitted attempts complete or time out individually.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
	payload, execErr := p.executor.Execute(attemptCtx, task, ident)
	cancel()
	duration := p.clock.Now().Sub(start)

	p.identities.Release(ident, releaseOutcome(execErr))

	if execErr == nil {
		p.finishSuccess(ctx, logger, task, ident, payload, duration)
		return
	}
	p.finishFailure(logger, task, ident, execErr, duration)
}

func (p *Pool) finishSuccess(
	ctx context.Context,
	logger *zap.Logger,
	task *engine.Task,
	ident engine.Identity,
	payload *engine.Payload,
	duration time.Duration,
) {
	if err := p.queue.MarkSucceeded(task, payload); err != nil {
		logger.Error("mark succeeded failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if p.recs != nil {
		if err := p.recs.Ingest(ctx, task, payload); err != nil {
			logger.Warn("record ingest failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	p.emit(engine.AttemptEvent{
		TaskID:   task.ID,
		Stage:    task.Stage,
		Outcome:  engine.OutcomeSuccess,
		Duration: duration,
		Identity: ident.Label,
	})
	logger.Debug("task succeeded",
		zap.String("task_id", task.ID),
		zap.String("stage", string(task.Stage)),
		zap.Int("attempts", task.Attempts),
	)
}

func (p *Pool) finishFailure(
	logger *zap.Logger,
	task *engine.Task,
	ident engine.Identity,
	execErr error,
	duration time.Duration,
) {
	classification := p.retrier.Classify(execErr)
	outcome := engine.OutcomeRetryable

	switch {
	case classification == retry.Permanent:
		outcome = engine.OutcomePermanent
		if err := p.queue.MarkFailedPermanent(task, execErr); err != nil {
			logger.Error("mark permanent failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	case p.retrier.Exhausted(task.Attempts + 1):
		// Retryable error, but the budget is spent.
		outcome = engine.OutcomePermanent
		if err := p.queue.MarkFailedPermanent(task, execErr); err != nil {
			logger.Error("mark permanent failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	default:
		delay := p.retrier.NextDelay(task.Attempts)
		if err := p.queue.MarkRetry(task, execErr, p.clock.Now().Add(delay)); err != nil {
			logger.Error("mark retry failed", zap.String("task_id", task.ID), zap.Error(err))
		}
		logger.Debug("task scheduled for retry",
			zap.String("task_id", task.ID),
			zap.Int("attempts", task.Attempts),
			zap.Duration("delay", delay),
		)
	}

	p.emit(engine.AttemptEvent{
		TaskID:   task.ID,
		Stage:    task.Stage,
		Outcome:  outcome,
		Duration: duration,
		Identity: ident.Label,
		Error:    execErr.Error(),
	})
}

func (p *Pool) stall(logger *zap.Logger, task *engine.Task, nextEligible time.Time) {
	if err := p.queue.MarkStalled(task, nextEligible); err != nil {
		logger.Error("mark stalled failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (p *Pool) emit(evt engine.AttemptEvent) {
	if p.sink == nil {
		return
	}
	_ = p.sink.Attempt(context.Background(), evt)
}

// pause waits out a rate-limit delay; false means the context ended first.
func (p *Pool) pause(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// releaseOutcome maps an attempt error to the identity pool's verdict. Only
// failures attributable to the identity itself count toward degradation.
func releaseOutcome(err error) identity.Outcome {
	if err == nil {
		return identity.OutcomeOK
	}
	var attemptErr *engine.AttemptError
	if errors.As(err, &attemptErr) {
		switch attemptErr.Kind {
		case engine.KindConnectionFailed, engine.KindBlocked:
			return identity.OutcomeIdentityFailure
		case engine.KindHTTPStatus:
			if attemptErr.StatusCode == 429 {
				return identity.OutcomeIdentityFailure
			}
		}
	}
	return identity.OutcomeTargetFailure
}
