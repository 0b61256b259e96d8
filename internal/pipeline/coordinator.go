// Package pipeline drives the staged extraction run from INIT to its final
// state.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
	"github.com/shopharvest/crawler/internal/queue"
)

// Config shapes one run.
type Config struct {
	// Categories are the stage-one entry points.
	Categories []engine.Target
	// AbortFailureRate aborts the run when a drained stage's permanent
	// failure share exceeds it. Zero or negative disables the breaker.
	AbortFailureRate float64
	// EndpointClasses optionally overrides the rate-limit class per stage.
	// Stages absent from the map use DefaultEndpointClass.
	EndpointClasses      map[engine.Stage]string
	DefaultEndpointClass string
}

// Coordinator owns the stage sequence: it derives each stage's tasks from the
// previous stage's payloads, waits for the drain, evaluates the abort
// breaker, and finalizes the run report. Task execution belongs to the worker
// pool; the coordinator only feeds and observes the queue.
type Coordinator struct {
	queue  *queue.Queue
	ids    engine.IDGenerator
	clock  engine.Clock
	sink   engine.Sink
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	report engine.RunReport
}

// New constructs a Coordinator.
func New(q *queue.Queue, ids engine.IDGenerator, clock engine.Clock, sink engine.Sink, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.DefaultEndpointClass == "" {
		cfg.DefaultEndpointClass = "html"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		queue:  q,
		ids:    ids,
		clock:  clock,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// Report returns a point-in-time copy of the run report. Safe while the run
// is in progress.
func (c *Coordinator) Report() engine.RunReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report.Clone()
}

// Run executes the stages in order and returns the finalized report. The
// returned error reflects orchestration problems (canceled context, enqueue
// failure); an aborted run is a valid result, not an error.
func (c *Coordinator) Run(ctx context.Context) (engine.RunReport, error) {
	c.setReport(engine.NewRunReport(c.clock.Now()))

	targets := c.cfg.Categories
	for _, stage := range engine.StageOrder {
		c.setState(engine.RunStateForStage(stage))

		n, err := c.enqueueStage(stage, targets)
		if err != nil {
			return c.finalize(ctx, engine.RunAborted, fmt.Sprintf("enqueue %s: %v", stage, err))
		}
		c.logger.Info("stage started",
			zap.String("stage", string(stage)),
			zap.Int("tasks", n),
		)

		if err := c.queue.WaitStageDrained(ctx, stage); err != nil {
			return c.finalize(ctx, engine.RunAborted, fmt.Sprintf("run canceled during %s: %v", stage, ctx.Err()))
		}

		snap := c.queue.StageSnapshot(stage)
		stageRep := engine.StageReport{
			Attempted:       snap.Attempted,
			Succeeded:       snap.Succeeded,
			FailedPermanent: snap.FailedPermanent,
		}
		c.setStageReport(stage, stageRep)
		c.logger.Info("stage drained",
			zap.String("stage", string(stage)),
			zap.Int("attempted", stageRep.Attempted),
			zap.Int("succeeded", stageRep.Succeeded),
			zap.Int("failed_permanent", stageRep.FailedPermanent),
		)

		if c.cfg.AbortFailureRate > 0 && stageRep.FailureRate() > c.cfg.AbortFailureRate {
			return c.finalize(ctx, engine.RunAborted, fmt.Sprintf(
				"stage %s failure rate %.2f exceeded threshold %.2f",
				stage, stageRep.FailureRate(), c.cfg.AbortFailureRate,
			))
		}

		targets = c.deriveTargets(stage)
	}

	return c.finalize(ctx, engine.RunComplete, "")
}

// enqueueStage turns targets into tasks, deduplicated by key, and registers
// them with the queue.
func (c *Coordinator) enqueueStage(stage engine.Stage, targets []engine.Target) (int, error) {
	seen := make(map[string]struct{}, len(targets))
	n := 0
	for _, tgt := range targets {
		key := tgt.Key
		if key == "" {
			key = tgt.URL
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		id, err := c.ids.NewID()
		if err != nil {
			return n, fmt.Errorf("generate task id: %w", err)
		}
		task := &engine.Task{
			ID:            id,
			Stage:         stage,
			Target:        tgt.URL,
			Key:           tgt.Key,
			EndpointClass: c.endpointClass(stage),
		}
		if err := c.queue.Enqueue(task); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// deriveTargets collects the follow-up targets carried by the stage's
// succeeded payloads. Order follows completion order; deduplication happens
// at enqueue time.
func (c *Coordinator) deriveTargets(stage engine.Stage) []engine.Target {
	var out []engine.Target
	for _, task := range c.queue.SucceededTasks(stage) {
		if task.Payload == nil {
			continue
		}
		out = append(out, task.Payload.Next...)
	}
	return out
}

func (c *Coordinator) endpointClass(stage engine.Stage) string {
	if class, ok := c.cfg.EndpointClasses[stage]; ok && class != "" {
		return class
	}
	return c.cfg.DefaultEndpointClass
}

func (c *Coordinator) finalize(ctx context.Context, state engine.RunState, reason string) (engine.RunReport, error) {
	c.mu.Lock()
	c.report.FinalState = state
	c.report.Reason = reason
	c.report.FinishedAt = c.clock.Now()
	rep := c.report.Clone()
	c.mu.Unlock()

	if state == engine.RunAborted {
		c.logger.Warn("run aborted", zap.String("reason", reason))
	} else {
		c.logger.Info("run complete",
			zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
	}
	if c.sink != nil {
		// The report must still reach the sinks when the run was canceled.
		if err := c.sink.Report(context.WithoutCancel(ctx), rep); err != nil {
			c.logger.Warn("report sink failed", zap.Error(err))
		}
	}
	return rep, nil
}

func (c *Coordinator) setReport(rep engine.RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = rep
}

func (c *Coordinator) setState(state engine.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.FinalState = state
}

func (c *Coordinator) setStageReport(stage engine.Stage, rep engine.StageReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Stages[stage] = rep
}
