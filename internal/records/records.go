// Package records validates and deduplicates extracted payloads before they
// reach downstream storage.
package records

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

// Record is one validated, deduplicated extraction result.
type Record struct {
	Stage       engine.Stage
	Key         string
	TaskID      string
	Fields      map[string]string
	ExtractedAt time.Time
}

// Store persists validated records.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	Close()
}

// requiredFields lists the fields a payload must carry per stage to count as
// a valid record.
var requiredFields = map[engine.Stage][]string{
	engine.StageCategory: {"category_url"},
	engine.StageProduct:  {"title"},
	engine.StageReview:   {"review_count"},
}

// Pipeline filters payloads down to storable records. Deduplication is keyed
// by (stage, key) for the whole run.
type Pipeline struct {
	store  Store
	clock  engine.Clock
	logger *zap.Logger
	seen   sync.Map
}

// New builds a Pipeline over the given store.
func New(store Store, clock engine.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, clock: clock, logger: logger}
}

// Ingest validates and stores the payload of one succeeded task. Duplicate
// keys within a stage are dropped silently; validation failures are returned
// so callers can log them, but they never fail the task.
func (p *Pipeline) Ingest(ctx context.Context, task *engine.Task, payload *engine.Payload) error {
	if payload == nil || len(payload.Fields) == 0 {
		return fmt.Errorf("task %s produced no fields", task.ID)
	}
	for _, field := range requiredFields[task.Stage] {
		if payload.Fields[field] == "" {
			return fmt.Errorf("task %s missing required field %q", task.ID, field)
		}
	}

	key := task.Key
	if key == "" {
		key = task.Target
	}
	dedupeKey := string(task.Stage) + "/" + key
	if _, loaded := p.seen.LoadOrStore(dedupeKey, struct{}{}); loaded {
		p.logger.Debug("duplicate record dropped",
			zap.String("stage", string(task.Stage)),
			zap.String("key", key),
		)
		return nil
	}

	rec := Record{
		Stage:       task.Stage,
		Key:         key,
		TaskID:      task.ID,
		Fields:      payload.Fields,
		ExtractedAt: p.clock.Now(),
	}
	if err := p.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}
