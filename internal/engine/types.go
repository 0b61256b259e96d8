// Package engine defines core types shared across the extraction subsystems.
package engine

import (
	"time"
)

// Stage identifies one phase of the three-phase extraction pipeline.
type Stage string

// Pipeline stages, executed strictly in this order.
const (
	StageCategory Stage = "CATEGORY"
	StageProduct  Stage = "PRODUCT"
	StageReview   Stage = "REVIEW"
)

// StageOrder lists the stages in execution order.
var StageOrder = []Stage{StageCategory, StageProduct, StageReview}

// TaskStatus represents the lifecycle state of a Task.
type TaskStatus string

// Task status values tracked by the queue.
const (
	TaskPending         TaskStatus = "PENDING"
	TaskInFlight        TaskStatus = "IN_FLIGHT"
	TaskSucceeded       TaskStatus = "SUCCEEDED"
	TaskFailedRetryable TaskStatus = "FAILED_RETRYABLE"
	TaskFailedPermanent TaskStatus = "FAILED_PERMANENT"
)

// Terminal reports whether the status will never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailedPermanent
}

// Task is the unit of schedulable work. It is owned exclusively by the queue
// until terminal; other components read it only through queue snapshots or
// while holding it in flight.
type Task struct {
	ID            string
	Stage         Stage
	Target        string // page URL
	Key           string // ASIN-like dedupe key, may be empty for category pages
	EndpointClass string // fixed at creation
	Attempts      int
	NextEligible  time.Time
	Status        TaskStatus
	Payload       *Payload // set once the task succeeds
	LastErr       error
}

// Target references a page discovered by a prior stage.
type Target struct {
	URL string
	Key string
}

// Payload is the schema-light output of one successful extraction: the field
// map varies by stage, Next carries the targets the following stage is
// derived from.
type Payload struct {
	Fields map[string]string
	Next   []Target
}

// Identity is a (proxy, user-agent) pair presented for one attempt.
type Identity struct {
	Label     string
	Proxy     string
	UserAgent string
}

// AttemptOutcome is the coarse result of a single attempt.
type AttemptOutcome string

// Attempt outcomes emitted to metrics sinks.
const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeRetryable AttemptOutcome = "retryable"
	OutcomePermanent AttemptOutcome = "permanent"
	OutcomeStalled   AttemptOutcome = "stalled"
)

// AttemptEvent records one execution of a Task for the metrics sinks. It is
// not persisted by the engine itself.
type AttemptEvent struct {
	TaskID   string         `json:"task_id"`
	Stage    Stage          `json:"stage"`
	Outcome  AttemptOutcome `json:"outcome"`
	Duration time.Duration  `json:"duration"`
	Identity string         `json:"identity_used"`
	Error    string         `json:"error,omitempty"`
}
