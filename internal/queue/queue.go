// Package queue implements the shared task registry and its
// earliest-eligible-first dispatch discipline.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopharvest/crawler/internal/engine"
)

// ErrClosed is returned by DequeueEligible once the queue is shut down.
var ErrClosed = errors.New("queue closed")

// Snapshot is a point-in-time view of one stage's task counts.
type Snapshot struct {
	Attempted       int
	Pending         int
	InFlight        int
	Retryable       int
	Succeeded       int
	FailedPermanent int
}

// Drained reports whether every task of the stage is terminal.
func (s Snapshot) Drained() bool {
	return s.Pending == 0 && s.InFlight == 0 && s.Retryable == 0
}

type stageState struct {
	counts    Snapshot
	succeeded []*engine.Task
}

// Queue owns every task from enqueue until terminal. All status transitions
// happen under the queue lock, so at most one worker ever holds a task in
// flight and no transition can be observed twice.
type Queue struct {
	mu     sync.Mutex
	clock  engine.Clock
	heap   eligibleHeap
	tasks  map[string]*engine.Task
	stages map[engine.Stage]*stageState
	notify chan struct{}
	seq    uint64
	closed bool
}

// New constructs an empty queue.
func New(clock engine.Clock) *Queue {
	return &Queue{
		clock:  clock,
		tasks:  make(map[string]*engine.Task),
		stages: make(map[engine.Stage]*stageState),
		notify: make(chan struct{}),
	}
}

// Enqueue registers a task and makes it schedulable. Task IDs must be unique
// for the run.
func (q *Queue) Enqueue(task *engine.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, ok := q.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already enqueued", task.ID)
	}
	task.Status = engine.TaskPending
	if task.NextEligible.IsZero() {
		task.NextEligible = q.clock.Now()
	}
	q.tasks[task.ID] = task
	st := q.stage(task.Stage)
	st.counts.Attempted++
	st.counts.Pending++
	q.push(task)
	q.broadcast()
	return nil
}

// DequeueEligible blocks until a task is eligible (next-eligible time has
// passed and it is not in flight), then transitions it to IN_FLIGHT and hands
// it to the caller. Earliest-eligible-first ordering keeps dispatch fair.
func (q *Queue) DequeueEligible(ctx context.Context) (*engine.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		var wait time.Duration = -1
		if q.heap.Len() > 0 {
			top := q.heap.items[0].task
			now := q.clock.Now()
			if !top.NextEligible.After(now) {
				item := heap.Pop(&q.heap).(*heapItem)
				task := item.task
				st := q.stage(task.Stage)
				switch task.Status {
				case engine.TaskPending:
					st.counts.Pending--
				case engine.TaskFailedRetryable:
					st.counts.Retryable--
				}
				task.Status = engine.TaskInFlight
				st.counts.InFlight++
				q.mu.Unlock()
				return task, nil
			}
			wait = top.NextEligible.Sub(now)
		}
		ch := q.notify
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			case <-ch:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// MarkSucceeded finalizes an in-flight task with its payload.
func (q *Queue) MarkSucceeded(task *engine.Task, payload *engine.Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.requireInFlight(task); err != nil {
		return err
	}
	task.Attempts++
	task.Status = engine.TaskSucceeded
	task.Payload = payload
	task.LastErr = nil
	st := q.stage(task.Stage)
	st.counts.InFlight--
	st.counts.Succeeded++
	st.succeeded = append(st.succeeded, task)
	q.broadcast()
	return nil
}

// MarkFailedPermanent finalizes an in-flight task as permanently failed.
func (q *Queue) MarkFailedPermanent(task *engine.Task, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.requireInFlight(task); err != nil {
		return err
	}
	task.Attempts++
	task.Status = engine.TaskFailedPermanent
	task.LastErr = cause
	st := q.stage(task.Stage)
	st.counts.InFlight--
	st.counts.FailedPermanent++
	q.broadcast()
	return nil
}

// MarkRetry schedules an in-flight task for another attempt once
// nextEligible passes. The attempt that just failed is counted.
func (q *Queue) MarkRetry(task *engine.Task, cause error, nextEligible time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.requireInFlight(task); err != nil {
		return err
	}
	task.Attempts++
	task.Status = engine.TaskFailedRetryable
	task.LastErr = cause
	task.NextEligible = nextEligible
	st := q.stage(task.Stage)
	st.counts.InFlight--
	st.counts.Retryable++
	q.push(task)
	q.broadcast()
	return nil
}

// MarkStalled returns an in-flight task to PENDING without consuming an
// attempt. Used when no identity was available so the attempt never started.
func (q *Queue) MarkStalled(task *engine.Task, nextEligible time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.requireInFlight(task); err != nil {
		return err
	}
	task.Status = engine.TaskPending
	task.NextEligible = nextEligible
	st := q.stage(task.Stage)
	st.counts.InFlight--
	st.counts.Pending++
	q.push(task)
	q.broadcast()
	return nil
}

// WaitStageDrained blocks until every task of the stage is terminal.
// A stage that never received tasks is drained trivially.
func (q *Queue) WaitStageDrained(ctx context.Context, stage engine.Stage) error {
	for {
		q.mu.Lock()
		drained := q.stage(stage).counts.Drained()
		ch := q.notify
		q.mu.Unlock()
		if drained {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s drain: %w", stage, ctx.Err())
		case <-ch:
		}
	}
}

// StageSnapshot returns the current counts for a stage.
func (q *Queue) StageSnapshot(stage engine.Stage) Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stage(stage).counts
}

// SucceededTasks returns the stage's succeeded tasks in completion order.
func (q *Queue) SucceededTasks(stage engine.Stage) []*engine.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.stage(stage)
	out := make([]*engine.Task, len(st.succeeded))
	copy(out, st.succeeded)
	return out
}

// Close wakes all blocked dequeuers; they return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *Queue) requireInFlight(task *engine.Task) error {
	current, ok := q.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %s is not registered", task.ID)
	}
	if current.Status != engine.TaskInFlight {
		return fmt.Errorf("task %s is %s, not in flight", task.ID, current.Status)
	}
	return nil
}

func (q *Queue) stage(stage engine.Stage) *stageState {
	st, ok := q.stages[stage]
	if !ok {
		st = &stageState{}
		q.stages[stage] = st
	}
	return st
}

func (q *Queue) push(task *engine.Task) {
	q.seq++
	heap.Push(&q.heap, &heapItem{task: task, seq: q.seq})
}

// broadcast wakes every waiter by retiring the notify channel.
func (q *Queue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}

type heapItem struct {
	task *engine.Task
	seq  uint64
}

type eligibleHeap struct {
	items []*heapItem
}

func (h *eligibleHeap) Len() int { return len(h.items) }

func (h *eligibleHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.task.NextEligible.Equal(b.task.NextEligible) {
		return a.seq < b.seq
	}
	return a.task.NextEligible.Before(b.task.NextEligible)
}

func (h *eligibleHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *eligibleHeap) Push(x any) {
	h.items = append(h.items, x.(*heapItem))
}

func (h *eligibleHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
