package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopharvest/crawler/internal/clock/system"
	"github.com/shopharvest/crawler/internal/engine"
)

func newTask(id string, stage engine.Stage) *engine.Task {
	return &engine.Task{
		ID:            id,
		Stage:         stage,
		Target:        "https://example.com/" + id,
		EndpointClass: "html",
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	require.NoError(t, q.Enqueue(newTask("a", engine.StageCategory)))

	task, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", task.ID)
	require.Equal(t, engine.TaskInFlight, task.Status)
}

func TestQueue_DuplicateEnqueueRejected(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	require.NoError(t, q.Enqueue(newTask("a", engine.StageCategory)))
	require.Error(t, q.Enqueue(newTask("a", engine.StageCategory)))
}

func TestQueue_EarliestEligibleFirst(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	now := time.Now()

	late := newTask("late", engine.StageCategory)
	late.NextEligible = now.Add(30 * time.Millisecond)
	early := newTask("early", engine.StageCategory)
	early.NextEligible = now.Add(5 * time.Millisecond)

	require.NoError(t, q.Enqueue(late))
	require.NoError(t, q.Enqueue(early))

	first, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "early", first.ID)

	second, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "late", second.ID)
}

func TestQueue_FutureTaskNotEligibleYet(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	task := newTask("later", engine.StageCategory)
	task.NextEligible = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(task))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.DequeueEligible(ctx)
	require.Error(t, err)

	got, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "later", got.ID)
}

func TestQueue_NoDoubleDispatch(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	const tasks = 50
	for i := 0; i < tasks; i++ {
		require.NoError(t, q.Enqueue(newTask(fmt.Sprintf("task-%d", i), engine.StageCategory)))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.DequeueEligible(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
				require.NoError(t, q.MarkSucceeded(task, &engine.Payload{}))
			}
		}()
	}

	require.NoError(t, q.WaitStageDrained(context.Background(), engine.StageCategory))
	q.Close()
	wg.Wait()

	require.Len(t, seen, tasks)
	for id, n := range seen {
		require.Equal(t, 1, n, "task %s dispatched %d times", id, n)
	}
}

func TestQueue_TransitionsRequireInFlight(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	task := newTask("a", engine.StageCategory)
	require.NoError(t, q.Enqueue(task))

	// Still pending, nothing has dequeued it.
	require.Error(t, q.MarkSucceeded(task, nil))
	require.Error(t, q.MarkFailedPermanent(task, errors.New("x")))
	require.Error(t, q.MarkRetry(task, errors.New("x"), time.Now()))
	require.Error(t, q.MarkStalled(task, time.Now()))

	got, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.MarkSucceeded(got, &engine.Payload{}))

	// Terminal tasks reject further transitions.
	require.Error(t, q.MarkSucceeded(got, nil))
}

func TestQueue_RetryConsumesAttemptAndReschedules(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	task := newTask("a", engine.StageCategory)
	require.NoError(t, q.Enqueue(task))

	got, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.MarkRetry(got, errors.New("http 503"), time.Now().Add(5*time.Millisecond)))
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, engine.TaskFailedRetryable, got.Status)

	snap := q.StageSnapshot(engine.StageCategory)
	require.Equal(t, 1, snap.Retryable)
	require.False(t, snap.Drained())

	again, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", again.ID)
	require.NoError(t, q.MarkSucceeded(again, &engine.Payload{}))
	require.Equal(t, 2, again.Attempts)
}

func TestQueue_StallDoesNotConsumeAttempt(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	task := newTask("a", engine.StageCategory)
	require.NoError(t, q.Enqueue(task))

	got, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.MarkStalled(got, time.Now().Add(time.Millisecond)))
	require.Equal(t, 0, got.Attempts)
	require.Equal(t, engine.TaskPending, got.Status)

	again, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", again.ID)
}

func TestQueue_WaitStageDrained(t *testing.T) {
	t.Parallel()
	q := New(system.New())

	// A stage with no tasks drains trivially.
	require.NoError(t, q.WaitStageDrained(context.Background(), engine.StageReview))

	task := newTask("a", engine.StageCategory)
	require.NoError(t, q.Enqueue(task))

	done := make(chan error, 1)
	go func() {
		done <- q.WaitStageDrained(context.Background(), engine.StageCategory)
	}()

	got, err := q.DequeueEligible(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("drain reported while task in flight")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.MarkFailedPermanent(got, errors.New("http 404")))
	require.NoError(t, <-done)

	snap := q.StageSnapshot(engine.StageCategory)
	require.Equal(t, Snapshot{Attempted: 1, FailedPermanent: 1}, snap)
}

func TestQueue_SucceededTasksOrdered(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	for _, id := range []string{"a", "b"} {
		require.NoError(t, q.Enqueue(newTask(id, engine.StageCategory)))
	}
	for i := 0; i < 2; i++ {
		task, err := q.DequeueEligible(context.Background())
		require.NoError(t, err)
		require.NoError(t, q.MarkSucceeded(task, &engine.Payload{Fields: map[string]string{"id": task.ID}}))
	}
	succeeded := q.SucceededTasks(engine.StageCategory)
	require.Len(t, succeeded, 2)
	require.Equal(t, "a", succeeded[0].ID)
	require.Equal(t, "b", succeeded[1].ID)
}

func TestQueue_CloseUnblocksDequeuers(t *testing.T) {
	t.Parallel()
	q := New(system.New())
	done := make(chan error, 1)
	go func() {
		_, err := q.DequeueEligible(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	require.ErrorIs(t, <-done, ErrClosed)
	require.ErrorIs(t, q.Enqueue(newTask("x", engine.StageCategory)), ErrClosed)
}
