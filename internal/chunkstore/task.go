package chunkstore

import (
	"context"

	"github.com/google/uuid"
)

// TaskResult is the outcome of a background store.
type TaskResult struct {
	// IDs of the chunks written, in input order. Rejected insights are absent.
	IDs []string
	// Err joins the per-insight failures, nil when every insight was stored.
	Err error
}

// Task tracks one queued batch. Callers may ignore it; tests and hosts that need
// read-after-write use Wait.
type Task struct {
	ID   string
	done chan struct{}
	res  TaskResult
}

func newTask() *Task {
	return &Task{ID: uuid.NewString(), done: make(chan struct{})}
}

func (t *Task) finish(res TaskResult) {
	t.res = res
	close(t.done)
}

// Done is closed once every insight of the batch has been processed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) (TaskResult, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}
