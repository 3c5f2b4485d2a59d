// Package testutil provides shared helpers for tests that need a live context store.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/tree"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Store creates an initialized store over a temporary directory. It is closed when the
// test ends.
func Store(t *testing.T, opts ...chunkstore.Option) (*chunkstore.Store, *tree.Manager) {
	t.Helper()
	tm := tree.NewManager(t.TempDir(), tree.WithLogger(Logger()))
	s := chunkstore.New(tm, append([]chunkstore.Option{chunkstore.WithLogger(Logger())}, opts...)...)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, tm
}

// Wait blocks until task completes, failing the test after five seconds.
func Wait(t *testing.T, task *chunkstore.Task) chunkstore.TaskResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for task %s: %v", task.ID, err)
	}
	return res
}

// Seed stores insights and waits for them, failing the test on any rejection.
func Seed(t *testing.T, s *chunkstore.Store, insights ...models.Insight) []string {
	t.Helper()
	task, err := s.Store(context.Background(), insights, models.SourceUserPrompt)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	res := Wait(t, task)
	if res.Err != nil {
		t.Fatalf("seed: %v", res.Err)
	}
	return res.IDs
}
