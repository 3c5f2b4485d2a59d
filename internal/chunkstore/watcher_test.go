package chunkstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/parser"
	"github.com/starford/ctxstore/internal/tree"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func writeExternal(t *testing.T, root string, c *models.Chunk) string {
	t.Helper()
	data, err := parser.FormatChunk(c)
	require.NoError(t, err)
	p := filepath.Join(root, c.Category, c.Subcategory, c.ID+".md")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestIngest(t *testing.T) {
	s := openStore(t, t.TempDir())
	p := writeExternal(t, s.Root(), chunk("errors-common_errors-007", "ERRORS", "common_errors", 0.6, "panic"))

	added, err := s.Ingest(p)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Ingest(p)
	require.NoError(t, err)
	assert.False(t, added, "second ingest of the same id")

	// Counter moves past ingested ids.
	res := storeAndWait(t, s, models.SourceUserPrompt, insight("ERRORS", "common_errors", "more", 0.5, "k"))
	assert.Equal(t, []string{"errors-common_errors-008"}, res.IDs)
}

func TestIngest_Rejects(t *testing.T) {
	s := openStore(t, t.TempDir())

	_, err := s.Ingest(filepath.Join(s.Root(), "ERRORS", "common_errors", tree.DescriptionFile))
	assert.Error(t, err)

	stray := filepath.Join(s.Root(), "stray.md")
	require.NoError(t, os.WriteFile(stray, []byte("---\nid: stray\n---\n"), 0o644))
	_, err = s.Ingest(stray)
	assert.Error(t, err)

	_, err = s.Ingest(filepath.Join(t.TempDir(), "x.md"))
	assert.Error(t, err)
}

func TestWatch_IngestsExternalWrites(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	s := openStore(t, t.TempDir(), WithObserver(func(c models.Chunk) {
		mu.Lock()
		seen = append(seen, c.ID)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeExternal(t, s.Root(), chunk("workflows-tooling-003", "WORKFLOWS", "tooling", 0.9, "make"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := s.Get("workflows-tooling-003")
		return ok
	}, "external chunk not indexed by watcher")

	mu.Lock()
	assert.Equal(t, []string{"workflows-tooling-003"}, seen)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
