package chunkstore

import (
	"strings"

	"github.com/starford/ctxstore/internal/models"
)

// Index is the in-memory view over persisted chunks. It is rebuilt from disk on
// Initialize and is never written out. It is not safe for concurrent use; Store guards it.
type Index struct {
	chunks     map[string]*models.Chunk
	order      []string // insertion order, the iteration order for scoring
	keywords   map[string][]string
	categories map[string][]string
	recency    []string // most recent first
	window     int
}

// Stats summarizes the index.
type Stats struct {
	TotalChunks  int `json:"total_chunks"`
	Keywords     int `json:"keywords"`
	Categories   int `json:"categories"`
	RecentChunks int `json:"recent_chunks"`
}

func newIndex(window int) *Index {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	return &Index{
		chunks:     make(map[string]*models.Chunk),
		keywords:   make(map[string][]string),
		categories: make(map[string][]string),
		window:     window,
	}
}

// add is the single insertion path for fresh writes, rebuilds and watcher ingests.
// It reports false, leaving the index untouched, when the id is already present.
func (ix *Index) add(c *models.Chunk) bool {
	if _, dup := ix.chunks[c.ID]; dup {
		return false
	}
	ix.chunks[c.ID] = c
	ix.order = append(ix.order, c.ID)

	for _, kw := range c.Keywords {
		key := strings.ToLower(strings.TrimSpace(kw))
		if key == "" {
			continue
		}
		ix.keywords[key] = append(ix.keywords[key], c.ID)
	}

	bucket := c.Bucket()
	ix.categories[bucket] = append(ix.categories[bucket], c.ID)

	ix.recency = append(ix.recency, "")
	copy(ix.recency[1:], ix.recency)
	ix.recency[0] = c.ID
	if len(ix.recency) > ix.window {
		ix.recency = ix.recency[:ix.window]
	}
	return true
}

func (ix *Index) get(id string) (*models.Chunk, bool) {
	c, ok := ix.chunks[id]
	return c, ok
}

// byKeyword returns the ids that declared keyword, case-insensitively.
func (ix *Index) byKeyword(keyword string) []string {
	return ix.keywords[strings.ToLower(strings.TrimSpace(keyword))]
}

// byBucket returns the ids filed under "CATEGORY/subcategory".
func (ix *Index) byBucket(key string) []string {
	return ix.categories[key]
}

func (ix *Index) stats() Stats {
	return Stats{
		TotalChunks:  len(ix.chunks),
		Keywords:     len(ix.keywords),
		Categories:   len(ix.categories),
		RecentChunks: len(ix.recency),
	}
}
