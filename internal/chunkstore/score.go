package chunkstore

import (
	"sort"
	"strings"

	"github.com/starford/ctxstore/internal/models"
)

// Relevance weights. They sum to 1 so every score lies in [0,1].
const (
	WeightKeywords   = 0.4
	WeightCategory   = 0.3
	WeightRecency    = 0.2
	WeightConfidence = 0.1
)

type query struct {
	keywords   []string // lower-cased, blanks removed
	categories []string // blanks removed, case preserved
}

func (q query) empty() bool {
	return len(q.keywords) == 0 && len(q.categories) == 0
}

func normalizeQuery(keywords, categories []string) query {
	var q query
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			q.keywords = append(q.keywords, kw)
		}
	}
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			q.categories = append(q.categories, c)
		}
	}
	return q
}

// keywordOverlap is the fraction of query keywords that share a substring relation, in
// either direction, with at least one chunk keyword. Short keywords match loosely
// ("go" hits "algorithm").
func keywordOverlap(queryKeywords, chunkKeywords []string) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	lowered := make([]string, 0, len(chunkKeywords))
	for _, kw := range chunkKeywords {
		lowered = append(lowered, strings.ToLower(kw))
	}
	matched := 0
	for _, q := range queryKeywords {
		for _, kw := range lowered {
			if strings.Contains(kw, q) || strings.Contains(q, kw) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryKeywords))
}

func categoryMatch(queryCategories []string, bucket string) float64 {
	for _, c := range queryCategories {
		if strings.Contains(bucket, c) || strings.Contains(c, bucket) {
			return 1
		}
	}
	return 0
}

// recencyFactor is 1 for the newest chunk and falls linearly towards 0 across the window.
func recencyFactor(pos int, inWindow bool, windowLen int) float64 {
	if !inWindow || windowLen == 0 {
		return 0
	}
	return 1 - float64(pos)/float64(windowLen)
}

func score(c *models.Chunk, q query, pos int, inWindow bool, windowLen int) float64 {
	return WeightKeywords*keywordOverlap(q.keywords, c.Keywords) +
		WeightCategory*categoryMatch(q.categories, c.Bucket()) +
		WeightRecency*recencyFactor(pos, inWindow, windowLen) +
		WeightConfidence*c.Confidence
}

// rank scores every chunk in insertion order, drops zero scores and returns the best
// limit results. Equal scores keep insertion order.
func (ix *Index) rank(q query, limit int) []models.ScoredChunk {
	positions := make(map[string]int, len(ix.recency))
	for i, id := range ix.recency {
		positions[id] = i
	}

	var out []models.ScoredChunk
	for _, id := range ix.order {
		c := ix.chunks[id]
		pos, inWindow := positions[id]
		s := score(c, q, pos, inWindow, len(ix.recency))
		if s <= 0 {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: *c, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
