package chunkstore

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ctxstore/internal/models"
)

func chunk(id, cat, sub string, conf float64, keywords ...string) *models.Chunk {
	return &models.Chunk{
		ID:          id,
		Created:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Keywords:    keywords,
		Confidence:  conf,
		Source:      models.SourceUserPrompt,
		Category:    cat,
		Subcategory: sub,
		Content:     "content of " + id,
	}
}

func TestIndex_RecencyWindowEvictsOldest(t *testing.T) {
	ix := newIndex(1000)
	for i := 1; i <= 1001; i++ {
		ix.add(chunk(fmt.Sprintf("solutions-bug_fixes-%03d", i), "SOLUTIONS", "bug_fixes", 0.5, "k"))
	}
	require.Len(t, ix.recency, 1000)
	assert.Equal(t, "solutions-bug_fixes-1001", ix.recency[0])
	assert.Equal(t, "solutions-bug_fixes-002", ix.recency[999])
	assert.NotContains(t, ix.recency, "solutions-bug_fixes-001")
	assert.Equal(t, 1001, ix.stats().TotalChunks)
}

func TestIndex_AddIsIdempotent(t *testing.T) {
	ix := newIndex(10)
	c := chunk("errors-pitfalls-001", "ERRORS", "pitfalls", 0.5, "nil", "map")
	assert.True(t, ix.add(c))
	assert.False(t, ix.add(c))

	st := ix.stats()
	assert.Equal(t, 1, st.TotalChunks)
	assert.Equal(t, 2, st.Keywords)
	assert.Equal(t, 1, st.Categories)
	assert.Equal(t, 1, st.RecentChunks)
	assert.Equal(t, []string{"errors-pitfalls-001"}, ix.byKeyword(" NIL "))
	assert.Equal(t, []string{"errors-pitfalls-001"}, ix.byBucket("ERRORS/pitfalls"))
}

func TestRank_SingleChunkScenario(t *testing.T) {
	ix := newIndex(1000)
	ix.add(chunk("solutions-bug_fixes-001", "SOLUTIONS", "bug_fixes", 0.8, "jwt", "token"))

	got := ix.rank(normalizeQuery([]string{"jwt", "auth"}, []string{"SOLUTIONS/bug_fixes"}), 6)
	require.Len(t, got, 1)
	// keywords 0.4*0.5, category 0.3, newest of one 0.2, confidence 0.1*0.8
	assert.InDelta(t, 0.78, got[0].Score, 1e-9)
}

func TestRank_OrderingLimitAndZeroScores(t *testing.T) {
	ix := newIndex(1000)
	ix.add(chunk("a-1", "WORKFLOWS", "testing", 0, "pytest"))
	ix.add(chunk("a-2", "WORKFLOWS", "testing", 0, "golang"))
	ix.add(chunk("a-3", "WORKFLOWS", "tooling", 0, "make"))
	ix.add(chunk("a-4", "WORKFLOWS", "testing", 0, "golang"))

	// Recency alone gives every chunk a positive score.
	all := ix.rank(normalizeQuery(nil, nil), 10)
	require.Len(t, all, 4)
	assert.Equal(t, "a-4", all[0].ID)

	got := ix.rank(normalizeQuery([]string{"go"}, []string{"WORKFLOWS/testing"}), 3)
	require.Len(t, got, 3)
	assert.Equal(t, "a-4", got[0].ID)
	assert.Equal(t, "a-2", got[1].ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestRank_ExcludesZeroScores(t *testing.T) {
	ix := newIndex(1)
	ix.add(chunk("old", "DOMAIN", "terminology", 0, "ledger"))
	ix.add(chunk("new", "DOMAIN", "terminology", 0, "ledger"))

	got := ix.rank(normalizeQuery([]string{"unrelated"}, nil), 10)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestRank_TiesKeepInsertionOrder(t *testing.T) {
	ix := newIndex(1)
	ix.add(chunk("first", "DOMAIN", "terminology", 0.5, "x"))
	ix.add(chunk("second", "DOMAIN", "terminology", 0.5, "x"))
	ix.add(chunk("third", "DOMAIN", "terminology", 0.5, "x"))

	// Only "third" sits in the window; the other two tie.
	got := ix.rank(normalizeQuery([]string{"y"}, nil), 10)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"third", "first", "second"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestScore_Components(t *testing.T) {
	assert.Equal(t, 0.0, keywordOverlap(nil, []string{"a"}))
	assert.Equal(t, 1.0, keywordOverlap([]string{"auth"}, []string{"OAuth2"}))
	assert.Equal(t, 1.0, keywordOverlap([]string{"authentication"}, []string{"auth"}))
	assert.Equal(t, 0.5, keywordOverlap([]string{"go", "rust"}, []string{"algorithm"}))

	assert.Equal(t, 1.0, categoryMatch([]string{"SOLUTIONS"}, "SOLUTIONS/bug_fixes"))
	assert.Equal(t, 1.0, categoryMatch([]string{"SOLUTIONS/bug_fixes/extra"}, "SOLUTIONS/bug_fixes"))
	assert.Equal(t, 0.0, categoryMatch([]string{"solutions"}, "SOLUTIONS/bug_fixes"))

	assert.Equal(t, 1.0, recencyFactor(0, true, 4))
	assert.Equal(t, 0.75, recencyFactor(1, true, 4))
	assert.Equal(t, 0.0, recencyFactor(0, false, 4))
}

func TestScore_ConfidenceMonotonic(t *testing.T) {
	q := normalizeQuery([]string{"cache"}, []string{"SOLUTIONS"})
	prev := -1.0
	for _, conf := range []float64{0, 0.2, 0.5, 0.9, 1} {
		c := chunk("x", "SOLUTIONS", "optimizations", conf, "cache")
		s := score(c, q, 3, true, 10)
		assert.Greater(t, s, prev)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
}

func TestNormalizeQuery_DropsBlanks(t *testing.T) {
	q := normalizeQuery([]string{" JWT ", "", "  "}, []string{"", " ERRORS "})
	assert.Equal(t, []string{"jwt"}, q.keywords)
	assert.Equal(t, []string{"ERRORS"}, q.categories)
}

func TestSanitizeInsight(t *testing.T) {
	in := models.Insight{
		Category: "CODE_PATTERNS", Subcategory: "idioms",
		Keywords: []string{" errors ", ""}, Content: "  wrap with %w  ", Confidence: 1.7,
	}
	out, err := sanitizeInsight(in, 300)
	require.NoError(t, err)
	assert.Equal(t, []string{"errors"}, out.Keywords)
	assert.Equal(t, "wrap with %w", out.Content)
	assert.Equal(t, 1.0, out.Confidence)

	_, err = sanitizeInsight(models.Insight{Category: "CODE_PATTERNS", Subcategory: "idioms", Keywords: []string{" "}, Content: "x"}, 300)
	assert.Error(t, err)

	_, err = sanitizeInsight(models.Insight{Category: "NOPE", Subcategory: "idioms", Keywords: []string{"k"}, Content: "x"}, 300)
	assert.Error(t, err)

	assert.Equal(t, 0.0, models.ClampConfidence(math.NaN()))
	assert.Equal(t, 0.0, models.ClampConfidence(-2))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("ab cd", 3))
	assert.Equal(t, "héé", truncate("héééé", 3))
}
