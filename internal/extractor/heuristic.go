package extractor

import (
	"context"
	"strings"
	"unicode"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/taxonomy"
)

// Provider names.
const (
	ProviderHeuristic = "heuristic"
	ProviderOpenAI    = "openai"
)

const (
	maxInsightKeywords = 6
	maxQueryKeywords   = 8
	minKeywordLen      = 3
)

// rule maps cue words to a bucket. A cue with a space or hyphen is matched as a phrase;
// any other cue matches as a word prefix.
type rule struct {
	category    string
	subcategory string
	cues        []string
}

var rules = []rule{
	{"SOLUTIONS", "bug_fixes", []string{"fixed", "fix", "bug", "resolved", "patch"}},
	{"SOLUTIONS", "workarounds", []string{"workaround", "work around", "instead", "bypass"}},
	{"SOLUTIONS", "optimizations", []string{"faster", "optimiz", "performance", "cache", "latency"}},
	{"SOLUTIONS", "debugging", []string{"debug", "stack trace", "breakpoint", "reproduc"}},
	{"ERRORS", "common_errors", []string{"error", "exception", "fails", "failed", "crash"}},
	{"ERRORS", "edge_cases", []string{"edge case", "empty", "nil", "boundary", "overflow"}},
	{"ERRORS", "error_handling", []string{"wrap", "retry", "handle", "recover"}},
	{"ERRORS", "pitfalls", []string{"careful", "gotcha", "pitfall", "beware", "avoid"}},
	{"ARCHITECTURE", "design_patterns", []string{"pattern", "factory", "strategy", "adapter", "singleton"}},
	{"ARCHITECTURE", "system_design", []string{"architecture", "service", "component", "layer"}},
	{"ARCHITECTURE", "data_flow", []string{"flow", "pipeline", "queue", "stream", "event"}},
	{"ARCHITECTURE", "integrations", []string{"api", "webhook", "integration", "sdk", "endpoint"}},
	{"CODE_PATTERNS", "conventions", []string{"naming", "convention", "always", "consistent"}},
	{"CODE_PATTERNS", "idioms", []string{"idiom", "idiomatic"}},
	{"CODE_PATTERNS", "anti_patterns", []string{"anti-pattern", "antipattern", "smell"}},
	{"CODE_PATTERNS", "refactoring", []string{"refactor", "extract", "rename", "simplif"}},
	{"WORKFLOWS", "build_deploy", []string{"build", "deploy", "docker", "release", "pipeline"}},
	{"WORKFLOWS", "testing", []string{"test", "mock", "coverage", "assert"}},
	{"WORKFLOWS", "tooling", []string{"lint", "makefile", "tool", "script", "cli"}},
	{"WORKFLOWS", "version_control", []string{"git", "branch", "commit", "merge", "rebase"}},
	{"DOMAIN", "business_rules", []string{"rule", "policy", "must"}},
	{"DOMAIN", "terminology", []string{"means", "refers to", "term", "definition"}},
	{"DOMAIN", "requirements", []string{"requirement", "should support", "needs to", "required"}},
	{"DOMAIN", "constraints", []string{"limit", "constraint", "cannot", "maximum", "minimum"}},
	{"PREFERENCES", "coding_style", []string{"prefer", "style", "format", "indent"}},
	{"PREFERENCES", "libraries", []string{"library", "package", "dependency", "framework"}},
	{"PREFERENCES", "communication", []string{"explain", "concise", "verbose", "summar"}},
	{"PREFERENCES", "review", []string{"review", "pull request", "approve", "feedback"}},
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "when": true, "then": true, "than": true, "have": true,
	"has": true, "was": true, "were": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "our": true, "they": true, "them": true, "its": true,
	"can": true, "will": true, "would": true, "should": true, "could": true, "there": true,
	"what": true, "which": true, "where": true, "how": true, "why": true, "all": true,
	"any": true, "use": true, "using": true, "used": true, "also": true, "just": true,
	"only": true, "some": true, "more": true, "most": true, "very": true, "need": true,
	"does": true, "did": true, "been": true, "being": true, "about": true, "after": true,
	"before": true, "over": true, "under": true, "again": true, "please": true, "make": true,
}

// Heuristic is the offline provider. It classifies sentences by cue words and picks
// keywords from their content words. Output depends only on the input.
type Heuristic struct{}

// NewHeuristic creates the offline provider.
func NewHeuristic() *Heuristic { return &Heuristic{} }

var _ Extractor = (*Heuristic)(nil)

// ExtractInsights returns one insight per sentence that matches a rule, in text order.
func (h *Heuristic) ExtractInsights(_ context.Context, text, hint string) ([]models.Insight, error) {
	hintWords := keywords(hint, maxInsightKeywords)
	var out []models.Insight
	for _, sentence := range sentences(text) {
		r, hits := classify(sentence)
		if hits == 0 {
			continue
		}
		kws := keywords(sentence, maxInsightKeywords)
		kws = appendUnique(kws, hintWords, maxInsightKeywords)
		if len(kws) == 0 {
			continue
		}
		out = append(out, models.Insight{
			Category:    r.category,
			Subcategory: r.subcategory,
			Keywords:    kws,
			Content:     sentence,
			Confidence:  confidence(hits),
		})
	}
	return out, nil
}

// ExtractRetrievalQuery returns the content words of text plus the buckets its
// sentences classify into.
func (h *Heuristic) ExtractRetrievalQuery(_ context.Context, text string) (models.Query, error) {
	q := models.Query{Keywords: keywords(text, maxQueryKeywords)}
	seen := make(map[string]bool)
	for _, sentence := range sentences(text) {
		r, hits := classify(sentence)
		if hits == 0 {
			continue
		}
		key := taxonomy.Key(r.category, r.subcategory)
		if !seen[key] {
			seen[key] = true
			q.Categories = append(q.Categories, key)
		}
	}
	if len(q.Keywords) == 0 && len(q.Categories) == 0 {
		return q, apperr.ErrNoQuery
	}
	return q, nil
}

func confidence(hits int) float64 {
	c := 0.5 + 0.15*float64(hits)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// classify returns the rule with the most cue hits; earlier rules win ties.
func classify(sentence string) (rule, int) {
	lower := strings.ToLower(sentence)
	words := strings.FieldsFunc(lower, notWordRune)
	var (
		best     rule
		bestHits int
	)
	for _, r := range rules {
		hits := 0
		for _, cue := range r.cues {
			if matchCue(cue, lower, words) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r, hits
		}
	}
	return best, bestHits
}

func matchCue(cue, lower string, words []string) bool {
	if strings.ContainsAny(cue, " -") {
		return strings.Contains(lower, cue)
	}
	for _, w := range words {
		if strings.HasPrefix(w, cue) {
			return true
		}
	}
	return false
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
}

// keywords returns up to limit distinct lower-cased content words of s, in order.
func keywords(s string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), notWordRune) {
		w = strings.Trim(w, "-_")
		if len([]rune(w)) < minKeywordLen || stopwords[w] || seen[w] || isNumber(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

func appendUnique(dst, src []string, limit int) []string {
	for _, w := range src {
		if len(dst) >= limit {
			break
		}
		dup := false
		for _, d := range dst {
			if d == w {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, w)
		}
	}
	return dst
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// sentences splits text on sentence punctuation and line breaks, dropping blanks.
func sentences(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case r == '\n':
			flush()
		case r == '.' || r == '!' || r == '?':
			b.WriteRune(r)
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}
