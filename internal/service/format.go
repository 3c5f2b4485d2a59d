package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/ctxstore/internal/models"
)

const contextHeading = "## Relevant Project Context"

const contextFooter = "*The context above was retrieved from this project's knowledge store. " +
	"Apply it where it fits the task and ignore it where it does not.*"

// FormatContext renders ranked chunks as a Markdown block grouped by bucket. Buckets
// appear in the order their best chunk ranked and show at most two chunks each. It
// returns the block, the chunks shown and the number of buckets.
func FormatContext(chunks []models.ScoredChunk) (string, []models.ScoredChunk, int) {
	var order []string
	groups := make(map[string][]models.ScoredChunk)
	for _, c := range chunks {
		key := c.Bucket()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		if len(groups[key]) < maxPerBucket {
			groups[key] = append(groups[key], c)
		}
	}

	var (
		b     strings.Builder
		shown []models.ScoredChunk
	)
	b.WriteString(contextHeading)
	b.WriteString("\n")
	for _, key := range order {
		fmt.Fprintf(&b, "\n### %s\n\n", key)
		for _, c := range groups[key] {
			fmt.Fprintf(&b, "- %s\n  _keywords: %s; confidence %s_\n",
				c.Content, strings.Join(c.Keywords, ", "), strconv.FormatFloat(c.Confidence, 'f', 2, 64))
			shown = append(shown, c)
		}
	}
	b.WriteString("\n")
	b.WriteString(contextFooter)
	return b.String(), shown, len(order)
}
