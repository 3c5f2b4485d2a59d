package mcpserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/starford/ctxstore/internal/taxonomy"
)

const contractHeader = `# Chunk Format Contract

Every insight is stored as one Markdown file under
` + "`<root>/<CATEGORY>/<subcategory>/<id>.md`" + `. The id is
` + "`<category lowercased>-<subcategory>-<NNN>`" + ` and is assigned by the store.

## File layout

` + "```" + `markdown
---
id: solutions-bug_fixes-001
created: 2025-01-15T10:30:00.000Z
relevance_keywords: ["jwt", "refresh"]
confidence: 0.8
source: user_prompt
---

# Solutions Bug_fixes 001

Refresh the JWT before it expires, not after the 401.

*Generated by ctxstore from user prompt analysis*
` + "```" + `

## Rules

1. Content is one self-contained fact. Only the first 300 characters are kept.
2. Keywords are short lowercase terms a future prompt would contain. Give at least one.
3. Confidence is a number in [0,1].
4. Source is ` + "`user_prompt`" + ` or ` + "`reasoning_stream`" + `.
5. Category and subcategory must be one of the buckets below, spelled exactly.

## Taxonomy
`

var (
	contractOnce sync.Once
	contractText string
)

// ChunkFormatContract returns the chunk format description followed by every bucket of
// the taxonomy.
func ChunkFormatContract() string {
	contractOnce.Do(func() {
		var b strings.Builder
		b.WriteString(contractHeader)
		for _, cat := range taxonomy.Categories() {
			fmt.Fprintf(&b, "\n### %s\n\n", cat)
			for _, sub := range taxonomy.Subcategories(cat) {
				l, _ := taxonomy.Lookup(cat, sub)
				fmt.Fprintf(&b, "- `%s`: %s\n", sub, l.Description)
			}
		}
		contractText = b.String()
	})
	return contractText
}
