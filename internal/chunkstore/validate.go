package chunkstore

import (
	"fmt"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/taxonomy"
)

// sanitizeInsight checks taxonomy membership and required fields, then clamps what can be
// clamped: confidence into [0,1] and content to maxChars characters.
func sanitizeInsight(in models.Insight, maxChars int) (models.Insight, error) {
	if !taxonomy.Contains(in.Category, in.Subcategory) {
		return in, fmt.Errorf("%s: %w", taxonomy.Key(in.Category, in.Subcategory), apperr.ErrInvalidTaxonomy)
	}

	keywords := make([]string, 0, len(in.Keywords))
	for _, kw := range in.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	in.Keywords = keywords
	in.Content = strings.TrimSpace(in.Content)

	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Keywords, validation.Required),
		validation.Field(&in.Content, validation.Required),
	); err != nil {
		return in, fmt.Errorf("%w: %v", apperr.ErrInvalidInsight, err)
	}

	in.Confidence = models.ClampConfidence(in.Confidence)
	in.Content = truncate(in.Content, maxChars)
	return in, nil
}

// truncate cuts s to at most n characters. Trailing whitespace exposed by the cut is
// dropped so the stored text survives a parse unchanged.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return strings.TrimRight(s[:pos], " \t\r\n")
		}
		i++
	}
	return s
}
