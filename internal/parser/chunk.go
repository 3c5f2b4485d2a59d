package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/taxonomy"
)

// TimeLayout is the ISO-8601 form written to the created field.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const footerPrefix = "*Generated by ctxstore from "

// ErrNoID is returned when a file carries no id line and cannot be a chunk.
var ErrNoID = errors.New("parser: no id in frontmatter")

// FormatChunk renders c in the canonical on-disk format.
func FormatChunk(c *models.Chunk) ([]byte, error) {
	kw, err := json.Marshal(c.Keywords)
	if err != nil {
		return nil, fmt.Errorf("parser: encode keywords: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", c.ID)
	fmt.Fprintf(&b, "created: %s\n", c.Created.UTC().Format(TimeLayout))
	fmt.Fprintf(&b, "relevance_keywords: %s\n", kw)
	fmt.Fprintf(&b, "confidence: %s\n", strconv.FormatFloat(c.Confidence, 'f', -1, 64))
	fmt.Fprintf(&b, "source: %s\n", c.Source)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", Title(c.ID))
	b.WriteString(c.Content)
	b.WriteString("\n\n")
	b.WriteString(footerPrefix + sourcePhrase(c.Source) + "*\n")
	return []byte(b.String()), nil
}

func sourcePhrase(s models.Source) string {
	if s == models.SourceReasoningStream {
		return "AI reasoning stream analysis"
	}
	return "user prompt analysis"
}

// ParseChunk is the inverse of FormatChunk. The bucket comes from the file's location,
// not from its contents. Unknown frontmatter keys are ignored, confidence is clamped into
// [0,1], and a malformed confidence or created value falls back to its zero value; the file is rejected only
// when the id is missing, the keyword list is not valid JSON, or the bucket is not in
// the taxonomy.
func ParseChunk(data []byte, category, subcategory string) (*models.Chunk, error) {
	if !taxonomy.Contains(category, subcategory) {
		return nil, fmt.Errorf("parser: %s/%s: %w", category, subcategory, apperr.ErrInvalidTaxonomy)
	}
	res := Split(data)
	id := res.Fields["id"]
	if id == "" {
		return nil, ErrNoID
	}

	c := &models.Chunk{
		ID:          id,
		Category:    category,
		Subcategory: subcategory,
		Source:      models.Source(res.Fields["source"]),
		Content:     parseBody(res.Body),
	}
	if raw, ok := res.Fields["relevance_keywords"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Keywords); err != nil {
			return nil, fmt.Errorf("parser: %s: relevance_keywords: %w", id, err)
		}
	}
	if raw := res.Fields["confidence"]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Confidence = models.ClampConfidence(v)
		}
	}
	if raw := res.Fields["created"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			c.Created = ts
		}
	}
	return c, nil
}

// parseBody drops the heading line and the provenance footer.
func parseBody(body string) string {
	body = strings.TrimLeft(body, "\r\n")
	if strings.HasPrefix(body, "# ") {
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			body = body[i+1:]
		} else {
			body = ""
		}
	}
	if i := strings.LastIndex(body, footerPrefix); i >= 0 && (i == 0 || body[i-1] == '\n') {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
