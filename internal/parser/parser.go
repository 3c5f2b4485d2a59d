// Package parser serializes chunks to their canonical Markdown form and parses them back.
package parser

import (
	"bytes"
	"strings"
)

// Result holds the output of splitting a Markdown file.
type Result struct {
	// Fields holds raw frontmatter values keyed by name, in whatever order they appeared.
	Fields map[string]string
	Body   string
}

// Split separates the frontmatter block (between leading --- delimiters) from the
// Markdown body. Frontmatter is read line by line as "key: value"; lines without a
// colon are ignored. If no frontmatter is found the entire content is body and Fields is nil.
func Split(data []byte) Result {
	fm, body := splitFrontmatter(data)
	if fm == nil {
		return Result{Body: body}
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(string(fm), "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return Result{Fields: fields, Body: body}
}

func splitFrontmatter(data []byte) ([]byte, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter; treat everything as body.
		return nil, string(data)
	}

	block := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")
	return block, body
}

// Title derives a display heading from a chunk id: hyphens become spaces and the
// first letter of every word is upper-cased ("solutions-bug_fixes-001" → "Solutions Bug_fixes 001").
func Title(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	boundary := true
	for _, r := range strings.ReplaceAll(id, "-", " ") {
		word := r == '_' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
		if word && boundary && 'a' <= r && r <= 'z' {
			r -= 'a' - 'A'
		}
		boundary = !word
		b.WriteRune(r)
	}
	return b.String()
}
