// Package models defines the domain types shared by the store, service and transports.
package models

import (
	"math"
	"time"
)

// Source tags where a chunk's insight came from.
type Source string

const (
	SourceUserPrompt      Source = "user_prompt"
	SourceReasoningStream Source = "reasoning_stream"
)

// Valid reports whether s is one of the known provenance tags.
func (s Source) Valid() bool {
	return s == SourceUserPrompt || s == SourceReasoningStream
}

// Chunk is an immutable stored insight.
type Chunk struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Keywords    []string  `json:"relevance_keywords"`
	Confidence  float64   `json:"confidence"`
	Source      Source    `json:"source"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Content     string    `json:"content"`
}

// Bucket returns the "CATEGORY/subcategory" key of the chunk.
func (c *Chunk) Bucket() string {
	return c.Category + "/" + c.Subcategory
}

// Insight is what the extraction collaborator hands to the store.
type Insight struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Keywords    []string `json:"keywords"`
	Content     string   `json:"content"`
	Confidence  float64  `json:"confidence"`
}

// Query is a retrieval request produced by the extraction collaborator.
type Query struct {
	Keywords   []string `json:"keywords"`
	Categories []string `json:"categories"`
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ClampConfidence maps v into [0,1]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
