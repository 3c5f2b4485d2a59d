package api

import (
	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/tree"
)

// RetrieveRequest is the body of POST /api/retrieve. With Prompt or Instructions set the
// extractor derives the query; otherwise Keywords and Categories are used as given.
type RetrieveRequest struct {
	Prompt       string   `json:"prompt,omitempty" example:"why does the jwt refresh fail?"`
	Instructions string   `json:"instructions,omitempty" example:"You are a helpful assistant."`
	Keywords     []string `json:"keywords,omitempty" example:"jwt,auth"`
	Categories   []string `json:"categories,omitempty" example:"SOLUTIONS/bug_fixes"`
	Limit        int      `json:"limit,omitempty" example:"6"`
}

// ChunksResponse wraps a direct keyword/category retrieval.
type ChunksResponse struct {
	Chunks []models.ScoredChunk `json:"chunks" validate:"required"`
}

// InsightsRequest is the body of POST /api/insights. Text goes through the extractor;
// Insights are stored as given. Exactly one of them must be set.
type InsightsRequest struct {
	Text     string           `json:"text,omitempty"`
	Context  string           `json:"context,omitempty"`
	Source   models.Source    `json:"source,omitempty" example:"user_prompt"`
	Insights []models.Insight `json:"insights,omitempty"`
}

// InsightsResponse reports a queued batch.
type InsightsResponse struct {
	TaskID    string `json:"task_id" validate:"required"`
	Extracted int    `json:"extracted"`
	Summary   string `json:"summary,omitempty"`
}

// StatsResponse combines the in-memory index with a scan of the tree.
type StatsResponse struct {
	Root  string           `json:"root" validate:"required"`
	Index chunkstore.Stats `json:"index" validate:"required"`
	Tree  tree.Stats       `json:"tree" validate:"required"`
}

// RepairResponse is returned by POST /api/tree/repair.
type RepairResponse struct {
	Repaired   bool            `json:"repaired"`
	Validation tree.Validation `json:"validation" validate:"required"`
}

// EnhanceResult is the prompt-driven retrieval response (aliased from the service layer).
type EnhanceResult = service.EnhanceResult
