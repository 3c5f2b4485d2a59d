// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNotInitialized   = errors.New("store not initialized")
	ErrInvalidTaxonomy  = errors.New("category/subcategory not in taxonomy")
	ErrInvalidInsight   = errors.New("invalid insight")
	ErrNoQuery          = errors.New("empty retrieval query")
	ErrUnknownExtractor = errors.New("unknown extractor provider")
)
