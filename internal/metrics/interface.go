// Package metrics records store and retrieval activity.
package metrics

import "context"

// Collector is the interface for metrics collection. The Prometheus collector backs the
// server process; the no-op collector is the default everywhere else.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetIndexSize(ctx context.Context, kind string, count int64)
}

// Operation status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusEmpty   = "empty"
)
