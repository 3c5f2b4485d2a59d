package metrics

import "context"

// NoopCollector discards everything.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(context.Context, string, string, int64) {}

func (n *NoopCollector) RecordError(context.Context, string, string) {}

func (n *NoopCollector) SetIndexSize(context.Context, string, int64) {}
