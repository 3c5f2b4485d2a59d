package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/extractor"
	"github.com/starford/ctxstore/internal/metrics"
	"github.com/starford/ctxstore/internal/service"
	"github.com/starford/ctxstore/internal/tree"
)

// Components is the object graph shared by the server, the MCP command and the one-shot
// CLI commands. Each process builds it once.
type Components struct {
	Tree    *tree.Manager
	Store   *chunkstore.Store
	Service *service.Service
	Metrics metrics.Collector
}

// NewTree builds the tree manager for cfg without touching the disk.
func NewTree(cfg *Config, logger *slog.Logger) *tree.Manager {
	return tree.NewManager(cfg.Store.StartDir,
		tree.WithDirName(cfg.Store.DirName),
		tree.WithLogger(logger),
	)
}

// Open builds and initializes the components. Extra store options are appended after the
// configured ones. Close the returned Components when done.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...chunkstore.Option) (*Components, error) {
	var collector metrics.Collector = metrics.NewNoopCollector()
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector()
	}

	ex, err := extractor.New(cfg.Extractor.Provider, cfg.Extractor.Options(logger))
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	tm := NewTree(cfg, logger)
	storeOpts := append([]chunkstore.Option{
		chunkstore.WithLogger(logger),
		chunkstore.WithMetrics(collector),
		chunkstore.WithLimits(cfg.Store.Limits()),
	}, opts...)
	store := chunkstore.New(tm, storeOpts...)
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	svc := service.New(store, ex,
		service.WithLogger(logger),
		service.WithMetrics(collector),
	)

	return &Components{Tree: tm, Store: store, Service: svc, Metrics: collector}, nil
}

// Close stops the store writer after draining queued batches.
func (c *Components) Close() error {
	return c.Store.Close()
}
