package worker

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/annworker/internal/catalog"
	"github.com/Aman-CERP/annworker/internal/config"
	"github.com/Aman-CERP/annworker/internal/durable"
	"github.com/Aman-CERP/annworker/internal/embed"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/vfs"
)

// Runtime is a fully wired worker built from configuration.
type Runtime struct {
	Dispatcher *Dispatcher
	State      *State

	store   durable.Store
	catalog *catalog.SQLiteSource
}

// Open opens the durable store and catalog named by cfg and wires the
// index manager, embedding gateway and event hub around them. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Runtime, error) {
	store, err := durable.Open(ctx, cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	if err := m.Register(durable.Collector(store)); err != nil {
		slog.Warn("durable_collector_not_registered", slog.String("error", err.Error()))
	}

	gateway, err := embed.NewGatewayFromConfig(cfg.Embeddings)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := NewHub(m)
	mgr := index.NewManager(vfs.New(store), index.Options{
		Params: index.BuildParams{
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
			EfSearch:       cfg.Index.EfSearch,
		},
		DefaultCapacity: cfg.Index.DefaultCapacity,
		DefaultFilename: cfg.Index.DefaultFilename,
		ProgressPercent: cfg.Index.ProgressPercent,
		OnProgress:      hub.IndexProgress,
		OnStatus:        hub.Status,
	})

	rt := &Runtime{
		State: &State{Manager: mgr, Gateway: gateway},
		store: store,
	}

	src, err := catalog.Open(cfg.Storage.ResolvedCatalogPath())
	if err != nil {
		slog.Warn("catalog_unavailable",
			slog.String("path", cfg.Storage.ResolvedCatalogPath()),
			slog.String("error", err.Error()))
	} else {
		rt.catalog = src
		rt.State.Source = src
	}

	rt.Dispatcher = NewDispatcher(rt.State, hub, m)
	return rt, nil
}

// Catalog returns the source record catalog, or nil if it could not be opened.
func (r *Runtime) Catalog() *catalog.SQLiteSource {
	return r.catalog
}

// Close releases the model, the catalog and the durable store.
func (r *Runtime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.State.Gateway != nil {
		keep(r.State.Gateway.Close())
	}
	if r.catalog != nil {
		keep(r.catalog.Close())
	}
	keep(r.store.Close())
	return firstErr
}
