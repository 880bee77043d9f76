package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/datasource"
	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/loading"
	"github.com/EBISPOT/zooma-sub003/internal/metrics"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
	"github.com/EBISPOT/zooma-sub003/internal/resolve"
	"github.com/EBISPOT/zooma-sub003/internal/session"
	"github.com/EBISPOT/zooma-sub003/internal/store"
	"github.com/EBISPOT/zooma-sub003/internal/workload"
)

// shutdownGrace bounds how long Close waits for admitted work.
const shutdownGrace = 30 * time.Second

// loadEnv holds the store and loading service needed by the load, mirror
// and serve commands.
type loadEnv struct {
	Store   store.Store
	Service *loading.Service
	Metrics *metrics.Metrics

	resolvePool  *workload.Pool
	stopSessions context.CancelFunc
}

// Close shuts the service down, waits for receipt outcomes to be
// persisted, and closes the store.
func (e *loadEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if e.Service != nil {
		if err := e.Service.Shutdown(ctx); err != nil {
			zap.L().Warn("loading service did not shut down cleanly", zap.Error(err))
		}
		if err := e.Service.Receipts().Drain(ctx); err != nil {
			zap.L().Warn("receipt outcomes not fully recorded", zap.Error(err))
		}
	}
	if e.resolvePool != nil {
		e.resolvePool.Shutdown()
	}
	if e.stopSessions != nil {
		e.stopSessions()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store and brings its schema up to date.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initLoading wires the store, resolver and loading service. When
// withManifest is set the datasource manifest is required; otherwise a
// missing manifest leaves the registry empty. Callers should defer
// env.Close().
func initLoading(ctx context.Context, withManifest bool) (*loadEnv, error) {
	if err := cfg.Validate("load"); err != nil {
		return nil, err
	}

	sources, err := loadSources(withManifest)
	if err != nil {
		return nil, err
	}

	loadCfg, err := loading.FromConfig(cfg.Loading)
	if err != nil {
		return nil, err
	}

	idle, err := parseIdleTimeout(cfg.Session.IdleTimeout)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	resolvePool := workload.NewPool("resolve", loadCfg.BlockWorkers)
	if err := m.WatchPool(resolvePool); err != nil {
		zap.L().Warn("resolve pool gauges unavailable", zap.Error(err))
	}
	ld := loader.NewResolving(st, resolve.NewEntityResolver(st), resolvePool)
	svc := loading.New(loadCfg, ld, sources, receipt.NewRegistry(st), m)

	sessCtx, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	expireSessions(sessCtx, sources, idle)

	return &loadEnv{
		Store:        st,
		Service:      svc,
		Metrics:      m,
		resolvePool:  resolvePool,
		stopSessions: stopSessions,
	}, nil
}

func loadSources(required bool) (*datasource.Registry, error) {
	path := cfg.Datasources.Manifest
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return datasource.NewRegistry()
		}
		return nil, eris.Wrapf(err, "datasource manifest %s", path)
	}
	m, err := datasource.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return m.Registry(cfg.Session.BaseURI)
}

func parseIdleTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, eris.Wrapf(err, "session.idle_timeout %q", s)
	}
	return d, nil
}

// expireSessions clears the caches of every session-backed datasource once
// it has been idle for d.
func expireSessions(ctx context.Context, sources *datasource.Registry, d time.Duration) {
	if d <= 0 {
		return
	}
	for _, ds := range sources.All() {
		if sp, ok := ds.(interface{ Session() *session.Session }); ok {
			go sp.Session().ExpireWhenIdle(ctx, d)
		}
	}
}
