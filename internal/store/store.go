// Package store persists annotations, supplementary streams and receipt
// outcomes, and serves them back as the reference for resolution.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/config"
	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
	"github.com/EBISPOT/zooma-sub003/internal/resolve"
)

// Store defines the persistence interface for annotation loading.
type Store interface {
	loader.Loader
	resolve.Store
	receipt.StatusSink

	// Current annotations, i.e. those not replaced by a newer version.
	Count(ctx context.Context) (int, error)
	ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error)
	// Search returns current annotations whose property value contains any
	// word of query, ignoring case.
	Search(ctx context.Context, query string, limit int) ([]*model.Annotation, error)

	// ListReceipts returns persisted receipt outcomes, newest first.
	ListReceipts(ctx context.Context, limit int) ([]receipt.Status, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}
