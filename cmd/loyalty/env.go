package main

import (
	"context"
	"fmt"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/sync"
)

// env holds the wired components for one command invocation.
type env struct {
	db     *db.DB
	store  remote.Store
	meta   *metadata.Manager
	repo   *repo.Repository
	syncer sync.Syncer
	app    *app.App
}

// openEnv opens the local database and the configured remote store and
// wires the components together.
func openEnv(ctx context.Context) (*env, error) {
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}

	store, err := remote.Open(ctx, cfg.RemoteStore())
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	clk := clock.New()
	meta := metadata.New(database, store, clk, logs.For("metadata")).WithAppVersion(Version)
	r := repo.New(database, meta, clk, cfg.Repository(), logs.For("repo"))
	s := sync.New(database, store, meta, logs.For("sync"))

	return &env{
		db:     database,
		store:  store,
		meta:   meta,
		repo:   r,
		syncer: s,
		app:    app.New(r, s, meta, clk, logs.For("app")),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		logs.For("remote").Printf("Failed to close remote store: %v", err)
	}
	if err := e.db.Close(); err != nil {
		logs.For("db").Printf("Failed to close database: %v", err)
	}
}

// withTimeout bounds a command that talks to the remote store.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.Sync.Timeout)
}
