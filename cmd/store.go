package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/stadtlabor/wohnlage/internal/store"
)

// initStore opens the configured database backend. Callers own the
// returned store and must Close it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
