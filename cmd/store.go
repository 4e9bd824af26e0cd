package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intellifin/internal/lock"
	"github.com/sells-group/intellifin/internal/resilience"
	"github.com/sells-group/intellifin/internal/sector"
	"github.com/sells-group/intellifin/internal/store"
)

// companyLocks is shared by every stage a single command runs.
var companyLocks = &lock.Keyed{}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and applies pending migrations. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// loadSectors returns the configured sector profiles, or the built-in set
// when no file is configured.
func loadSectors() (*sector.Registry, error) {
	if cfg.Sectors.File == "" {
		return sector.Default(), nil
	}
	return sector.Load(cfg.Sectors.File)
}

// retryPolicy is the per-company retry applied to transaction failures.
func retryPolicy(stage, companyCode string) resilience.RetryConfig {
	rc := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	rc.OnRetry = resilience.RetryLogger(stage, companyCode)
	return rc
}
