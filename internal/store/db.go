package store

import (
	"context"
	"fmt"

	"github.com/carhelperai/carhelper/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and verifies it with a ping. Zero pool settings
// keep the pgx defaults.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Open connects to PostgreSQL and, when migrationsDir is non-empty, brings the
// schema up to date before returning the store. The returned func closes the
// pool.
func Open(ctx context.Context, cfg config.DatabaseConfig, migrationsDir string) (*PostgresStore, func(), error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if migrationsDir != "" {
		if err := RunMigrations(cfg.URL, migrationsDir); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return NewPostgresStore(pool), pool.Close, nil
}
