package database

import (
	"context"
	"fmt"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/database/postgres"
	"github.com/sagarc03/splice/database/sqlite"
)

// Config holds the configuration for connecting to a lease backend.
type Config struct {
	// Type specifies the database type: "sqlite" or "postgres"
	Type string
	// DSN is the data source name (connection string)
	DSN string
	// Table is the name of the lease table
	Table string
}

// Connect establishes a connection to the configured database backend,
// runs migrations, validates the schema, and returns a splice.Locker.
// The returned cleanup function should be called to close the connection.
func Connect(ctx context.Context, cfg Config) (splice.Locker, func(), error) {
	if !splice.IsValidTableName(cfg.Table) {
		return nil, nil, fmt.Errorf("connect database: %w: invalid table name %q", splice.ErrInvalidInput, cfg.Table)
	}

	switch cfg.Type {
	case "sqlite":
		db, err := sqlite.Connect(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return prepare[*sqlite.Locker](ctx, "sqlite", db)
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return prepare[*postgres.Locker](ctx, "postgres", db)
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

type backend[L splice.Locker] interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Validate(ctx context.Context) error
	Locker() (L, error)
	Close() error
}

func prepare[L splice.Locker](ctx context.Context, kind string, db backend[L]) (splice.Locker, func(), error) {
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", kind, err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", kind, err)
	}

	if err := db.Validate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("validate %s schema: %w", kind, err)
	}

	locker, err := db.Locker()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create %s locker: %w", kind, err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return locker, cleanup, nil
}
