package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// database provides SQLite database operations.
type database struct {
	db    *sql.DB
	table string
}

// Connect establishes a connection to SQLite.
// The table name is validated by Locker.
func Connect(ctx context.Context, dsn string, table string) (*database, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a
	// single connection.
	db.SetMaxOpenConns(1)

	return &database{
		db:    db,
		table: table,
	}, nil
}

// Ping verifies the database connection is alive.
func (d *database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations to create required tables.
func (d *database) Migrate(ctx context.Context) error {
	if err := Migrate(ctx, d.db, d.table); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Validate checks that the database schema matches expected structure.
func (d *database) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db, d.table)
}

// Locker returns a lease Locker on the configured table.
func (d *database) Locker() (*Locker, error) {
	return NewLocker(d.db, d.table)
}

// Close closes the database connection.
func (d *database) Close() error {
	return d.db.Close()
}
