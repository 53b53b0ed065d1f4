// Package postgres implements splice.Locker on a PostgreSQL lease table.
//
// Expiry is decided by the database clock so that replicas with skewed
// clocks agree on when a lease may be taken over.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/splice"
)

type Locker struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewLocker returns a Locker on an already migrated table.
func NewLocker(pool *pgxpool.Pool, tableName string) (*Locker, error) {
	if !splice.IsValidTableName(tableName) {
		return nil, fmt.Errorf("new locker: %w: invalid table name %q", splice.ErrInvalidInput, tableName)
	}
	return &Locker{pool: pool, tableName: tableName}, nil
}

func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (splice.Lease, error) {
	owner := uuid.NewString()
	table := pgx.Identifier{l.tableName}.Sanitize()

	query := fmt.Sprintf( //nolint:gosec // G201: table name is sanitized
		`INSERT INTO %s AS t (name, owner, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE t.expires_at < NOW()`, table)

	tag, err := l.pool.Exec(ctx, query, name, owner, ttl.Seconds())
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w: %w", name, splice.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("acquire lease %q: %w", name, splice.ErrLeaseHeld)
	}

	return &lease{locker: l, name: name, owner: owner}, nil
}

type lease struct {
	locker *Locker
	name   string
	owner  string
}

func (l *lease) Release(ctx context.Context) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is sanitized
		`DELETE FROM %s WHERE name = $1 AND owner = $2`, pgx.Identifier{l.locker.tableName}.Sanitize())

	if _, err := l.locker.pool.Exec(ctx, query, l.name, l.owner); err != nil {
		return fmt.Errorf("release lease %q: %w", l.name, err)
	}
	return nil
}
