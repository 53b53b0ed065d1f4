// Package sqlite implements splice.Locker on a SQLite lease table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/splice"
)

// Locker grants finalize leases by upserting rows in a lease table. A row
// can only be replaced once its expires_at has passed.
type Locker struct {
	db        *sql.DB
	tableName string
	now       func() time.Time
}

// NewLocker returns a Locker on an already migrated table.
func NewLocker(db *sql.DB, tableName string) (*Locker, error) {
	if !splice.IsValidTableName(tableName) {
		return nil, fmt.Errorf("new locker: %w: invalid table name %q", splice.ErrInvalidInput, tableName)
	}
	return &Locker{db: db, tableName: tableName, now: time.Now}, nil
}

func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (splice.Lease, error) {
	owner := uuid.NewString()
	now := l.now()
	table := quoteIdentifier(l.tableName)

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE %s.expires_at < ?`, table, table)

	res, err := l.db.ExecContext(ctx, query, name, owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w: %w", name, splice.ErrStorageUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("acquire lease %q: %w", name, splice.ErrLeaseHeld)
	}

	return &lease{locker: l, name: name, owner: owner}, nil
}

type lease struct {
	locker *Locker
	name   string
	owner  string
}

// Release deletes the row if this lease still owns it.
func (l *lease) Release(ctx context.Context) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`DELETE FROM %s WHERE name = ? AND owner = ?`, quoteIdentifier(l.locker.tableName))

	if _, err := l.locker.db.ExecContext(ctx, query, l.name, l.owner); err != nil {
		return fmt.Errorf("release lease %q: %w", l.name, err)
	}
	return nil
}
