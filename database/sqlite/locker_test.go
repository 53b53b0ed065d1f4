package sqlite_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/database/sqlite"
	"github.com/sagarc03/splice/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Acquire(t *testing.T) {
	t.Run("held lease blocks others", func(t *testing.T) {
		locker := setupTestLocker(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "x.bin", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "x.bin", time.Minute)
		assert.ErrorIs(t, err, splice.ErrLeaseHeld)

		require.NoError(t, lease.Release(ctx))

		again, err := locker.Acquire(ctx, "x.bin", time.Minute)
		require.NoError(t, err)
		assert.NoError(t, again.Release(ctx))
	})

	t.Run("leases are per name", func(t *testing.T) {
		locker := setupTestLocker(t)
		ctx := context.Background()

		_, err := locker.Acquire(ctx, "a.bin", time.Minute)
		require.NoError(t, err)
		_, err = locker.Acquire(ctx, "b.bin", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("expired lease is taken over", func(t *testing.T) {
		locker := setupTestLocker(t)
		ctx := context.Background()

		stale, err := locker.Acquire(ctx, "x.bin", -time.Second)
		require.NoError(t, err)

		fresh, err := locker.Acquire(ctx, "x.bin", time.Minute)
		require.NoError(t, err)

		// The stale owner no longer owns the row.
		require.NoError(t, stale.Release(ctx))
		_, err = locker.Acquire(ctx, "x.bin", time.Minute)
		assert.ErrorIs(t, err, splice.ErrLeaseHeld)

		assert.NoError(t, fresh.Release(ctx))
	})
}

func TestNewLocker_InvalidTable(t *testing.T) {
	_, err := sqlite.NewLocker(nil, "leases; DROP TABLE x")
	assert.ErrorIs(t, err, splice.ErrInvalidInput)
}

func TestValidateSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("missing table", func(t *testing.T) {
		db, err := sqlite.Connect(ctx, ":memory:", "missing")
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		assert.Error(t, db.Validate(ctx))
	})

	t.Run("invalid table name", func(t *testing.T) {
		db, err := sqlite.Connect(ctx, ":memory:", "Bad-Name")
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		err = db.Validate(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})
}

func TestFinalizeWithSQLiteLocker(t *testing.T) {
	locker := setupTestLocker(t)
	ctx := context.Background()

	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })
	store := filesystem.NewFileStorage(root)

	tracker := splice.NewTracker(store)
	for i, p := range []string{"AB", "CD"} {
		_, err := tracker.AcceptChunk(ctx,
			splice.Chunk{Name: "x.bin", Index: i, Total: 2, TotalSize: 4},
			strings.NewReader(p))
		require.NoError(t, err)
	}

	finalizer := splice.NewFinalizer(store, locker, time.Minute, nil)

	held, err := locker.Acquire(ctx, "x.bin", time.Minute)
	require.NoError(t, err)

	_, err = finalizer.Finalize(ctx, "x.bin")
	assert.ErrorIs(t, err, splice.ErrRaceLost)

	require.NoError(t, held.Release(ctx))

	res, err := finalizer.Finalize(ctx, "x.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Size)

	// Lease row is gone after a successful finalize.
	again, err := locker.Acquire(ctx, "x.bin", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, again.Release(ctx))
}
