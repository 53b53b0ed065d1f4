package postgres_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/database/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	if testCleanup != nil {
		testCleanup()
	}
	os.Exit(code)
}

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

	t.Run("expired lease is taken over", func(t *testing.T) {
		locker := setupTestLocker(t)
		ctx := context.Background()

		stale, err := locker.Acquire(ctx, "x.bin", -time.Second)
		require.NoError(t, err)

		fresh, err := locker.Acquire(ctx, "x.bin", time.Minute)
		require.NoError(t, err)

		require.NoError(t, stale.Release(ctx))
		_, err = locker.Acquire(ctx, "x.bin", time.Minute)
		assert.ErrorIs(t, err, splice.ErrLeaseHeld)

		assert.NoError(t, fresh.Release(ctx))
	})

	t.Run("exactly one concurrent winner", func(t *testing.T) {
		locker := setupTestLocker(t)
		ctx := context.Background()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := locker.Acquire(ctx, "x.bin", time.Minute); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestNewLocker_InvalidTable(t *testing.T) {
	_, err := postgres.NewLocker(nil, "leases; DROP TABLE x")
	assert.ErrorIs(t, err, splice.ErrInvalidInput)
}

func TestValidateSchema_MissingTable(t *testing.T) {
	pool := getSharedTestDatabase(t)

	err := postgres.ValidateSchema(context.Background(), pool, "does_not_exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
