package sqlite_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/sagarc03/splice/database/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	assert.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// setupTestLocker creates a locker with a unique table name for test isolation
func setupTestLocker(t *testing.T) *sqlite.Locker {
	t.Helper()

	ctx := context.Background()
	tableName := fmt.Sprintf("leases_%s", getRandomString(t))

	db, err := sqlite.Connect(ctx, ":memory:", tableName)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx), "failed to migrate")
	require.NoError(t, db.Validate(ctx), "failed to validate")

	locker, err := db.Locker()
	require.NoError(t, err)

	return locker
}
