// Package database connects the finalize lease table used to coordinate
// finalization across replicas.
//
// A single replica can rely on the blob-backed splice.BlobLocker. When
// several replicas share one bucket or volume, a SQL lease table gives a
// stronger guarantee than marker blobs on stores without atomic create.
//
// # Supported Backends
//
//   - PostgreSQL: uses a pgx connection pool; expiry follows the database clock
//   - SQLite: uses modernc.org/sqlite; suitable for single-host deployments
//
// # Usage
//
//	cfg := database.Config{
//	    Type:  "sqlite",
//	    DSN:   "splice.db",
//	    Table: "splice_leases",
//	}
//
//	locker, cleanup, err := database.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
//
// Connect opens the connection, runs migrations, validates the schema
// and returns a ready-to-use splice.Locker.
package database
