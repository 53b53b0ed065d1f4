package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/config"
	"github.com/sagarc03/splice/database"
	"github.com/sagarc03/splice/filesystem"
	"github.com/sagarc03/splice/s3"
)

// openStore opens the configured blob store. The returned cleanup releases
// any handle the store holds.
func openStore(ctx context.Context, cfg *config.Config) (splice.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case "s3":
		store, err := s3.Connect(ctx, cfg.S3())
		if err != nil {
			return nil, nil, fmt.Errorf("connect s3: %w", err)
		}
		slog.Info("using s3 storage", "endpoint", cfg.Storage.S3.Endpoint, "bucket", cfg.Storage.S3.Bucket)
		return store, func() {}, nil
	default:
		if err := os.MkdirAll(cfg.Storage.Path, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}

		root, err := os.OpenRoot(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage root: %w", err)
		}
		slog.Info("using filesystem storage", "path", cfg.Storage.Path)
		return filesystem.NewFileStorage(root), func() { _ = root.Close() }, nil
	}
}

// newService builds the SpliceService for cfg. inline forces finalize onto
// the caller's goroutine regardless of finalize.mode.
func newService(ctx context.Context, cfg *config.Config, inline bool, observer splice.Observer) (*splice.SpliceService, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	svcCfg := cfg.Service()
	svcCfg.Observer = observer
	if inline {
		svcCfg.DeferFinalize = false
	}

	closeDB := func() {}
	if cfg.Finalize.Lock == "database" {
		locker, cleanup, err := database.Connect(ctx, cfg.LeaseDatabase())
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("connect lease database: %w", err)
		}
		slog.Info("using database finalize lease", "type", cfg.Database.Type, "table", cfg.Database.Table)
		svcCfg.Locker = locker
		closeDB = cleanup
	}

	svc, err := splice.NewSpliceService(store, svcCfg)
	if err != nil {
		closeDB()
		closeStore()
		return nil, nil, fmt.Errorf("create service: %w", err)
	}

	return svc, func() {
		closeDB()
		closeStore()
	}, nil
}
