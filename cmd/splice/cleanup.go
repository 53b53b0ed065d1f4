package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sagarc03/splice/config"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove abandoned uploads",
	Long: `Remove uploads that are not complete and have not received a chunk
for longer than --older-than (cleanup.max_age).

Uploads whose chunks are all present are left alone; run "splice finalize
--all" to assemble them.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().Duration("older-than", 0, "age of the newest chunk before an upload is abandoned (default: 24h)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	service, cleanup, err := newService(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = service.Close(ctx) }()

	slog.Info("starting cleanup", "older_than", cfg.Cleanup.MaxAge)

	swept, err := service.Sweep(ctx, cfg.Cleanup.MaxAge)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	slog.Info("cleanup complete", "uploads_removed", swept)
	return nil
}
