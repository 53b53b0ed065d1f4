package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/splice/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "splice",
	Short:   "Chunked upload coordination server",
	Long: `Splice accepts large files as independently uploaded chunks, tracks
per-upload progress, and assembles the chunks into a single object once
every chunk has arrived. Objects live on a local directory or an
S3-compatible bucket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFiles, _ := cmd.Flags().GetStringSlice("config")

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg.Log)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("config", nil, "config file paths, merged left to right (default: ./config.yaml)")
	flags.String("storage-backend", "", "blob store: filesystem, s3 (default: filesystem, env: SPLICE_STORAGE_BACKEND)")
	flags.String("storage-path", "", "storage directory path (default: ./storage, env: SPLICE_STORAGE_PATH)")
	flags.String("lock", "", "finalize lease provider: blob, database (default: blob, env: SPLICE_FINALIZE_LOCK)")
	flags.String("db-type", "", "lease database type: sqlite, postgres (default: sqlite, env: SPLICE_DATABASE_TYPE)")
	flags.String("db-dsn", "", "lease database connection string (default: splice.db, env: SPLICE_DATABASE_DSN)")
	flags.String("log-level", "", "log level: debug, info, warn, error (default: info, env: SPLICE_LOG_LEVEL)")
	flags.String("log-format", "", "log format: text, json, pretty (default: text, env: SPLICE_LOG_FORMAT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
