package main

import (
	"fmt"
	"os"

	"github.com/sagarc03/splice/clientcli"
	"github.com/spf13/cobra"
)

var (
	uploadChunkSize int64
	uploadParallel  int
	uploadRetries   int
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file> [name]",
	Short: "Upload a file in chunks",
	Long: `Upload a local file to the server in parallel chunks.

The object name defaults to the file's base name. Chunks may arrive in any
order; the server assembles the object once the last one lands. Failed
chunks are retried with exponential backoff.

Examples:
  splice-cli upload ./backup.tar
  splice-cli upload ./backup.tar nightly.tar
  splice-cli upload --chunk-size 33554432 --parallel 8 ./disk.img`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Int64Var(&uploadChunkSize, "chunk-size", 0, "chunk size in bytes (default: 8 MiB)")
	uploadCmd.Flags().IntVar(&uploadParallel, "parallel", 0, "chunks in flight at once (default: 4)")
	uploadCmd.Flags().IntVar(&uploadRetries, "retries", 0, "retries per chunk (default: 3)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	opts := clientcli.UploadOptions{LocalPath: args[0]}
	if len(args) > 1 {
		opts.Name = args[1]
	}

	client, err := getClient(clientcli.Config{
		ChunkSize: uploadChunkSize,
		Parallel:  uploadParallel,
		Retries:   uploadRetries,
	})
	if err != nil {
		return err
	}

	if !quiet && !jsonOutput {
		opts.Progress = func(sent, total int) {
			_, _ = fmt.Fprintf(os.Stderr, "\r%d/%d chunks", sent, total)
			if sent == total {
				_, _ = fmt.Fprintln(os.Stderr)
			}
		}
	}

	result, err := client.Upload(cmd.Context(), opts)
	if err != nil {
		return err
	}

	return getFormatter().FormatUpload(os.Stdout, []clientcli.UploadResult{*result})
}
