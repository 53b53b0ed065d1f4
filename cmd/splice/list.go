package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/config"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed and in-progress uploads",
	Long:  `Print the catalog straight from storage, without a running server.`,
	RunE:  runList,
}

var listJSON bool

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the catalog as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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

	result, err := service.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printCatalog(cmd.OutOrStdout(), result)
}

func printCatalog(w io.Writer, result splice.ListResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tSIZE\tSTATUS")

	for _, item := range result.Items {
		status := "completed"
		if !item.Completed {
			status = fmt.Sprintf("%d/%d chunks", deref(item.UploadedChunks), deref(item.TotalChunks))
			if item.Finalizing != nil && *item.Finalizing {
				status += " (finalizing)"
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", item.Path, item.NBytes, status)
	}

	return tw.Flush()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
