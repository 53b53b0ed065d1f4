package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/config"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize <name>...",
	Short: "Assemble completed uploads",
	Long: `Assemble the named uploads into completed objects on this process.

Use this to recover uploads whose last chunk was stored but whose finalize
never ran. With --all every upload that has all of its chunks is finalized.`,
	RunE: runFinalize,
}

var finalizeAll bool

func init() {
	finalizeCmd.Flags().BoolVar(&finalizeAll, "all", false, "finalize every upload whose chunks are all present")
	rootCmd.AddCommand(finalizeCmd)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	if !finalizeAll && len(args) == 0 {
		return errors.New("provide at least one name or --all")
	}

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

	if finalizeAll {
		n, err := service.Resume(ctx)
		if err != nil {
			return fmt.Errorf("finalize all: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "finalized %d upload(s)\n", n)
		return nil
	}

	var failed int
	for _, name := range args {
		res, err := service.Finalize(ctx, name)
		switch {
		case err == nil:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes from %d chunks\n", res.Name, res.Size, res.Chunks)
		case errors.Is(err, splice.ErrRaceLost):
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already finalized\n", name)
		default:
			slog.Error("finalize failed", "name", name, "err", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d finalize(s) failed", failed, len(args))
	}
	return nil
}
