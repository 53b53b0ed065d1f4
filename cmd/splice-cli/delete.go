package main

import (
	"os"

	"github.com/sagarc03/splice/clientcli"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name> [name...]",
	Short: "Delete completed objects",
	Long: `Delete one or more completed objects. Uploads still in progress are
not touched; stale ones are removed by the server's cleanup sweep.

Examples:
  splice-cli delete nightly.tar
  splice-cli delete a.bin b.bin c.bin
  splice-cli delete -q stale.img`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := getClient(clientcli.Config{})
	if err != nil {
		return err
	}

	results, err := client.Delete(cmd.Context(), clientcli.DeleteOptions{Names: args})
	if err != nil {
		return err
	}

	if err := getFormatter().FormatDelete(os.Stdout, results); err != nil {
		return err
	}

	if clientcli.HasDeleteErrors(results) {
		return &exitError{code: 1}
	}
	return nil
}
