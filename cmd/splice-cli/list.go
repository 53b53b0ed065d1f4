package main

import (
	"os"

	"github.com/sagarc03/splice/clientcli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List objects and uploads in progress",
	Long: `List completed objects together with uploads that are still
receiving chunks or being assembled.

Examples:
  splice-cli list
  splice-cli list --json | jq '.items[] | select(.completed | not)'`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	client, err := getClient(clientcli.Config{})
	if err != nil {
		return err
	}

	result, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	return getFormatter().FormatList(os.Stdout, result)
}
