package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sagarc03/splice/clientcli"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	cfgFile    string
	profile    string
	endpoint   string
	jsonOutput bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:     "splice-cli",
	Version: version,
	Short:   "Client for the splice chunked upload server",
	Long: `splice-cli uploads files to a splice server in parallel chunks and
manages the objects it holds.

Connection settings are resolved in this order, later wins:
  1. profile from the config file (--profile, SPLICE_PROFILE or the default)
  2. SPLICE_ENDPOINT, SPLICE_CHUNK_SIZE, SPLICE_PARALLEL
  3. command line flags`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.splice/config.yaml, env: SPLICE_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "profile name (env: SPLICE_PROFILE)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "server URL (default: http://localhost:5708, env: SPLICE_ENDPOINT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configureCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		_ = getFormatter().FormatError(os.Stderr, err)
		os.Exit(1)
	}
}

// getConfigPath returns the config file path: --config, then SPLICE_CONFIG,
// then ~/.splice/config.yaml.
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := clientcli.ConfigPathFromEnv(); p != "" {
		return p
	}
	return clientcli.DefaultConfigPath()
}

// resolveConfig merges the selected profile, the environment and flag values.
// A missing config file is only an error when it was asked for explicitly.
func resolveConfig(configPath string, explicitPath bool, profileName string, flagCfg *clientcli.Config) (*clientcli.Config, error) {
	var configs []*clientcli.Config

	if configPath != "" {
		file, err := clientcli.LoadConfigFile(configPath)
		switch {
		case err == nil:
			p, profileErr := file.GetProfile(profileName)
			if profileErr != nil && (profileName != "" || !errors.Is(profileErr, clientcli.ErrNoProfiles)) {
				return nil, profileErr
			}
			configs = append(configs, clientcli.ConfigFromProfile(p))
		case errors.Is(err, os.ErrNotExist) && !explicitPath && profileName == "":
		default:
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	configs = append(configs, clientcli.ConfigFromEnv(), flagCfg)
	return clientcli.MergeConfig(configs...), nil
}

func getFormatter() clientcli.Formatter {
	return clientcli.NewFormatter(jsonOutput, quiet)
}

// getClient builds a client from the resolved config. extra carries
// per-command flag values such as chunk size.
func getClient(extra clientcli.Config) (*clientcli.Client, error) {
	profileName := profile
	if profileName == "" {
		profileName = clientcli.ProfileFromEnv()
	}

	extra.Endpoint = endpoint
	explicit := cfgFile != "" || clientcli.ConfigPathFromEnv() != ""

	cfg, err := resolveConfig(getConfigPath(), explicit, profileName, &extra)
	if err != nil {
		return nil, err
	}
	return clientcli.New(cfg)
}

// exitError is returned when we want to exit with a specific code
// but don't want cobra to print an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return ""
}
