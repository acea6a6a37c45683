// Package cmd provides the CLI commands for scribed.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/config"
	"github.com/aman-cerp/scribe/pkg/version"
)

var (
	debugMode   bool
	projectRoot string
	loadedCfg   *config.Config
)

// NewRootCmd creates the root command for the scribed CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scribed",
		Short: "Full-text and hybrid search engine daemon and CLI",
		Long: `scribed indexes documents and serves hybrid BM25 + semantic
search over them.

Run 'scribed daemon start' to start the background search daemon, then
use 'scribed index', 'scribed documents', 'scribed settings', and
'scribed search' to manage and query indexes. 'scribed watch' keeps an
index in sync with a directory tree instead of one-shot document adds.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	cmd.SetVersionTemplate("scribed version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.scribe/logs/")
	cmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "Directory to load .scribe.yaml from")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDocumentsCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command, args []string) error {
	root, err := config.FindProjectRoot(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debugMode {
		cfg.Server.LogLevel = "debug"
	}
	loadedCfg = cfg
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
