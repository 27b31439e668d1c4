// Package commands defines all Cobra CLI commands for the connectq binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/connectq/internal/audit"
	"github.com/54b3r/connectq/internal/config"
	"github.com/54b3r/connectq/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "connectq",
		Short: "ConnectQ: semantic search over marketplace companies",
		Long: `ConnectQ indexes company profiles from the relational store into a vector
index and answers natural-language queries such as "AI startups in Berlin
doing computer vision" with companies ranked by semantic similarity.

The embedding backend is selected via EMBEDDING_PROVIDER (gemini, openai,
azure, ollama, hash) or a YAML config file (~/.connectq/config.yaml).
See 'connectq --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.connectq/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewReindexCmd(),
		NewSearchCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
