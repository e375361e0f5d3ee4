// Package cmd wires the fairgame CLI: running simulations locally or
// against a remote server, serving the HTTP API, and managing provider
// credentials.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fairgame",
		Short:         "Run multi-agent language-model game simulations",
		Long:          "fairgame loads a game configuration, expands it into per-language persona permutations, and plays each game with model-backed agents, locally or through a server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Provider keys may live in a local .env during development.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().String("settings", "", "application settings file (default: ./fairgame.{yaml,toml,json} if present)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newKeysCmd(),
	)
	return rootCmd
}
