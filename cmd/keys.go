package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/connector"
)

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys in the OS keyring",
	}

	setCmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store an API key for a provider (openai, anthropic, mistral)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s: ", args[0])
			reader := bufio.NewReader(cmd.InOrStdin())
			key, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("empty key")
			}
			if err := connector.StoreAPIKey(args[0], key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stored")
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List the supported model aliases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, m := range connector.ListModels() {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}

	keysCmd.AddCommand(setCmd, modelsCmd)
	return keysCmd
}
