package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/api"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/config"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		templateDir string
		apiURL      string
		outputPath  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every game a configuration expands to",
		Long:  "run loads a simulation config, expands it into one game per language and persona permutation, plays each game to completion, and prints the keyed results as JSON. With --api-url the config is submitted to a remote server instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL != "" {
				return runRemote(cmd.OutOrStdout(), apiURL, configPath, outputPath)
			}
			return runLocal(cmd, configPath, templateDir, outputPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "simulation config file (required)")
	cmd.Flags().StringVar(&templateDir, "templates", "", "directory holding <name>_<lang>.txt prompt templates (default from settings)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "submit the config to a remote fairgame server instead of running locally")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write results JSON to a file instead of stdout")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runLocal(cmd *cobra.Command, configPath, templateDir, outputPath string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if templateDir == "" {
		templateDir = settings.TemplateDir
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	defs, err := cfg.Definitions(templateDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := newManager(settings)
	log.Printf("run_start game=%s definitions=%d", cfg.Name, len(defs))

	out := make(map[string]any, len(defs))
	for i := range defs {
		def := &defs[i]
		sess, err := manager.RunSync(ctx, def)
		if err != nil {
			return err
		}
		res, err := sess.Result()
		if err != nil {
			return err
		}
		out[fmt.Sprintf("game_%d", i)] = map[string]any{
			"description": api.Describe(def),
			"result":      res,
			"history":     sess.History(),
		}
		if err := ctx.Err(); err != nil {
			break
		}
	}
	return writeResults(cmd.OutOrStdout(), outputPath, out)
}

func runRemote(stdout io.Writer, apiURL, configPath, outputPath string) error {
	body, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL+"/run", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, data)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode server response: %w", err)
	}
	return writeResults(stdout, outputPath, out)
}

func writeResults(stdout io.Writer, outputPath string, results any) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if outputPath != "" {
		return os.WriteFile(outputPath, append(data, '\n'), 0o644)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
