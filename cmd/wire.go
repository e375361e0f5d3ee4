package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/config"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/connector"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/session"
)

func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path, _ := cmd.Flags().GetString("settings")
	return config.LoadSettings(path)
}

// modelProxyFactory builds one model-backed proxy per player, resolving the
// provider connector from the player's abstract model alias.
func modelProxyFactory(def *game.Definition, p game.Player) (agent.Proxy, error) {
	conn, err := connector.Resolve(p.Service)
	if err != nil {
		return nil, err
	}
	return agent.NewModel(def, p, conn), nil
}

func newManager(s config.Settings) *session.Manager {
	return session.NewManager(modelProxyFactory, session.Options{
		Retry: session.RetryPolicy{
			MaxAttempts:     s.MaxAttempts,
			Backoff:         s.RetryBackoff,
			DecisionTimeout: s.DecisionTime,
		},
		SessionTimeout: s.SessionTime,
	})
}
