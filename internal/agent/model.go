package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/connector"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/prompt"
)

// Model is the externally backed proxy: it renders a prompt from the game
// template, sends it through the decision adapter boundary, and scans the
// response for one of the declared strategy names.
type Model struct {
	player  game.Player
	def     *game.Definition
	conn    connector.Connector
	creator *prompt.Creator
}

// NewModel creates a model-backed proxy for one player.
func NewModel(def *game.Definition, p game.Player, conn connector.Connector) *Model {
	return &Model{player: p, def: def, conn: conn, creator: prompt.NewCreator(def)}
}

func (m *Model) Descriptor() game.Player { return m.player }

func (m *Model) Decide(ctx context.Context, dc DecisionContext) (game.ActionID, error) {
	text := m.creator.Fill(m.player, dc.Round, renderHistory(dc), prompt.PhaseChoose)
	resp, err := m.conn.SendPrompt(ctx, text)
	if err != nil {
		return "", wrapSendErr(m.player.ID, err)
	}
	action, ok := m.matchStrategy(resp, dc.Domain)
	if !ok {
		return "", fmt.Errorf("%w: agent %q response matched no strategy name", ErrUnparsable, m.player.ID)
	}
	return action, nil
}

// Communicate sends the communication-phase prompt and returns the raw model
// response as the agent's message.
func (m *Model) Communicate(ctx context.Context, dc DecisionContext) (string, error) {
	text := m.creator.Fill(m.player, dc.Round, renderHistory(dc), prompt.PhaseCommunicate)
	resp, err := m.conn.SendPrompt(ctx, text)
	if err != nil {
		return "", wrapSendErr(m.player.ID, err)
	}
	return strings.TrimSpace(resp), nil
}

// matchStrategy finds the domain action whose display name occurs in the
// response, case-insensitively. Longer names are checked first so that
// overlapping names ("Defect" vs "Defect loudly") resolve to the most
// specific match.
func (m *Model) matchStrategy(resp string, domain []game.ActionID) (game.ActionID, bool) {
	lower := strings.ToLower(resp)
	var best game.ActionID
	bestLen := -1
	for _, a := range domain {
		name := m.def.Payoff.Strategies[a]
		if name == "" {
			name = string(a)
		}
		if strings.Contains(lower, strings.ToLower(name)) && len(name) > bestLen {
			best, bestLen = a, len(name)
		}
	}
	return best, bestLen >= 0
}

func wrapSendErr(id game.AgentID, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: agent %q: %v", ErrDecisionTimeout, id, err)
	}
	return fmt.Errorf("agent %q: %w", id, err)
}

// renderHistory serializes the visible rounds (plus any current-round prior
// moves and messages) into the compact JSON the template's {history}
// placeholder receives.
func renderHistory(dc DecisionContext) string {
	view := struct {
		Rounds     []RoundView                    `json:"rounds,omitempty"`
		PriorMoves map[game.AgentID]game.ActionID `json:"prior_moves,omitempty"`
		Messages   map[game.AgentID]string        `json:"messages,omitempty"`
	}{Rounds: dc.History, PriorMoves: dc.PriorMoves, Messages: dc.Messages}
	b, err := json.Marshal(view)
	if err != nil {
		return "[]"
	}
	return string(b)
}
