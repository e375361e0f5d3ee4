// Package agent defines the engine's view of a participant: the Proxy
// interface that yields one action per round, and its variants (model-backed,
// script-backed, fixed, scripted sequence). The engine never branches on the
// concrete variant; it only depends on Decide.
package agent

import (
	"context"
	"errors"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

var (
	// ErrDecisionTimeout marks a decision that did not complete within the
	// per-call timeout.
	ErrDecisionTimeout = errors.New("decision timed out")
	// ErrUnparsable marks a decision source response that could not be
	// mapped to an action in the declared domain.
	ErrUnparsable = errors.New("unparsable decision")
)

// RoundView is one completed round as visible to a particular agent. For
// private-information games the maps are filtered down to the agent's own
// entries plus team-level outcomes.
type RoundView struct {
	Round       int                            `json:"round"`
	Actions     map[game.AgentID]game.ActionID `json:"actions,omitempty"`
	TeamActions map[game.TeamID]game.ActionID  `json:"team_actions,omitempty"`
	Payoffs     map[game.AgentID]float64       `json:"payoffs,omitempty"`
	Messages    map[game.AgentID]string        `json:"messages,omitempty"`
}

// DecisionContext carries everything an agent may observe when deciding:
// its visible history, the action domain it must choose from, and (for
// sequential rounds only) the earlier movers' current-round actions.
type DecisionContext struct {
	Round  int
	Domain []game.ActionID
	// History holds the completed rounds visible to this agent, oldest
	// first. It never contains the current round.
	History []RoundView
	// PriorMoves holds earlier movers' actions within the current round.
	// Empty in simultaneous rounds by construction.
	PriorMoves map[game.AgentID]game.ActionID
	// Messages holds the current round's communication-phase messages
	// visible to this agent.
	Messages map[game.AgentID]string
}

// InDomain reports whether the action is legal in this context.
func (dc DecisionContext) InDomain(a game.ActionID) bool {
	for _, x := range dc.Domain {
		if x == a {
			return true
		}
	}
	return false
}

// Proxy obtains one action from one agent for one round, hiding the concrete
// decision source.
type Proxy interface {
	Descriptor() game.Player
	Decide(ctx context.Context, dc DecisionContext) (game.ActionID, error)
}

// Communicator is an optional capability: proxies that can produce a
// free-text message for the communication phase implement it. Proxies that
// do not are silently skipped in that phase.
type Communicator interface {
	Communicate(ctx context.Context, dc DecisionContext) (string, error)
}
