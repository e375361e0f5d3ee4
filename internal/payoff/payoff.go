// Package payoff evaluates a joint action profile against a game's payoff
// rule and produces a per-agent assessment. Rules and team aggregation
// policies are registry-selected so new games and team-decision rules can be
// added without touching round or session logic.
package payoff

import (
	"errors"
	"fmt"
	"sort"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

var (
	// ErrInvalidAction marks a profile containing an action outside the
	// actor's declared domain.
	ErrInvalidAction = errors.New("action outside declared domain")
	// ErrIncompleteProfile marks a profile missing an action for a required
	// actor.
	ErrIncompleteProfile = errors.New("incomplete action profile")
)

// Assessment is the outcome of one round. Payoffs always key by agent id,
// even when actions were resolved at team level, because the reward rule may
// differentiate between members of the same team.
type Assessment struct {
	// Combination is the matched payoff-table key, when the rule is
	// table-based. Empty otherwise.
	Combination string
	// TeamActions holds the aggregated team decisions in team games.
	TeamActions map[game.TeamID]game.ActionID
	Payoffs     map[game.AgentID]float64
}

// Rule computes an Assessment for a valid profile.
type Rule interface {
	Name() string
	Evaluate(def *game.Definition, profile game.Profile) (Assessment, error)
}

var rules = make(map[string]Rule)

// RegisterRule adds a payoff rule to the registry.
func RegisterRule(r Rule) { rules[r.Name()] = r }

// GetRule retrieves a payoff rule by name. The empty name selects the
// matrix rule.
func GetRule(name string) (Rule, bool) {
	if name == "" {
		name = "matrix"
	}
	r, ok := rules[name]
	return r, ok
}

// ListRules returns the registered rule names, sorted.
func ListRules() []string {
	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterRule(&MatrixRule{})
}

// MatrixRule looks payoffs up in the definition's combination-keyed table,
// one dimension per independent actor. In team games the members' actions
// are first aggregated by the configured policy.
type MatrixRule struct{}

func (*MatrixRule) Name() string { return "matrix" }

func (*MatrixRule) Evaluate(def *game.Definition, profile game.Profile) (Assessment, error) {
	if err := checkProfile(def, profile); err != nil {
		return Assessment{}, err
	}

	var (
		tuple       []game.ActionID
		teamActions map[game.TeamID]game.ActionID
	)
	if def.HasTeams() {
		agg, ok := GetAggregator(def.TeamPolicy.Name)
		if !ok {
			return Assessment{}, fmt.Errorf("unknown team aggregation policy %q", def.TeamPolicy.Name)
		}
		teamActions = make(map[game.TeamID]game.ActionID, len(def.TeamOrder))
		tuple = make([]game.ActionID, 0, len(def.TeamOrder))
		for _, tid := range def.TeamOrder {
			members := make([]game.ActionID, 0, len(def.Teams[tid]))
			for _, m := range def.Teams[tid] {
				members = append(members, profile[m])
			}
			action, err := agg.Aggregate(members, def.TeamPolicy.TieBreak)
			if err != nil {
				return Assessment{}, fmt.Errorf("aggregate team %q: %w", tid, err)
			}
			teamActions[tid] = action
			tuple = append(tuple, action)
		}
	} else {
		tuple = make([]game.ActionID, 0, len(def.Players))
		for _, p := range def.Players {
			tuple = append(tuple, profile[p.ID])
		}
	}

	key, ok := def.Payoff.Combination(tuple)
	if !ok {
		return Assessment{}, fmt.Errorf("%w: no payoff combination for tuple %v", ErrInvalidAction, tuple)
	}
	labels := def.Payoff.Table[key]

	payoffs := make(map[game.AgentID]float64, len(def.Players))
	if def.HasTeams() {
		teamValue := make(map[game.TeamID]float64, len(def.TeamOrder))
		for i, tid := range def.TeamOrder {
			teamValue[tid] = def.Payoff.Weights[labels[i]]
		}
		for _, p := range def.Players {
			payoffs[p.ID] = teamValue[p.Team] * shareWeight(p)
		}
	} else {
		for i, p := range def.Players {
			payoffs[p.ID] = def.Payoff.Weights[labels[i]]
		}
	}

	return Assessment{Combination: key, TeamActions: teamActions, Payoffs: payoffs}, nil
}

// checkProfile rejects profiles that are incomplete or contain out-of-domain
// actions. Exactly one action per player is required even in team games,
// since team actions are derived from individual member actions.
func checkProfile(def *game.Definition, profile game.Profile) error {
	var missing []game.AgentID
	for _, p := range def.Players {
		action, ok := profile[p.ID]
		if !ok || action == "" {
			missing = append(missing, p.ID)
			continue
		}
		dom := def.DomainFor(string(p.ID))
		found := false
		for _, a := range dom {
			if a == action {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: agent %q chose %q", ErrInvalidAction, p.ID, action)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: no action for %v", ErrIncompleteProfile, missing)
	}
	if len(profile) > len(def.Players) {
		for id := range profile {
			if _, ok := def.Player(id); !ok {
				return fmt.Errorf("%w: action for unknown agent %q", ErrInvalidAction, id)
			}
		}
	}
	return nil
}

func shareWeight(p game.Player) float64 {
	if p.ShareWeight == 0 {
		return 1
	}
	return p.ShareWeight
}
