package config

import (
	"sort"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// assignment is one concrete persona/probability choice per agent.
type assignment struct {
	personalities []string
	probs         []int
}

// Definitions expands the configuration into one validated game definition
// per language and persona permutation. In permutation mode every
// personality and probability cross product is generated, matching the
// original all-permutations behavior; otherwise one definition per language
// comes out, with personas assigned positionally.
func (f *File) Definitions(templateDir string) ([]game.Definition, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var defs []game.Definition
	for _, lang := range f.Languages {
		tpl, err := f.Template(templateDir, lang)
		if err != nil {
			return nil, err
		}
		matrix, err := f.PayoffMatrix.matrixData(lang)
		if err != nil {
			return nil, err
		}
		domain := f.PayoffMatrix.domain(lang)

		for _, a := range f.assignments(lang) {
			def := f.definition(lang, tpl, matrix, domain, a)
			if err := def.Validate(); err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func (f *File) assignments(lang string) []assignment {
	n := len(f.Agents.Names)
	if !f.AllAgentPermutations {
		return []assignment{{
			personalities: f.Agents.Personalities[lang],
			probs:         f.Agents.OpponentPersonalityProb,
		}}
	}
	persona := permute(f.Agents.Personalities[lang], n)
	probPool := f.Agents.OpponentPersonalityProb
	if len(probPool) == 0 {
		// No disclosed-probability dimension: every permutation uses 0.
		probPool = []int{0}
	}
	probs := permute(probPool, n)
	out := make([]assignment, 0, len(persona)*len(probs))
	for _, p := range persona {
		for _, k := range probs {
			out = append(out, assignment{personalities: p, probs: k})
		}
	}
	return out
}

// permute returns every length-n tuple over pool, in pool order. The
// cartesian product, pool^n.
func permute[T any](pool []T, n int) [][]T {
	if n == 0 {
		return [][]T{{}}
	}
	rest := permute(pool, n-1)
	out := make([][]T, 0, len(pool)*len(rest))
	for _, v := range pool {
		for _, tail := range rest {
			tuple := make([]T, 0, n)
			tuple = append(tuple, v)
			tuple = append(tuple, tail...)
			out = append(out, tuple)
		}
	}
	return out
}

func (f *File) definition(lang, tpl string, matrix game.MatrixData, domain []game.ActionID, a assignment) game.Definition {
	players := make([]game.Player, len(f.Agents.Names))
	teamOf := make(map[string]game.TeamID)
	for tid, members := range f.Teams {
		for _, name := range members {
			teamOf[name] = game.TeamID(tid)
		}
	}
	for i, name := range f.Agents.Names {
		players[i] = game.Player{
			ID:                      game.AgentID(name),
			Team:                    teamOf[name],
			Service:                 f.LLM,
			Personality:             a.personalities[i],
			OpponentPersonalityProb: a.probs[i],
			ShareWeight:             f.ShareWeights[name],
			DefaultAction:           game.ActionID(f.DefaultActions[name]),
		}
	}

	var teams map[game.TeamID][]game.AgentID
	var teamOrder []game.TeamID
	if len(f.Teams) > 0 {
		teams = make(map[game.TeamID][]game.AgentID, len(f.Teams))
		for tid, members := range f.Teams {
			ids := make([]game.AgentID, len(members))
			for i, m := range members {
				ids[i] = game.AgentID(m)
			}
			teams[game.TeamID(tid)] = ids
		}
		if len(f.TeamOrder) > 0 {
			teamOrder = make([]game.TeamID, len(f.TeamOrder))
			for i, t := range f.TeamOrder {
				teamOrder[i] = game.TeamID(t)
			}
		} else {
			// Combination tuples need a stable actor order even when the
			// config leaves it implicit.
			names := make([]string, 0, len(f.Teams))
			for tid := range f.Teams {
				names = append(names, tid)
			}
			sort.Strings(names)
			teamOrder = make([]game.TeamID, len(names))
			for i, t := range names {
				teamOrder[i] = game.TeamID(t)
			}
		}
	}

	var moveOrder []game.AgentID
	if len(f.MoveOrder) > 0 {
		moveOrder = make([]game.AgentID, len(f.MoveOrder))
		for i, m := range f.MoveOrder {
			moveOrder[i] = game.AgentID(m)
		}
	}

	var overrides map[string][]game.ActionID
	if len(f.DomainOverrides) > 0 {
		overrides = make(map[string][]game.ActionID, len(f.DomainOverrides))
		for actor, actions := range f.DomainOverrides {
			ids := make([]game.ActionID, len(actions))
			for i, act := range actions {
				ids[i] = game.ActionID(act)
			}
			overrides[actor] = ids
		}
	}

	return game.Definition{
		Name:      f.Name,
		Language:  lang,
		Players:   players,
		Teams:     teams,
		TeamOrder: teamOrder,
		TeamPolicy: game.TeamPolicy{
			Name:     f.TeamPolicy.Name,
			TieBreak: game.ActionID(f.TeamPolicy.TieBreak),
		},
		DefaultDomain:   domain,
		DomainOverrides: overrides,
		Payoff:          matrix,
		Rounds: game.RoundPolicy{
			MaxRounds:        f.NRounds,
			StopCombinations: f.StopGameWhen,
			KnownToAgents:    f.NRoundsIsKnown,
		},
		Sequencing:     game.Sequencing(f.Sequencing),
		MoveOrder:      moveOrder,
		Information:    game.Information(f.Information),
		Communicate:    f.AgentsCommunicate,
		PromptTemplate: tpl,
	}
}
