package config

import (
	"sort"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// matrixData converts the file-form matrix into the engine representation
// for one language. Two input shapes are accepted: the explicit form, where
// combinations hold action keys and the matrix table holds weight labels,
// and the compact pair form, where each combination entry is an
// [action, weightLabel] pair and the table is derived.
func (m *Matrix) matrixData(lang string) (game.MatrixData, error) {
	out := game.MatrixData{
		Strategies:   make(map[game.ActionID]string, len(m.Strategies[lang])),
		Weights:      make(map[string]float64, len(m.Weights)),
		Combinations: make(map[string][]game.ActionID, len(m.Combinations)),
		Table:        make(map[string][]string, len(m.Combinations)),
	}
	for key, name := range m.Strategies[lang] {
		out.Strategies[game.ActionID(key)] = name
	}
	for label, w := range m.Weights {
		out.Weights[label] = w
	}

	for comb, entries := range m.Combinations {
		actions := make([]game.ActionID, 0, len(entries))
		var labels []string
		paired := false
		for _, e := range entries {
			switch v := e.(type) {
			case string:
				actions = append(actions, game.ActionID(v))
			case []any:
				if len(v) != 2 {
					return game.MatrixData{}, invalidf("combination %q: pair entries must have exactly 2 elements", comb)
				}
				action, ok1 := v[0].(string)
				label, ok2 := v[1].(string)
				if !ok1 || !ok2 {
					return game.MatrixData{}, invalidf("combination %q: pair entries must be strings", comb)
				}
				paired = true
				actions = append(actions, game.ActionID(action))
				labels = append(labels, label)
			default:
				return game.MatrixData{}, invalidf("combination %q: unsupported entry type %T", comb, e)
			}
		}
		out.Combinations[comb] = actions
		if paired {
			out.Table[comb] = labels
		} else {
			row, ok := m.Table[comb]
			if !ok {
				return game.MatrixData{}, invalidf("matrix has no payoff row for combination %q", comb)
			}
			out.Table[comb] = row
		}
	}
	return out, nil
}

// domain returns the action keys in a stable order, so that strategy
// numbering in prompts is deterministic across runs.
func (m *Matrix) domain(lang string) []game.ActionID {
	keys := make([]string, 0, len(m.Strategies[lang]))
	for k := range m.Strategies[lang] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]game.ActionID, len(keys))
	for i, k := range keys {
		out[i] = game.ActionID(k)
	}
	return out
}
