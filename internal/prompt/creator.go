// Package prompt renders the per-round prompt for a model-backed agent from
// a game template. Templates use {placeholder} substitutions plus optional
// blocks of the form {field}:[ ... ] that are kept or dropped depending on
// the agent, the phase, and the game settings.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// Phase selects which phase block of the template is rendered.
type Phase string

const (
	// PhaseCommunicate renders the pre-decision messaging block.
	PhaseCommunicate Phase = "communicate"
	// PhaseChoose renders the strategy selection block.
	PhaseChoose Phase = "choose"
)

// Creator fills a game template for one agent and round.
type Creator struct {
	def *game.Definition
}

// NewCreator builds a Creator for the given definition.
func NewCreator(def *game.Definition) *Creator {
	return &Creator{def: def}
}

// Fill renders the template for one agent. history is an already-rendered
// textual view of the rounds visible to this agent; the caller controls how
// much of it the agent may see.
func (c *Creator) Fill(p game.Player, round int, history string, phase Phase) string {
	tpl := c.def.PromptTemplate
	values := c.placeholders(p, round, history)

	tpl = c.processIntro(tpl, p, values)
	tpl = c.processOpponentIntro(tpl, p, values)
	tpl = c.processGameLength(tpl, values)
	tpl = processPhase(tpl, phase)

	return substitute(tpl, values)
}

// placeholders builds the substitution map: agent identity, round state,
// opponents, strategies and weights.
func (c *Creator) placeholders(p game.Player, round int, history string) map[string]string {
	values := map[string]string{
		"currentPlayerName": string(p.ID),
		"currentRound":      strconv.Itoa(round),
		"history":           history,
	}
	if p.Team != "" {
		values["teamId"] = string(p.Team)
		mates := c.def.Teammates(p.ID)
		names := make([]string, len(mates))
		for i, m := range mates {
			names[i] = string(m)
		}
		values["teammates"] = strings.Join(names, ", ")
	}

	for i, a := range c.def.DefaultDomain {
		values[fmt.Sprintf("strategy%d", i+1)] = c.def.Payoff.Strategies[a]
	}
	weightLabels := sortedKeys(c.def.Payoff.Weights)
	for i, label := range weightLabels {
		values[fmt.Sprintf("weight%d", i+1)] = trimFloat(c.def.Payoff.Weights[label])
	}

	for i, opp := range c.def.Opponents(p.ID) {
		n := strconv.Itoa(i + 1)
		values["opponent"+n] = string(opp.ID)
		values["opponentPersonality"+n] = opp.Personality
		values["opponentPersonalityProbability"+n] = strconv.Itoa(opp.OpponentPersonalityProb)
	}
	return values
}

// processIntro drops the intro block for agents without a personality,
// otherwise inlines it and exposes {personality}.
func (c *Creator) processIntro(tpl string, p game.Player, values map[string]string) string {
	block, ok := findBlock(tpl, "intro")
	if !ok {
		return tpl
	}
	if p.Personality == "" || p.Personality == "None" {
		return removeBlock(tpl, block)
	}
	values["personality"] = p.Personality
	return inlineBlock(tpl, block)
}

// processOpponentIntro keeps the opponent description block only when at
// least one opponent has a disclosed personality.
func (c *Creator) processOpponentIntro(tpl string, p game.Player, values map[string]string) string {
	block, ok := findBlock(tpl, "opponentIntro")
	if !ok {
		return tpl
	}
	for _, opp := range c.def.Opponents(p.ID) {
		if opp.OpponentPersonalityProb != 0 && opp.Personality != "" && opp.Personality != "None" {
			return inlineBlock(tpl, block)
		}
	}
	return removeBlock(tpl, block)
}

// processGameLength discloses the round count only when the round policy
// says agents know it.
func (c *Creator) processGameLength(tpl string, values map[string]string) string {
	block, ok := findBlock(tpl, "gameLength")
	if !ok {
		return tpl
	}
	if !c.def.Rounds.KnownToAgents {
		return removeBlock(tpl, block)
	}
	values["nRounds"] = strconv.Itoa(c.def.Rounds.MaxRounds)
	return inlineBlock(tpl, block)
}

// processPhase keeps the block for the active phase and removes the other.
func processPhase(tpl string, phase Phase) string {
	keep, remove := "choose", "communicate"
	if phase == PhaseCommunicate {
		keep, remove = "communicate", "choose"
	}
	if block, ok := findBlock(tpl, keep); ok {
		tpl = inlineBlock(tpl, block)
	}
	if block, ok := findBlock(tpl, remove); ok {
		tpl = removeBlock(tpl, block)
	}
	return tpl
}

// block is one matched {field}:[ ... ] region.
type block struct {
	full  string
	inner string
}

func findBlock(tpl, field string) (block, bool) {
	re := regexp.MustCompile(`\{` + regexp.QuoteMeta(field) + `\}:\s*\[((?s).*?)\]`)
	m := re.FindStringSubmatch(tpl)
	if m == nil {
		return block{}, false
	}
	return block{full: m[0], inner: m[1]}, true
}

func removeBlock(tpl string, b block) string {
	return strings.Replace(tpl, b.full, "", 1)
}

func inlineBlock(tpl string, b block) string {
	return strings.Replace(tpl, b.full, b.inner, 1)
}

func substitute(tpl string, values map[string]string) string {
	for key, val := range values {
		tpl = strings.ReplaceAll(tpl, "{"+key+"}", val)
	}
	return tpl
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Weight labels are w1, w2, ... in configs; lexical order keeps the
	// numbering stable for the template.
	sort.Strings(keys)
	return keys
}
