// Package game holds the immutable definition of a multi-agent game: the
// player set, optional team partition, per-actor action domains, the payoff
// table data, and the round policy. A Definition is produced by an external
// configuration collaborator and validated once before a session starts.
package game

import (
	"errors"
	"fmt"
)

// AgentID uniquely identifies one participant within a definition.
type AgentID string

// TeamID identifies a team when the game partitions agents into teams.
type TeamID string

// ActionID is the stable key of one legal action (e.g. "cooperate").
// Display names live in MatrixData.Strategies; the engine only compares keys.
type ActionID string

// Sequencing selects how actions are collected within one round.
type Sequencing string

const (
	// Simultaneous rounds collect all actions without any agent observing
	// another agent's current-round action.
	Simultaneous Sequencing = "simultaneous"
	// Sequential rounds expose earlier movers' actions to later movers,
	// following MoveOrder.
	Sequential Sequencing = "sequential"
)

// Information selects how much history an agent may observe.
type Information string

const (
	// PublicInformation exposes the full history to every agent.
	PublicInformation Information = "public"
	// PrivateInformation restricts each agent to its own actions and payoffs
	// plus team-level outcomes.
	PrivateInformation Information = "private"
)

// Player describes one participant. The persona fields are opaque to the
// engine; they are passed through to the decision adapter when building
// prompts.
type Player struct {
	ID          AgentID
	Team        TeamID // empty when the game has no teams
	Service     string // abstract model alias, e.g. "OpenAIGPT4o"
	Personality string
	// OpponentPersonalityProb is the percent chance, disclosed to opponents,
	// that this agent behaves according to its personality.
	OpponentPersonalityProb int
	// ShareWeight scales this agent's share of a team payoff. Zero means 1.
	ShareWeight float64
	// DefaultAction is the fallback used after decision retries are
	// exhausted. Empty means no fallback: the round aborts instead.
	DefaultAction ActionID
}

// TeamPolicy names the aggregation rule combining member actions into one
// team action, plus the mandatory deterministic tie-break.
type TeamPolicy struct {
	Name     string   // registry name: "majority", "unanimous", "leader"
	TieBreak ActionID // used whenever aggregation is ambiguous
}

// RoundPolicy governs how many rounds are played and when the session stops
// early.
type RoundPolicy struct {
	MaxRounds int
	// StopCombinations lists combination keys that end the game as soon as a
	// round resolves to one of them.
	StopCombinations []string
	// KnownToAgents controls whether prompts disclose the total round count.
	KnownToAgents bool
}

// MatrixData is the combination-keyed payoff table. One dimension per
// independent actor (player, or team when Teams is set); lookups are
// well-defined for any actor count >= 2.
type MatrixData struct {
	// Strategies maps action keys to display names in the game's language.
	Strategies map[ActionID]string
	// Weights maps payoff labels to numeric values.
	Weights map[string]float64
	// Combinations maps a combination key to the ordered action tuple it
	// stands for, one entry per actor in actor order.
	Combinations map[string][]ActionID
	// Table maps a combination key to the ordered payoff labels, one entry
	// per actor in actor order.
	Table map[string][]string
}

// Definition is the full, immutable description of one game.
type Definition struct {
	Name     string
	Language string
	// Rule names the payoff rule in the payoff registry. Empty selects the
	// matrix rule.
	Rule    string
	Players []Player
	// Teams partitions agents into disjoint, non-empty groups. Nil means a
	// plain n-player game where every player is its own actor.
	Teams map[TeamID][]AgentID
	// TeamOrder fixes the actor ordering in team mode. Required when Teams
	// is set so that combination tuples are unambiguous.
	TeamOrder  []TeamID
	TeamPolicy TeamPolicy
	// DefaultDomain is the action domain shared by all actors.
	DefaultDomain []ActionID
	// DomainOverrides narrows or replaces the domain for a single actor
	// (agent id, or team id in team mode).
	DomainOverrides map[string][]ActionID
	Payoff          MatrixData
	Rounds          RoundPolicy
	Sequencing      Sequencing
	// MoveOrder lists agent ids in moving order for sequential games. Empty
	// defaults to Players order.
	MoveOrder   []AgentID
	Information Information
	// Communicate enables the pre-decision message phase.
	Communicate bool
	// PromptTemplate is the raw template handed to model-backed agents.
	PromptTemplate string
}

// ErrInvalidDefinition marks configuration errors detected at session
// initialization. They are fatal to that session and never retried.
var ErrInvalidDefinition = errors.New("invalid game definition")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// Profile maps each agent to its chosen action for one round.
type Profile map[AgentID]ActionID

// Player returns the player with the given id.
func (d *Definition) Player(id AgentID) (Player, bool) {
	for _, p := range d.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// HasTeams reports whether the game is played at team level.
func (d *Definition) HasTeams() bool { return len(d.Teams) > 0 }

// Actors returns the independent actor ids in payoff-dimension order:
// player ids for plain games, TeamOrder for team games.
func (d *Definition) Actors() []string {
	if d.HasTeams() {
		out := make([]string, len(d.TeamOrder))
		for i, t := range d.TeamOrder {
			out[i] = string(t)
		}
		return out
	}
	out := make([]string, len(d.Players))
	for i, p := range d.Players {
		out[i] = string(p.ID)
	}
	return out
}

// DomainFor returns the action domain for an actor (agent id, or team id in
// team mode). For agents on a team without an agent-level override, the
// team's domain applies.
func (d *Definition) DomainFor(actor string) []ActionID {
	if dom, ok := d.DomainOverrides[actor]; ok {
		return dom
	}
	if d.HasTeams() {
		if p, ok := d.Player(AgentID(actor)); ok && p.Team != "" {
			if dom, ok := d.DomainOverrides[string(p.Team)]; ok {
				return dom
			}
		}
	}
	return d.DefaultDomain
}

// TeamOf returns the team of an agent, or "" when the game has no teams.
func (d *Definition) TeamOf(id AgentID) TeamID {
	p, ok := d.Player(id)
	if !ok {
		return ""
	}
	return p.Team
}

// Teammates returns the ids of the other members of the agent's team.
func (d *Definition) Teammates(id AgentID) []AgentID {
	team := d.TeamOf(id)
	if team == "" {
		return nil
	}
	var out []AgentID
	for _, m := range d.Teams[team] {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// Opponents returns every player the given agent plays against: all other
// players in a plain game, or all players on other teams in a team game.
func (d *Definition) Opponents(id AgentID) []Player {
	team := d.TeamOf(id)
	var out []Player
	for _, p := range d.Players {
		if p.ID == id {
			continue
		}
		if team != "" && p.Team == team {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Order returns the agent ids in moving order: MoveOrder when set, Players
// order otherwise.
func (d *Definition) Order() []AgentID {
	if len(d.MoveOrder) > 0 {
		out := make([]AgentID, len(d.MoveOrder))
		copy(out, d.MoveOrder)
		return out
	}
	out := make([]AgentID, len(d.Players))
	for i, p := range d.Players {
		out[i] = p.ID
	}
	return out
}

func domainContains(dom []ActionID, a ActionID) bool {
	for _, x := range dom {
		if x == a {
			return true
		}
	}
	return false
}

// Validate checks every structural invariant of the definition. It returns
// an error wrapping ErrInvalidDefinition on the first violation found.
func (d *Definition) Validate() error {
	if len(d.Players) < 2 {
		return invalidf("need at least 2 players, got %d", len(d.Players))
	}
	seen := make(map[AgentID]bool, len(d.Players))
	for _, p := range d.Players {
		if p.ID == "" {
			return invalidf("player with empty id")
		}
		if seen[p.ID] {
			return invalidf("duplicate player id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if d.Rounds.MaxRounds < 1 {
		return invalidf("round policy needs at least 1 round")
	}
	if len(d.DefaultDomain) == 0 {
		return invalidf("empty default action domain")
	}
	switch d.Sequencing {
	case "", Simultaneous, Sequential:
	default:
		return invalidf("unknown sequencing %q", d.Sequencing)
	}
	switch d.Information {
	case "", PublicInformation, PrivateInformation:
	default:
		return invalidf("unknown information structure %q", d.Information)
	}

	if err := d.validateTeams(); err != nil {
		return err
	}
	if err := d.validateMoveOrder(); err != nil {
		return err
	}
	if err := d.validateDomains(); err != nil {
		return err
	}
	return d.validateMatrix()
}

func (d *Definition) validateTeams() error {
	if !d.HasTeams() {
		if len(d.TeamOrder) > 0 {
			return invalidf("team order given without teams")
		}
		return nil
	}
	if len(d.TeamOrder) != len(d.Teams) {
		return invalidf("team order must list every team exactly once")
	}
	assigned := make(map[AgentID]TeamID)
	for _, tid := range d.TeamOrder {
		members, ok := d.Teams[tid]
		if !ok {
			return invalidf("team order references unknown team %q", tid)
		}
		if len(members) == 0 {
			return invalidf("team %q has no members", tid)
		}
		for _, m := range members {
			if !seenPlayer(d.Players, m) {
				return invalidf("team %q references unknown agent %q", tid, m)
			}
			if prev, dup := assigned[m]; dup {
				return invalidf("agent %q assigned to teams %q and %q", m, prev, tid)
			}
			assigned[m] = tid
		}
	}
	for _, p := range d.Players {
		tid, ok := assigned[p.ID]
		if !ok {
			return invalidf("agent %q belongs to no team in a team game", p.ID)
		}
		if p.Team != tid {
			return invalidf("agent %q declares team %q but is listed under %q", p.ID, p.Team, tid)
		}
	}
	if d.TeamPolicy.Name == "" {
		return invalidf("team game requires an aggregation policy")
	}
	if d.TeamPolicy.TieBreak == "" {
		return invalidf("team aggregation requires a configured tie-break action")
	}
	for _, tid := range d.TeamOrder {
		if !domainContains(d.DomainFor(string(tid)), d.TeamPolicy.TieBreak) {
			return invalidf("tie-break action %q outside domain of team %q", d.TeamPolicy.TieBreak, tid)
		}
	}
	return nil
}

func (d *Definition) validateMoveOrder() error {
	if len(d.MoveOrder) == 0 {
		return nil
	}
	if len(d.MoveOrder) != len(d.Players) {
		return invalidf("move order must list every agent exactly once")
	}
	seen := make(map[AgentID]bool, len(d.MoveOrder))
	for _, id := range d.MoveOrder {
		if !seenPlayer(d.Players, id) {
			return invalidf("move order references unknown agent %q", id)
		}
		if seen[id] {
			return invalidf("move order lists agent %q twice", id)
		}
		seen[id] = true
	}
	return nil
}

func (d *Definition) validateDomains() error {
	for actor, dom := range d.DomainOverrides {
		if len(dom) == 0 {
			return invalidf("empty domain override for actor %q", actor)
		}
		if !seenPlayer(d.Players, AgentID(actor)) {
			if _, ok := d.Teams[TeamID(actor)]; !ok {
				return invalidf("domain override for unknown actor %q", actor)
			}
		}
	}
	for _, p := range d.Players {
		if p.DefaultAction == "" {
			continue
		}
		if !domainContains(d.DomainFor(string(p.ID)), p.DefaultAction) {
			return invalidf("default action %q outside domain of agent %q", p.DefaultAction, p.ID)
		}
	}
	return nil
}

// validateMatrix checks that the payoff table covers the full cross product
// of actor domains, so every profile a round can produce has a well-defined
// payoff lookup.
func (d *Definition) validateMatrix() error {
	if d.Rule != "" && d.Rule != "matrix" {
		// External payoff rules carry their own data; the table is unused.
		return nil
	}
	m := d.Payoff
	if len(m.Strategies) == 0 {
		return invalidf("payoff matrix has no strategies")
	}
	for _, a := range d.DefaultDomain {
		if _, ok := m.Strategies[a]; !ok {
			return invalidf("domain action %q has no strategy entry", a)
		}
	}
	actors := d.Actors()
	for key, combo := range m.Combinations {
		if len(combo) != len(actors) {
			return invalidf("combination %q has %d actions for %d actors", key, len(combo), len(actors))
		}
		labels, ok := m.Table[key]
		if !ok {
			return invalidf("combination %q has no payoff row", key)
		}
		if len(labels) != len(actors) {
			return invalidf("payoff row %q has %d entries for %d actors", key, len(labels), len(actors))
		}
		for _, l := range labels {
			if _, ok := m.Weights[l]; !ok {
				return invalidf("payoff row %q uses unknown weight label %q", key, l)
			}
		}
	}
	// Every reachable tuple must resolve to exactly one combination key.
	domains := make([][]ActionID, len(actors))
	for i, a := range actors {
		domains[i] = d.DomainFor(a)
	}
	tuple := make([]ActionID, len(actors))
	if err := d.checkCoverage(domains, tuple, 0); err != nil {
		return err
	}
	for _, key := range d.Rounds.StopCombinations {
		if _, ok := m.Combinations[key]; !ok {
			return invalidf("stop condition references unknown combination %q", key)
		}
	}
	return nil
}

func (d *Definition) checkCoverage(domains [][]ActionID, tuple []ActionID, depth int) error {
	if depth == len(domains) {
		matches := 0
		for _, combo := range d.Payoff.Combinations {
			if tuplesEqual(combo, tuple) {
				matches++
			}
		}
		if matches == 0 {
			return invalidf("no payoff combination for action tuple %v", tuple)
		}
		if matches > 1 {
			return invalidf("ambiguous payoff combinations for action tuple %v", tuple)
		}
		return nil
	}
	for _, a := range domains[depth] {
		tuple[depth] = a
		if err := d.checkCoverage(domains, tuple, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Combination returns the key whose action tuple equals the given one.
// Validation guarantees at most one match for reachable tuples.
func (m MatrixData) Combination(tuple []ActionID) (string, bool) {
	for key, combo := range m.Combinations {
		if tuplesEqual(combo, tuple) {
			return key, true
		}
	}
	return "", false
}

func tuplesEqual(a, b []ActionID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seenPlayer(players []Player, id AgentID) bool {
	for _, p := range players {
		if p.ID == id {
			return true
		}
	}
	return false
}
