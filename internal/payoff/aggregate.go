package payoff

import (
	"errors"
	"sort"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// Aggregator derives one team-level action from individual member actions.
// Implementations must be deterministic: the same member actions always
// produce the same team action, with ambiguity resolved by the configured
// tie-break, never by chance.
type Aggregator interface {
	Name() string
	Aggregate(members []game.ActionID, tieBreak game.ActionID) (game.ActionID, error)
}

var aggregators = make(map[string]Aggregator)

// RegisterAggregator adds a team aggregation policy to the registry.
func RegisterAggregator(a Aggregator) { aggregators[a.Name()] = a }

// GetAggregator retrieves an aggregation policy by name.
func GetAggregator(name string) (Aggregator, bool) {
	a, ok := aggregators[name]
	return a, ok
}

// ListAggregators returns the registered policy names, sorted.
func ListAggregators() []string {
	names := make([]string, 0, len(aggregators))
	for n := range aggregators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterAggregator(&MajorityVote{})
	RegisterAggregator(&Unanimous{})
	RegisterAggregator(&LeaderDecides{})
}

var errNoMembers = errors.New("no member actions to aggregate")

// MajorityVote selects the most frequent member action. A tie between the
// most frequent actions resolves to the tie-break.
type MajorityVote struct{}

func (*MajorityVote) Name() string { return "majority" }

func (*MajorityVote) Aggregate(members []game.ActionID, tieBreak game.ActionID) (game.ActionID, error) {
	if len(members) == 0 {
		return "", errNoMembers
	}
	counts := make(map[game.ActionID]int, len(members))
	for _, a := range members {
		counts[a]++
	}
	best := members[0]
	bestCount := 0
	tied := false
	for _, a := range members {
		// Iterate the slice, not the map, so detection is order-stable.
		c := counts[a]
		if c > bestCount {
			best, bestCount, tied = a, c, false
		} else if c == bestCount && a != best {
			tied = true
		}
	}
	if tied {
		return tieBreak, nil
	}
	return best, nil
}

// Unanimous requires every member to choose the same action; any
// disagreement resolves to the tie-break.
type Unanimous struct{}

func (*Unanimous) Name() string { return "unanimous" }

func (*Unanimous) Aggregate(members []game.ActionID, tieBreak game.ActionID) (game.ActionID, error) {
	if len(members) == 0 {
		return "", errNoMembers
	}
	first := members[0]
	for _, a := range members[1:] {
		if a != first {
			return tieBreak, nil
		}
	}
	return first, nil
}

// LeaderDecides takes the first listed team member's action; the member
// ordering in the definition fixes who leads.
type LeaderDecides struct{}

func (*LeaderDecides) Name() string { return "leader" }

func (*LeaderDecides) Aggregate(members []game.ActionID, _ game.ActionID) (game.ActionID, error) {
	if len(members) == 0 {
		return "", errNoMembers
	}
	return members[0], nil
}
