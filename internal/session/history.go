package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// ErrHistoryViolation marks an out-of-order or duplicate round append. It is
// an internal invariant violation: never recoverable, surfaced immediately.
var ErrHistoryViolation = errors.New("history invariant violation")

// Record is one completed round: the joint action profile, the derived team
// actions (team games only), the per-agent payoffs, and any
// communication-phase messages and fallback warnings collected on the way.
type Record struct {
	Index       int                           `json:"index"`
	Actions     game.Profile                  `json:"actions"`
	TeamActions map[game.TeamID]game.ActionID `json:"team_actions,omitempty"`
	Payoffs     map[game.AgentID]float64      `json:"payoffs"`
	Combination string                        `json:"combination,omitempty"`
	Messages    map[game.AgentID]string       `json:"messages,omitempty"`
	Warnings    []string                      `json:"warnings,omitempty"`
	At          time.Time                     `json:"at"`
}

// History is the append-only sequence of round records. It is owned
// exclusively by one Session; only the round executor appends, and only
// after a round completes successfully.
type History struct {
	mu      sync.RWMutex
	records []Record
}

// NewHistory returns an empty history.
func NewHistory() *History { return &History{} }

// Append adds a completed round. Round indices are 1-based and must be
// strictly consecutive; anything else is a fatal defect in the caller.
func (h *History) Append(r Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if want := len(h.records) + 1; r.Index != want {
		return fmt.Errorf("%w: append index %d, want %d", ErrHistoryViolation, r.Index, want)
	}
	h.records = append(h.records, r)
	return nil
}

// Len returns the number of completed rounds.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Rounds returns a copy of all completed round records, oldest first.
func (h *History) Rounds() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Last returns the most recent record, if any.
func (h *History) Last() (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

// Result is the read-only aggregation over a history, computed at session
// end (and on demand for termination checks). Recomputing it over an
// unchanged history yields an identical value.
type Result struct {
	Game         string                   `json:"game"`
	Status       State                    `json:"status"`
	RoundsPlayed int                      `json:"rounds_played"`
	Totals       map[game.AgentID]float64 `json:"totals"`
	TeamTotals   map[game.TeamID]float64  `json:"team_totals,omitempty"`
	Termination  string                   `json:"termination,omitempty"`
	AbortReason  string                   `json:"abort_reason,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
	Incomplete   bool                     `json:"incomplete"`
}

// Aggregate folds a history into per-agent and per-team cumulative payoffs.
// Pure function of its inputs.
func Aggregate(def *game.Definition, records []Record) Result {
	res := Result{
		Game:         def.Name,
		RoundsPlayed: len(records),
		Totals:       make(map[game.AgentID]float64, len(def.Players)),
	}
	for _, p := range def.Players {
		res.Totals[p.ID] = 0
	}
	if def.HasTeams() {
		res.TeamTotals = make(map[game.TeamID]float64, len(def.Teams))
		for tid := range def.Teams {
			res.TeamTotals[tid] = 0
		}
	}
	for _, r := range records {
		for id, v := range r.Payoffs {
			res.Totals[id] += v
			if team := def.TeamOf(id); team != "" {
				res.TeamTotals[team] += v
			}
		}
		res.Warnings = append(res.Warnings, r.Warnings...)
	}
	return res
}
