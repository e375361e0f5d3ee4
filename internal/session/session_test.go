package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

func dilemmaMatrix() game.MatrixData {
	return game.MatrixData{
		Strategies: map[game.ActionID]string{
			"cooperate": "Cooperate",
			"defect":    "Defect",
		},
		Weights: map[string]float64{"T": 5, "R": 3, "P": 1, "S": 0},
		Combinations: map[string][]game.ActionID{
			"CC": {"cooperate", "cooperate"},
			"CD": {"cooperate", "defect"},
			"DC": {"defect", "cooperate"},
			"DD": {"defect", "defect"},
		},
		Table: map[string][]string{
			"CC": {"R", "R"},
			"CD": {"S", "T"},
			"DC": {"T", "S"},
			"DD": {"P", "P"},
		},
	}
}

func dilemmaDef(rounds int) *game.Definition {
	return &game.Definition{
		Name:          "dilemma",
		Players:       []game.Player{{ID: "a"}, {ID: "b"}},
		DefaultDomain: []game.ActionID{"cooperate", "defect"},
		Payoff:        dilemmaMatrix(),
		Rounds:        game.RoundPolicy{MaxRounds: rounds},
	}
}

func teamDef(rounds int) *game.Definition {
	return &game.Definition{
		Name: "team-dilemma",
		Players: []game.Player{
			{ID: "a1", Team: "A"}, {ID: "a2", Team: "A"},
			{ID: "b1", Team: "B"}, {ID: "b2", Team: "B"},
		},
		Teams: map[game.TeamID][]game.AgentID{
			"A": {"a1", "a2"},
			"B": {"b1", "b2"},
		},
		TeamOrder:     []game.TeamID{"A", "B"},
		TeamPolicy:    game.TeamPolicy{Name: "majority", TieBreak: "cooperate"},
		DefaultDomain: []game.ActionID{"cooperate", "defect"},
		Payoff:        dilemmaMatrix(),
		Rounds:        game.RoundPolicy{MaxRounds: rounds},
	}
}

func fastRetry() Options {
	return Options{Retry: RetryPolicy{
		MaxAttempts:     2,
		Backoff:         time.Millisecond,
		DecisionTimeout: 100 * time.Millisecond,
	}}
}

func mustRun(t *testing.T, def *game.Definition, proxies []agent.Proxy, opts Options) *Session {
	t.Helper()
	s, err := New(def, proxies, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return s
}

func TestSingleRoundDilemmaOutcomes(t *testing.T) {
	cases := []struct {
		a, b        game.ActionID
		combination string
		payA, payB  float64
	}{
		{"cooperate", "cooperate", "CC", 3, 3},
		{"cooperate", "defect", "CD", 0, 5},
		{"defect", "cooperate", "DC", 5, 0},
		{"defect", "defect", "DD", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.combination, func(t *testing.T) {
			def := dilemmaDef(1)
			s := mustRun(t, def, []agent.Proxy{
				agent.NewFixed(def.Players[0], tc.a),
				agent.NewFixed(def.Players[1], tc.b),
			}, fastRetry())

			res, err := s.Result()
			if err != nil {
				t.Fatalf("Result: %v", err)
			}
			if res.Status != Completed || res.Termination != TerminationMaxRounds {
				t.Fatalf("status=%s termination=%s", res.Status, res.Termination)
			}
			if res.RoundsPlayed != 1 {
				t.Fatalf("rounds played = %d, want 1", res.RoundsPlayed)
			}
			hist := s.History()
			if hist[0].Combination != tc.combination {
				t.Errorf("combination = %q, want %q", hist[0].Combination, tc.combination)
			}
			if res.Totals["a"] != tc.payA || res.Totals["b"] != tc.payB {
				t.Errorf("totals = %v, want a=%v b=%v", res.Totals, tc.payA, tc.payB)
			}
		})
	}
}

func TestTeamMajorityOverRounds(t *testing.T) {
	def := teamDef(3)
	// Round 3 splits team A, so the configured tie-break (cooperate) applies.
	s := mustRun(t, def, []agent.Proxy{
		agent.NewSequence(def.Players[0], "cooperate", "defect", "cooperate"),
		agent.NewSequence(def.Players[1], "cooperate", "defect", "defect"),
		agent.NewSequence(def.Players[2], "cooperate", "cooperate", "defect"),
		agent.NewSequence(def.Players[3], "cooperate", "cooperate", "defect"),
	}, fastRetry())

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	wantComb := []string{"CC", "DC", "CD"}
	for i, want := range wantComb {
		if hist[i].Combination != want {
			t.Errorf("round %d combination = %q, want %q", i+1, hist[i].Combination, want)
		}
	}
	if got := hist[2].TeamActions["A"]; got != "cooperate" {
		t.Errorf("round 3 team A action = %q, want tie-break cooperate", got)
	}

	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	for _, id := range []game.AgentID{"a1", "a2"} {
		if res.Totals[id] != 8 {
			t.Errorf("total[%s] = %v, want 8", id, res.Totals[id])
		}
	}
	for _, id := range []game.AgentID{"b1", "b2"} {
		if res.Totals[id] != 8 {
			t.Errorf("total[%s] = %v, want 8", id, res.Totals[id])
		}
	}
	if res.TeamTotals["A"] != 16 || res.TeamTotals["B"] != 16 {
		t.Errorf("team totals = %v, want A=16 B=16", res.TeamTotals)
	}
}

func TestFallbackAfterExhaustedRetries(t *testing.T) {
	def := dilemmaDef(1)
	def.Players[0].DefaultAction = "defect"
	failing := agent.Func{
		Player: def.Players[0],
		Fn: func(context.Context, agent.DecisionContext) (game.ActionID, error) {
			return "", agent.ErrUnparsable
		},
	}
	s := mustRun(t, def, []agent.Proxy{
		failing,
		agent.NewFixed(def.Players[1], "cooperate"),
	}, fastRetry())

	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Status != Completed {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a fallback warning in the result")
	}
	if s.History()[0].Combination != "DC" {
		t.Errorf("combination = %q, want DC (fallback defect)", s.History()[0].Combination)
	}
}

func TestAbortPreservesPartialHistory(t *testing.T) {
	def := dilemmaDef(3)
	flaky := agent.Func{
		Player: def.Players[0],
		Fn: func(_ context.Context, dc agent.DecisionContext) (game.ActionID, error) {
			if dc.Round == 1 {
				return "cooperate", nil
			}
			return "", fmt.Errorf("provider unavailable")
		},
	}
	s, err := New(def, []agent.Proxy{
		flaky,
		agent.NewFixed(def.Players[1], "cooperate"),
	}, fastRetry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run: expected an error for an aborted session")
	}

	if s.Status() != Aborted {
		t.Fatalf("status = %s, want aborted", s.Status())
	}
	if got := len(s.History()); got != 1 {
		t.Fatalf("history length = %d, want 1", got)
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.AbortReason != AbortDecisionFailed {
		t.Errorf("abort reason = %q, want %q", res.AbortReason, AbortDecisionFailed)
	}
	if !res.Incomplete {
		t.Error("result should be marked incomplete")
	}
	if res.Totals["a"] != 3 || res.Totals["b"] != 3 {
		t.Errorf("totals = %v, want round-1 payoffs only", res.Totals)
	}
}

func TestSimultaneousRoundsHideCurrentActions(t *testing.T) {
	def := dilemmaDef(2)
	check := func(p game.Player, action game.ActionID) agent.Proxy {
		return agent.Func{
			Player: p,
			Fn: func(_ context.Context, dc agent.DecisionContext) (game.ActionID, error) {
				if len(dc.PriorMoves) != 0 {
					return "", fmt.Errorf("saw prior moves in a simultaneous round: %v", dc.PriorMoves)
				}
				if len(dc.History) != dc.Round-1 {
					return "", fmt.Errorf("round %d saw %d history rounds", dc.Round, len(dc.History))
				}
				return action, nil
			},
		}
	}
	s := mustRun(t, def, []agent.Proxy{
		check(def.Players[0], "cooperate"),
		check(def.Players[1], "defect"),
	}, fastRetry())
	if got := len(s.History()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestSequentialRoundExposesPriorMoves(t *testing.T) {
	def := dilemmaDef(1)
	def.Sequencing = game.Sequential
	def.MoveOrder = []game.AgentID{"a", "b"}

	second := agent.Func{
		Player: def.Players[1],
		Fn: func(_ context.Context, dc agent.DecisionContext) (game.ActionID, error) {
			if dc.PriorMoves["a"] != "cooperate" {
				return "", fmt.Errorf("second mover saw prior moves %v", dc.PriorMoves)
			}
			return "defect", nil
		},
	}
	s := mustRun(t, def, []agent.Proxy{
		agent.NewFixed(def.Players[0], "cooperate"),
		second,
	}, fastRetry())
	if s.History()[0].Combination != "CD" {
		t.Errorf("combination = %q, want CD", s.History()[0].Combination)
	}
}

func TestStopCombinationEndsSessionEarly(t *testing.T) {
	def := dilemmaDef(10)
	def.Rounds.StopCombinations = []string{"DD"}
	s := mustRun(t, def, []agent.Proxy{
		agent.NewSequence(def.Players[0], "cooperate", "defect"),
		agent.NewSequence(def.Players[1], "cooperate", "defect"),
	}, fastRetry())

	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.RoundsPlayed != 2 {
		t.Fatalf("rounds played = %d, want 2", res.RoundsPlayed)
	}
	if res.Termination != TerminationStopCondition {
		t.Errorf("termination = %q, want %q", res.Termination, TerminationStopCondition)
	}
}

func TestCancelBeforeRunAborts(t *testing.T) {
	def := dilemmaDef(3)
	s, err := New(def, []agent.Proxy{
		agent.NewFixed(def.Players[0], "cooperate"),
		agent.NewFixed(def.Players[1], "cooperate"),
	}, fastRetry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Cancel()
	_ = s.Run(context.Background())

	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Status != Aborted || res.AbortReason != AbortCanceled {
		t.Errorf("status=%s reason=%q, want aborted/canceled", res.Status, res.AbortReason)
	}
	if res.RoundsPlayed != 0 || len(s.History()) != 0 {
		t.Errorf("rounds played = %d, history = %d, want none", res.RoundsPlayed, len(s.History()))
	}
}

func TestCancelAbortsRunningSession(t *testing.T) {
	def := dilemmaDef(5)
	blocking := agent.Func{
		Player: def.Players[0],
		Fn: func(ctx context.Context, _ agent.DecisionContext) (game.ActionID, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	s, err := New(def, []agent.Proxy{
		blocking,
		agent.NewFixed(def.Players[1], "cooperate"),
	}, Options{Retry: RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, DecisionTimeout: 10 * time.Second}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() { _ = s.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	s.Cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after cancel")
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Status != Aborted || res.AbortReason != AbortCanceled {
		t.Errorf("status=%s reason=%q, want aborted/canceled", res.Status, res.AbortReason)
	}
}

func TestSessionTimeoutAborts(t *testing.T) {
	def := dilemmaDef(5)
	slow := agent.Func{
		Player: def.Players[0],
		Fn: func(ctx context.Context, _ agent.DecisionContext) (game.ActionID, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	s, err := New(def, []agent.Proxy{
		slow,
		agent.NewFixed(def.Players[1], "cooperate"),
	}, Options{
		Retry:          RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, DecisionTimeout: 10 * time.Second},
		SessionTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run: expected timeout abort")
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.AbortReason != AbortSessionTimeout {
		t.Errorf("abort reason = %q, want %q", res.AbortReason, AbortSessionTimeout)
	}
}

func TestResultBeforeTerminalState(t *testing.T) {
	def := dilemmaDef(1)
	s, err := New(def, []agent.Proxy{
		agent.NewFixed(def.Players[0], "cooperate"),
		agent.NewFixed(def.Players[1], "cooperate"),
	}, fastRetry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Result(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Result before run: err = %v, want ErrNotReady", err)
	}
}

func TestHistoryRejectsOutOfOrderAppend(t *testing.T) {
	h := NewHistory()
	if err := h.Append(Record{Index: 1}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := h.Append(Record{Index: 3}); !errors.Is(err, ErrHistoryViolation) {
		t.Fatalf("append 3: err = %v, want ErrHistoryViolation", err)
	}
	if err := h.Append(Record{Index: 1}); !errors.Is(err, ErrHistoryViolation) {
		t.Fatalf("duplicate append: err = %v, want ErrHistoryViolation", err)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	def := teamDef(3)
	s := mustRun(t, def, []agent.Proxy{
		agent.NewFixed(def.Players[0], "cooperate"),
		agent.NewFixed(def.Players[1], "cooperate"),
		agent.NewFixed(def.Players[2], "defect"),
		agent.NewFixed(def.Players[3], "defect"),
	}, fastRetry())

	records := s.History()
	first := Aggregate(def, records)
	second := Aggregate(def, records)
	for id, v := range first.Totals {
		if second.Totals[id] != v {
			t.Errorf("total[%s] differs across aggregations: %v vs %v", id, v, second.Totals[id])
		}
	}
	if first.RoundsPlayed != second.RoundsPlayed {
		t.Errorf("rounds played differ: %d vs %d", first.RoundsPlayed, second.RoundsPlayed)
	}
}

// commProxy is a Func that also speaks in the communication phase.
type commProxy struct {
	agent.Func
	msg func(dc agent.DecisionContext) (string, error)
}

func (c commProxy) Communicate(_ context.Context, dc agent.DecisionContext) (string, error) {
	return c.msg(dc)
}

func TestCommunicationPhaseOrderAndVisibility(t *testing.T) {
	def := dilemmaDef(1)
	def.Communicate = true

	first := commProxy{
		Func: agent.Func{
			Player: def.Players[0],
			Fn: func(_ context.Context, dc agent.DecisionContext) (game.ActionID, error) {
				if dc.Messages["b"] != "after you" {
					return "", fmt.Errorf("decision phase missing messages: %v", dc.Messages)
				}
				return "cooperate", nil
			},
		},
		msg: func(dc agent.DecisionContext) (string, error) {
			if len(dc.Messages) != 0 {
				return "", fmt.Errorf("first speaker saw messages %v", dc.Messages)
			}
			return "let's cooperate", nil
		},
	}
	second := commProxy{
		Func: agent.Func{
			Player: def.Players[1],
			Fn: func(_ context.Context, _ agent.DecisionContext) (game.ActionID, error) {
				return "cooperate", nil
			},
		},
		msg: func(dc agent.DecisionContext) (string, error) {
			if dc.Messages["a"] != "let's cooperate" {
				return "", fmt.Errorf("second speaker missing first message: %v", dc.Messages)
			}
			return "after you", nil
		},
	}
	s := mustRun(t, def, []agent.Proxy{first, second}, fastRetry())

	rec := s.History()[0]
	if rec.Messages["a"] != "let's cooperate" || rec.Messages["b"] != "after you" {
		t.Errorf("recorded messages = %v", rec.Messages)
	}
}

func TestPrivateInformationFiltersHistory(t *testing.T) {
	def := dilemmaDef(2)
	def.Information = game.PrivateInformation

	checking := agent.Func{
		Player: def.Players[1],
		Fn: func(_ context.Context, dc agent.DecisionContext) (game.ActionID, error) {
			if dc.Round == 2 {
				prev := dc.History[0]
				if _, leaked := prev.Actions["a"]; leaked {
					return "", fmt.Errorf("private game leaked opponent action")
				}
				if prev.Actions["b"] != "defect" {
					return "", fmt.Errorf("own action missing from visible history")
				}
			}
			return "defect", nil
		},
	}
	mustRun(t, def, []agent.Proxy{
		agent.NewFixed(def.Players[0], "cooperate"),
		checking,
	}, fastRetry())
}

func TestManagerLifecycle(t *testing.T) {
	factory := func(def *game.Definition, p game.Player) (agent.Proxy, error) {
		return agent.NewFixed(p, "cooperate"), nil
	}
	m := NewManager(factory, fastRetry())

	def := dilemmaDef(1)
	s, err := m.Start(context.Background(), def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get: %v", err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("List length = %d, want 1", len(m.List()))
	}
	if err := m.Remove(s.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after remove: err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Cancel(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Cancel after remove: err = %v, want ErrSessionNotFound", err)
	}
}
