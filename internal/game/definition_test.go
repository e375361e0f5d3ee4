package game

import (
	"errors"
	"testing"
)

func validDef() *Definition {
	return &Definition{
		Name:          "dilemma",
		Players:       []Player{{ID: "a"}, {ID: "b"}},
		DefaultDomain: []ActionID{"cooperate", "defect"},
		Payoff: MatrixData{
			Strategies: map[ActionID]string{"cooperate": "Cooperate", "defect": "Defect"},
			Weights:    map[string]float64{"T": 5, "R": 3, "P": 1, "S": 0},
			Combinations: map[string][]ActionID{
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
		},
		Rounds: RoundPolicy{MaxRounds: 3},
	}
}

func validTeamDef() *Definition {
	d := validDef()
	d.Players = []Player{
		{ID: "a1", Team: "A"}, {ID: "a2", Team: "A"},
		{ID: "b1", Team: "B"}, {ID: "b2", Team: "B"},
	}
	d.Teams = map[TeamID][]AgentID{"A": {"a1", "a2"}, "B": {"b1", "b2"}}
	d.TeamOrder = []TeamID{"A", "B"}
	d.TeamPolicy = TeamPolicy{Name: "majority", TieBreak: "cooperate"}
	return d
}

func TestValidateAcceptsWellFormedDefinitions(t *testing.T) {
	if err := validDef().Validate(); err != nil {
		t.Fatalf("plain game: %v", err)
	}
	if err := validTeamDef().Validate(); err != nil {
		t.Fatalf("team game: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"one player", func(d *Definition) { d.Players = d.Players[:1] }},
		{"duplicate player id", func(d *Definition) { d.Players[1].ID = "a" }},
		{"empty player id", func(d *Definition) { d.Players[0].ID = "" }},
		{"zero rounds", func(d *Definition) { d.Rounds.MaxRounds = 0 }},
		{"empty domain", func(d *Definition) { d.DefaultDomain = nil }},
		{"unknown sequencing", func(d *Definition) { d.Sequencing = "turnwise" }},
		{"unknown information", func(d *Definition) { d.Information = "secret" }},
		{"move order size mismatch", func(d *Definition) { d.MoveOrder = []AgentID{"a"} }},
		{"move order unknown agent", func(d *Definition) { d.MoveOrder = []AgentID{"a", "x"} }},
		{"move order duplicate", func(d *Definition) { d.MoveOrder = []AgentID{"a", "a"} }},
		{"default action outside domain", func(d *Definition) { d.Players[0].DefaultAction = "explode" }},
		{"domain override unknown actor", func(d *Definition) {
			d.DomainOverrides = map[string][]ActionID{"x": {"cooperate"}}
		}},
		{"missing payoff row", func(d *Definition) { delete(d.Payoff.Table, "DD") }},
		{"combination arity mismatch", func(d *Definition) {
			d.Payoff.Combinations["CC"] = []ActionID{"cooperate"}
		}},
		{"incomplete coverage", func(d *Definition) {
			delete(d.Payoff.Combinations, "DD")
			delete(d.Payoff.Table, "DD")
		}},
		{"stop combination unknown", func(d *Definition) {
			d.Rounds.StopCombinations = []string{"XX"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDef()
			tc.mutate(d)
			if err := d.Validate(); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestValidateTeamRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing team order", func(d *Definition) { d.TeamOrder = nil }},
		{"team order unknown team", func(d *Definition) { d.TeamOrder = []TeamID{"A", "C"} }},
		{"empty team", func(d *Definition) { d.Teams["A"] = nil }},
		{"agent on two teams", func(d *Definition) { d.Teams["B"] = []AgentID{"a1", "b1", "b2"} }},
		{"agent outside partition", func(d *Definition) { d.Teams["A"] = []AgentID{"a1"} }},
		{"missing policy", func(d *Definition) { d.TeamPolicy.Name = "" }},
		{"missing tie-break", func(d *Definition) { d.TeamPolicy.TieBreak = "" }},
		{"tie-break outside domain", func(d *Definition) { d.TeamPolicy.TieBreak = "explode" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validTeamDef()
			tc.mutate(d)
			if err := d.Validate(); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestActorsAndDomains(t *testing.T) {
	d := validDef()
	if got := d.Actors(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("plain actors = %v", got)
	}

	td := validTeamDef()
	if got := td.Actors(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("team actors = %v", got)
	}

	td.DomainOverrides = map[string][]ActionID{"B": {"defect"}}
	if got := td.DomainFor("b1"); len(got) != 1 || got[0] != "defect" {
		t.Errorf("team domain override not applied to member: %v", got)
	}
	if got := td.DomainFor("a1"); len(got) != 2 {
		t.Errorf("default domain = %v", got)
	}
}

func TestTeammatesAndOpponents(t *testing.T) {
	d := validTeamDef()
	if got := d.Teammates("a1"); len(got) != 1 || got[0] != "a2" {
		t.Errorf("teammates = %v", got)
	}
	opps := d.Opponents("a1")
	if len(opps) != 2 {
		t.Fatalf("opponents = %v", opps)
	}
	for _, o := range opps {
		if o.Team != "B" {
			t.Errorf("opponent %s on team %s", o.ID, o.Team)
		}
	}
}

func TestMatrixCombinationLookup(t *testing.T) {
	d := validDef()
	key, ok := d.Payoff.Combination([]ActionID{"defect", "cooperate"})
	if !ok || key != "DC" {
		t.Fatalf("lookup = %q, %v", key, ok)
	}
	if _, ok := d.Payoff.Combination([]ActionID{"defect"}); ok {
		t.Fatal("short tuple must not match")
	}
}
