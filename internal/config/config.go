// Package config is the configuration boundary: it loads simulation config
// files, validates their structure, normalizes the payoff matrix, and expands
// them into validated game definitions. The engine core never reads files or
// environment state; everything enters through this package.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidConfig marks structural configuration errors detected at load
// time.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Agents describes the participant roster. Personalities are keyed by
// language; each list either lines up one-to-one with Names or, in
// permutation mode, serves as the pool to permute over.
type Agents struct {
	Names                   []string            `json:"names"`
	Personalities           map[string][]string `json:"personalities"`
	OpponentPersonalityProb []int               `json:"opponentPersonalityProb"`
}

// Matrix is the payoff matrix in file form. Strategies are keyed by language
// then action key; Combinations may arrive in the compact pair form and are
// normalized before use.
type Matrix struct {
	Strategies   map[string]map[string]string `json:"strategies"`
	Weights      map[string]float64           `json:"weights"`
	Combinations map[string][]any             `json:"combinations"`
	Table        map[string][]string          `json:"matrix"`
}

// TeamPolicy selects the member-action aggregation rule and its mandatory
// tie-break action.
type TeamPolicy struct {
	Name     string `json:"name"`
	TieBreak string `json:"tieBreak"`
}

// File is one simulation configuration as read from disk or an API request
// body. Field names follow the config file keys.
type File struct {
	Name                 string   `json:"name"`
	NRounds              int      `json:"nRounds"`
	NRoundsIsKnown       bool     `json:"nRoundsIsKnown"`
	AllAgentPermutations bool     `json:"allAgentPermutations"`
	LLM                  string   `json:"llm"`
	Languages            []string `json:"languages"`
	StopGameWhen         []string `json:"stopGameWhen"`
	AgentsCommunicate    bool     `json:"agentsCommunicate"`

	Agents       Agents              `json:"agents"`
	PayoffMatrix Matrix              `json:"payoffMatrix"`
	Teams        map[string][]string `json:"teams,omitempty"`
	TeamOrder    []string            `json:"teamOrder,omitempty"`
	TeamPolicy   TeamPolicy          `json:"teamPolicy,omitempty"`

	// Sequencing selects simultaneous (default) or sequential rounds;
	// MoveOrder fixes the mover order for sequential games.
	Sequencing  string   `json:"sequencing,omitempty"`
	MoveOrder   []string `json:"moveOrder,omitempty"`
	Information string   `json:"information,omitempty"`

	// DefaultActions maps agent name to the fallback action played when
	// decision retries are exhausted. Agents without an entry have no
	// fallback.
	DefaultActions map[string]string `json:"defaultActions,omitempty"`
	// ShareWeights scales each team member's share of the team payoff.
	ShareWeights map[string]float64 `json:"shareWeights,omitempty"`
	// DomainOverrides narrows the action domain for single actors.
	DomainOverrides map[string][]string `json:"domainOverrides,omitempty"`

	// Exactly one of PromptTemplate (inline, keyed by language) and
	// TemplateFilename must be set.
	PromptTemplate   map[string]string `json:"promptTemplate,omitempty"`
	TemplateFilename string            `json:"templateFilename,omitempty"`
}

// Load reads and validates one simulation config file. Plain JSON decoding
// keeps map keys case-sensitive; combination keys, weight labels and agent
// names all distinguish case.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates one simulation config from raw JSON, as
// submitted in an API request body.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural invariants the expansion factory relies on.
func (f *File) Validate() error {
	if f.Name == "" {
		return invalidf("name is required")
	}
	if f.NRounds < 1 {
		return invalidf("nRounds must be >= 1, got %d", f.NRounds)
	}
	if len(f.Languages) == 0 {
		return invalidf("languages must list at least one language")
	}
	if f.LLM == "" {
		return invalidf("llm is required")
	}
	if (len(f.PromptTemplate) > 0) == (f.TemplateFilename != "") {
		return invalidf("exactly one of promptTemplate and templateFilename must be set")
	}
	if err := f.validateMatrix(); err != nil {
		return err
	}
	if err := f.validateAgents(); err != nil {
		return err
	}
	if len(f.Teams) > 0 {
		if f.TeamPolicy.Name == "" || f.TeamPolicy.TieBreak == "" {
			return invalidf("team games require teamPolicy.name and teamPolicy.tieBreak")
		}
	}
	return nil
}

func (f *File) validateMatrix() error {
	m := &f.PayoffMatrix
	if len(m.Strategies) == 0 {
		return invalidf("payoffMatrix.strategies is required")
	}
	if len(m.Weights) == 0 {
		return invalidf("payoffMatrix.weights is required")
	}
	if len(m.Combinations) == 0 {
		return invalidf("payoffMatrix.combinations is required")
	}
	for _, lang := range f.Languages {
		if len(m.Strategies[lang]) == 0 {
			return invalidf("payoffMatrix.strategies has no entry for language %q", lang)
		}
	}
	return nil
}

func (f *File) validateAgents() error {
	n := len(f.Agents.Names)
	if n < 2 {
		return invalidf("at least 2 agents are required, got %d", n)
	}
	for _, lang := range f.Languages {
		list, ok := f.Agents.Personalities[lang]
		if !ok {
			return invalidf("agents.personalities has no entry for language %q", lang)
		}
		if !f.AllAgentPermutations && len(list) != n {
			return invalidf("agents.personalities[%s] has %d entries for %d agents", lang, len(list), n)
		}
		if f.AllAgentPermutations && len(list) == 0 {
			return invalidf("agents.personalities[%s] is empty", lang)
		}
	}
	if !f.AllAgentPermutations && len(f.Agents.OpponentPersonalityProb) != n {
		return invalidf("agents.opponentPersonalityProb has %d entries for %d agents", len(f.Agents.OpponentPersonalityProb), n)
	}
	// In permutation mode an empty probability list defaults to [0] when the
	// assignments are expanded.
	return nil
}

// Template returns the prompt template for a language: the inline template
// when present, otherwise the `<templateFilename>_<lang>.txt` file under dir.
func (f *File) Template(dir, lang string) (string, error) {
	if len(f.PromptTemplate) > 0 {
		tpl, ok := f.PromptTemplate[lang]
		if !ok {
			return "", invalidf("promptTemplate has no entry for language %q", lang)
		}
		return tpl, nil
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", f.TemplateFilename, lang))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load template %s: %w", path, err)
	}
	return string(data), nil
}
