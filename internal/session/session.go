// Package session drives a game from definition to result: it owns the
// history, executes rounds one at a time per the round policy, absorbs
// decision failures through a bounded retry/fallback policy, and exposes
// the control boundary (start, status, result, cancel) through the Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/payoff"
)

// State is the session lifecycle state.
type State string

const (
	Initialized State = "initialized"
	Running     State = "running"
	Completed   State = "completed"
	Aborted     State = "aborted"
)

// Termination reasons for completed sessions.
const (
	TerminationMaxRounds     = "max_rounds"
	TerminationStopCondition = "stop_condition"
)

// Machine-readable abort reasons.
const (
	AbortCanceled          = "canceled"
	AbortSessionTimeout    = "session_timeout"
	AbortDecisionFailed    = "decision_failed"
	AbortEvaluationFailed  = "evaluation_failed"
	AbortInternalInvariant = "internal_invariant"
)

var (
	// ErrNotReady is returned when a result is requested before the session
	// reached a terminal state.
	ErrNotReady = errors.New("session result not ready")
	// ErrAlreadyRunning guards against starting a session twice.
	ErrAlreadyRunning = errors.New("session already started")
)

// RetryPolicy bounds decision retries for one agent within one round.
type RetryPolicy struct {
	// MaxAttempts is the total number of decide calls before falling back.
	MaxAttempts int
	// Backoff is the base delay between attempts, doubled each retry.
	Backoff time.Duration
	// DecisionTimeout bounds each individual decide call.
	DecisionTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.DecisionTimeout <= 0 {
		p.DecisionTimeout = 30 * time.Second
	}
	return p
}

// Options configures a session.
type Options struct {
	Retry RetryPolicy
	// SessionTimeout bounds the whole run. Zero means no limit.
	SessionTimeout time.Duration
	// Now is the clock used for round timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Session executes one game. All mutable state is confined to the session;
// concurrent sessions share nothing.
type Session struct {
	ID  uuid.UUID
	def *game.Definition

	rule    payoff.Rule
	proxies []agent.Proxy // Players order
	byID    map[game.AgentID]agent.Proxy
	history *History
	opts    Options

	mu          sync.RWMutex
	state       State
	termination string
	abortReason string
	abortDetail string

	cancelMu sync.Mutex
	canceled bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates the definition, checks the proxy set against the player
// set, and returns a session in the Initialized state.
func New(def *game.Definition, proxies []agent.Proxy, opts Options) (*Session, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	rule, ok := payoff.GetRule(def.Rule)
	if !ok {
		return nil, fmt.Errorf("%w: unknown payoff rule %q", game.ErrInvalidDefinition, def.Rule)
	}
	byID := make(map[game.AgentID]agent.Proxy, len(proxies))
	for _, p := range proxies {
		id := p.Descriptor().ID
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate proxy for agent %q", game.ErrInvalidDefinition, id)
		}
		byID[id] = p
	}
	ordered := make([]agent.Proxy, 0, len(def.Players))
	for _, pl := range def.Players {
		p, ok := byID[pl.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no proxy for agent %q", game.ErrInvalidDefinition, pl.ID)
		}
		ordered = append(ordered, p)
	}
	if len(byID) != len(def.Players) {
		return nil, fmt.Errorf("%w: %d proxies for %d players", game.ErrInvalidDefinition, len(byID), len(def.Players))
	}
	opts.Retry = opts.Retry.withDefaults()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		ID:      uuid.New(),
		def:     def,
		rule:    rule,
		proxies: ordered,
		byID:    byID,
		history: NewHistory(),
		opts:    opts,
		state:   Initialized,
		done:    make(chan struct{}),
	}, nil
}

// Definition returns the immutable game definition.
func (s *Session) Definition() *game.Definition { return s.def }

// Status returns the current lifecycle state.
func (s *Session) Status() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// History returns a copy of the completed round records. On an aborted
// session this is the preserved partial history.
func (s *Session) History() []Record { return s.history.Rounds() }

// Result aggregates the history into the final result. Before the session
// reaches a terminal state it returns ErrNotReady.
func (s *Session) Result() (Result, error) {
	s.mu.RLock()
	state, termination, reason, detail := s.state, s.termination, s.abortReason, s.abortDetail
	s.mu.RUnlock()
	if state != Completed && state != Aborted {
		return Result{}, ErrNotReady
	}
	res := Aggregate(s.def, s.history.Rounds())
	res.Status = state
	res.Termination = termination
	res.AbortReason = reason
	res.Incomplete = state == Aborted
	if detail != "" {
		res.Warnings = append(res.Warnings, detail)
	}
	return res, nil
}

// Cancel aborts the current round and moves the session to Aborted. Safe to
// call in any state; a no-op once the session is terminal. A cancel issued
// before Run starts is remembered, so the session aborts instead of playing.
func (s *Session) Cancel() {
	s.cancelMu.Lock()
	s.canceled = true
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the session to a terminal state. It returns an error only
// when the session aborted; the same information is available from Result.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Initialized {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Running
	s.mu.Unlock()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.opts.SessionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.SessionTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.cancelMu.Lock()
	s.cancel = cancel
	if s.canceled {
		cancel()
	}
	s.cancelMu.Unlock()
	defer cancel()
	defer close(s.done)

	log.Printf("session_start id=%s game=%s players=%d rounds=%d sequencing=%s",
		s.ID, s.def.Name, len(s.def.Players), s.def.Rounds.MaxRounds, s.sequencing())

	for round := 1; round <= s.def.Rounds.MaxRounds; round++ {
		if err := runCtx.Err(); err != nil {
			return s.abort(runCtx, "", err)
		}
		rec, err := s.runRound(runCtx, round)
		if err != nil {
			return s.abort(runCtx, "", err)
		}
		if err := s.history.Append(rec); err != nil {
			return s.abort(runCtx, AbortInternalInvariant, err)
		}
		log.Printf("round_complete id=%s round=%d combination=%s", s.ID, round, rec.Combination)
		if s.stopConditionMet(rec) {
			s.complete(TerminationStopCondition)
			return nil
		}
	}
	s.complete(TerminationMaxRounds)
	return nil
}

func (s *Session) complete(termination string) {
	s.mu.Lock()
	s.state = Completed
	s.termination = termination
	s.mu.Unlock()
	log.Printf("session_complete id=%s rounds=%d termination=%s", s.ID, s.history.Len(), termination)
}

// abort records a terminal Aborted state with a machine-readable reason.
// The partial history is preserved as-is.
func (s *Session) abort(ctx context.Context, reason string, err error) error {
	if reason == "" {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
			reason = AbortSessionTimeout
		case errors.Is(err, context.Canceled):
			reason = AbortCanceled
		case errors.Is(err, payoff.ErrInvalidAction), errors.Is(err, payoff.ErrIncompleteProfile):
			reason = AbortEvaluationFailed
		case errors.Is(err, ErrHistoryViolation):
			reason = AbortInternalInvariant
		default:
			reason = AbortDecisionFailed
		}
	}
	s.mu.Lock()
	s.state = Aborted
	s.abortReason = reason
	if err != nil {
		s.abortDetail = err.Error()
	}
	s.mu.Unlock()
	log.Printf("session_abort id=%s reason=%s err=%v", s.ID, reason, err)
	if err == nil {
		return fmt.Errorf("session aborted: %s", reason)
	}
	return fmt.Errorf("session aborted (%s): %w", reason, err)
}

// stopConditionMet checks the round policy's early-termination predicate
// against the just-completed round. Deterministic given the same history.
func (s *Session) stopConditionMet(rec Record) bool {
	if rec.Combination == "" {
		return false
	}
	for _, key := range s.def.Rounds.StopCombinations {
		if key == rec.Combination {
			return true
		}
	}
	return false
}

func (s *Session) sequencing() game.Sequencing {
	if s.def.Sequencing == "" {
		return game.Simultaneous
	}
	return s.def.Sequencing
}
