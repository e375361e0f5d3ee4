package agent

import (
	"context"
	"sync"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// Fixed always plays the same action.
type Fixed struct {
	player game.Player
	action game.ActionID
}

// NewFixed creates a proxy that plays action every round.
func NewFixed(p game.Player, action game.ActionID) *Fixed {
	return &Fixed{player: p, action: action}
}

func (f *Fixed) Descriptor() game.Player { return f.player }

func (f *Fixed) Decide(context.Context, DecisionContext) (game.ActionID, error) {
	return f.action, nil
}

// Sequence replays a scripted list of actions, one per call, repeating the
// last entry once the script is exhausted. Deterministic by construction,
// which makes it the standard test double for engine logic.
type Sequence struct {
	player  game.Player
	actions []game.ActionID

	mu sync.Mutex
	i  int
}

// NewSequence creates a proxy that plays the given actions in order.
func NewSequence(p game.Player, actions ...game.ActionID) *Sequence {
	return &Sequence{player: p, actions: actions}
}

func (s *Sequence) Descriptor() game.Player { return s.player }

func (s *Sequence) Decide(context.Context, DecisionContext) (game.ActionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return "", ErrUnparsable
	}
	a := s.actions[min(s.i, len(s.actions)-1)]
	s.i++
	return a, nil
}

// Func adapts a plain function into a Proxy. Handy for tests that need to
// inject failures or inspect the decision context.
type Func struct {
	Player game.Player
	Fn     func(ctx context.Context, dc DecisionContext) (game.ActionID, error)
}

func (f Func) Descriptor() game.Player { return f.Player }

func (f Func) Decide(ctx context.Context, dc DecisionContext) (game.ActionID, error) {
	return f.Fn(ctx, dc)
}
