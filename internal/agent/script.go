package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// scriptCallTimeout bounds a single decide() invocation inside the VM.
const scriptCallTimeout = 1 * time.Second

// Script runs a user-supplied JavaScript strategy in a sandboxed goja
// runtime. The script must define a function decide(state) returning one of
// the legal action keys; it may also define communicate(state) returning a
// message for the communication phase.
//
// state mirrors the DecisionContext: {round, domain, self, team, history,
// priorMoves, messages}.
type Script struct {
	player game.Player

	mu      sync.Mutex
	runtime *goja.Runtime
	decide  goja.Callable
	speak   goja.Callable // nil when the script has no communicate()
}

// NewScript compiles the strategy source and looks up its entry points.
func NewScript(p game.Player, source string) (*Script, error) {
	vm := goja.New()
	sandbox(vm)

	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("strategy script: %w", err)
	}
	decideFn, ok := goja.AssertFunction(vm.Get("decide"))
	if !ok {
		return nil, fmt.Errorf("strategy script for %q must define decide(state)", p.ID)
	}
	s := &Script{player: p, runtime: vm, decide: decideFn}
	if fn, ok := goja.AssertFunction(vm.Get("communicate")); ok {
		s.speak = fn
	}
	return s, nil
}

// sandbox blocks host access from strategy scripts.
func sandbox(vm *goja.Runtime) {
	vm.Set("require", goja.Undefined())
	vm.Set("fetch", goja.Undefined())
	vm.Set("XMLHttpRequest", goja.Undefined())
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
}

func (s *Script) Descriptor() game.Player { return s.player }

func (s *Script) Decide(ctx context.Context, dc DecisionContext) (game.ActionID, error) {
	v, err := s.call(ctx, s.decide, dc)
	if err != nil {
		return "", err
	}
	action := game.ActionID(v.String())
	if !dc.InDomain(action) {
		return "", fmt.Errorf("%w: script returned %q", ErrUnparsable, action)
	}
	return action, nil
}

// Communicate runs the script's communicate(state) function if present.
func (s *Script) Communicate(ctx context.Context, dc DecisionContext) (string, error) {
	if s.speak == nil {
		return "", nil
	}
	v, err := s.call(ctx, s.speak, dc)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// call invokes a script function under the mutex (a goja runtime is not
// goroutine-safe) with an interrupt-based timeout.
func (s *Script) call(ctx context.Context, fn goja.Callable, dc DecisionContext) (goja.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := time.AfterFunc(scriptCallTimeout, func() {
		s.runtime.Interrupt("call timeout")
	})
	defer timer.Stop()
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < scriptCallTimeout {
			timer.Reset(d)
		}
	}

	state := s.runtime.ToValue(s.state(dc))
	v, err := fn(goja.Undefined(), state)
	if err != nil {
		s.runtime.ClearInterrupt()
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return nil, fmt.Errorf("%w: strategy script for %q", ErrDecisionTimeout, s.player.ID)
		}
		return nil, fmt.Errorf("%w: strategy script for %q: %v", ErrUnparsable, s.player.ID, err)
	}
	return v, nil
}

// state converts the decision context into plain maps and slices goja can
// expose to the script.
func (s *Script) state(dc DecisionContext) map[string]any {
	domain := make([]string, len(dc.Domain))
	for i, a := range dc.Domain {
		domain[i] = string(a)
	}
	history := make([]map[string]any, len(dc.History))
	for i, r := range dc.History {
		history[i] = map[string]any{
			"round":       r.Round,
			"actions":     stringKeyed(r.Actions),
			"teamActions": teamKeyed(r.TeamActions),
			"payoffs":     payoffKeyed(r.Payoffs),
			"messages":    messageKeyed(r.Messages),
		}
	}
	return map[string]any{
		"round":      dc.Round,
		"domain":     domain,
		"self":       string(s.player.ID),
		"team":       string(s.player.Team),
		"history":    history,
		"priorMoves": stringKeyed(dc.PriorMoves),
		"messages":   messageKeyed(dc.Messages),
	}
}

func stringKeyed(m map[game.AgentID]game.ActionID) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = string(v)
	}
	return out
}

func teamKeyed(m map[game.TeamID]game.ActionID) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = string(v)
	}
	return out
}

func payoffKeyed(m map[game.AgentID]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func messageKeyed(m map[game.AgentID]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
