package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// ErrSessionNotFound is returned when a manager lookup misses.
var ErrSessionNotFound = errors.New("session not found")

// ProxyFactory builds the proxy for one player of a definition. The factory
// decides the concrete variant from the player descriptor.
type ProxyFactory func(def *game.Definition, p game.Player) (agent.Proxy, error)

// Manager owns a set of concurrently running sessions and serves as the
// control boundary for API and CLI callers. Lookups stay valid after a
// session terminates; terminated sessions are kept until Remove.
type Manager struct {
	factory ProxyFactory
	opts    Options

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager returns a manager that builds proxies with the given factory
// and runs every session with the given options.
func NewManager(factory ProxyFactory, opts Options) *Manager {
	return &Manager{
		factory:  factory,
		opts:     opts,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Start builds the proxies, creates the session, and launches it on its own
// goroutine. It returns as soon as the session is registered.
func (m *Manager) Start(ctx context.Context, def *game.Definition) (*Session, error) {
	proxies := make([]agent.Proxy, 0, len(def.Players))
	for _, p := range def.Players {
		proxy, err := m.factory(def, p)
		if err != nil {
			return nil, fmt.Errorf("build proxy for %q: %w", p.ID, err)
		}
		proxies = append(proxies, proxy)
	}
	s, err := New(def, proxies, m.opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go func() {
		// Run owns its error reporting through the session state.
		_ = s.Run(ctx)
	}()
	return s, nil
}

// RunSync executes one definition to completion on the calling goroutine
// without registering it, for one-shot CLI runs.
func (m *Manager) RunSync(ctx context.Context, def *game.Definition) (*Session, error) {
	proxies := make([]agent.Proxy, 0, len(def.Players))
	for _, p := range def.Players {
		proxy, err := m.factory(def, p)
		if err != nil {
			return nil, fmt.Errorf("build proxy for %q: %w", p.ID, err)
		}
		proxies = append(proxies, proxy)
	}
	s, err := New(def, proxies, m.opts)
	if err != nil {
		return nil, err
	}
	_ = s.Run(ctx)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all registered sessions in unspecified order.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Cancel aborts the session with the given id.
func (m *Manager) Cancel(id uuid.UUID) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Remove cancels and drops a session from the registry.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}
