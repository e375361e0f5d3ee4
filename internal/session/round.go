package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
)

// runRound executes exactly one round: optional communication phase, then
// action collection (simultaneous or sequential), validation, and payoff
// evaluation. The only durable effect is the record the caller appends.
func (s *Session) runRound(ctx context.Context, round int) (Record, error) {
	var messages map[game.AgentID]string
	if s.def.Communicate {
		messages = s.communicationPhase(ctx, round)
	}

	var (
		profile  game.Profile
		warnings []string
		err      error
	)
	if s.sequencing() == game.Sequential {
		profile, warnings, err = s.collectSequential(ctx, round, messages)
	} else {
		profile, warnings, err = s.collectSimultaneous(ctx, round, messages)
	}
	if err != nil {
		return Record{}, err
	}

	assessment, err := s.rule.Evaluate(s.def, profile)
	if err != nil {
		return Record{}, fmt.Errorf("evaluate round %d: %w", round, err)
	}

	return Record{
		Index:       round,
		Actions:     profile,
		TeamActions: assessment.TeamActions,
		Payoffs:     assessment.Payoffs,
		Combination: assessment.Combination,
		Messages:    messages,
		Warnings:    warnings,
		At:          s.opts.Now().UTC(),
	}, nil
}

// communicationPhase collects one free-text message per capable agent, in
// moving order; later speakers see earlier messages. Message failures are
// not fatal: the agent simply stays silent this round.
func (s *Session) communicationPhase(ctx context.Context, round int) map[game.AgentID]string {
	messages := make(map[game.AgentID]string)
	for _, id := range s.def.Order() {
		proxy := s.byID[id]
		speaker, ok := proxy.(agent.Communicator)
		if !ok {
			continue
		}
		dc := s.contextFor(id, round, nil, messages)
		callCtx, cancel := context.WithTimeout(ctx, s.opts.Retry.DecisionTimeout)
		msg, err := speaker.Communicate(callCtx, dc)
		cancel()
		if err != nil {
			log.Printf("communicate_failed id=%s agent=%s round=%d err=%v", s.ID, id, round, err)
			continue
		}
		if msg != "" {
			messages[id] = msg
		}
	}
	return messages
}

// collectSimultaneous gathers all actions concurrently. No decision context
// contains any other agent's current-round action.
func (s *Session) collectSimultaneous(ctx context.Context, round int, messages map[game.AgentID]string) (game.Profile, []string, error) {
	type slot struct {
		action   game.ActionID
		warnings []string
	}
	slots := make([]slot, len(s.proxies))

	g, gctx := errgroup.WithContext(ctx)
	for i, proxy := range s.proxies {
		i, proxy := i, proxy
		g.Go(func() error {
			id := proxy.Descriptor().ID
			dc := s.contextFor(id, round, nil, messages)
			action, warns, err := s.decideWithRetry(gctx, proxy, dc)
			if err != nil {
				return err
			}
			slots[i] = slot{action: action, warnings: warns}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	profile := make(game.Profile, len(s.proxies))
	var warnings []string
	for i, proxy := range s.proxies {
		profile[proxy.Descriptor().ID] = slots[i].action
		warnings = append(warnings, slots[i].warnings...)
	}
	return profile, warnings, nil
}

// collectSequential gathers actions one mover at a time; each later mover's
// context includes exactly the earlier movers' actions, in move order.
func (s *Session) collectSequential(ctx context.Context, round int, messages map[game.AgentID]string) (game.Profile, []string, error) {
	profile := make(game.Profile, len(s.proxies))
	var warnings []string
	for _, id := range s.def.Order() {
		proxy := s.byID[id]
		prior := make(map[game.AgentID]game.ActionID, len(profile))
		for k, v := range profile {
			prior[k] = v
		}
		dc := s.contextFor(id, round, prior, messages)
		action, warns, err := s.decideWithRetry(ctx, proxy, dc)
		if err != nil {
			return nil, nil, err
		}
		profile[id] = action
		warnings = append(warnings, warns...)
	}
	return profile, warnings, nil
}

// decideWithRetry obtains one in-domain action, retrying decision errors
// with exponential backoff up to the policy bound, then falling back to the
// agent's configured default action. With no fallback the error escalates
// to the round.
func (s *Session) decideWithRetry(ctx context.Context, proxy agent.Proxy, dc agent.DecisionContext) (game.ActionID, []string, error) {
	pol := s.opts.Retry
	id := proxy.Descriptor().ID
	var lastErr error

	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoffDelay(pol.Backoff, attempt)):
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, pol.DecisionTimeout)
		action, err := proxy.Decide(callCtx, dc)
		cancel()
		if err == nil {
			if dc.InDomain(action) {
				return action, nil, nil
			}
			err = fmt.Errorf("%w: agent %q returned out-of-domain action %q", agent.ErrUnparsable, id, action)
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		log.Printf("decision_retry id=%s agent=%s round=%d attempt=%d err=%v", s.ID, id, dc.Round, attempt, err)
	}

	if fb := proxy.Descriptor().DefaultAction; fb != "" && dc.InDomain(fb) {
		warn := fmt.Sprintf("agent %s used fallback action %q after %d failed attempts: %v", id, fb, pol.MaxAttempts, lastErr)
		log.Printf("decision_fallback id=%s agent=%s round=%d action=%s", s.ID, id, dc.Round, fb)
		return fb, []string{warn}, nil
	}
	return "", nil, fmt.Errorf("agent %q: retries exhausted: %w", id, lastErr)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
	}
	return d
}

// contextFor builds the decision context one agent may observe: the history
// filtered per the game's information structure, plus current-round prior
// moves (sequential) and messages.
func (s *Session) contextFor(id game.AgentID, round int, prior map[game.AgentID]game.ActionID, messages map[game.AgentID]string) agent.DecisionContext {
	visible := make(map[game.AgentID]string, len(messages))
	for k, v := range messages {
		visible[k] = v
	}
	return agent.DecisionContext{
		Round:      round,
		Domain:     s.def.DomainFor(string(id)),
		History:    s.visibleHistory(id),
		PriorMoves: prior,
		Messages:   visible,
	}
}

// visibleHistory converts the completed rounds into the view one agent may
// see. Public-information games expose everything; private-information
// games restrict each agent to its own actions and payoffs plus team-level
// outcomes.
func (s *Session) visibleHistory(id game.AgentID) []agent.RoundView {
	records := s.history.Rounds()
	views := make([]agent.RoundView, 0, len(records))
	private := s.def.Information == game.PrivateInformation
	for _, r := range records {
		v := agent.RoundView{
			Round:       r.Index,
			TeamActions: r.TeamActions,
		}
		if private {
			v.Actions = map[game.AgentID]game.ActionID{id: r.Actions[id]}
			v.Payoffs = map[game.AgentID]float64{id: r.Payoffs[id]}
			if msg, ok := r.Messages[id]; ok {
				v.Messages = map[game.AgentID]string{id: msg}
			}
		} else {
			v.Actions = r.Actions
			v.Payoffs = r.Payoffs
			v.Messages = r.Messages
		}
		views = append(views, v)
	}
	return views
}
