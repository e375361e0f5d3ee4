package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/config"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/session"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/store"
)

type sessionSummary struct {
	ID       uuid.UUID     `json:"id"`
	Game     string        `json:"game"`
	Language string        `json:"language"`
	Status   session.State `json:"status"`
	Rounds   int           `json:"rounds_played"`
}

func summarize(s *session.Session) sessionSummary {
	def := s.Definition()
	return sessionSummary{
		ID:       s.ID,
		Game:     def.Name,
		Language: def.Language,
		Status:   s.Status(),
		Rounds:   len(s.History()),
	}
}

// handleCreateSimulations expands a simulation config into game definitions
// and starts one asynchronous session per definition.
func (s *Server) handleCreateSimulations(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, "unreadable request body")
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}
	defs, err := cfg.Definitions(s.templateDir)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}

	log.Printf("simulations_create game=%s languages=%d definitions=%d", cfg.Name, len(cfg.Languages), len(defs))

	out := make([]sessionSummary, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		// Sessions outlive the request; cancellation goes through the
		// manager, not the request context.
		sess, err := s.manager.Start(context.Background(), def)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			return
		}
		s.persistWhenDone(sess, def)
		out = append(out, summarize(sess))
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"sessions": out})
}

// persistWhenDone saves the session outcome once it reaches a terminal
// state. A nil store turns this into a no-op.
func (s *Server) persistWhenDone(sess *session.Session, def *game.Definition) {
	if s.db == nil {
		return
	}
	go func() {
		<-sess.Done()
		res, err := sess.Result()
		if err != nil {
			log.Printf("persist_skip id=%s err=%v", sess.ID, err)
			return
		}
		if err := s.db.SaveOutcome(context.Background(), sess.ID, def, res, sess.History()); err != nil {
			log.Printf("persist_failed id=%s err=%v", sess.ID, err)
		}
	}()
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	live := s.manager.List()
	active := make([]sessionSummary, 0, len(live))
	for _, sess := range live {
		active = append(active, summarize(sess))
	}
	resp := map[string]any{"active": active}
	if s.db != nil {
		stored, err := s.db.ListSessions(r.Context(), 100, 0)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			return
		}
		resp["stored"] = stored
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.manager.Get(id)
	if err == nil {
		s.writeJSON(w, http.StatusOK, summarize(sess))
		return
	}
	if s.db != nil {
		row, dbErr := s.db.GetSession(r.Context(), id)
		if dbErr == nil {
			s.writeJSON(w, http.StatusOK, row)
			return
		}
		if !errors.Is(dbErr, store.ErrNotFound) {
			s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, dbErr.Error())
			return
		}
	}
	s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.manager.Get(id)
	if err != nil {
		s.storedResult(w, r, id)
		return
	}
	res, err := sess.Result()
	if errors.Is(err, session.ErrNotReady) {
		s.writeError(w, http.StatusConflict, ErrTypeNotReady, "session has not reached a terminal state")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// storedResult serves the result of a session that is no longer registered
// with the manager but was persisted, rebuilt from the stored row.
func (s *Server) storedResult(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if s.db == nil {
		s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	row, err := s.db.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, session.Result{
		Game:         row.Game,
		Status:       session.State(row.Status),
		RoundsPlayed: row.RoundsPlayed,
		Totals:       row.Totals,
		TeamTotals:   row.TeamTotals,
		Termination:  row.Termination,
		AbortReason:  row.AbortReason,
		Warnings:     row.Warnings,
		Incomplete:   session.State(row.Status) == session.Aborted,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.manager.Get(id)
	if err != nil {
		if s.db != nil {
			rounds, dbErr := s.db.GetRounds(r.Context(), id)
			if dbErr == nil && len(rounds) > 0 {
				s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "rounds": rounds})
				return
			}
			if dbErr != nil && !errors.Is(dbErr, store.ErrNotFound) {
				s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, dbErr.Error())
				return
			}
		}
		s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":     sess.ID,
		"rounds": sess.History(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Cancel(id); err != nil {
		s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeError(w, http.StatusNotImplemented, ErrTypeInternal, "persistence is not configured")
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
	if err := s.db.ExportCSV(r.Context(), w, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.Header().Del("Content-Disposition")
			s.writeError(w, http.StatusNotFound, ErrTypeNotFound, fmt.Sprintf("session %s not found", id))
			return
		}
		log.Printf("export_failed id=%s err=%v", id, err)
	}
}

// handleRun is the synchronous create-and-run endpoint: it expands the
// config, runs every game to completion in order, and returns the keyed
// results in one response.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, "unreadable request body")
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}
	defs, err := cfg.Definitions(s.templateDir)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}

	log.Printf("run_request game=%s definitions=%d", cfg.Name, len(defs))

	out := make(map[string]any, len(defs))
	for i := range defs {
		def := &defs[i]
		sess, err := s.manager.RunSync(r.Context(), def)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			return
		}
		res, err := sess.Result()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			return
		}
		if s.db != nil {
			if err := s.db.SaveOutcome(r.Context(), sess.ID, def, res, sess.History()); err != nil {
				log.Printf("persist_failed id=%s err=%v", sess.ID, err)
			}
		}
		out[fmt.Sprintf("game_%d", i)] = map[string]any{
			"description": Describe(def),
			"result":      res,
			"history":     sess.History(),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// Describe summarizes a definition the way game descriptions appear in run
// results, without the payoff table.
func Describe(def *game.Definition) map[string]any {
	agents := make([]string, len(def.Players))
	personalities := make(map[string]string, len(def.Players))
	probs := make(map[string]int, len(def.Players))
	services := make(map[string]string, len(def.Players))
	for i, p := range def.Players {
		agents[i] = string(p.ID)
		personalities[string(p.ID)] = p.Personality
		probs[string(p.ID)] = p.OpponentPersonalityProb
		services[string(p.ID)] = p.Service
	}
	d := map[string]any{
		"name":          def.Name,
		"language":      def.Language,
		"agents":        agents,
		"personalities": personalities,
		"services":      services,
		"nRounds":       def.Rounds.MaxRounds,
		"communication": def.Communicate,
	}
	d["opponentPersonalityProb"] = probs
	d["nRoundsIsKnown"] = def.Rounds.KnownToAgents
	if def.HasTeams() {
		teams := make(map[string][]string, len(def.Teams))
		for tid, members := range def.Teams {
			ids := make([]string, len(members))
			for i, m := range members {
				ids[i] = string(m)
			}
			teams[string(tid)] = ids
		}
		d["teams"] = teams
	}
	return d
}
