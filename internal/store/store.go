// Package store persists finished and in-flight simulation outcomes to
// SQLite and serves the query/export side of the HTTP API. The engine core
// does no I/O; everything saved here comes from the read-only history and
// result a session exposes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/session"
)

// ErrNotFound is returned when a session id has no row.
var ErrNotFound = errors.New("session not found in store")

// SessionRow is the stored summary of one simulation run.
type SessionRow struct {
	ID           uuid.UUID                `json:"id"`
	Game         string                   `json:"game"`
	Language     string                   `json:"language"`
	Service      string                   `json:"service"`
	Status       string                   `json:"status"`
	Termination  string                   `json:"termination,omitempty"`
	AbortReason  string                   `json:"abort_reason,omitempty"`
	RoundsPlayed int                      `json:"rounds_played"`
	Totals       map[game.AgentID]float64 `json:"totals"`
	TeamTotals   map[game.TeamID]float64  `json:"team_totals,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	FinishedAt   time.Time                `json:"finished_at"`
}

type Store struct {
	db *sql.DB
}

// New opens/creates a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&cache=shared", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			game TEXT NOT NULL,
			language TEXT NOT NULL,
			service TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			termination TEXT NOT NULL DEFAULT '',
			abort_reason TEXT NOT NULL DEFAULT '',
			rounds_played INTEGER NOT NULL,
			totals TEXT NOT NULL,
			team_totals TEXT NOT NULL DEFAULT '{}',
			warnings TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_finished ON sessions(finished_at DESC);`,

		`CREATE TABLE IF NOT EXISTS session_rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			round_index INTEGER NOT NULL,
			combination TEXT NOT NULL DEFAULT '',
			actions TEXT NOT NULL,
			team_actions TEXT NOT NULL DEFAULT '{}',
			payoffs TEXT NOT NULL,
			messages TEXT NOT NULL DEFAULT '{}',
			warnings TEXT NOT NULL DEFAULT '[]',
			played_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, round_index),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_rounds_session ON session_rounds(session_id, round_index);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveOutcome persists one terminal session: the summary row plus one row
// per completed round, in a single transaction. Idempotent per session id.
func (s *Store) SaveOutcome(ctx context.Context, id uuid.UUID, def *game.Definition, res session.Result, rounds []session.Record) error {
	service := ""
	if len(def.Players) > 0 {
		service = def.Players[0].Service
	}
	totals, err := json.Marshal(res.Totals)
	if err != nil {
		return err
	}
	teamTotals, err := json.Marshal(orEmptyTeams(res.TeamTotals))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(orEmptyStrings(res.Warnings))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions(
			id, game, language, service, status, termination, abort_reason,
			rounds_played, totals, team_totals, warnings, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			termination=excluded.termination,
			abort_reason=excluded.abort_reason,
			rounds_played=excluded.rounds_played,
			totals=excluded.totals,
			team_totals=excluded.team_totals,
			warnings=excluded.warnings,
			finished_at=excluded.finished_at`,
		id.String(), res.Game, def.Language, service, string(res.Status),
		res.Termination, res.AbortReason, res.RoundsPlayed,
		string(totals), string(teamTotals), string(warnings), now, now)
	if err != nil {
		return err
	}

	for _, r := range rounds {
		actions, err := json.Marshal(r.Actions)
		if err != nil {
			return err
		}
		teamActions, err := json.Marshal(orEmptyActions(r.TeamActions))
		if err != nil {
			return err
		}
		payoffs, err := json.Marshal(r.Payoffs)
		if err != nil {
			return err
		}
		messages, err := json.Marshal(orEmptyMessages(r.Messages))
		if err != nil {
			return err
		}
		roundWarnings, err := json.Marshal(orEmptyStrings(r.Warnings))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_rounds(
				session_id, round_index, combination, actions, team_actions,
				payoffs, messages, warnings, played_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, round_index) DO NOTHING`,
			id.String(), r.Index, r.Combination, string(actions), string(teamActions),
			string(payoffs), string(messages), string(roundWarnings), r.At.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSession returns the stored summary for one session.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, game, language, service, status, termination, abort_reason,
		       rounds_played, totals, team_totals, warnings, created_at, finished_at
		FROM sessions WHERE id=?`, id.String())
	return scanSession(row)
}

// ListSessions returns stored sessions, most recently finished first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]SessionRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game, language, service, status, termination, abort_reason,
		       rounds_played, totals, team_totals, warnings, created_at, finished_at
		FROM sessions ORDER BY finished_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		sr, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// GetRounds reconstructs the round records of a stored session in order.
func (s *Store) GetRounds(ctx context.Context, id uuid.UUID) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_index, combination, actions, team_actions, payoffs,
		       messages, warnings, played_at
		FROM session_rounds WHERE session_id=? ORDER BY round_index ASC`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var r session.Record
		var actions, teamActions, payoffs, messages, warns string
		if err := rows.Scan(&r.Index, &r.Combination, &actions, &teamActions, &payoffs, &messages, &warns, &r.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(teamActions), &r.TeamActions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payoffs), &r.Payoffs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(warns), &r.Warnings); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExportCSV writes one row per round per agent for a stored session
// (header included).
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, id uuid.UUID) error {
	sr, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	rounds, err := s.GetRounds(ctx, id)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "session_id,game,round,agent,action,payoff,combination\n"); err != nil {
		return err
	}
	for _, r := range rounds {
		agents := make([]string, 0, len(r.Actions))
		for id := range r.Actions {
			agents = append(agents, string(id))
		}
		sort.Strings(agents)
		for _, a := range agents {
			id := game.AgentID(a)
			line := fmt.Sprintf("%s,%s,%d,%s,%s,%g,%s\n",
				sr.ID, sr.Game, r.Index, a, r.Actions[id], r.Payoffs[id], r.Combination)
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRow, error) {
	var (
		sr                            SessionRow
		idStr                         string
		totals, teamTotals, warnings string
	)
	err := row.Scan(&idStr, &sr.Game, &sr.Language, &sr.Service, &sr.Status,
		&sr.Termination, &sr.AbortReason, &sr.RoundsPlayed,
		&totals, &teamTotals, &warnings, &sr.CreatedAt, &sr.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, ErrNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}
	sr.ID, err = uuid.Parse(idStr)
	if err != nil {
		return SessionRow{}, err
	}
	if err := json.Unmarshal([]byte(totals), &sr.Totals); err != nil {
		return SessionRow{}, err
	}
	if err := json.Unmarshal([]byte(teamTotals), &sr.TeamTotals); err != nil {
		return SessionRow{}, err
	}
	if err := json.Unmarshal([]byte(warnings), &sr.Warnings); err != nil {
		return SessionRow{}, err
	}
	if len(sr.Warnings) == 0 {
		sr.Warnings = nil
	}
	if len(sr.TeamTotals) == 0 {
		sr.TeamTotals = nil
	}
	return sr, nil
}

func orEmptyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptyTeams(v map[game.TeamID]float64) map[game.TeamID]float64 {
	if v == nil {
		return map[game.TeamID]float64{}
	}
	return v
}

func orEmptyActions(v map[game.TeamID]game.ActionID) map[game.TeamID]game.ActionID {
	if v == nil {
		return map[game.TeamID]game.ActionID{}
	}
	return v
}

func orEmptyMessages(v map[game.AgentID]string) map[game.AgentID]string {
	if v == nil {
		return map[game.AgentID]string{}
	}
	return v
}
