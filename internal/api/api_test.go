package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/agent"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/game"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/session"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/store"
)

const dilemmaConfig = `{
  "name": "prisoner_dilemma",
  "nRounds": 2,
  "nRoundsIsKnown": true,
  "allAgentPermutations": false,
  "llm": "OpenAIGPT4o",
  "languages": ["en"],
  "stopGameWhen": [],
  "agentsCommunicate": false,
  "agents": {
    "names": ["Alice", "Bob"],
    "personalities": {"en": ["cooperative", "selfish"]},
    "opponentPersonalityProb": [0, 0]
  },
  "payoffMatrix": {
    "strategies": {"en": {"cooperate": "Cooperate", "defect": "Defect"}},
    "weights": {"T": 5, "R": 3, "P": 1, "S": 0},
    "combinations": {
      "CC": ["cooperate", "cooperate"],
      "CD": ["cooperate", "defect"],
      "DC": ["defect", "cooperate"],
      "DD": ["defect", "defect"]
    },
    "matrix": {
      "CC": ["R", "R"],
      "CD": ["S", "T"],
      "DC": ["T", "S"],
      "DD": ["P", "P"]
    }
  },
  "promptTemplate": {"en": "Round {currentRound}: choose."}
}`

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	factory := func(def *game.Definition, p game.Player) (agent.Proxy, error) {
		return agent.NewFixed(p, "cooperate"), nil
	}
	manager := session.NewManager(factory, session.Options{
		Retry: session.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, DecisionTimeout: time.Second},
	})
	db, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := httptest.NewServer(NewServer(manager, db, "", 10*time.Second).Routes())
	t.Cleanup(srv.Close)
	return srv, db
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSynchronousRun(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/run", dilemmaConfig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]struct {
		Description map[string]any `json:"description"`
		Result      session.Result `json:"result"`
	}
	decode(t, resp, &out)
	require.Contains(t, out, "game_0")

	g := out["game_0"]
	assert.Equal(t, "prisoner_dilemma", g.Description["name"])
	assert.Equal(t, session.Completed, g.Result.Status)
	assert.Equal(t, 2, g.Result.RoundsPlayed)
	// Both agents cooperate every round: 3 + 3 points each.
	assert.Equal(t, 6.0, g.Result.Totals["Alice"])
}

func TestAsyncSimulationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/simulations", dilemmaConfig)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		Sessions []struct {
			ID   string `json:"id"`
			Game string `json:"game"`
		} `json:"sessions"`
	}
	decode(t, resp, &created)
	require.Len(t, created.Sessions, 1)
	id := created.Sessions[0].ID

	// Fixed-strategy proxies finish almost immediately; poll the result.
	var result session.Result
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/simulations/" + id + "/result")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(r.Body).Decode(&result) == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, session.Completed, result.Status)

	// The outcome is persisted asynchronously after the session finishes.
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/simulations/" + id + "/export")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		return r.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestInvalidConfigRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/simulations", `{"name": ""}`)

	var body struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, ErrTypeValidation, body.Code)
}

func TestUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	r, err := http.Get(srv.URL + "/simulations/1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	r2, err := http.Get(srv.URL + "/simulations/not-a-uuid")
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r2.StatusCode)
}

func TestPersistedResultSurvivesManagerRemoval(t *testing.T) {
	factory := func(def *game.Definition, p game.Player) (agent.Proxy, error) {
		return agent.NewFixed(p, "cooperate"), nil
	}
	manager := session.NewManager(factory, session.Options{
		Retry: session.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, DecisionTimeout: time.Second},
	})
	db, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	srv := httptest.NewServer(NewServer(manager, db, "", 10*time.Second).Routes())
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL+"/simulations", dilemmaConfig)
	var created struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	decode(t, resp, &created)
	require.Len(t, created.Sessions, 1)
	id := created.Sessions[0].ID

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/simulations/" + id + "/export")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		return r.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, manager.Remove(uuid.MustParse(id)))

	r, err := http.Get(srv.URL + "/simulations/" + id + "/result")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	var result session.Result
	decode(t, r, &result)
	assert.Equal(t, session.Completed, result.Status)
	assert.Equal(t, 2, result.RoundsPlayed)
	assert.Equal(t, 6.0, result.Totals["Alice"])

	r2, err := http.Get(srv.URL + "/simulations/" + id + "/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, r2.StatusCode)
	var hist struct {
		Rounds []session.Record `json:"rounds"`
	}
	decode(t, r2, &hist)
	assert.Len(t, hist.Rounds, 2)
}

func TestResultBeforeCompletionConflicts(t *testing.T) {
	release := make(chan struct{})
	factory := func(def *game.Definition, p game.Player) (agent.Proxy, error) {
		return agent.Func{
			Player: p,
			Fn: func(ctx context.Context, _ agent.DecisionContext) (game.ActionID, error) {
				select {
				case <-release:
					return "cooperate", nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			},
		}, nil
	}
	manager := session.NewManager(factory, session.Options{
		Retry: session.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, DecisionTimeout: 10 * time.Second},
	})
	srv := httptest.NewServer(NewServer(manager, nil, "", 10*time.Second).Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	resp := postJSON(t, srv.URL+"/simulations", dilemmaConfig)
	var created struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	decode(t, resp, &created)
	require.Len(t, created.Sessions, 1)

	r, err := http.Get(srv.URL + "/simulations/" + created.Sessions[0].ID + "/result")
	require.NoError(t, err)
	var body struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusConflict, r.StatusCode)
	decode(t, r, &body)
	assert.Equal(t, ErrTypeNotReady, body.Code)
}
