package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/auth"
	"github.com/sixking/backend/internal/config"
	"github.com/sixking/backend/internal/game"
	"github.com/sixking/backend/internal/ledger"
	"github.com/sixking/backend/internal/metrics"
	"github.com/stretchr/testify/require"
)

type conn struct{ id string }

func (c conn) ID() string        { return c.id }
func (c conn) Send([]byte) bool { return true }

type fixture struct {
	router *gin.Engine
	co     *game.Coordinator
	ledger *ledger.Memory
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.NewMemory(1000)
	m := metrics.New()
	settler := game.NewLedgerSettler(l, nil, m, game.SettlerConfig{})
	co, err := game.NewCoordinator(game.Config{MinStake: 10, DisposalDelay: time.Hour}, game.Deps{
		Ledger:  l,
		Settler: settler,
		Metrics: m,
	})
	require.NoError(t, err)
	t.Cleanup(co.Shutdown)

	r := gin.New()
	SetupRoutes(r, cfg, Deps{
		Games:          co,
		Reconciliation: settler,
		Ledger:         l,
		Metrics:        m.Handler(),
	})
	return &fixture{router: r, co: co, ledger: l}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createGame(t *testing.T, pid string, stake int64) string {
	t.Helper()
	raw, _ := json.Marshal(map[string]interface{}{
		"type": game.MsgCreateGame,
		"data": map[string]interface{}{"playerId": pid, "stake": stake},
	})
	f.co.Handle(context.Background(), conn{id: "conn-" + pid}, raw)
	active := f.co.ActiveMatches()
	require.NotEmpty(t, active)
	return active[len(active)-1].MatchID
}

func TestGameRoutes(t *testing.T) {
	f := newFixture(t, &config.Config{Environment: "production"})

	rec := f.do(t, http.MethodGet, "/api/v1/games/active", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"games":[],"count":0}`, rec.Body.String())

	id := f.createGame(t, "alice", 100)

	rec = f.do(t, http.MethodGet, "/api/v1/games/active", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Games []game.Summary `json:"games"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, id, list.Games[0].MatchID)
	require.Equal(t, game.PhaseLobby, list.Games[0].Phase)

	rec = f.do(t, http.MethodGet, "/api/v1/games/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, int64(100), snap.Stake)

	rec = f.do(t, http.MethodGet, "/api/v1/games/NOPE99", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	raw, _ := json.Marshal(map[string]interface{}{
		"type": game.MsgJoinQueue,
		"data": map[string]interface{}{"playerId": "bob", "stake": 50},
	})
	f.co.Handle(context.Background(), conn{id: "conn-bob"}, raw)
	rec = f.do(t, http.MethodGet, "/api/v1/games/queue", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tiers":[{"stake":50,"waiting":1}]}`, rec.Body.String())
}

func TestHealthAndConfig(t *testing.T) {
	f := newFixture(t, &config.Config{Environment: "production", MinStakeAmount: 10})

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, http.MethodGet, "/api/v1/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sixes_to_win":3`)

	rec = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sixking_matches_active")
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, &config.Config{Environment: "production"})
	rec := f.do(t, http.MethodGet, "/api/v1/admin/settlements/unresolved", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hash, err := auth.HashAdminToken("s3cret")
	require.NoError(t, err)
	f = newFixture(t, &config.Config{Environment: "production", AdminTokenHash: hash})

	rec = f.do(t, http.MethodGet, "/api/v1/admin/settlements/unresolved", nil, map[string]string{"X-Admin-Token": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := map[string]string{"X-Admin-Token": "s3cret"}
	rec = f.do(t, http.MethodGet, "/api/v1/admin/settlements/unresolved", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"unresolved":[],"count":0}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/admin/settlements/retry", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"resolved":0}`, rec.Body.String())

	f.createGame(t, "alice", 100)
	rec = f.do(t, http.MethodGet, "/api/v1/admin/players/alice/balance", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"player_id":"alice","balance":900}`, rec.Body.String())
}

func TestDevTokenOnlyInDevelopment(t *testing.T) {
	cfg := &config.Config{Environment: "development", JWTSecret: "secret"}
	f := newFixture(t, cfg)

	rec := f.do(t, http.MethodPost, "/api/v1/dev/token", []byte(`{"playerId":"alice"}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	pid, err := auth.ParsePlayerToken("secret", body.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", pid)

	rec = f.do(t, http.MethodPost, "/api/v1/dev/token", []byte(`{}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f = newFixture(t, &config.Config{Environment: "production", JWTSecret: "secret"})
	rec = f.do(t, http.MethodPost, "/api/v1/dev/token", []byte(`{"playerId":"alice"}`), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
