package game

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sixking/backend/internal/ledger"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisReconciler(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	r := NewRedisReconciler(rdb)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := Unresolved{MatchID: "GAME01", PlayerID: "alice", Kind: ledger.KindWin, Amount: 200, Error: "timeout", At: at}
	second := Unresolved{MatchID: "GAME02", PlayerID: "bob", Kind: ledger.KindRefund, Amount: 50, Error: "timeout", At: at.Add(time.Minute)}

	require.NoError(t, r.Escalate(ctx, second))
	require.NoError(t, r.Escalate(ctx, first))
	require.NoError(t, r.Escalate(ctx, first))
	require.True(t, mr.Exists(UnresolvedKey))

	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []Unresolved{first, second}, pending)

	require.NoError(t, r.Resolve(ctx, first))
	pending, err = r.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []Unresolved{second}, pending)
}

func TestRedisReconcilerWithSettler(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	gw := &flakyGateway{Memory: ledger.NewMemory(0), failures: 10}
	s := fastSettler(gw, NewRedisReconciler(rdb))

	err := s.Settle(ctx, Decision{MatchID: "GAME01", Ref: "ref-1", Stake: 100, Outcome: OutcomeVoid, Refunds: []string{"alice"}})
	require.Error(t, err)

	n, err := rdb.HLen(ctx, UnresolvedKey).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	gw.mu.Lock()
	gw.failures = 0
	gw.mu.Unlock()
	resolved, err := s.RetryUnresolved(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	n, err = rdb.HLen(ctx, UnresolvedKey).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}
