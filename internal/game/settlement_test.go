package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sixking/backend/internal/ledger"
	"github.com/stretchr/testify/require"
)

// flakyGateway fails the first n credits before delegating.
type flakyGateway struct {
	*ledger.Memory

	mu       sync.Mutex
	failures int
	credits  int
}

func (g *flakyGateway) Credit(ctx context.Context, e ledger.Entry) (int64, error) {
	g.mu.Lock()
	g.credits++
	fail := g.failures > 0
	if fail {
		g.failures--
	}
	g.mu.Unlock()
	if fail {
		return 0, errors.New("connection reset")
	}
	return g.Memory.Credit(ctx, e)
}

func (g *flakyGateway) attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.credits
}

func fastSettler(l ledger.Gateway, r Reconciler) *LedgerSettler {
	return NewLedgerSettler(l, r, nil, SettlerConfig{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxElapsed:      time.Second,
	})
}

func TestSettleWinRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	gw := &flakyGateway{Memory: ledger.NewMemory(900), failures: 2}
	s := fastSettler(gw, nil)

	err := s.Settle(ctx, Decision{
		MatchID:   "GAME01",
		Ref:       "ref-1",
		Stake:     100,
		Outcome:   OutcomeThreshold,
		WinnerID:  "alice",
		LoserID:   "bob",
		LoserKind: ledger.KindLoss,
	})
	require.NoError(t, err)
	require.Equal(t, 3, gw.attempts())

	bal, _ := gw.GetBalance(ctx, "alice")
	require.Equal(t, int64(1100), bal)
	bal, _ = gw.GetBalance(ctx, "bob")
	require.Equal(t, int64(900), bal)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSettleEscalatesAndReconciles(t *testing.T) {
	ctx := context.Background()
	gw := &flakyGateway{Memory: ledger.NewMemory(900), failures: 3}
	rec := NewMemoryReconciler()
	s := fastSettler(gw, rec)

	err := s.Settle(ctx, Decision{
		MatchID:   "GAME01",
		Ref:       "ref-1",
		Stake:     100,
		Outcome:   OutcomeForfeit,
		WinnerID:  "alice",
		LoserID:   "bob",
		LoserKind: ledger.KindLeft,
	})
	require.Error(t, err)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "alice", pending[0].PlayerID)
	require.Equal(t, ledger.KindWin, pending[0].Kind)
	require.Equal(t, int64(200), pending[0].Amount)

	resolved, err := s.RetryUnresolved(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	bal, _ := gw.GetBalance(ctx, "alice")
	require.Equal(t, int64(1100), bal)
	pending, _ = s.Pending(ctx)
	require.Empty(t, pending)

	// Credits are keyed by match, player and kind.
	resolved, err = s.RetryUnresolved(ctx)
	require.NoError(t, err)
	require.Zero(t, resolved)
	bal, _ = gw.GetBalance(ctx, "alice")
	require.Equal(t, int64(1100), bal)
}

func TestSettleVoidRefundsEach(t *testing.T) {
	ctx := context.Background()
	gw := ledger.NewMemory(900)
	s := fastSettler(gw, nil)

	d := Decision{MatchID: "GAME01", Ref: "ref-1", Stake: 100, Outcome: OutcomeVoid, Refunds: []string{"alice", "bob"}}
	require.NoError(t, s.Settle(ctx, d))
	require.NoError(t, s.Settle(ctx, d))

	for _, pid := range []string{"alice", "bob"} {
		bal, _ := gw.GetBalance(ctx, pid)
		require.Equal(t, int64(1000), bal, pid)
	}
}

func TestSettleInvalidAmountIsNotRetried(t *testing.T) {
	ctx := context.Background()
	gw := &flakyGateway{Memory: ledger.NewMemory(0)}
	s := fastSettler(gw, nil)

	err := s.Settle(ctx, Decision{MatchID: "GAME01", Ref: "ref-1", Stake: 0, Outcome: OutcomeVoid, Refunds: []string{"alice"}})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.Equal(t, 1, gw.attempts())
}

func TestSettleUnknownOutcome(t *testing.T) {
	s := fastSettler(ledger.NewMemory(0), nil)
	require.Error(t, s.Settle(context.Background(), Decision{MatchID: "GAME01", Ref: "ref-1", Outcome: "draw"}))
}

func TestReconcileOnce(t *testing.T) {
	ctx := context.Background()
	gw := &flakyGateway{Memory: ledger.NewMemory(0), failures: 3}
	s := fastSettler(gw, nil)

	require.Zero(t, reconcileOnce(ctx, s))

	require.Error(t, s.Settle(ctx, Decision{MatchID: "GAME01", Ref: "ref-1", Stake: 100, Outcome: OutcomeVoid, Refunds: []string{"alice"}}))
	require.Equal(t, 1, reconcileOnce(ctx, s))

	bal, _ := gw.GetBalance(ctx, "alice")
	require.Equal(t, int64(100), bal)
}

func TestStartReconcilerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartReconciler(ctx, fastSettler(ledger.NewMemory(0), nil), 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
