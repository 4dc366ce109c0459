package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/sixking/backend/internal/models"
)

// Memory is an in-process Gateway used when no database is configured and
// in tests. Unknown players start with the configured balance.
type Memory struct {
	mu       sync.Mutex
	starting int64
	balances map[string]int64
	applied  map[key]int64
	records  []models.WalletTransaction
	nextID   int64
}

func NewMemory(startingBalance int64) *Memory {
	return &Memory{
		starting: startingBalance,
		balances: make(map[string]int64),
		applied:  make(map[key]int64),
	}
}

// SetBalance overrides a player's balance.
func (m *Memory) SetBalance(playerID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = balance
}

func (m *Memory) balanceLocked(playerID string) int64 {
	b, ok := m.balances[playerID]
	if !ok {
		b = m.starting
		m.balances[playerID] = b
	}
	return b
}

func (m *Memory) GetBalance(_ context.Context, playerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(playerID), nil
}

func (m *Memory) Debit(_ context.Context, e Entry) (int64, error) {
	return m.apply(e, -e.Amount)
}

func (m *Memory) Credit(_ context.Context, e Entry) (int64, error) {
	return m.apply(e, e.Amount)
}

func (m *Memory) Annotate(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applied[e.key()]; ok {
		return nil
	}
	bal := m.balanceLocked(e.PlayerID)
	m.applied[e.key()] = bal
	m.recordLocked(e, 0, bal)
	return nil
}

func (m *Memory) apply(e Entry, delta int64) (int64, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if bal, ok := m.applied[e.key()]; ok {
		return bal, nil
	}
	bal := m.balanceLocked(e.PlayerID)
	if bal+delta < 0 {
		return bal, ErrInsufficientFunds
	}
	bal += delta
	m.balances[e.PlayerID] = bal
	m.applied[e.key()] = bal
	m.recordLocked(e, delta, bal)
	return bal, nil
}

func (m *Memory) recordLocked(e Entry, amount, after int64) {
	m.nextID++
	m.records = append(m.records, models.WalletTransaction{
		ID:           m.nextID,
		PlayerID:     e.PlayerID,
		MatchID:      e.MatchID,
		Kind:         string(e.Kind),
		Amount:       amount,
		BalanceAfter: after,
		Description:  e.Description,
		CreatedAt:    time.Now(),
	})
}

// Records returns a copy of every applied movement in order.
func (m *Memory) Records() []models.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WalletTransaction, len(m.records))
	copy(out, m.records)
	return out
}
