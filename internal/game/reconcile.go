package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sixking/backend/internal/ledger"
)

// Unresolved is a credit that could not be applied and is still owed.
type Unresolved struct {
	MatchID  string      `json:"matchId"`
	PlayerID string      `json:"playerId"`
	Kind     ledger.Kind `json:"kind"`
	Amount   int64       `json:"amount"`
	Error    string      `json:"error"`
	At       time.Time   `json:"at"`
}

func (u Unresolved) field() string {
	return u.MatchID + ":" + u.PlayerID + ":" + string(u.Kind)
}

// Reconciler keeps money owed after retries are exhausted.
type Reconciler interface {
	Escalate(ctx context.Context, u Unresolved) error
	Pending(ctx context.Context) ([]Unresolved, error)
	Resolve(ctx context.Context, u Unresolved) error
}

// MemoryReconciler is used when Redis is not configured.
type MemoryReconciler struct {
	mu    sync.Mutex
	items map[string]Unresolved
}

func NewMemoryReconciler() *MemoryReconciler {
	return &MemoryReconciler{items: make(map[string]Unresolved)}
}

func (r *MemoryReconciler) Escalate(_ context.Context, u Unresolved) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[u.field()] = u
	return nil
}

func (r *MemoryReconciler) Pending(_ context.Context) ([]Unresolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Unresolved, 0, len(r.items))
	for _, u := range r.items {
		out = append(out, u)
	}
	sortUnresolved(out)
	return out, nil
}

func (r *MemoryReconciler) Resolve(_ context.Context, u Unresolved) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, u.field())
	return nil
}

// UnresolvedKey is the Redis hash holding escalated credits.
const UnresolvedKey = "settlement:unresolved"

// RedisReconciler stores escalations in a hash so they survive restarts.
type RedisReconciler struct {
	rdb *redis.Client
}

func NewRedisReconciler(rdb *redis.Client) *RedisReconciler {
	return &RedisReconciler{rdb: rdb}
}

func (r *RedisReconciler) Escalate(ctx context.Context, u Unresolved) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, UnresolvedKey, u.field(), b).Err(); err != nil {
		return fmt.Errorf("record unresolved credit: %w", err)
	}
	return nil
}

func (r *RedisReconciler) Pending(ctx context.Context) ([]Unresolved, error) {
	raw, err := r.rdb.HGetAll(ctx, UnresolvedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read unresolved credits: %w", err)
	}
	out := make([]Unresolved, 0, len(raw))
	for field, v := range raw {
		var u Unresolved
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			return nil, fmt.Errorf("decode unresolved %s: %w", field, err)
		}
		out = append(out, u)
	}
	sortUnresolved(out)
	return out, nil
}

func (r *RedisReconciler) Resolve(ctx context.Context, u Unresolved) error {
	return r.rdb.HDel(ctx, UnresolvedKey, u.field()).Err()
}

func sortUnresolved(items []Unresolved) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].At.Equal(items[j].At) {
			return items[i].At.Before(items[j].At)
		}
		return items[i].field() < items[j].field()
	})
}
