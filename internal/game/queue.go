package game

import (
	"sync"
	"time"
)

// QueueEntry is a player waiting for an opponent at one stake.
type QueueEntry struct {
	PlayerID    string
	DisplayName string
	Stake       int64
	EnqueuedAt  time.Time
	Conn        Conn
}

func (e *QueueEntry) player() Player {
	return Player{ID: e.PlayerID, DisplayName: e.DisplayName, Conn: e.Conn}
}

// Queue holds one FIFO per exact stake amount. Its lock is independent of
// any match lock.
type Queue struct {
	mu    sync.Mutex
	tiers map[int64][]*QueueEntry
}

func NewQueue() *Queue {
	return &Queue{tiers: make(map[int64][]*QueueEntry)}
}

// PopOrPush either pops the oldest opponent waiting at e.Stake or appends e.
// A player already waiting at that stake keeps their place with a refreshed
// connection; a player waiting at another stake is moved. Two concurrent
// callers can never pop the same entry.
func (q *Queue) PopOrPush(e *QueueEntry) (*QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for stake, list := range q.tiers {
		for _, w := range list {
			if w.PlayerID != e.PlayerID {
				continue
			}
			if stake == e.Stake {
				w.Conn = e.Conn
				w.DisplayName = e.DisplayName
				return nil, false
			}
			q.removeLocked(stake, e.PlayerID)
			break
		}
	}

	list := q.tiers[e.Stake]
	if len(list) > 0 {
		head := list[0]
		q.setLocked(e.Stake, list[1:])
		return head, true
	}
	q.tiers[e.Stake] = append(list, e)
	return nil, false
}

// PushFront puts e back at the head of its tier, ahead of later arrivals.
func (q *Queue) PushFront(e *QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range q.tiers[e.Stake] {
		if w.PlayerID == e.PlayerID {
			return
		}
	}
	q.tiers[e.Stake] = append([]*QueueEntry{e}, q.tiers[e.Stake]...)
}

// Remove drops playerID from whichever tier holds them.
func (q *Queue) Remove(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for stake := range q.tiers {
		if q.removeLocked(stake, playerID) {
			return true
		}
	}
	return false
}

// RemoveConn drops playerID only if their entry still uses connID.
func (q *Queue) RemoveConn(playerID, connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for stake, list := range q.tiers {
		for _, w := range list {
			if w.PlayerID == playerID && w.Conn != nil && w.Conn.ID() == connID {
				return q.removeLocked(stake, playerID)
			}
		}
	}
	return false
}

func (q *Queue) Contains(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range q.tiers {
		for _, w := range list {
			if w.PlayerID == playerID {
				return true
			}
		}
	}
	return false
}

// Len returns the number of players waiting at stake.
func (q *Queue) Len(stake int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[stake])
}

// Depth returns waiting counts for every non-empty tier.
func (q *Queue) Depth() map[int64]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[int64]int, len(q.tiers))
	for stake, list := range q.tiers {
		out[stake] = len(list)
	}
	return out
}

func (q *Queue) removeLocked(stake int64, playerID string) bool {
	list := q.tiers[stake]
	for i, w := range list {
		if w.PlayerID == playerID {
			rest := make([]*QueueEntry, 0, len(list)-1)
			rest = append(rest, list[:i]...)
			rest = append(rest, list[i+1:]...)
			q.setLocked(stake, rest)
			return true
		}
	}
	return false
}

func (q *Queue) setLocked(stake int64, list []*QueueEntry) {
	if len(list) == 0 {
		delete(q.tiers, stake)
		return
	}
	q.tiers[stake] = list
}
