package game

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func entry(pid string, stake int64, conn string) *QueueEntry {
	return &QueueEntry{PlayerID: pid, DisplayName: pid, Stake: stake, EnqueuedAt: time.Now(), Conn: newFakeConn(conn)}
}

func TestQueueFIFOPerStake(t *testing.T) {
	q := NewQueue()

	_, matched := q.PopOrPush(entry("alice", 100, "a"))
	require.False(t, matched)
	_, matched = q.PopOrPush(entry("carol", 50, "c"))
	require.False(t, matched)

	head, matched := q.PopOrPush(entry("bob", 100, "b"))
	require.True(t, matched)
	require.Equal(t, "alice", head.PlayerID)
	require.Equal(t, map[int64]int{50: 1}, q.Depth())
}

func TestQueueRejoinRefreshesConnection(t *testing.T) {
	q := NewQueue()
	q.PopOrPush(entry("alice", 100, "a1"))
	_, matched := q.PopOrPush(entry("alice", 100, "a2"))
	require.False(t, matched)
	require.Equal(t, 1, q.Len(100))

	require.False(t, q.RemoveConn("alice", "a1"))
	require.True(t, q.RemoveConn("alice", "a2"))
	require.False(t, q.Contains("alice"))
}

func TestQueuePushFrontKeepsPlace(t *testing.T) {
	q := NewQueue()
	alice := entry("alice", 100, "a")
	q.PopOrPush(alice)
	head, _ := q.PopOrPush(entry("bob", 100, "b"))
	require.Same(t, alice, head)

	q.PopOrPush(entry("carol", 100, "c"))
	q.PushFront(alice)
	q.PushFront(alice)
	require.Equal(t, 2, q.Len(100))

	head, matched := q.PopOrPush(entry("dave", 100, "d"))
	require.True(t, matched)
	require.Equal(t, "alice", head.PlayerID)
}

func TestQueueConcurrentPairing(t *testing.T) {
	q := NewQueue()
	const players = 100

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		popped = make(map[string]int)
		pairs  int
	)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			head, matched := q.PopOrPush(entry(fmt.Sprintf("p%d", i), 100, fmt.Sprintf("c%d", i)))
			if matched {
				mu.Lock()
				popped[head.PlayerID]++
				pairs++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, players/2, pairs)
	for pid, n := range popped {
		require.Equal(t, 1, n, pid)
	}
	require.Zero(t, q.Len(100))
}
