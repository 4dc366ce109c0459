package game

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idleForfeitKey   = "idle_forfeit"
	lastActivePrefix = "last_active:"
)

// ActivityTracker records turn activity so idle turn owners can be forfeited.
type ActivityTracker interface {
	Touch(ctx context.Context, matchID string, playerIDs ...string)
	Clear(ctx context.Context, matchID string, playerIDs ...string)
}

// IdleTracker keeps a sorted set of forfeit deadlines in Redis, scored by
// unix seconds, plus a last_active key per member.
type IdleTracker struct {
	rdb     *redis.Client
	timeout time.Duration
	now     func() time.Time
}

func NewIdleTracker(rdb *redis.Client, timeout time.Duration) *IdleTracker {
	return &IdleTracker{rdb: rdb, timeout: timeout, now: time.Now}
}

// member format m:<matchID>:p:<playerID>
func idleMember(matchID, playerID string) string {
	return "m:" + matchID + ":p:" + playerID
}

func parseIdleMember(m string) (string, string) {
	parts := strings.SplitN(m, ":", 4)
	if len(parts) == 4 && parts[0] == "m" && parts[2] == "p" {
		return parts[1], parts[3]
	}
	return "", ""
}

// Touch resets the forfeit deadline for each player.
func (t *IdleTracker) Touch(ctx context.Context, matchID string, playerIDs ...string) {
	now := t.now().Unix()
	deadline := now + int64(t.timeout/time.Second)
	pipe := t.rdb.Pipeline()
	for _, pid := range playerIDs {
		m := idleMember(matchID, pid)
		pipe.Set(ctx, lastActivePrefix+m, strconv.FormatInt(now, 10), 2*t.timeout+time.Minute)
		pipe.ZAdd(ctx, idleForfeitKey, redis.Z{Score: float64(deadline), Member: m})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[IDLE] Failed to reset idle timers for match %s: %v", matchID, err)
	}
}

// Clear stops tracking the given players.
func (t *IdleTracker) Clear(ctx context.Context, matchID string, playerIDs ...string) {
	pipe := t.rdb.Pipeline()
	for _, pid := range playerIDs {
		m := idleMember(matchID, pid)
		pipe.ZRem(ctx, idleForfeitKey, m)
		pipe.Del(ctx, lastActivePrefix+m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[IDLE] Failed to clear idle timers for match %s: %v", matchID, err)
	}
}

// IdleMember is a player whose deadline has passed.
type IdleMember struct {
	MatchID  string
	PlayerID string
}

// Expired claims every member past its deadline. ZREM decides the claim so
// two workers never forfeit the same member.
func (t *IdleTracker) Expired(ctx context.Context) ([]IdleMember, error) {
	now := t.now().Unix()
	members, err := t.rdb.ZRangeByScore(ctx, idleForfeitKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now)}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch idle forfeits: %w", err)
	}

	var out []IdleMember
	for _, m := range members {
		removed, err := t.rdb.ZRem(ctx, idleForfeitKey, m).Result()
		if err != nil || removed == 0 {
			continue
		}
		last, _ := t.rdb.Get(ctx, lastActivePrefix+m).Result()
		lastTs, _ := strconv.ParseInt(last, 10, 64)
		if now-lastTs < int64(t.timeout/time.Second) {
			continue
		}
		matchID, playerID := parseIdleMember(m)
		if matchID == "" || playerID == "" {
			continue
		}
		t.rdb.Del(ctx, lastActivePrefix+m)
		out = append(out, IdleMember{MatchID: matchID, PlayerID: playerID})
	}
	return out, nil
}

// Forfeiter settles a match against an idle player.
type Forfeiter interface {
	ForfeitIdle(ctx context.Context, matchID, playerID string) bool
}

// IdleWorker polls the tracker and forfeits idle turn owners.
type IdleWorker struct {
	tracker   *IdleTracker
	forfeiter Forfeiter
	interval  time.Duration
}

func NewIdleWorker(t *IdleTracker, f Forfeiter, interval time.Duration) *IdleWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &IdleWorker{tracker: t, forfeiter: f, interval: interval}
}

// Run blocks until ctx is cancelled.
func (w *IdleWorker) Run(ctx context.Context) {
	log.Printf("[IDLE] Idle worker started (poll every %v)", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[IDLE] Idle worker stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep processes one batch and returns how many matches were forfeited.
func (w *IdleWorker) Sweep(ctx context.Context) int {
	expired, err := w.tracker.Expired(ctx)
	if err != nil {
		log.Printf("[IDLE] %v", err)
		return 0
	}
	n := 0
	for _, e := range expired {
		if w.forfeiter.ForfeitIdle(ctx, e.MatchID, e.PlayerID) {
			log.Printf("[IDLE] Forfeited player %s in match %s due to inactivity", e.PlayerID, e.MatchID)
			n++
		} else {
			log.Printf("[IDLE] skipping forfeit for player %s in match %s (not their turn or not active)", e.PlayerID, e.MatchID)
		}
	}
	return n
}
