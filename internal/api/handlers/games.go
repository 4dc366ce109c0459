package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/game"
)

// GameQuerier is the read-only view of the coordinator.
type GameQuerier interface {
	ActiveMatches() []game.Summary
	Snapshot(matchID string) (game.Snapshot, bool)
	QueueDepth() map[int64]int
}

// ListActiveGames returns every match that has not settled yet
func ListActiveGames(q GameQuerier) gin.HandlerFunc {
	return func(c *gin.Context) {
		games := q.ActiveMatches()
		if games == nil {
			games = []game.Summary{}
		}
		c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
	}
}

// GetGame returns one match snapshot, or 404 once it has been disposed
func GetGame(q GameQuerier) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := q.Snapshot(c.Param("matchId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

type queueTier struct {
	Stake   int64 `json:"stake"`
	Waiting int   `json:"waiting"`
}

// GetQueueStatus returns how many players wait at each stake
func GetQueueStatus(q GameQuerier) gin.HandlerFunc {
	return func(c *gin.Context) {
		depth := q.QueueDepth()
		tiers := make([]queueTier, 0, len(depth))
		for stake, n := range depth {
			tiers = append(tiers, queueTier{Stake: stake, Waiting: n})
		}
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].Stake < tiers[j].Stake })
		c.JSON(http.StatusOK, gin.H{"tiers": tiers})
	}
}
