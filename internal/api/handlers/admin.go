package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/auth"
	"github.com/sixking/backend/internal/config"
	"github.com/sixking/backend/internal/game"
	"github.com/sixking/backend/internal/ledger"
)

const adminTokenHeader = "X-Admin-Token"

// Reconciliation is the settlement side an operator can inspect and retry.
type Reconciliation interface {
	Pending(ctx context.Context) ([]game.Unresolved, error)
	RetryUnresolved(ctx context.Context) (int, error)
}

// AdminAuth checks the X-Admin-Token header against ADMIN_TOKEN_HASH.
// Admin routes are closed when no hash is configured.
func AdminAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminTokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin access not configured"})
			return
		}
		if !auth.VerifyAdminToken(cfg.AdminTokenHash, c.GetHeader(adminTokenHeader)) {
			log.Printf("[ADMIN] Rejected admin request from %s to %s", c.ClientIP(), c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// GetUnresolvedSettlements lists credits still owed after retries ran out
func GetUnresolvedSettlements(r Reconciliation) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := r.Pending(c.Request.Context())
		if err != nil {
			log.Printf("[ADMIN] Failed to list unresolved settlements: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list unresolved settlements"})
			return
		}
		if items == nil {
			items = []game.Unresolved{}
		}
		c.JSON(http.StatusOK, gin.H{"unresolved": items, "count": len(items)})
	}
}

// RetryUnresolvedSettlements re-applies every owed credit once
func RetryUnresolvedSettlements(r Reconciliation) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := r.RetryUnresolved(c.Request.Context())
		if err != nil {
			log.Printf("[ADMIN] Reconciliation retry failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
			return
		}
		log.Printf("[ADMIN] Reconciliation retry resolved %d credits", resolved)
		c.JSON(http.StatusOK, gin.H{"resolved": resolved})
	}
}

// GetPlayerBalance returns a player's wallet balance
func GetPlayerBalance(l ledger.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.Param("playerId")
		bal, err := l.GetBalance(c.Request.Context(), playerID)
		if err != nil {
			log.Printf("[ADMIN] Failed to read balance for %s: %v", playerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read balance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"player_id": playerID, "balance": bal})
	}
}
