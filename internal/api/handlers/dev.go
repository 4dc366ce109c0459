package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/auth"
	"github.com/sixking/backend/internal/config"
)

// IssueDevToken signs a player token for local testing. Only routed when
// APP_ENV=development.
func IssueDevToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PlayerID string `json:"playerId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "playerId is required"})
			return
		}
		token, err := auth.IssuePlayerToken(cfg.JWTSecret, strings.TrimSpace(req.PlayerID), 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
