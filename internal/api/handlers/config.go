package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sixking/backend/internal/config"
	"github.com/sixking/backend/internal/game"
)

// GetConfig returns the rules a client needs to render the game
func GetConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"min_stake_amount":         cfg.MinStakeAmount,
			"sixes_to_win":             game.SixesToWin,
			"disconnect_grace_seconds": cfg.DisconnectGraceSeconds,
			"idle_forfeit_seconds":     cfg.IdleForfeitSeconds,
			"auth_required":            cfg.RequirePlayerAuth,
		})
	}
}
