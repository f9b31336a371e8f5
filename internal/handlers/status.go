package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/models"
)

// Roster is the live connection view reported by /status.
type Roster interface {
	Count() int
	Snapshot() []models.OnlineUser
}

// Status reports liveness and the current roster.
func Status(roster Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": roster.Count(),
			"users":       roster.Snapshot(),
		})
	}
}
