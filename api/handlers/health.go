package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/disqualifier/mailtime/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the current sync state of every account
func Status(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := syncService.Status()
		c.JSON(http.StatusOK, status)
	}
}
