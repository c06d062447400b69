package controllers

import (
	"net/http"

	"reviewpilot-backend/config"
	"reviewpilot-backend/utils"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness and database reachability.
func HealthCheck(c *gin.Context) {
	sqlDB, err := config.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
