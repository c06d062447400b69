package config

import (
	"time"

	"reviewpilot-backend/logging"

	"github.com/gin-gonic/gin"
)

func PerformanceLogger() gin.HandlerFunc {
	log := logging.Component("http")

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		log.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": latency.String(),
		}).Debug("request served")

		if latency > 200*time.Millisecond {
			log.WithFields(map[string]interface{}{
				"method":  c.Request.Method,
				"path":    c.Request.URL.Path,
				"latency": latency.String(),
			}).Warn("slow request")
		}
	}
}
