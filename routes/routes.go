package routes

import (
	"reviewpilot-backend/config"
	"reviewpilot-backend/controllers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(automation *controllers.AutomationController) *gin.Engine {
	r := gin.Default()

	r.Use(config.PerformanceLogger())

	r.GET("/healthz", controllers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		engine := api.Group("/automation")
		{
			engine.GET("/status", automation.GetStatus)
			engine.POST("/start", automation.Start)
			engine.POST("/stop", automation.Stop)
			engine.POST("/trigger", automation.Trigger)
		}

		api.GET("/queue/pending", automation.GetPendingQueue)
		api.POST("/reviews/:id/manual-reply", automation.PostManualReply)
	}

	return r
}
