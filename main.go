package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/controllers"
	"reviewpilot-backend/logging"
	"reviewpilot-backend/models"
	"reviewpilot-backend/routes"
	"reviewpilot-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func init() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found")
	}
	logging.Init()
	config.ConnectDB()

	config.DB.AutoMigrate(
		&models.Outlet{},
		&models.AdminUser{},
		&models.Review{},
		&models.ReviewWorkflow{},
		&models.ManualQueueEntry{},
		&models.FetchCheckpoint{},
		&models.NotificationLog{},
	)
}

func main() {
	log := logging.Component("main")
	cfg := config.LoadAutomation()

	reviews := services.NewReviewStore(config.DB)
	workflows := services.NewWorkflowStore(config.DB)
	queue := services.NewManualQueueStore(config.DB, cfg)
	eligibility := services.NewEligibilityService(config.DB)
	platform := services.NewGoogleReviewsClient()
	generator := services.NewAIReplyService()
	notifier := services.NewMessagingGateway(config.DB, cfg)

	engine := services.NewAutomationEngine(
		config.DB, cfg,
		reviews, workflows, queue, eligibility,
		platform, generator, notifier,
	)
	engine.Start()

	automation := &controllers.AutomationController{Engine: engine, Queue: queue}
	r := routes.SetupRouter(automation)
	printRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.WithField("port", port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	engine.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
	log.Info("shutdown complete")
}

func printRoutes(r *gin.Engine) {
	routes := r.Routes()
	for _, route := range routes {
		fmt.Printf("%-6s %s\n", route.Method, route.Path)
	}
}
