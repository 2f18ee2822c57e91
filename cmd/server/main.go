package main

import (
	"net/http"
	"os"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/broadcast"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/inbox"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"
	"whatsapp-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.AppEnv, cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	client := whatsapp.NewClient(cfg)

	hub := ws.NewHub(log)
	go hub.Run()

	inboxSvc := inbox.NewService(db, log)
	templateSvc := templates.NewService(db, log)
	broadcastSvc := broadcast.NewService(db, client, inboxSvc, hub, log, broadcast.Options{
		SendInterval: cfg.SendInterval,
		SyncWindow:   cfg.StatsSyncWindow,
	})

	scheduler := broadcast.NewScheduler(broadcastSvc, cfg.SchedulerInterval, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}
	defer scheduler.Stop()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(corsMiddleware())

	webhookHandler := webhook.NewHandler(cfg, inboxSvc, broadcastSvc, hub, log)
	broadcastHandler := api.NewBroadcastHandler(broadcastSvc, log)
	bulkHandler := api.NewBulkHandler(broadcastSvc, log)
	contactHandler := api.NewContactHandler(db, log)
	conversationHandler := api.NewConversationHandler(db, inboxSvc, client, hub, log)
	templateHandler := api.NewTemplateHandler(templateSvc, client, log)
	analyticsHandler := api.NewAnalyticsHandler(db)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleNotification)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/contacts", contactHandler.List)
		apiGroup.POST("/contacts", contactHandler.Create)
		apiGroup.GET("/contacts/:id", contactHandler.Get)
		apiGroup.PUT("/contacts/:id", contactHandler.Update)
		apiGroup.DELETE("/contacts/:id", contactHandler.Delete)

		apiGroup.GET("/conversations", conversationHandler.List)
		apiGroup.POST("/conversations", conversationHandler.Create)
		apiGroup.GET("/conversations/:id", conversationHandler.Get)
		apiGroup.PUT("/conversations/:id", conversationHandler.Update)
		apiGroup.POST("/conversations/:id/read", conversationHandler.MarkRead)
		apiGroup.GET("/conversations/:id/messages", conversationHandler.Messages)
		apiGroup.POST("/conversations/:id/messages", conversationHandler.SendMessage)

		apiGroup.GET("/templates", templateHandler.List)
		apiGroup.POST("/templates", templateHandler.Create)
		apiGroup.GET("/templates/:id", templateHandler.Get)
		apiGroup.PUT("/templates/:id", templateHandler.Update)
		apiGroup.DELETE("/templates/:id", templateHandler.Delete)
		apiGroup.POST("/templates/sync", templateHandler.Sync)

		apiGroup.GET("/broadcasts", broadcastHandler.List)
		apiGroup.POST("/broadcasts", broadcastHandler.Create)
		apiGroup.GET("/broadcasts/check-scheduled", broadcastHandler.CheckScheduled)
		apiGroup.GET("/broadcasts/:id", broadcastHandler.Get)
		apiGroup.DELETE("/broadcasts/:id", broadcastHandler.Delete)
		apiGroup.POST("/broadcasts/:id/send", broadcastHandler.Send)
		apiGroup.POST("/broadcasts/:id/pause", broadcastHandler.Pause)
		apiGroup.POST("/broadcasts/:id/resume", broadcastHandler.Resume)
		apiGroup.POST("/broadcasts/:id/cancel", broadcastHandler.Cancel)
		apiGroup.POST("/broadcasts/:id/sync-stats", broadcastHandler.SyncStats)

		apiGroup.POST("/bulk/parse", bulkHandler.ParseCSV)
		apiGroup.POST("/bulk/send", bulkHandler.Send)

		apiGroup.GET("/analytics/dashboard", analyticsHandler.Dashboard)
		apiGroup.GET("/analytics/broadcasts", analyticsHandler.BroadcastReport)
	}

	log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
