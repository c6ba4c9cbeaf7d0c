package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/config"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/database"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/handlers"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/middleware"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/models"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/routes"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()

	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env)

	logger.Info().Str("environment", env).Msg("Starting chat service...")

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Connect storage
	database.Connect()
	database.InitRedis()

	logger.Info().Msg("Running database migrations...")
	if err := database.DB.AutoMigrate(
		&models.ChatRoom{},
		&models.ChatRoomUser{},
		&models.Message{},
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}
	logger.Info().Msg("Database migrations complete")

	// 2. Build services. Constructed once here, torn down on shutdown:
	// nothing below is an ambient singleton.
	bus := services.NewRedisBus(database.Redis)
	presence := services.NewRedisPresence(database.Redis)
	chatService := services.NewChatService(database.DB, bus)
	profiles := services.NewProfileClient(config.AppConfig.UserServiceURL)

	hub := handlers.NewHub()
	gateway := handlers.NewSocketGateway(hub, chatService, presence)
	chatHandler := handlers.NewChatHandler(chatService, profiles)

	// 3. Subscribe to the fan-out bus before accepting connections
	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	gateway.Run(subCtx, bus)

	// 4. Setup Router
	r := gin.New()
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	r.Use(func(c *gin.Context) {
		// Websocket upgrades are long-lived, exempt from rate limiting
		if len(c.Request.URL.Path) >= 4 && c.Request.URL.Path[:4] == "/ws/" {
			c.Next()
			return
		}
		middleware.GeneralRateLimit()(c)
	})

	api := r.Group("/api")
	routes.RegisterChatRoutes(api, chatHandler)
	routes.RegisterInternalRoutes(r, chatHandler)
	routes.RegisterSocketRoutes(r, gateway)

	// Health check with DB and Redis status
	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}

		if _, err := database.Redis.Ping(c.Request.Context()).Result(); err != nil {
			redisStatus = "error"
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus != "ok" {
			status = "degraded"
		}

		c.JSON(200, gin.H{
			"status": status,
			"checks": gin.H{
				"database": dbStatus,
				"redis":    redisStatus,
			},
		})
	})

	// 5. Start Server with graceful shutdown
	port := config.AppConfig.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", port).Str("env", env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server gracefully...")

	// Stop bus delivery, drain local connections, then stop HTTP
	cancelSub()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
