package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qiju-live/gameroom/internal/v1/config"
	"github.com/qiju-live/gameroom/internal/v1/health"
	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/middleware"
	"github.com/qiju-live/gameroom/internal/v1/ratelimit"
	"github.com/qiju-live/gameroom/internal/v1/store"
	"github.com/qiju-live/gameroom/internal/v1/transport"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Room Store Initialization (Optional) ---
	// Rooms run memory-only when Redis is disabled or unreachable; records
	// then live only as long as the room actor.
	var roomStore *store.RedisStore
	if cfg.RedisEnabled {
		var err error
		roomStore, err = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in memory-only mode", "error", err)
			roomStore = nil
		} else {
			slog.Info("✅ Redis room store initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in memory-only mode (Redis disabled)")
	}

	// --- Create Hub with Dependencies ---
	hub := transport.NewHub(roomStore, cfg)

	rl, err := ratelimit.NewRateLimiter(cfg, roomStore.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = transport.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"}).UnsortedList()
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Routing
	wsLimit := rl.WebSocketMiddleware()
	router.GET("/ws", wsLimit, hub.ServeGomoku)
	router.GET("/relay", wsLimit, hub.ServeRelay)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(roomStore)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Anything else answers 200 OK so load balancer probes and curious
	// browsers get a cheap answer instead of a 404.
	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Game room server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if roomStore != nil {
		if err := roomStore.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
