package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/Nombah501/LiteAuction-sub001/broadcast-service/internal/redis"
	wsHandler "github.com/Nombah501/LiteAuction-sub001/broadcast-service/internal/websocket"
	"github.com/Nombah501/LiteAuction-sub001/internal/events"
	"github.com/Nombah501/LiteAuction-sub001/shared/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("Failed to load .env", "err", err)
	}

	// Load configuration
	cfg := loadConfig()
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "broadcast-service")
	slog.SetDefault(log)
	log.Info("Starting Broadcast Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis subscriber
	log.Info("Connecting to Redis...", "addr", cfg.RedisAddr)
	rdb, err := events.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("Failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	subscriber := redisClient.NewSubscriber(rdb, log)
	defer subscriber.Close()
	if err := subscriber.SubscribeToAuctions(ctx); err != nil {
		log.Error("Failed to subscribe to Redis channels", "err", err)
		os.Exit(1)
	}
	log.Info("Subscribed to auction events", "pattern", events.ChannelPattern)

	// Initialize WebSocket manager
	wsManager := wsHandler.NewManager(log)
	go wsManager.Run(ctx)

	messageChan := make(chan *redisClient.Message, 256)

	go func() {
		if err := subscriber.Listen(ctx, messageChan); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Redis listener error", "err", err)
		}
	}()

	// Forward Redis Pub/Sub messages to WebSocket watchers
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-messageChan:
				wsManager.Broadcast(msg.AuctionID, msg.Payload)
			}
		}
	}()

	// Initialize HTTP server for WebSocket connections
	handler := wsHandler.NewHandler(wsManager, log)
	router := handler.SetupRoutes()

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Broadcast Service listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "err", err)
	}

	log.Info("Server stopped gracefully")
}

// Config holds application configuration
type Config struct {
	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LogLevel      string
	LogFormat     string
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:     config.GetEnv("LOG_FORMAT", "json"),
	}
}
