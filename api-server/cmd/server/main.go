package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rshare/ride-booking-system/api-server/internal/auth"
	"github.com/rshare/ride-booking-system/api-server/internal/handlers"
	"github.com/rshare/ride-booking-system/api-server/internal/router"
	"github.com/rshare/ride-booking-system/api-server/internal/service"
	"github.com/rshare/ride-booking-system/api-server/internal/websocket"
	"github.com/rshare/ride-booking-system/shared/config"
	"github.com/rshare/ride-booking-system/shared/logging"
	"github.com/rshare/ride-booking-system/shared/payloads"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Create Temporal client
	clientOptions := client.Options{
		HostPort: cfg.TemporalHost,
		Logger:   logging.NewTemporalLogger(logger),
	}
	if cfg.PayloadEncryptionKey != "" {
		if clientOptions.DataConverter, err = payloads.NewDataConverter(cfg.PayloadEncryptionKey); err != nil {
			logger.Fatal("Failed to create payload codec", zap.Error(err))
		}
	} else {
		logger.Warn("PAYLOAD_ENCRYPTION_KEY not set, workflow payloads are stored in clear text")
	}
	temporalClient, err := client.Dial(clientOptions)
	if err != nil {
		logger.Fatal("Failed to create Temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize services
	sessions := service.NewSessionService(temporalClient, service.Options{
		TaskQueue:   cfg.TaskQueue,
		IdleTimeout: cfg.SessionIdleTimeout,
		TimeZone:    cfg.TimeZone,
	})
	tokens := auth.NewSessionTokens(cfg.SigningSecret(), auth.DefaultTokenTTL)

	hub := websocket.NewHub(logger, cfg.CORSAllowedOrigin)
	go hub.Run(ctx)

	// Initialize handlers
	h := handlers.NewHandler(sessions, tokens, hub, logger, cfg.Location())

	// Create router
	r := router.NewRouter(h, tokens, router.Options{
		AllowedOrigin:     cfg.CORSAllowedOrigin,
		MaxRequestsPerMin: cfg.MaxRequestsPerMin,
		Logger:            logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API Server starting",
			zap.String("port", cfg.AppPort),
			zap.String("temporalHost", cfg.TemporalHost),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
