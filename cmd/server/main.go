package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/client"
	"github.com/fieldware/be-mnt-workorders/internal/config"
	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/handler"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/middleware"
	"github.com/fieldware/be-mnt-workorders/internal/natsutil"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
	"github.com/fieldware/be-mnt-workorders/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Work Orders Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS for notifications; the service runs fine without it.
	var natsClient *natsutil.Client
	if cfg.NATS.Enabled {
		natsClient, err = natsutil.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, notifications disabled")
			natsClient = nil
		} else {
			defer natsClient.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	workOrderRepo := repository.NewWorkOrderRepository(db)
	findingRepo := repository.NewFindingRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize auth
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	gate := auth.NewGate(tokens, userRepo)

	// Initialize services
	notifier := client.NewNotificationPublisher(natsClient, log.Logger)
	workOrderService := service.NewWorkOrderService(workOrderRepo, findingRepo, auditRepo, notifier, log)
	sessionService := service.NewSessionService(sessionRepo, findingRepo, log)
	authService := service.NewAuthService(userRepo, tokens, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(workOrderService, sessionService, authService, log)
	router := httpHandler.Routes(gate)

	// Apply middleware
	var h http.Handler = router
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
