package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/app"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/config"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/db"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/handler"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/logging"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting campaign dispatcher API",
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("lease_backend", cfg.Scheduling.LeaseBackend),
		slog.Bool("dev_mode", cfg.DevMode),
	)

	database, err := db.New(db.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		DBName:       cfg.Database.DBName,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.Close()

	logger.Info("connected to database")

	application, err := app.New(cfg, database.DB, logger)
	if err != nil {
		logger.Error("failed to initialise application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer application.Close()

	router := handler.NewRouter(handler.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthChecker{
			"database": database,
			"queue":    application.Queue,
		}, logger),
		Campaign: handler.NewCampaignHandler(application.Campaigns, application.Messages, logger),
		Device:   handler.NewDeviceHandler(application.Devices, application.Blacklists, logger),
		Queue:    handler.NewQueueHandler(application.Advancer, application.Processor, application.Campaigns, logger),
	}, handler.RouterConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		InternalSecret: cfg.Auth.InternalSecret,
		QueueSecret:    cfg.Auth.QueueSecret,
		QueueMaxSkew:   cfg.Queue.MaxSkew,
		AllowedOrigins: cfg.API.AllowedOrigins,
		MetricsHandler: metrics.Handler(),
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", slog.String("addr", addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}

	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("server stopped gracefully")
	}
}
