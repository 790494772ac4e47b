package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mapview/internal/config"
	httphandlers "mapview/internal/http"
	"mapview/internal/logger"
	"mapview/internal/session"
	"mapview/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize telemetry", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Error("Failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	log.Info("Starting mapview server",
		zap.Int("port", cfg.Port),
		zap.String("source", cfg.Source),
		zap.String("store", cfg.Store.Backend),
		zap.String("store_dir", cfg.Store.Dir),
	)

	sess, err := session.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tile session", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Prefetch.Enabled {
		go sess.PrefetchConfigured(ctx)
	}

	handlers := httphandlers.New(cfg, log, sess)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		log.Error("Failed to close tile session", zap.Error(err))
	}

	log.Info("Server stopped")
}
