package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailpilot/config"
	"mailpilot/internal/repository"
	"mailpilot/internal/scheduler"
	"mailpilot/pkg/db"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/mq"
)

const dispatchInterval = 30 * time.Second

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting scheduler...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.Duration("digest_window", cfg.Engine.DigestWindow),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	scheduledRepo := repository.NewScheduledActionRepository(dbConn)
	digestRepo := repository.NewDigestRepository(dbConn)

	orchestrator := scheduler.NewOrchestrator(
		scheduledRepo, digestRepo, publisher,
		cfg.Engine.DigestWindow, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orchestrator.Run(ctx, dispatchInterval)

	log.Info("Scheduler running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	cancel()
	log.Info("Scheduler shutdown complete")
}
