package main

import (
	"go.uber.org/zap"

	"mailpilot/config"
	"mailpilot/internal/api"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting audit API...", zap.String("port", cfg.Server.Port))

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	ledgerRepo := repository.NewLedgerRepository(dbConn)
	scheduledRepo := repository.NewScheduledActionRepository(dbConn)

	executionHandler := api.NewExecutionHandler(ledgerRepo)
	scheduledHandler := api.NewScheduledActionHandler(scheduledRepo, ledgerRepo)

	router := api.NewRouter(executionHandler, scheduledHandler, cfg.JWT.Secret, dbConn)

	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("API server failed", zap.Error(err))
	}
}
