package main

import (
	"time"

	"go.uber.org/zap"

	"mailpilot/config"
	"mailpilot/internal/classify"
	"mailpilot/internal/digest"
	"mailpilot/internal/engine"
	"mailpilot/internal/mqhandler"
	"mailpilot/internal/provider"
	"mailpilot/internal/repository"
	"mailpilot/internal/threadtrack"
	"mailpilot/pkg/db"
	"mailpilot/pkg/lock"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/redis"
	"mailpilot/pkg/util"
)

func main() {
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting rule worker...")

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	locker := lock.NewLocker(rdb, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("DB ready")

	// repositories
	ruleRepo := repository.NewRuleRepository(dbConn)
	groupRepo := repository.NewGroupRepository(dbConn)
	categoryRepo := repository.NewCategoryRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	scheduledRepo := repository.NewScheduledActionRepository(dbConn)
	digestRepo := repository.NewDigestRepository(dbConn)
	threadRepo := repository.NewThreadTrackerRepository(dbConn)

	// provider client, 重试包一层
	providerClient := provider.NewRetryingClient(
		provider.NewHTTPClient(cfg.Provider.BaseURL, log),
		cfg.Engine.ProviderRetries,
		log,
	)

	// AI classifier
	classifier := classify.NewClient(
		cfg.Classifier.BaseURL,
		cfg.Classifier.Timeout,
		cfg.Classifier.MaxBodyChars,
		log,
	)

	// core engine
	matcher := engine.NewMatcher(ruleRepo, groupRepo, categoryRepo, classifier, log)
	digestSvc := digest.NewService(digestRepo, providerClient, cfg.Engine.DigestWindow, log)
	threadSvc := threadtrack.NewService(threadRepo)

	executor := engine.NewExecutor(
		locker, ledgerRepo, providerClient,
		scheduledRepo, digestSvc, threadSvc, ruleRepo,
		cfg.Engine.MessageLockTTL, cfg.Engine.ActionLockTTL,
		log,
	)

	// publisher (DLQ)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	// handlers
	mailHandler := mqhandler.NewMailReceivedHandler(
		providerClient, matcher, executor,
		retryCounter, publisher, log,
	)
	actionDueHandler := mqhandler.NewActionDueHandler(executor, log)
	digestFlushHandler := mqhandler.NewDigestFlushHandler(digestSvc, log)

	// -------------------------
	// Mail Received Consumer
	// -------------------------
	log.Info("Init consumer: mail.received.rules.q")
	consumerMail, err := mq.NewConsumer(
		cfg.MQ.URL,
		"mail.received.rules.q",
		"mail.received",
		log,
	)
	if err != nil {
		log.Fatal("Mail consumer init failed", zap.Error(err))
	}
	consumerMail.SetHandler(mailHandler.Handle)

	go func() {
		if err := consumerMail.StartConsuming(); err != nil {
			log.Fatal("Mail consumer crashed", zap.Error(err))
		}
	}()
	defer consumerMail.Close()

	// -------------------------
	// Action Due Consumer
	// -------------------------
	log.Info("Init consumer: action.due.q")
	consumerAction, err := mq.NewConsumer(
		cfg.MQ.URL,
		"action.due.q",
		"action.due",
		log,
	)
	if err != nil {
		log.Fatal("Action consumer init failed", zap.Error(err))
	}
	consumerAction.SetHandler(actionDueHandler.Handle)

	go func() {
		if err := consumerAction.StartConsuming(); err != nil {
			log.Fatal("Action consumer crashed", zap.Error(err))
		}
	}()
	defer consumerAction.Close()

	// -------------------------
	// Digest Flush Consumer
	// -------------------------
	log.Info("Init consumer: digest.flush.q")
	consumerDigest, err := mq.NewConsumer(
		cfg.MQ.URL,
		"digest.flush.q",
		"digest.flush",
		log,
	)
	if err != nil {
		log.Fatal("Digest consumer init failed", zap.Error(err))
	}
	consumerDigest.SetHandler(digestFlushHandler.Handle)

	go func() {
		if err := consumerDigest.StartConsuming(); err != nil {
			log.Fatal("Digest consumer crashed", zap.Error(err))
		}
	}()
	defer consumerDigest.Close()

	log.Info("Rule worker running")
	select {}
}
