package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"pinledger-backend/pkg/clients/email"
	"pinledger-backend/pkg/clients/pricefeed"
	solanaclient "pinledger-backend/pkg/clients/solana"
	storageClient "pinledger-backend/pkg/clients/storage"
	"pinledger-backend/pkg/httpServer"
	depositsRepository "pinledger-backend/pkg/repositories/deposits"
	systemRepository "pinledger-backend/pkg/repositories/system"
	usageRepository "pinledger-backend/pkg/repositories/usage"
	"pinledger-backend/pkg/services/attestation"
	depositsService "pinledger-backend/pkg/services/deposits"
	pricingService "pinledger-backend/pkg/services/pricing"
	renewalsService "pinledger-backend/pkg/services/renewals"
	uploadsService "pinledger-backend/pkg/services/uploads"
	usageService "pinledger-backend/pkg/services/usage"
	"pinledger-backend/pkg/workers"
	usageworker "pinledger-backend/pkg/workers/usage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() (err error) {
	// Tools
	config := loadConfig()
	if config == nil {
		fmt.Println("failed to load configuration")
		return
	}

	logLevel := slog.LevelInfo
	if level, ok := logLevels[config.System.LogLevel]; ok {
		logLevel = level
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	programID, err := solana.PublicKeyFromBase58(config.Solana.ProgramID)
	if err != nil {
		logger.Error("invalid escrow program id", slog.String("error", err.Error()))
		return
	}

	defaultRate, err := decimal.NewFromString(config.Pricing.DefaultRate)
	if err != nil {
		logger.Error("invalid default storage rate", slog.String("error", err.Error()))
		return
	}

	sealKey, err := loadSealKey(config.System.PrivateKey)
	if err != nil {
		logger.Error("failed to load metadata seal key", slog.String("error", err.Error()))
		return
	}

	// Metrics
	dbMetrics := newRequestMetrics(config.Metrics.Namespace, config.Metrics.DbSubsystem, "db", "Db")
	workersMetrics := newRequestMetrics(config.Metrics.Namespace, config.Metrics.WorkersSubsystem, "workers", "Workers")

	prometheus.MustRegister(append(dbMetrics.collectors(), workersMetrics.collectors()...)...)

	// Postgres
	connPool, err := connectPostgres(context.Background(), config, logger)
	if err != nil {
		logger.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		return
	}
	defer connPool.Close()

	// Database
	depositsRepo := depositsRepository.NewRepository(connPool)
	depositsRepo = depositsRepository.NewMetrics(dbMetrics.count, dbMetrics.duration, depositsRepo)

	usageRepo := usageRepository.NewRepository(connPool)
	usageRepo = usageRepository.NewMetrics(dbMetrics.count, dbMetrics.duration, usageRepo)

	systemRepo := systemRepository.NewRepository(connPool)
	systemRepo = systemRepository.NewMetrics(dbMetrics.count, dbMetrics.duration, systemRepo)
	systemRepo = systemRepository.NewCacheMiddleware(systemRepo, config.Pricing.ParamsTTL)

	// Clients
	chain := solanaclient.NewClient(config.Solana.RPCURL, config.Solana.Commitment, logger)

	rates := pricefeed.NewClient(config.Pricing.FeedURL, config.Pricing.TokenID, config.Pricing.Currency)
	rates = pricefeed.NewCacheMiddleware(rates, config.Pricing.CacheTTL)

	storage := storageClient.NewClient(config.Storage.BaseURL, config.Storage.GatewayURL, config.Storage.Token)

	mailer := email.NewSender(email.Config{
		Host:     config.Email.Host,
		Port:     config.Email.Port,
		Username: config.Email.Username,
		Password: config.Email.Password,
		From:     config.Email.From,
	}, logger)

	// Services
	pricingSvc := pricingService.NewService(rates, systemRepo, defaultRate, logger)

	attestationSvc := attestation.New(sealKey, logger)

	depositsSvc := depositsService.NewService(
		depositsRepo,
		pricingSvc,
		chain,
		attestationSvc,
		storage,
		programID,
		config.System.MinDurationDays,
		logger,
	)

	uploadsSvc := uploadsService.NewService(depositsRepo, storage, logger)

	renewalsSvc := renewalsService.NewService(depositsRepo, pricingSvc, chain, storage, programID, logger)

	usageSvc := usageService.NewService(
		usageRepo,
		storage,
		mailer,
		config.Email.AlertRecipients,
		config.Storage.PlanLimitBytes,
		logger,
	)

	// Workers
	usageWorker := usageworker.NewWorker(usageSvc, config.Usage.SnapshotInterval, config.Usage.ComparisonInterval, logger)
	usageWorker = usageworker.NewMetrics(workersMetrics.count, workersMetrics.duration, usageWorker)

	// Start workers
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := workers.NewWorkers(usageWorker, logger)
	go func() {
		if wErr := workers.Start(cancelCtx); wErr != nil {
			logger.Error("failed to start workers", slog.String("error", wErr.Error()))
		}
	}()

	// HTTP Server
	adminAuthTokens := strings.Split(config.System.AdminAuthTokens, ",")
	app := fiber.New(fiber.Config{BodyLimit: config.System.BodyLimit})
	server := httpServer.New(
		app,
		pricingSvc,
		depositsSvc,
		uploadsSvc,
		renewalsSvc,
		usageSvc,
		adminAuthTokens,
		config.Metrics.Namespace,
		config.Metrics.ServerSubsystem,
		logger,
	)

	server.RegisterRoutes()

	go func() {
		if err := app.Listen(":" + config.System.Port); err != nil {
			logger.Error("error starting server", slog.String("err", err.Error()))
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	<-signalChan
	cancel()

	err = app.ShutdownWithTimeout(time.Second * 5)
	if err != nil {
		logger.Error("server shut down error", slog.String("err", err.Error()))
		return err
	}

	return nil
}
