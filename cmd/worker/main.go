package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thogmi/comms-backend/internal/config"
	"github.com/thogmi/comms-backend/internal/db"
	"github.com/thogmi/comms-backend/internal/delivery"
	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/repository"
	"github.com/thogmi/comms-backend/internal/segment"
	"github.com/thogmi/comms-backend/internal/service"
	"github.com/thogmi/comms-backend/internal/worker"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting delivery worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Connect to database
	database, err := db.New(db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.Close()

	logger.Info("connected to database")

	// Connect to Redis queue
	queueClient, err := queue.NewRedisClient(queue.RedisConfig{
		URL:       cfg.Queue.RedisURL,
		QueueName: cfg.Queue.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queueClient.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(database.DB)
	channelRepo := repository.NewChannelRepository(database.DB)
	templateRepo := repository.NewTemplateRepository(database.DB)
	campaignRepo := repository.NewCampaignRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	preferenceRepo := repository.NewPreferenceRepository(database.DB)

	enforcer := preference.NewEnforcer(preferenceRepo, logger)

	// Simulated providers for every channel kind (92% success rate)
	router, err := delivery.NewRouter(delivery.SimulatedAdapterTable(0.92), logger)
	if err != nil {
		logger.Error("failed to build delivery router", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize delivery processor
	processor := worker.NewProcessor(
		messageRepo,
		campaignRepo,
		channelRepo,
		userRepo,
		enforcer,
		router,
		queueClient,
		cfg.Worker.MaxAttempts,
		cfg.Worker.BaseRetryDelay,
		cfg.Worker.SendTimeout,
		logger,
	)

	// Campaign service for the scheduler's due-campaign launches
	campaignSvc := service.NewCampaignService(
		campaignRepo,
		templateRepo,
		channelRepo,
		messageRepo,
		userRepo,
		segment.NewEngine(userRepo, logger),
		enforcer,
		queueClient,
		logger,
	)

	scheduler := worker.NewScheduler(
		campaignRepo,
		messageRepo,
		campaignSvc,
		queueClient,
		cfg.Scheduler.SweepInterval,
		cfg.Scheduler.CleanupInterval,
		cfg.Scheduler.RetentionDays,
		logger,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the scheduler loops
	go func() {
		if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", slog.String("error", err.Error()))
		}
	}()

	// Start consuming delivery jobs
	consumerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting delivery consumer",
			slog.Int("concurrency", cfg.Worker.Concurrency),
			slog.Int("max_attempts", cfg.Worker.MaxAttempts),
		)

		handler := func(ctx context.Context, job *models.DeliveryJob) error {
			return processor.Process(ctx, job)
		}

		consumerErrors <- queueClient.Consume(ctx, handler, cfg.Worker.Concurrency)
	}()

	// Wait for interrupt signal or consumer error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-consumerErrors:
		if err != nil && err != context.Canceled {
			logger.Error("consumer error", slog.String("error", err.Error()))
			os.Exit(1)
		}

	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))

		// Cancel context to stop consumer and scheduler
		cancel()

		// Give in-flight jobs time to finish
		time.Sleep(5 * time.Second)
	}

	logger.Info("worker stopped")
}
