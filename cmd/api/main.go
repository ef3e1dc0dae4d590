package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/thogmi/comms-backend/internal/cache"
	"github.com/thogmi/comms-backend/internal/config"
	"github.com/thogmi/comms-backend/internal/db"
	"github.com/thogmi/comms-backend/internal/handler"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/ratelimit"
	"github.com/thogmi/comms-backend/internal/repository"
	"github.com/thogmi/comms-backend/internal/segment"
	"github.com/thogmi/comms-backend/internal/service"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting outbound messaging API server")

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

	// Shared Redis client for rate limiting and response caching
	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		logger.Error("failed to parse Redis URL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(database.DB)
	channelRepo := repository.NewChannelRepository(database.DB)
	templateRepo := repository.NewTemplateRepository(database.DB)
	campaignRepo := repository.NewCampaignRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	preferenceRepo := repository.NewPreferenceRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)

	// Initialize domain engines
	segmentEngine := segment.NewEngine(userRepo, logger)
	enforcer := preference.NewEnforcer(preferenceRepo, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient), logger)
	responseCache := cache.NewResponseCache(redisClient, logger)

	// Initialize services
	templateSvc := service.NewTemplateService(templateRepo, channelRepo, logger)
	channelSvc := service.NewChannelService(channelRepo, logger)
	conversationSvc := service.NewConversationService(conversationRepo, userRepo, logger)
	campaignSvc := service.NewCampaignService(
		campaignRepo,
		templateRepo,
		channelRepo,
		messageRepo,
		userRepo,
		segmentEngine,
		enforcer,
		queueClient,
		logger,
	)

	// Initialize handlers
	campaignHandler := handler.NewCampaignHandler(campaignSvc, logger)
	templateHandler := handler.NewTemplateHandler(templateSvc, logger)
	channelHandler := handler.NewChannelHandler(channelSvc, logger)
	preferenceHandler := handler.NewPreferenceHandler(enforcer, logger)
	conversationHandler := handler.NewConversationHandler(conversationSvc, logger)
	healthHandler := handler.NewHealthHandler(database.DB, queueClient, logger)

	// Setup router
	r := chi.NewRouter()

	// Apply middleware
	r.Use(chimiddleware.RequestID)
	r.Use(handler.RecoveryMiddleware(logger))
	r.Use(handler.LoggingMiddleware(logger))
	r.Use(handler.CORSMiddleware)

	// Register routes
	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Use(handler.CacheMiddleware(responseCache))
			r.With(handler.RateLimitMiddleware(limiter, ratelimit.RuleCreateCampaign, logger)).
				Post("/", campaignHandler.CreateCampaign)
			r.Get("/", campaignHandler.ListCampaigns)
			r.Get("/{id}", campaignHandler.GetCampaign)
			r.With(handler.RateLimitMiddleware(limiter, ratelimit.RuleSendMessage, logger)).
				Post("/{id}/launch", campaignHandler.LaunchCampaign)
			r.Post("/{id}/cancel", campaignHandler.CancelCampaign)
			r.Get("/{id}/performance", campaignHandler.CampaignPerformance)
			r.Get("/{id}/messages", campaignHandler.CampaignMessages)
		})

		r.Post("/segments/preview", campaignHandler.PreviewSegment)

		r.With(handler.RateLimitMiddleware(limiter, ratelimit.RuleBulkSend, logger)).
			Post("/messages/bulk-send", campaignHandler.BulkSend)

		r.Route("/templates", func(r chi.Router) {
			r.Use(handler.CacheMiddleware(responseCache))
			r.Post("/", templateHandler.CreateTemplate)
			r.Get("/", templateHandler.ListTemplates)
			r.Get("/{id}", templateHandler.GetTemplate)
			r.Post("/{id}/activate", templateHandler.ActivateTemplate)
			r.Post("/{id}/deactivate", templateHandler.DeactivateTemplate)
			r.Post("/{id}/preview", templateHandler.PreviewTemplate)
		})

		r.Route("/channels", func(r chi.Router) {
			r.Use(handler.CacheMiddleware(responseCache))
			r.Post("/", channelHandler.CreateChannel)
			r.Get("/", channelHandler.ListChannels)
			r.Get("/{id}", channelHandler.GetChannel)
			r.Post("/{id}/activate", channelHandler.ActivateChannel)
			r.Post("/{id}/deactivate", channelHandler.DeactivateChannel)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/preferences", preferenceHandler.GetPreferences)
			r.Put("/preferences", preferenceHandler.UpdatePreferences)
			r.Get("/can-receive", preferenceHandler.CanReceive)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.StartConversation)
			r.Get("/", conversationHandler.ListConversations)
			r.Get("/{id}", conversationHandler.GetConversation)
			r.Post("/{id}/messages", conversationHandler.PostMessage)
			r.Get("/{id}/messages", conversationHandler.ListMessages)
			r.Post("/messages/{id}/read", conversationHandler.MarkRead)
		})
	})

	// Create server
	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", slog.String("addr", addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)

	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("server stopped gracefully")
	}
}
