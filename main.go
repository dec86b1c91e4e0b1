package main

import (
	"context"
	"strings"

	api "mailguard-backend/cmd/api"
	connDelivery "mailguard-backend/internal/connection/delivery"
	conndomain "mailguard-backend/internal/connection/domain"
	connRepo "mailguard-backend/internal/connection/repository"
	connUsecase "mailguard-backend/internal/connection/usecase"
	emailDelivery "mailguard-backend/internal/email/delivery"
	emaildomain "mailguard-backend/internal/email/domain"
	emailRepo "mailguard-backend/internal/email/repository"
	"mailguard-backend/internal/email/scheduler"
	emailUsecase "mailguard-backend/internal/email/usecase"
	"mailguard-backend/internal/notification"
	"mailguard-backend/pkg/config"
	"mailguard-backend/pkg/database"
	"mailguard-backend/pkg/gmail"
	"mailguard-backend/pkg/lease"
	"mailguard-backend/pkg/logger"
	"mailguard-backend/pkg/nylas"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.Env)

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&conndomain.Connection{},
		&emaildomain.Message{},
		&emaildomain.BlockedSender{},
		&emaildomain.SyncRun{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis backs the sync lease and the push dedup cursor
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	leaseStore := lease.NewStore(redisClient)

	// Provider clients
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	nylasClient := nylas.NewClient(cfg.NylasClientID, cfg.NylasClientSecret, cfg.NylasRedirectURI, cfg.NylasAPIBaseURL)

	mailProviders := map[string]emailUsecase.MailProvider{
		conndomain.ProviderGoogle: gmailService,
		conndomain.ProviderNylas:  nylasClient,
	}
	oauthProviders := map[string]connUsecase.OAuthProvider{
		conndomain.ProviderGoogle: gmailService,
		conndomain.ProviderNylas:  nylasClient,
	}
	tokenRefreshers := map[string]connUsecase.TokenRefresher{
		conndomain.ProviderGoogle: gmailService,
		conndomain.ProviderNylas:  nylasClient,
	}

	// Initialize repositories (dependency injection)
	connectionRepo := connRepo.NewConnectionRepository(db)
	messageRepo := emailRepo.NewMessageRepository(db)
	blockedSenderRepo := emailRepo.NewBlockedSenderRepository(db)
	syncRunRepo := emailRepo.NewSyncRunRepository(db)

	// Initialize use cases (dependency injection)
	tokenManager := connUsecase.NewTokenManager(connectionRepo, tokenRefreshers, log)
	labelMutator := emailUsecase.NewLabelMutator(mailProviders, cfg.Env == "development", log)
	dispatcher := emailUsecase.NewDispatcher(log)
	syncUc := emailUsecase.NewSyncUsecase(connectionRepo, messageRepo, blockedSenderRepo, syncRunRepo, mailProviders, tokenManager, dispatcher, labelMutator, leaseStore, log)
	resultHandler := emailUsecase.NewResultHandler(connectionRepo, messageRepo, blockedSenderRepo, tokenManager, labelMutator, log)

	topicName := cfg.GooglePubSubTopic
	if parts := strings.Split(topicName, "/"); len(parts) > 1 {
		topicName = parts[len(parts)-1]
	}

	oauthUc := connUsecase.NewOAuthUsecase(connectionRepo, oauthProviders, cfg.StateSecret, cfg.GoogleClientID, cfg.GoogleRedirectURI, cfg.GooglePubSubTopic, log)
	oauthUc.SetSyncTrigger(func(ctx context.Context, conn *conndomain.Connection) {
		syncUc.SyncConnection(ctx, conn)
	})

	// Push notification plumbing. The HTTP push endpoint always works; the
	// pull subscriber needs a configured project.
	processor := notification.NewProcessor(connectionRepo, syncUc, leaseStore, log)
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, processor, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize notification service")
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Warn().Msg("GOOGLE_PROJECT_ID not configured, pull notification service disabled")
	}

	// Periodic poll scheduler
	syncScheduler := scheduler.NewSyncScheduler(syncUc, cfg.SyncInterval, log)
	syncScheduler.Start()

	// Initialize HTTP handler
	emailHandler := emailDelivery.NewEmailHandler(syncUc, resultHandler, processor, syncRunRepo)
	connHandler := connDelivery.NewConnectionHandler(oauthUc, connectionRepo)
	handler := api.NewHandler(emailHandler, connHandler, cfg)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
