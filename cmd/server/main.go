package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"activity-ledger/config"
	"activity-ledger/database"
	"activity-ledger/handlers"
	"activity-ledger/metrics"
	authmiddleware "activity-ledger/middleware"
	"activity-ledger/notify"
	"activity-ledger/repository"
	"activity-ledger/services"
	"activity-ledger/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	if os.Getenv("ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var m *metrics.LedgerMetrics
	if cfg.MetricsEnabled {
		m = metrics.LedgerWithConfig(metrics.Config{ServiceName: "activity-ledger", Environment: cfg.Env})
	}

	activityRepo := repository.NewActivityRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	billRepo := repository.NewBillRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	authorizer := services.NewAuthorizer(activityRepo)

	billService := services.NewBillService(db, activityRepo, participantRepo, expenseRepo, billRepo, outboxRepo, authorizer, m)
	participationService := services.NewParticipationService(db, activityRepo, participantRepo, historyRepo, outboxRepo, billService, authorizer, m)
	historyService := services.NewHistoryService(participantRepo, historyRepo, authorizer)

	receiptStorage := storage.NewSupabaseStorage(cfg.StorageURL, cfg.StoragePublicURL, cfg.StorageServiceKey, cfg.ReceiptsBucket)
	expenseService := services.NewExpenseService(db, activityRepo, expenseRepo, billService, authorizer, receiptStorage)

	generator, err := services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Fatal("Failed to create Gemini client", zap.Error(err))
	}
	defer generator.Close()
	explanationService := services.NewExplanationService(generator, billRepo, activityRepo, authorizer)
	receiptService := services.NewReceiptService(generator, authorizer)
	importService := services.NewImportService(db, activityRepo, expenseRepo, billService, authorizer)

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.NotificationQueueURL != "" {
		sqsNotifier, err := notify.NewSQSNotifierFromEnv(ctx, cfg.AWSRegion, cfg.NotificationQueueURL)
		if err != nil {
			logger.Fatal("Failed to create SQS notifier", zap.Error(err))
		}
		notifier = sqsNotifier
	} else {
		logger.Warn("NOTIFICATION_QUEUE_URL not set, notifications are only logged")
	}

	dispatcher := notify.NewDispatcher(db, outboxRepo, notifier, m, notify.DispatcherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
	})
	dispatcher.Start()

	authMiddleware := authmiddleware.NewAuthMiddleware(cfg.JWTSecret)

	h := handlers.NewHandlers(
		participationService,
		billService,
		expenseService,
		historyService,
		explanationService,
		importService,
		receiptService,
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmiddleware.ZapLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(authmiddleware.SecurityHeaders)
	r.Use(authmiddleware.MaxBodySize(cfg.MaxBodySize))
	if cfg.Env == "production" {
		r.Use(authmiddleware.StrictTransportSecurity)
	}

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(httprate.LimitByIP(services.GeneralRateLimit, 1*time.Minute))
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(services.AIRateLimit, 1*time.Minute))
			h.RegisterAIRoutes(r)
		})

		h.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	dispatcher.Shutdown()

	logger.Info("Server exited")
}
