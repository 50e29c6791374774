package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/skill-tournaments/cache"
	"github.com/Dosada05/skill-tournaments/config"
	"github.com/Dosada05/skill-tournaments/db"
	"github.com/Dosada05/skill-tournaments/handlers"
	"github.com/Dosada05/skill-tournaments/jobs"
	"github.com/Dosada05/skill-tournaments/live"
	"github.com/Dosada05/skill-tournaments/logging"
	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/Dosada05/skill-tournaments/repositories"
	api "github.com/Dosada05/skill-tournaments/routes"
	"github.com/Dosada05/skill-tournaments/services"
	"github.com/Dosada05/skill-tournaments/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// @title Skill Tournaments API
// @version 1.0
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()
	logger.Info("configuration loaded", zap.Int("port", cfg.ServerPort), zap.String("store", cfg.StoreDriver))

	if err := run(cfg, logger); err != nil {
		logger.Error("application stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	// Хранилище
	var store repositories.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		store = repositories.NewMemoryStore()
	default:
		dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("failed to close database connection", zap.Error(err))
			}
		}()
		if err := db.Migrate(dbConn, logger); err != nil {
			return err
		}
		store = repositories.NewPostgresStore(dbConn)
	}

	// Кэш
	var viewCache services.ViewCache = cache.Nop{}
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		viewCache = cache.NewRedisCache(rdb, cfg.CacheTournamentTTL, cfg.CacheLeaderboardTTL, logger)
		logger.Info("redis cache enabled")
	}

	// Архив отчётов
	var objects storage.ObjectStore = storage.NewMemoryObjectStore()
	if cfg.R2Configured() {
		r2, err := storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Cloudflare R2 store: %w", err)
		}
		objects = r2
		logger.Info("Cloudflare R2 report archive enabled")
	}

	// Платёжный сервис
	var (
		verifier payments.Verifier
		gateway  payments.Gateway
	)
	if cfg.PaymentServiceURL != "" {
		client := payments.NewHTTPClient(cfg.PaymentServiceURL, cfg.PaymentServiceToken, 10*time.Second)
		verifier, gateway = client, client
	} else {
		logger.Warn("PAYMENT_SERVICE_URL is not set; using the in-process ledger")
		ledger := payments.NewLedger()
		verifier, gateway = ledger, ledger
	}

	attestor, err := services.NewAttestor(cfg.ScoreAttestationKey, cfg.ScoreAttestationRequired)
	if err != nil {
		return err
	}

	hub := live.NewHub(logger)
	go hub.Run(ctx)

	core := services.Core{
		Store:  store,
		Cache:  viewCache,
		Events: hub,
		Logger: logger,
		Now:    time.Now,
	}
	scheduler := services.NewScheduler(core, cfg.JobMaxAttempts)
	tournamentService := services.NewTournamentService(core, scheduler)
	settlementService := services.NewSettlementService(core, scheduler, gateway, objects)
	lifecycleService := services.NewLifecycleService(core, scheduler, settlementService)
	admissionService := services.NewAdmissionService(core, scheduler, verifier)
	scoreService := services.NewScoreService(core, scheduler, attestor)
	jobAdminService := services.NewJobAdminService(core)

	worker := jobs.NewWorker(store.Jobs(), jobs.Config{
		Concurrency:  cfg.WorkerConcurrency,
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: cfg.WorkerPollInterval,
		Lease:        cfg.JobLease,
		BackoffBase:  cfg.JobBackoffBase,
		BackoffMax:   cfg.JobBackoffMax,
	}, logger)
	services.RegisterJobHandlers(worker, lifecycleService, settlementService, scheduler, cfg.ReconcileInterval)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := worker.Stop(); err != nil {
			logger.Error("failed to stop worker", zap.Error(err))
		}
	}()

	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{JWTSecret: cfg.JWTSecretKey, AllowedOrigins: cfg.CORSAllowedOrigins, Logger: logger},
		handlers.NewTournamentHandler(tournamentService, lifecycleService, scoreService, settlementService, logger),
		handlers.NewEntryHandler(admissionService, logger),
		handlers.NewAdminJobHandler(jobAdminService, logger),
		handlers.NewWebSocketHandler(hub, tournamentService, cfg.CORSAllowedOrigins, logger),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     zap.NewStdLog(logger),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
