package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/config"
	"github.com/eficia/eficia-api/internal/domain/admin"
	"github.com/eficia/eficia-api/internal/domain/enrichment"
	"github.com/eficia/eficia-api/internal/domain/job"
	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/domain/notification"
	"github.com/eficia/eficia-api/internal/domain/payment"
	"github.com/eficia/eficia-api/internal/middleware"
	"github.com/eficia/eficia-api/internal/pkg/database"
	"github.com/eficia/eficia-api/internal/pkg/email"
	"github.com/eficia/eficia-api/internal/pkg/idempotency"
	"github.com/eficia/eficia-api/internal/pkg/jwt"
	"github.com/eficia/eficia-api/internal/pkg/logger"
	"github.com/eficia/eficia-api/internal/pkg/metrics"
	pkgresponse "github.com/eficia/eficia-api/internal/pkg/response"
	"github.com/eficia/eficia-api/internal/pkg/storage"
	"github.com/eficia/eficia-api/internal/pkg/stripe"
	"github.com/eficia/eficia-api/internal/store/postgres"
)

const (
	webhookGuardTTL  = 72 * time.Hour
	webhookRateLimit = "600-M"
	loginRateLimit   = "10-M"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Eficia API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.MigrateOnStart {
		if err := database.MigrateUp(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	files, err := storage.New(storage.Config{
		Driver:         cfg.StorageDriver,
		S3Endpoint:     cfg.S3Endpoint,
		S3Region:       cfg.S3Region,
		S3AccessKey:    cfg.S3AccessKey,
		S3SecretKey:    cfg.S3SecretKey,
		S3Bucket:       cfg.S3Bucket,
		LocalDir:       cfg.LocalStorageDir,
		LocalPublicURL: cfg.LocalPublicURL,
		SigningKey:     cfg.SigningKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create file storage")
	}

	catalog, err := payment.LoadCatalog(cfg.PacksFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PacksFile).Msg("Failed to load pack catalog")
	}

	router, err := newRouter(cfg, db, rdb, files, catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build router")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// newRouter wires every domain onto one chi router. rdb may be nil.
func newRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, files storage.Storage, catalog *payment.Catalog) (http.Handler, error) {
	store := postgres.New(db)

	// ---------- Notifications ----------
	mailer, err := email.NewService(email.NewSendGridClient(email.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}))
	if err != nil {
		return nil, err
	}
	directory := notification.NewRepository(db)
	notifier := notification.NewEmailNotifier(mailer, directory, files, cfg.PublicSiteURL)

	// ---------- Core services ----------
	ledgerService := ledger.NewService(store.Ledger(), cfg.LedgerMaxRetries)
	jobService := job.NewService(store.Jobs(), ledgerService, notifier, cfg.NotifyTimeout)

	var guard idempotency.Guard = idempotency.NewMemoryGuard()
	if rdb != nil {
		guard = idempotency.NewRedisGuard(rdb, "eficia:webhook:", webhookGuardTTL)
	}
	paymentService := payment.NewService(ledgerService, catalog, guard,
		stripe.NewClient(stripe.ClientConfig{SecretKey: cfg.StripeSecretKey}),
		payment.Config{
			WebhookSecret:    cfg.StripeWebhookSecret,
			WebhookTolerance: cfg.StripeWebhookTolerance,
			SuccessURL:       cfg.PublicSiteURL + "/app/credits?checkout=success",
			CancelURL:        cfg.PublicSiteURL + "/app/credits?checkout=cancel",
		})

	adminService := admin.NewService(admin.NewRepository(db), jobService, ledgerService, files)
	adminJWTService := admin.NewJWTService(cfg.JWTSecret, cfg.AdminJWTTTL)
	enrichmentService := enrichment.NewService(ledgerService, jobService, files, directory, cfg.MaxUploadSize)

	// ---------- Handlers ----------
	paymentHandler := payment.NewHandler(paymentService)
	adminHandler := admin.NewHandler(adminService, adminJWTService)
	enrichmentHandler := enrichment.NewHandler(enrichmentService, cfg.MaxUploadSize)

	authMiddleware := middleware.Auth(jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL))

	webhookLimiter, err := middleware.NewLimiter(webhookRateLimit, rdb, "eficia:rl:webhook")
	if err != nil {
		return nil, err
	}
	loginLimiter, err := middleware.NewLimiter(loginRateLimit, rdb, "eficia:rl:admin-login")
	if err != nil {
		return nil, err
	}
	apiLimiter, err := middleware.NewLimiter(cfg.RateLimit, rdb, "eficia:rl:api")
	if err != nil {
		return nil, err
	}

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			pkgresponse.ServiceUnavailable(w, "Database unreachable")
			return
		}
		pkgresponse.OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	if local, ok := files.(*storage.LocalStorage); ok {
		r.Handle("/files/*", http.StripPrefix("/files/", local))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(apiLimiter))
		r.Mount("/payments", paymentHandler.Routes(authMiddleware))
		r.Mount("/", enrichmentHandler.Routes(authMiddleware))
	})

	r.With(middleware.RateLimit(webhookLimiter)).Mount("/webhooks", paymentHandler.WebhookRoutes())

	r.Mount("/api/admin", adminHandler.Routes(middleware.RateLimit(loginLimiter)))

	return r, nil
}
