package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quill/api/internal/ai"
	"quill/api/internal/app"
	"quill/api/internal/cache"
	"quill/api/internal/config"
	"quill/api/internal/email"
	"quill/api/internal/export"
	"quill/api/internal/logging"
	"quill/api/internal/media"
	"quill/api/internal/ratelimit"
	"quill/api/internal/revision"
	"quill/api/internal/scheduler"
	"quill/api/internal/search"
	"quill/api/internal/session"
	"quill/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		return fmt.Errorf("create revisions dir: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	deps := app.Deps{
		Revisions: revision.New(cfg.RevisionsDir),
		Logger:    logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Cache = cache.New(redisStore.Client(), cfg.CacheTTL, logger)
		logger.Info("using redis for sessions and the public cache")
	} else {
		logger.Info("using postgres for sessions, public cache disabled")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger)
	deps.Search = searchService

	if strings.TrimSpace(cfg.StorageEndpoint) != "" {
		storage, err := media.NewMinIOStorage(media.MinIOConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			Region:    cfg.StorageRegion,
			UseSSL:    cfg.StorageUseSSL,
			PublicURL: cfg.StoragePublicURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("object storage setup failed: %w", err)
		}
		if err := storage.EnsureBucket(ctx, cfg.StorageRegion); err != nil {
			logger.Warn("object storage bucket check failed", zap.Error(err))
		}
		deps.Media = media.NewService(storage)
	} else {
		logger.Warn("STORAGE_ENDPOINT not set, media uploads are disabled")
	}

	sender := email.NewFromConfig(email.Config{
		Provider:       cfg.EmailProvider,
		Host:           cfg.SMTPHost,
		Port:           cfg.SMTPPort,
		Username:       cfg.SMTPUsername,
		Password:       cfg.SMTPPassword,
		From:           cfg.EmailFrom,
		FromName:       cfg.EmailFromName,
		SendGridAPIKey: cfg.SendGridAPIKey,
	})
	if !sender.IsConfigured() {
		logger.Warn("email delivery is not configured")
	}
	deps.Mailer = email.NewMailer(sender, cfg.SiteName, cfg.SiteURL, logger)
	deps.AI = ai.New(ai.Config{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL}, logger)
	deps.Export = export.NewService(cfg.SiteName)

	service := app.New(cfg, dataStore, deps)

	go func() {
		// give the Meilisearch health check a moment to settle
		time.Sleep(2 * time.Second)
		n, err := searchService.ReindexAll(ctx)
		if err != nil {
			logger.Warn("initial search reindex failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("search index rebuilt", zap.Int("articles", n))
		}
	}()

	jobs := scheduler.New(logger, time.Minute)
	if err := jobs.Add("publish-due", cfg.SchedulerSpec, func(ctx context.Context) error {
		_, err := service.PublishDue(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("schedule publish-due: %w", err)
	}
	if err := jobs.Add("purge-tokens", "@hourly", service.PurgeExpiredTokens); err != nil {
		return fmt.Errorf("schedule purge-tokens: %w", err)
	}
	jobs.Start()

	limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	limiter.StartCleanup(ctx, 5*time.Minute)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Logger:      logger,
		TrustProxy:  cfg.TrustProxy,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("quill api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := service.Wait(shutdownCtx); err != nil {
		logger.Warn("background jobs did not finish", zap.Error(err))
	}
	return nil
}
