package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shortsight/internal/cache"
	"shortsight/internal/config"
	"shortsight/internal/handlers"
	"shortsight/internal/queue"
	"shortsight/internal/repository"
	"shortsight/internal/services"

	"github.com/gin-gonic/gin"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "shortsight",
	Short:         "URL shortener with safety checks, password protection and click analytics",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and analytics workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
	// Running the binary without a subcommand serves.
	rootCmd.RunE = serveCmd.RunE
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	db, err := repository.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := repository.Migrate(db, cfg, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// newStore picks the shared store for link caching and rate limit counters. An unreachable
// Redis degrades to the in-process store.
func newStore(cfg config.Config, logger *slog.Logger) (cache.Store, func()) {
	if strings.EqualFold(cfg.CacheDriver, "redis") {
		rdb, err := repository.InitRedis(cfg.RedisURL, cfg.RedisPassword, 0)
		if err == nil {
			return cache.NewRedisStore(rdb), func() { _ = rdb.Close() }
		}
		logger.Warn("Failed to connect to Redis, using in-memory cache", "error", err)
	}
	return cache.NewMemoryStore(time.Minute), func() {}
}

func newQueue(cfg config.Config, logger *slog.Logger) (queue.Queue, func(), error) {
	if strings.EqualFold(cfg.QueueDriver, "nats") {
		q, err := queue.NewNATS(cfg.NATSURL, cfg.AnalyticsMaxAttempts, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return q, q.Close, nil
	}
	return queue.NewMemory(cfg.AnalyticsQueueSize, cfg.AnalyticsWorkers, cfg.AnalyticsMaxAttempts, logger), func() {}, nil
}

func Run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	if err := cfg.CheckSessionSecret(); err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("session cookies: %w", err)
		}
		logger.Warn("Weak session secret, session cookies can be forged", "error", err)
	}

	db, err := repository.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Running database migrations...")
	if err := repository.Migrate(db, cfg, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	store, closeStore := newStore(cfg, logger)
	defer closeStore()
	linkCache := cache.NewLinkCache(store, logger)

	q, closeQueue, err := newQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	passwords, err := services.NewPasswordService(cfg.Pepper, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("password protection: %w", err)
	}

	rules, err := services.LoadSafetyRules(cfg.SafetyRulesPath)
	if err != nil {
		return fmt.Errorf("failed to load safety rules: %w", err)
	}
	var reputation services.ReputationChecker
	if cfg.SafeBrowsingAPIKey != "" {
		reputation = services.NewSafeBrowsingClient(cfg.SafeBrowsingURL, cfg.SafeBrowsingAPIKey, cfg.ContentCheckTimeout, cfg.SafeBrowsingRPS)
	} else if cfg.EnableSafeBrowsing {
		logger.Warn("Safe Browsing enabled without SAFE_BROWSING_API_KEY, reputation checks are skipped")
	}
	validator, err := services.NewURLValidator(services.ValidatorOptionsFromConfig(cfg), rules, reputation, linkCache, logger)
	if err != nil {
		return fmt.Errorf("failed to build url validator: %w", err)
	}

	links := repository.NewLinkStore(db, linkCache, logger)
	visitors := repository.NewVisitorStore(db)

	locator := services.NewLocator(cfg, logger)
	if c, ok := locator.(io.Closer); ok {
		defer c.Close()
	}
	analytics, err := services.NewAnalyticsService(q, visitors, linkCache, locator, cfg.NodeID, cfg.MaskVisitorIP, logger)
	if err != nil {
		return fmt.Errorf("failed to start analytics: %w", err)
	}

	slugs := services.NewSlugGenerator(links)
	captcha := services.NewRecaptchaService(cfg.RecaptchaSecret, cfg.RecaptchaURL, cfg.RecaptchaThreshold, logger)
	shortener := services.NewShortenerService(links, slugs, validator, passwords, captcha, logger)
	resolver := services.NewLinkResolver(links, linkCache, passwords, analytics, logger)
	limiter := services.NewRateLimiter(store, logger)

	h := handlers.NewHandler(cfg, logger, links, linkCache, shortener, resolver, slugs, validator, analytics, services.NewQRService(), limiter)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := h.SetupRouter()

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(cfg.CORSAllowedOrigins),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		gorillahandlers.ExposedHeaders([]string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      cors(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := q.Start(workerCtx); err != nil {
			logger.Error("Analytics queue stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Visits dispatched by in-flight redirects must reach the queue before workers stop.
	resolver.Wait()
	workerCancel()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("Analytics workers did not stop in time")
	}

	logger.Info("Server exiting")
	return runErr
}
