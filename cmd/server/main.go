// @title           Job Card Backend API
// @version         1.0.0
// @description     Backend API for field-service job cards. Engineers sign in, submit service job cards (or a scanned paper card) and keep working when the database is unreachable; records kept on the device are synced later. Sessions end after a period of inactivity.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"jobcard-backend/internal/cache"
	"jobcard-backend/internal/config"
	"jobcard-backend/internal/database"
	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/export"
	"jobcard-backend/internal/handlers"
	"jobcard-backend/internal/idalloc"
	"jobcard-backend/internal/inactivity"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/middleware"
	"jobcard-backend/internal/services"
	"jobcard-backend/internal/session"
	"jobcard-backend/internal/supabase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Environment)
	logging.SetDefault(logger)
	slog.SetDefault(logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load time zone: %v", err)
	}

	localCache, err := cache.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open local cache: %v", err)
	}
	defer localCache.Close()

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}

	// Job cards go through PostgREST unless a direct connection is configured.
	var remote jobcard.Remote = supabase.NewJobCardTable(supabaseClient)
	if cfg.DatabaseURL != "" {
		runMigrations(ctx, cfg.DatabaseURL)

		dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			logging.Warn(ctx, "direct database unavailable, using PostgREST", slog.Any("err", errs.Loggable(err)))
		} else {
			defer dbClient.Close()
			remote = dbClient
		}
	} else {
		logging.Warn(ctx, "DATABASE_URL not set, migrations skipped")
	}

	allocator := idalloc.New(remote, cfg.JobCardPrefix,
		idalloc.WithWindow(cfg.RecentIDWindow),
		idalloc.WithTimeout(cfg.IDQueryTimeout),
	)
	store := jobcard.NewStore(remote, localCache, allocator,
		jobcard.WithLocation(loc),
		jobcard.WithTimeouts(cfg.RemoteLoadTimeout, cfg.RemoteInsertTimeout),
	)

	monitor := inactivity.NewMonitor(inactivity.RealClock{}, cfg.InactivityWarning, cfg.InactivityLogout)
	binder := session.NewBinder(
		supabase.NewAuthClient(supabaseClient),
		store,
		localCache,
		monitor,
		session.NewHub(),
		session.WithTokenHook(supabaseClient.UseAccessToken),
		session.WithReloadHook(func(reason string) {
			logging.Warn(context.Background(), "session state was force-reset", slog.String("reason", reason))
		}),
	)

	storageClient := supabase.NewStorageClient(supabaseClient, cfg.SupabaseStorageBucket)
	realtimeClient := supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabasePublishableKey)
	submissions := services.NewSubmissionService(store, storageClient, realtimeClient)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	handlers.Register(router, middleware.AuthMiddleware(cfg, binder), handlers.Set{
		Health:   handlers.NewHealthHandler(store, binder),
		Auth:     handlers.NewAuthHandler(binder, store),
		JobCards: handlers.NewJobCardsHandler(store, submissions, export.NewService(loc), binder),
		Session:  handlers.NewSessionHandler(binder),
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "server starting", slog.String("port", port), slog.String("base_url", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "http shutdown incomplete", slog.Any("err", errs.Loggable(err)))
	}

	// Pending records are synced if possible and otherwise stay on the device.
	if _, ok := binder.Current(); ok {
		if err := binder.Teardown(shutdownCtx, session.ReasonLogout); err != nil {
			logging.Error(shutdownCtx, "session teardown incomplete", slog.Any("err", errs.Loggable(err)))
		}
	}
	submissions.Wait()
}

func runMigrations(ctx context.Context, dbURL string) {
	migrator, err := database.NewMigrator(ctx, dbURL)
	if err != nil {
		logging.Warn(ctx, "failed to initialize migrator", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer migrator.Close()

	if err := migrator.Run(ctx); err != nil {
		logging.Warn(ctx, "migration failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	logging.Info(ctx, "migrations completed")
}
