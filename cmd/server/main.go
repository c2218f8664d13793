package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/config"
	"github.com/rpattn/mora/internal/db"
	"github.com/rpattn/mora/internal/export"
	"github.com/rpattn/mora/internal/graphql"
	"github.com/rpattn/mora/internal/health"
	"github.com/rpattn/mora/internal/ingestion"
	"github.com/rpattn/mora/internal/metrics"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/repository"

	graphqlgo "github.com/graph-gophers/graphql-go"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := newLogger(cfg)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	latest, err := db.LatestVersion()
	if err != nil {
		logger.WithError(err).Fatal("Failed to read embedded migrations")
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	// Create repositories
	objectRepo := repository.NewObjectRepository(conn.Pool)
	registrationRepo := repository.NewRegistrationRepository(conn.Pool)
	eventRepo := repository.NewEventRepository(conn.Pool)
	var auditLogRepo repository.AuditLogRepository
	if cfg.App.AccessLog {
		auditLogRepo = repository.NewAuditLogRepository(conn.Pool)
	}

	// Create GraphQL schema
	resolver := graphql.NewResolver(graphql.Config{
		Objects:          objectRepo,
		Registrations:    registrationRepo,
		Events:           eventRepo,
		AuditLog:         auditLogRepo,
		Clock:            repository.NewDatabaseClock(conn.Pool),
		RootOrganisation: cfg.App.RootOrganisation,
		EmptyFetchDelay:  cfg.Events.EmptyFetchDelay,
		Logger:           logger.WithField("component", "graphql"),
	})
	tracer := middleware.NewResolverTracer(logger.WithField("component", "resolver"), !cfg.App.Production())
	schema, err := graphql.NewSchema(resolver,
		graphqlgo.Tracer(tracer),
		graphqlgo.Logger(tracer),
		graphqlgo.PanicHandler(tracer),
		graphqlgo.MaxParallelism(cfg.GraphQL.MaxParallelism),
		graphqlgo.MaxDepth(cfg.GraphQL.MaxDepth),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse GraphQL schema")
	}
	sdlHandler, err := graphql.SDLHandler(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to render GraphQL schema")
	}

	checks := health.NewRegistry(5 * time.Second)
	checks.Register("database", health.DatabaseCheck(conn.Pool))
	checks.Register("migrations", health.MigrationCheck(func(ctx context.Context) (uint, bool, error) {
		return db.AppliedVersion(ctx, conn.Pool)
	}, latest))

	importService := ingestion.NewService(conn, logger.WithField("component", "ingestion"))
	exportService := export.NewService(objectRepo, logger.WithField("component", "export"))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	// Every request is pinned to one clock reading and carries its actor.
	api := func(route string, h http.Handler) http.Handler {
		h = middleware.LoggingMiddleware(logger, route)(h)
		h = auth.ActorMiddleware(h)
		h = middleware.RequestClock(time.Now)(h)
		return corsHandler.Handler(h)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", api("graphql",
		middleware.DataLoaderMiddleware(objectRepo, auditLogRepo)(graphql.NewHandler(schema, logger))))
	mux.Handle("GET /graphql/schema.graphql", api("schema", sdlHandler))
	mux.Handle("/import/{kind}", api("import", ingestion.NewHTTPHandler(importService, logger)))
	mux.Handle("/export/{kind}", api("export", export.NewHTTPHandler(exportService, logger)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /health/live", checks.LiveHandler())
	mux.Handle("GET /health/ready", checks.ReadyHandler())

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("Starting GraphQL server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.Config) *logrus.Entry {
	logger := logrus.New()
	if cfg.App.Production() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logrus.NewEntry(logger).WithField("service", "mora")
}
