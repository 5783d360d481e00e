package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/config"
	"github.com/skadler/advfilters/internal/db"
	"github.com/skadler/advfilters/internal/export"
	"github.com/skadler/advfilters/internal/filters"
	"github.com/skadler/advfilters/internal/ingestion"
	"github.com/skadler/advfilters/internal/middleware"
	"github.com/skadler/advfilters/internal/repository"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration (config.yaml next to the binary, env overrides)
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	filterRepo := repository.NewFilterRepository(conn.Pool)
	schemaRepo := repository.NewEntitySchemaRepository(conn.Pool)
	entityRepo := repository.NewEntityRepository(conn.Pool)
	exportJobRepo := repository.NewExportJobRepository(conn.Pool)
	ingestionLogRepo := repository.NewIngestionLogRepository(conn.Pool)

	// Build the schema catalog shared by every service
	registry := catalog.NewRegistry(cfg.Catalog.EntityTypes...)
	cat := catalog.New(schemaRepo, registry, cfg.Catalog.TTL)

	// Create services
	filterService := filters.NewService(
		filterRepo,
		entityRepo,
		cat,
		filters.WithMaxEncodedLength(cfg.Filters.MaxEncodedLength),
		filters.WithPageSize(cfg.Filters.PageSize),
	)
	exportService := export.NewService(
		filterRepo,
		schemaRepo,
		entityRepo,
		exportJobRepo,
		cat,
		export.WithExportDirectory(cfg.Export.Dir),
		export.WithJobTimeout(cfg.Export.JobTimeout),
		export.WithDownloadTokenTTL(cfg.Export.DownloadTokenTTL),
	)
	ingestionService := ingestion.NewService(schemaRepo, entityRepo, ingestionLogRepo, cat)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	chain := func(h http.Handler) http.Handler {
		return corsHandler.Handler(
			middleware.LoggingMiddleware(
				middleware.AuthMiddleware(
					middleware.DataLoaderMiddleware(filterRepo)(h),
				),
			),
		)
	}

	filtersHandler := chain(filters.NewHTTPHandler(filterService))
	exportsHandler := chain(export.NewHTTPHandler(exportService))
	ingestionHandler := chain(ingestion.NewHTTPHandler(ingestionService, cfg.Ingestion.MaxUploadBytes))

	http.Handle("/api/filters", filtersHandler)
	http.Handle("/api/filters/", filtersHandler)
	http.Handle("/api/exports", exportsHandler)
	http.Handle("/api/exports/", exportsHandler)
	http.Handle("/api/ingestion", ingestionHandler)
	http.Handle("/api/ingestion/", ingestionHandler)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting filter service on %s", cfg.Server.ListenAddr)
		log.Printf("Filter API available at http://localhost%s/api/filters", cfg.Server.ListenAddr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
