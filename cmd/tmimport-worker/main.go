// Package main provides the import worker: the job queue posts
// process(jobId, mode) requests to it over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/tmimport/internal/blob"
	"github.com/raphaelgruber/tmimport/internal/config"
	"github.com/raphaelgruber/tmimport/internal/db"
	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/server"
	"github.com/raphaelgruber/tmimport/internal/service"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("tmimport-worker: " + err.Error() + "\n")
		os.Exit(3)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg, "worker")
	defer cleanup()

	logger.Info("tmimport-worker starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"blob_backend", cfg.Blob.Backend,
		"addr", cfg.WorkerAddr,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(4)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	// Initialize database schema
	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(4)
	}

	destStore, err := dest.NewPostgresStore(ctx, cfg.DestDatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to destination", "error", err)
		os.Exit(4)
	}
	defer destStore.Close()

	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		logger.Error("failed to create blob store", "error", err)
		os.Exit(3)
	}

	orchestrator := service.New(service.Options{
		Jobs:    dbClient,
		Staging: dbClient,
		Dest:    destStore,
		Blobs:   blobs,
		Reindex: dbClient,
		Import:  cfg.Import,
		Logger:  logger,
	})

	if err := server.New(cfg.WorkerAddr, orchestrator, logger).Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
