// Package cli provides the command-line interface for tmimport.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/tmimport/internal/blob"
	"github.com/raphaelgruber/tmimport/internal/config"
	"github.com/raphaelgruber/tmimport/internal/db"
	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/service"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and db client
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	dbClient   *db.Client
	destClient *dest.PostgresStore
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tmimport",
	Short: "Import test management exports",
	Long: `tmimport moves a test management export into the destination schema.

An import job runs in two steps. "analyze" streams the uploaded JSON export
into staging and suggests a mapping configuration for reference entities
(statuses, workflows, templates, users...). After reviewing the
configuration, "import" writes projects, cases, runs and results into the
destination database.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "normalize" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return withCode(exitConfig, err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg, "cli")
		slog.SetDefault(logger)

		// Connect to database
		ctx := context.Background()
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return withCode(exitDB, fmt.Errorf("connect to database: %w", err))
		}

		// Initialize schema
		if err := dbClient.InitSchema(ctx); err != nil {
			return withCode(exitDB, fmt.Errorf("initialize schema: %w", err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeClients()
	},
}

func closeClients() {
	if destClient != nil {
		destClient.Close()
		destClient = nil
	}
	if dbClient != nil {
		if err := dbClient.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
		dbClient = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

// connectDest opens the destination database on first use.
func connectDest(ctx context.Context) (*dest.PostgresStore, error) {
	if destClient != nil {
		return destClient, nil
	}
	store, err := dest.NewPostgresStore(ctx, cfg.DestDatabaseURL, logger)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("connect to destination: %w", err))
	}
	destClient = store
	return store, nil
}

// getOrchestrator wires the job orchestrator. Commands that write to the
// destination pass withDest=true; the rest skip the Postgres connection.
func getOrchestrator(ctx context.Context, withDest bool) (*service.Orchestrator, error) {
	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		return nil, withCode(exitConfig, fmt.Errorf("blob store: %w", err))
	}
	opts := service.Options{
		Jobs:    dbClient,
		Staging: dbClient,
		Blobs:   blobs,
		Reindex: dbClient,
		Import:  cfg.Import,
		Logger:  logger,
	}
	if withDest {
		store, err := connectDest(ctx)
		if err != nil {
			return nil, err
		}
		opts.Dest = store
	}
	return service.New(opts), nil
}

// Execute runs the root command. Canceling ctx interrupts a running job,
// which stays resumable.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})
}

// exactArgs is cobra.ExactArgs with the usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(exitUsage, cobra.ExactArgs(n)(cmd, args))
	}
}
