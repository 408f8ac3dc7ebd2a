package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest"
	"feedflow/internal/features/ingest/services"
	"feedflow/internal/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	sourceID     string
	sourcesFile  string
	rollback     bool
	showStatus   bool
	debugLogging bool
)

var rootCmd = &cobra.Command{
	Use:   "feedflow",
	Short: "Feed and website content ingestion",
	Long:  `FeedFlow polls RSS, Atom and plain websites, extracts their articles and stores the new ones.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load .env file if it exists
		godotenv.Load()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingestion scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, db, err := bootstrap()
		if err != nil {
			return err
		}

		registry := core.NewRegistry(logger)
		if err := registry.Register(ingest.NewFeature(logger, db, ingest.NewConfig(config))); err != nil {
			return err
		}
		srv := server.New(config, logger, db, registry)

		ctx := cmd.Context()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(context.Background()) }()

		select {
		case err := <-errCh:
			db.Close()
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer db.Close()

		feature := ingest.NewFeature(logger, db, ingest.NewConfig(config)).WithoutScheduler()
		if err := feature.Init(cmd.Context()); err != nil {
			return err
		}

		scheduler := feature.GetSchedulerService()
		if sourceID != "" {
			res, err := scheduler.RefreshSource(cmd.Context(), sourceID)
			if err != nil {
				return err
			}
			return printJSON(res.Summary())
		}

		res, err := scheduler.RunDue(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(res.Summary())
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover URL",
	Short: "Find the feeds a website offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(config)

		cfg := ingest.NewConfig(config)
		fetcher := services.NewFetcherService(logger, cfg.FetcherConfig(), nil)
		discovery := services.NewDiscoveryService(fetcher, logger)

		feeds, err := discovery.Discover(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Fprintln(os.Stderr, "no feeds found")
			return nil
		}
		for _, feed := range feeds {
			fmt.Println(feed)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or inspect database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer db.Close()

		manager := ingest.NewFeature(logger, db, ingest.NewConfig(config)).GetMigrationManager()
		switch {
		case showStatus:
			status, err := manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(status)
		case rollback:
			return manager.Rollback(cmd.Context())
		default:
			return manager.Migrate(cmd.Context())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources", "", "YAML file of sources to seed (overrides FEEDFLOW_SOURCES_FILE)")

	ingestCmd.Flags().StringVar(&sourceID, "source", "", "Refresh only this source ID, ignoring its schedule")
	migrateCmd.Flags().BoolVar(&rollback, "rollback", false, "Roll back the last applied migration")
	migrateCmd.Flags().BoolVar(&showStatus, "status", false, "Print applied migrations")

	rootCmd.AddCommand(serveCmd, ingestCmd, discoverCmd, migrateCmd)
}

// bootstrap loads the config and opens the logger and database
func bootstrap() (*core.Config, *core.Logger, *core.Database, error) {
	config, err := core.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if sourcesFile != "" {
		config.Features.Ingest.SourcesFile = sourcesFile
	}

	logger := newLogger(config)
	db, err := core.OpenDatabase(config.Database.Path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return config, logger, db, nil
}

func newLogger(config *core.Config) *core.Logger {
	level, _ := core.ParseLevel(config.Log.Level)
	if debugLogging {
		level, _ = core.ParseLevel("debug")
	}
	return core.NewLoggerWithLevel(os.Stderr, level)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
