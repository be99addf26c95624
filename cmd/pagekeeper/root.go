package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/renderinc/pagekeeper/internal/config"
	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/storage"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// dataDir overrides data.dir from the configuration.
	dataDir string

	rootCmd = &cobra.Command{
		Use:           "pagekeeper",
		Short:         "Page search and media uploads",
		Long:          `pagekeeper serves ranked full-text search over pages and an authenticated upload area for media files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for database and index files (default ./data)")

	rootCmd.AddCommand(
		serveCommand(),
		searchCommand(),
		syncCommand(),
		reindexCommand(),
		statsCommand(),
		getPageCommand(),
		hashPasswordCommand(),
	)
}

// app holds the handles every command needs.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	db     *storage.DB
	engine search.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	return cfg, nil
}

// openApp loads configuration and opens the database and search engine.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := storage.Open(cfg.Data.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	engine, err := openEngine(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open search engine: %w", err)
	}

	log.Debug("Application opened",
		logger.String("data_dir", cfg.Data.Dir),
		logger.String("search_backend", cfg.Search.Backend),
	)
	return &app{cfg: cfg, log: log, db: db, engine: engine}, nil
}

func openEngine(ctx context.Context, cfg *config.Config) (search.Engine, error) {
	switch cfg.Search.Backend {
	case config.BackendElasticsearch:
		return search.NewElastic(ctx, cfg.Search.Elasticsearch)
	default:
		return search.Open(cfg.Data.IndexPath())
	}
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.log.Warn("Error closing search engine", logger.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("Error closing database", logger.Error(err))
	}
	_ = a.log.Sync()
}
