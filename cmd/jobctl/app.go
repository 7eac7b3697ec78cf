package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobqueue/internal/config"
	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/storage"
	"github.com/cuongbtq/jobqueue/shared/logger"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
)

type jobStore interface {
	InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	MarkJobFailed(ctx context.Context, id int64, reason string) error
}

// app holds what the subcommands share. Fields left nil are filled from
// the config file on first use.
type app struct {
	configPath string

	cfg    *config.Config
	logger *logger.Logger
	db     *postgresql.Client
	store  jobStore
}

func defaultConfigPath() string {
	if p := os.Getenv("JOBCTL_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/worker-service/config.yaml"
}

func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}

	_ = godotenv.Load()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateDatabaseConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// command output goes to stdout, logs stay on stderr
	logCfg := cfg.Logging.LoggerConfig()
	logCfg.Output = "stderr"
	l, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = l
	return nil
}

func (a *app) openStore() (jobStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.loadConfig(); err != nil {
		return nil, err
	}

	db, err := postgresql.NewClient(a.cfg.Database.PostgresConfig(), a.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a.db = db
	a.store = storage.NewStorage(db.GetDB(), a.logger.Logger)
	return a.store, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Administer the Postgres job queue",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "Path to configuration file")

	root.AddCommand(
		migrateCmd(a),
		seedCmd(a),
		listCmd(a),
		statsCmd(a),
		failCmd(a),
	)
	return root
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
