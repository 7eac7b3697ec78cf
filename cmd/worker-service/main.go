package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobqueue/internal/config"
	"github.com/cuongbtq/jobqueue/internal/storage"
	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/cuongbtq/jobqueue/migrations"
	"github.com/cuongbtq/jobqueue/shared/logger"
	"github.com/cuongbtq/jobqueue/shared/mailer"
	"github.com/cuongbtq/jobqueue/shared/metrics"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
	"github.com/cuongbtq/jobqueue/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	pgConfig := cfg.Database.PostgresConfig()
	if cfg.Database.AutoMigrate {
		version, err := postgresql.Migrate(pgConfig, migrations.FS, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		appLogger.Info("Database schema ready", slog.Uint64("version", uint64(version)))
	}

	dbClient, err := postgresql.NewClient(pgConfig, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	m := metrics.New()

	registry := worker.NewRegistry()
	email := worker.NewEmailHandler(worker.EmailHandlerConfig{
		Logger:        appLogger.Logger,
		Mailer:        initMailer(&cfg.SMTP, appLogger.Logger),
		Enqueuer:      store,
		Subject:       cfg.SMTP.Subject,
		Body:          cfg.SMTP.Body,
		RatePerSecond: cfg.SMTP.RatePerSecond,
		Burst:         cfg.SMTP.Burst,
	})
	if err := worker.RegisterDefaults(registry, appLogger.Logger, email); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	workerCfg := &worker.Config{
		Logger:                 appLogger.Logger,
		Store:                  store,
		Registry:               registry,
		Metrics:                m,
		WorkerID:               cfg.Worker.ID,
		Concurrency:            cfg.Worker.Concurrency,
		BatchSize:              cfg.Worker.BatchSize,
		DispatchParallelism:    cfg.Worker.DispatchParallelism,
		JobTimeout:             cfg.Worker.JobTimeout,
		PollInterval:           cfg.Worker.PollInterval,
		ClaimBackoff:           cfg.Worker.ClaimBackoff,
		MaxClaimBackoff:        cfg.Worker.MaxClaimBackoff,
		MaxConsecutiveFailures: cfg.Worker.MaxConsecutiveFailures,
		StatsSchedule:          cfg.Worker.StatsSchedule,
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		workerCfg.Wakeups = rabbitClient
		appLogger.Info("RabbitMQ connection established")
	}

	workerInstance := worker.NewWorker(workerCfg)

	if cfg.Worker.MetricsPort != 0 {
		if cfg.App.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		metricsSrv := startMetricsServer(cfg.Worker.MetricsPort, m, appLogger.Logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerInstance.ID()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		return nil
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			appLogger.Warn("Worker stopped with error", slog.Any("error", err))
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initMailer sends through SMTP when a relay is configured and prints to
// stdout otherwise.
func initMailer(cfg *config.SMTPConfig, logger *slog.Logger) mailer.Mailer {
	if cfg.Host == "" {
		logger.Info("SMTP host not set, emails are printed to stdout")
		return mailer.NewLogMailer(os.Stdout)
	}
	return mailer.NewSMTPMailer(cfg.MailerConfig(), logger)
}

// newMetricsRouter serves the Prometheus registry on GET /metrics.
func newMetricsRouter(m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(m.Handler()))
	return r
}

func startMetricsServer(port int, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newMetricsRouter(m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Metrics server listening", slog.String("address", srv.Addr))
	return srv
}
