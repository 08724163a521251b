package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/quanglt/vulnscan-be/internal/config"
	"github.com/quanglt/vulnscan-be/internal/worker"
	"github.com/quanglt/vulnscan-be/internal/worker/lookup"
	"github.com/quanglt/vulnscan-be/internal/worker/scanner"
	workerstorage "github.com/quanglt/vulnscan-be/internal/worker/storage"
	"github.com/quanglt/vulnscan-be/shared/logger"
	"github.com/quanglt/vulnscan-be/shared/postgresql"
	"github.com/quanglt/vulnscan-be/shared/rabbitmq"
	"github.com/quanglt/vulnscan-be/shared/timeauthority"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize the job timestamp source
	clock := timeauthority.New(&timeauthority.Config{
		URL:     cfg.TimeAuthority.URL,
		Timeout: cfg.TimeAuthority.Timeout,
	}, appLogger.Logger)

	store := workerstorage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	scanRunner := scanner.New(&scanner.Config{
		Command: cfg.Scanner.Command,
		Args:    cfg.Scanner.Args,
		Timeout: cfg.Scanner.Timeout,
	}, appLogger.Logger)

	lookupRunner := lookup.New(&lookup.Config{
		BaseURL:     cfg.Lookup.BaseURL,
		Timeout:     cfg.Lookup.Timeout,
		MaxAttempts: cfg.Lookup.MaxAttempts,
		RetryDelay:  cfg.Lookup.RetryDelay,
	}, appLogger.Logger)

	// Create the consumer
	consumer := worker.NewConsumer(&worker.Config{
		Logger:               appLogger.Logger,
		Store:                store,
		Broker:               rabbitClient,
		Scanner:              scanRunner,
		Lookup:               lookupRunner,
		Clock:                clock,
		WorkerID:             workerID,
		Concurrency:          cfg.Worker.Concurrency,
		PrefetchCount:        cfg.RabbitMQ.Consumer.PrefetchCount,
		ReconnectBaseDelay:   cfg.RabbitMQ.Consumer.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.RabbitMQ.Consumer.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.RabbitMQ.Consumer.ReconnectMaxAttempts,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer.Start(ctx)

	// Periodic cleanup of settled jobs
	go worker.RunRetention(ctx, store, clock,
		cfg.Worker.RetentionMaxAge, cfg.Worker.RetentionInterval, appLogger.Logger)

	// Admin listener for operational control of the consumer
	adminSrv := startAdminServer(cfg, consumer, dbClient, appLogger.Logger)

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerID),
		slog.Int("admin_port", cfg.Worker.AdminPort),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Cancel context to stop the consumer and retention loop
	cancel()

	// Give the consumer time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Consumer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Admin server shutdown failed",
			slog.Any("error", err),
		)
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// startAdminServer exposes consumer lifecycle control and health probes
func startAdminServer(cfg *config.Config, consumer *worker.Consumer, dbClient *postgresql.Client, logger *slog.Logger) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if err := dbClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.POST("/consumer/start", func(c *gin.Context) {
		// Not the request context; the consumer must outlive the request
		consumer.Start(context.Background())
		c.JSON(http.StatusOK, consumer.Status())
	})

	r.POST("/consumer/stop", func(c *gin.Context) {
		consumer.Stop()
		c.JSON(http.StatusOK, consumer.Status())
	})

	r.GET("/consumer/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, consumer.Status())
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.AdminPort),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed",
				slog.Any("error", err),
			)
		}
	}()

	return srv
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
