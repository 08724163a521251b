// Package worker implements the queue consumer: it receives job messages,
// runs the scan or lookup unit of work, reconciles the outcome into the job
// store, and only then acknowledges the message. The consumer owns its
// connection state and heals broker outages with exponential backoff.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quanglt/vulnscan-be/internal/worker/domain"
	"github.com/quanglt/vulnscan-be/internal/worker/lookup"
	"github.com/quanglt/vulnscan-be/internal/worker/scanner"
	"github.com/quanglt/vulnscan-be/shared/timeauthority"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobStore is the subset of the storage layer the consumer writes through
type JobStore interface {
	ClaimProcessing(ctx context.Context, jobID string, processedAt int64) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID string, completedAt int64, summary domain.ResultSummary, rows []domain.ResultRow) error
	MarkFailed(ctx context.Context, jobID string, completedAt int64, errorMsg string) error
}

// Broker is the queue client surface the consumer needs
type Broker interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
	Reconnect() error
	IsConnected() bool
}

// ScanRunner executes a port scan against one target
type ScanRunner interface {
	Scan(ctx context.Context, target string) (*scanner.Report, error)
}

// LookupRunner queries the vulnerability database for one keyword
type LookupRunner interface {
	Search(ctx context.Context, keyword string) ([]lookup.CVERecord, error)
}

// Config holds consumer configuration
type Config struct {
	Logger               *slog.Logger
	Store                JobStore
	Broker               Broker
	Scanner              ScanRunner
	Lookup               LookupRunner
	Clock                timeauthority.Source
	WorkerID             string
	Concurrency          int
	PrefetchCount        int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 means retry forever
}

// Status is a snapshot of the consumer lifecycle for the admin API
type Status struct {
	Running   bool   `json:"running"`
	WorkerID  string `json:"worker_id"`
	LastError string `json:"last_error,omitempty"`
}

// Consumer is the background job worker
type Consumer struct {
	logger   *slog.Logger
	store    JobStore
	broker   Broker
	scanner  ScanRunner
	lookup   LookupRunner
	clock    timeauthority.Source
	workerID string

	concurrency          int
	prefetchCount        int
	reconnectBaseDelay   time.Duration
	reconnectMaxDelay    time.Duration
	reconnectMaxAttempts int

	mu      sync.Mutex
	running bool
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsumer creates a consumer instance; Start must be called to run it
func NewConsumer(cfg *Config) *Consumer {
	baseDelay := cfg.ReconnectBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		logger:               cfg.Logger,
		store:                cfg.Store,
		broker:               cfg.Broker,
		scanner:              cfg.Scanner,
		lookup:               cfg.Lookup,
		clock:                cfg.Clock,
		workerID:             cfg.WorkerID,
		concurrency:          concurrency,
		prefetchCount:        prefetch,
		reconnectBaseDelay:   baseDelay,
		reconnectMaxDelay:    maxDelay,
		reconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}
}

// Start launches the consume loop. Starting a running consumer is a no-op.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Info("Consumer already running, start ignored",
			slog.String("worker_id", c.workerID),
		)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.lastErr = nil

	c.logger.Info("Starting consumer",
		slog.String("worker_id", c.workerID),
		slog.Int("concurrency", c.concurrency),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	go c.run(runCtx)
}

// Stop halts the consume loop and waits for in-flight jobs to settle.
// Stopping a stopped consumer is a no-op.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.logger.Info("Stopping consumer",
		slog.String("worker_id", c.workerID),
	)

	cancel()
	<-done

	c.logger.Info("Consumer stopped",
		slog.String("worker_id", c.workerID),
	)
}

// Status reports the current lifecycle state
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Running:  c.running,
		WorkerID: c.workerID,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

func (c *Consumer) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Consumer) markStopped() {
	c.mu.Lock()
	c.running = false
	close(c.done)
	c.mu.Unlock()
}

// run is the consume loop with reconnect handling. A successful consume
// resets the backoff counter; repeated failures grow the delay up to the cap
// and, when a retry budget is configured, eventually stop the consumer so an
// orchestrator can restart the process.
func (c *Consumer) run(ctx context.Context) {
	defer c.markStopped()

	attempt := 0
	for ctx.Err() == nil {
		deliveries, err := c.broker.Consume(c.workerID, c.prefetchCount)
		if err == nil {
			attempt = 0
			c.setError(nil)

			c.consumeLoop(ctx, deliveries)
			if ctx.Err() != nil {
				return
			}

			c.logger.Warn("Broker connection lost, scheduling reconnect",
				slog.String("worker_id", c.workerID),
			)
		} else {
			c.setError(err)
			c.logger.Error("Failed to start consuming",
				slog.Any("error", err),
			)
		}

		attempt++
		if c.reconnectMaxAttempts > 0 && attempt > c.reconnectMaxAttempts {
			err := fmt.Errorf("broker reconnect attempts exhausted after %d tries", attempt-1)
			c.setError(err)
			c.logger.Error("Consumer giving up on broker reconnect",
				slog.Int("attempts", attempt-1),
			)
			return
		}

		delay := backoffDelay(attempt, c.reconnectBaseDelay, c.reconnectMaxDelay)
		c.logger.Info("Reconnecting to broker",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if err := c.broker.Reconnect(); err != nil {
			c.setError(err)
			c.logger.Error("Broker reconnect failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		}
	}
}

// consumeLoop runs the dispatcher plus worker pool until the delivery channel
// closes (connection loss) or the context is canceled
func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	jobsChan := make(chan *domain.JobMessage)

	var wg sync.WaitGroup
	c.spawnWorkerPool(ctx, &wg, jobsChan)

	c.dispatch(ctx, deliveries, jobsChan)
	close(jobsChan)
	wg.Wait()
}
