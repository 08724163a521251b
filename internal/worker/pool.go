package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quanglt/vulnscan-be/internal/worker/domain"
)

// spawnWorkerPool starts the fixed-size pool of processing goroutines
func (c *Consumer) spawnWorkerPool(ctx context.Context, wg *sync.WaitGroup, jobsChan <-chan *domain.JobMessage) {
	c.logger.Info("Spawning worker pool",
		slog.Int("concurrency", c.concurrency),
		slog.String("worker_id", c.workerID),
	)

	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go c.workerLoop(ctx, wg, i, jobsChan)
	}
}

// workerLoop is the main processing loop for each pool goroutine. It owns the
// ack decision: success and recorded application failures are acked,
// store/transport failures are nacked with requeue so the broker redelivers.
func (c *Consumer) workerLoop(ctx context.Context, wg *sync.WaitGroup, workerNum int, jobsChan <-chan *domain.JobMessage) {
	defer wg.Done()

	workerName := fmt.Sprintf("%s-%d", c.workerID, workerNum)
	c.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range jobsChan {
		c.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.Msg.JobID),
			slog.Uint64("delivery_tag", msg.Delivery.DeliveryTag),
		)

		err := c.processJob(ctx, msg)

		switch {
		case err == nil:
			if ackErr := msg.Delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			} else {
				c.logger.Info("Job completed successfully",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Msg.JobID),
				)
			}

		case domain.IsRetryable(err):
			// Store write failed; the job outcome is not recorded yet,
			// so the message must come back.
			c.logger.Error("Job processing hit a retryable failure, requeueing",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.Msg.JobID),
				slog.String("error", err.Error()),
			)
			if nackErr := msg.Delivery.Nack(false, true); nackErr != nil {
				c.logger.Error("Failed to NACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Msg.JobID),
					slog.String("error", nackErr.Error()),
				)
			}

		default:
			// Terminal application failure, already recorded on the job
			// row; redelivery would only repeat it.
			c.logger.Warn("Job failed terminally",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.Msg.JobID),
				slog.String("error", err.Error()),
			)
			if ackErr := msg.Delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK failed job message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}

	c.logger.Info("Worker goroutine stopped",
		slog.String("worker_name", workerName),
	)
}
