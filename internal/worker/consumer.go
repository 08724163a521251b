package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/quanglt/vulnscan-be/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// dispatch reads broker deliveries and hands parsed messages to the worker
// pool. It returns when the delivery channel closes (connection loss) or the
// context is canceled.
func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, jobsChan chan<- *domain.JobMessage) {
	c.logger.Info("Message dispatcher started",
		slog.String("worker_id", c.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}

			msg, err := parseMessage(delivery.Body)
			if err != nil {
				c.logger.Error("Poison message on queue, rejecting without requeue",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Never requeue a message we cannot parse; requeueing
				// would loop it forever.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			jobMsg := &domain.JobMessage{
				Msg:      *msg,
				Delivery: delivery,
			}

			select {
			case jobsChan <- jobMsg:
				c.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				c.logger.Info("Message dispatcher stopped while dispatching job")
				// Requeue so another consumer picks it up after shutdown
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// parseMessage validates the queue message shape; any defect makes the
// message poison
func parseMessage(body []byte) (*domain.QueueMessage, error) {
	var msg domain.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, domain.ErrMalformedMessage
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, domain.ErrMalformedMessage
	}

	if msg.JobType != domain.JobTypeScan && msg.JobType != domain.JobTypeLookup {
		return nil, domain.ErrMalformedMessage
	}

	if msg.Target == "" {
		return nil, domain.ErrMalformedMessage
	}

	return &msg, nil
}
