// Package producer implements the intake side of the job pipeline: validate
// the target, persist the pending job, then publish it to the broker. The
// database write happens before the publish so a crash in between leaves a
// recoverable pending row rather than an orphan message.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/quanglt/vulnscan-be/internal/api/domain"
	"github.com/quanglt/vulnscan-be/internal/api/model"
	"github.com/quanglt/vulnscan-be/shared/timeauthority"
)

// JobStore is the subset of the storage layer the producer writes through
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	MarkEnqueueFailed(ctx context.Context, jobID, errorMsg string) error
}

// Publisher publishes a durable message and reports confirm failures
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// QueueMessage is the wire format placed on the broker
type QueueMessage struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	Target    string `json:"target"`
	CreatedAt int64  `json:"created_at"`
}

// Producer accepts intake requests and enqueues work
type Producer struct {
	store     JobStore
	publisher Publisher
	clock     timeauthority.Source
	logger    *slog.Logger
}

func New(store JobStore, publisher Publisher, clock timeauthority.Source, logger *slog.Logger) *Producer {
	return &Producer{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// Submit validates the target, writes the pending job, publishes the queue
// message, and returns the job id without waiting for processing.
func (p *Producer) Submit(ctx context.Context, jobType, target string) (string, error) {
	target = strings.TrimSpace(target)

	if err := ValidateTarget(jobType, target); err != nil {
		return "", err
	}

	job := &model.Job{
		JobID:     uuid.New().String(),
		JobType:   jobType,
		Target:    target,
		Status:    domain.JobStatusPending,
		CreatedAt: p.clock.Now(ctx),
	}

	// Write-before-publish: the row must exist before a consumer can see
	// the message.
	if err := p.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	msg := QueueMessage{
		JobID:     job.JobID,
		JobType:   job.JobType,
		Target:    job.Target,
		CreatedAt: job.CreatedAt,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue message: %w", err)
	}

	if err := p.publisher.Publish(ctx, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish job message",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)

		// The caller must learn the job was not enqueued; a silently
		// pending row would never be picked up.
		errMsg := fmt.Sprintf("enqueue failed: %s", err.Error())
		if markErr := p.store.MarkEnqueueFailed(ctx, job.JobID, errMsg); markErr != nil {
			p.logger.Error("Failed to mark job as enqueue-failed",
				slog.String("job_id", job.JobID),
				slog.Any("error", markErr),
			)
		}

		return "", fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}

	p.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("job_type", jobType),
		slog.String("target", target),
	)

	return job.JobID, nil
}
