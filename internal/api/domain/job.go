package domain

import (
	"errors"
)

// Job status lifecycle: pending -> processing -> completed | failed.
// Transitions never regress.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job types
const (
	JobTypeScan   = "scan"
	JobTypeLookup = "lookup"
)

// ProcessedViaQueue tags jobs handled by the queue consumer
const ProcessedViaQueue = "queue_consumer"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidTarget = errors.New("invalid target")
	ErrPublishFailed = errors.New("failed to enqueue job")
)
