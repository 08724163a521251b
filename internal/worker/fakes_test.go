package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quanglt/vulnscan-be/internal/worker/domain"
	"github.com/quanglt/vulnscan-be/internal/worker/lookup"
	"github.com/quanglt/vulnscan-be/internal/worker/scanner"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fixedClock int64

func (c fixedClock) Now(context.Context) int64 { return int64(c) }

// storedJob mirrors a jobs row plus its observed transition history
type storedJob struct {
	job         domain.Job
	status      string
	transitions []string
	errorMsg    string
	summary     domain.ResultSummary
	processedAt int64
	completedAt int64
}

// fakeStore implements JobStore with the same guard and transaction semantics
// as the real storage layer: CompleteJob applies the status and the detail
// rows together or not at all
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*storedJob
	rows map[string]map[string]domain.ResultRow

	claimErr    error
	completeErr error
	failErr     error

	completeCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs: make(map[string]*storedJob),
		rows: make(map[string]map[string]domain.ResultRow),
	}
}

func (f *fakeStore) addPendingJob(jobID, jobType, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = &storedJob{
		job: domain.Job{
			JobID:   jobID,
			JobType: jobType,
			Target:  target,
		},
		status:      domain.JobStatusPending,
		transitions: []string{domain.JobStatusPending},
	}
}

func (f *fakeStore) ClaimProcessing(ctx context.Context, jobID string, processedAt int64) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claimErr != nil {
		return nil, f.claimErr
	}

	sj, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	switch sj.status {
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return nil, domain.ErrJobFinalized
	}

	if sj.status != domain.JobStatusProcessing {
		sj.status = domain.JobStatusProcessing
		sj.transitions = append(sj.transitions, domain.JobStatusProcessing)
	}
	if sj.processedAt == 0 {
		sj.processedAt = processedAt
	}

	job := sj.job
	job.Status = sj.status
	return &job, nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID string, completedAt int64, summary domain.ResultSummary, rows []domain.ResultRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completeCalls++
	if f.completeErr != nil {
		// Atomic write: nothing persists on failure
		return f.completeErr
	}

	sj, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s missing", jobID)
	}
	if sj.status == domain.JobStatusCompleted || sj.status == domain.JobStatusFailed {
		return nil
	}

	sj.status = domain.JobStatusCompleted
	sj.transitions = append(sj.transitions, domain.JobStatusCompleted)
	sj.summary = summary
	if sj.completedAt == 0 {
		sj.completedAt = completedAt
	}

	byKey, ok := f.rows[jobID]
	if !ok {
		byKey = make(map[string]domain.ResultRow)
		f.rows[jobID] = byKey
	}
	for _, row := range rows {
		// conflict-do-nothing semantics
		if _, exists := byKey[row.ResultKey]; !exists {
			byKey[row.ResultKey] = row
		}
	}
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, jobID string, completedAt int64, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return f.failErr
	}

	sj, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s missing", jobID)
	}
	if sj.status == domain.JobStatusCompleted || sj.status == domain.JobStatusFailed {
		return nil
	}

	sj.status = domain.JobStatusFailed
	sj.transitions = append(sj.transitions, domain.JobStatusFailed)
	sj.errorMsg = errorMsg
	if sj.completedAt == 0 {
		sj.completedAt = completedAt
	}
	return nil
}

func (f *fakeStore) resultCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[jobID])
}

func (f *fakeStore) jobSnapshot(jobID string) storedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[jobID]
}

type fakeScanner struct {
	report *scanner.Report
	err    error
	delay  func(ctx context.Context)
}

func (f *fakeScanner) Scan(ctx context.Context, target string) (*scanner.Report, error) {
	if f.delay != nil {
		f.delay(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeLookup struct {
	records []lookup.CVERecord
	err     error
}

func (f *fakeLookup) Search(ctx context.Context, keyword string) ([]lookup.CVERecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// fakeAcknowledger records ack/nack calls made through amqp.Delivery
type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []nackCall
}

type nackCall struct {
	tag     uint64
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) ackedTags() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64{}, f.acks...)
}

func (f *fakeAcknowledger) nackCalls() []nackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nackCall{}, f.nacks...)
}

// fakeBroker simulates the queue client for reconnect tests
type fakeBroker struct {
	mu           sync.Mutex
	failConsumes int
	consumeCalls int
	reconnects   int
	deliveries   chan amqp.Delivery
}

func (b *fakeBroker) Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumeCalls++
	if b.consumeCalls <= b.failConsumes {
		return nil, errors.New("broker unavailable")
	}

	if b.deliveries == nil {
		b.deliveries = make(chan amqp.Delivery)
	}
	return b.deliveries, nil
}

func (b *fakeBroker) Reconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconnects++
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	return true
}

func (b *fakeBroker) stats() (consumes, reconnects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumeCalls, b.reconnects
}
