package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quanglt/vulnscan-be/internal/api/domain"
	"github.com/quanglt/vulnscan-be/internal/api/model"
	"github.com/quanglt/vulnscan-be/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu            sync.Mutex
	jobs          map[string]*model.Job
	createErr     error
	enqueueFailed map[string]string
	markFailedErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:          make(map[string]*model.Job),
		enqueueFailed: make(map[string]string),
	}
}

func (f *fakeStore) CreateJob(ctx context.Context, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	// insert-if-absent semantics, same as the real storage
	if _, exists := f.jobs[job.JobID]; !exists {
		copied := *job
		f.jobs[job.JobID] = &copied
	}
	return nil
}

func (f *fakeStore) MarkEnqueueFailed(ctx context.Context, jobID, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markFailedErr != nil {
		return f.markFailedErr
	}
	f.enqueueFailed[jobID] = errorMsg
	if job, ok := f.jobs[jobID]; ok {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = errorMsg
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	err       error
	delay     time.Duration
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte, contentType string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type fixedClock int64

func (c fixedClock) Now(context.Context) int64 { return int64(c) }

func TestSubmit_Success(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	p := New(store, pub, fixedClock(1700000000), logger.Nop().Logger)

	jobID, err := p.Submit(context.Background(), domain.JobTypeScan, "192.168.1.10")

	require.NoError(t, err)
	_, err = uuid.Parse(jobID)
	require.NoError(t, err, "job id should be a UUID")

	job := store.jobs[jobID]
	require.NotNil(t, job, "job row should exist")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, int64(1700000000), job.CreatedAt)
	assert.Equal(t, "192.168.1.10", job.Target)

	require.Len(t, pub.published, 1)
	var msg QueueMessage
	require.NoError(t, json.Unmarshal(pub.published[0], &msg))
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, domain.JobTypeScan, msg.JobType)
	assert.Equal(t, "192.168.1.10", msg.Target)
	assert.Equal(t, int64(1700000000), msg.CreatedAt)
}

func TestSubmit_ValidationFailureHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		target  string
	}{
		{"empty scan target", domain.JobTypeScan, ""},
		{"whitespace scan target", domain.JobTypeScan, "   "},
		{"invalid hostname", domain.JobTypeScan, "not a host!"},
		{"empty lookup keyword", domain.JobTypeLookup, ""},
		{"unknown job type", "report", "apache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			pub := &fakePublisher{}
			p := New(store, pub, fixedClock(1), logger.Nop().Logger)

			jobID, err := p.Submit(context.Background(), tt.jobType, tt.target)

			require.ErrorIs(t, err, domain.ErrInvalidTarget)
			assert.Empty(t, jobID)
			assert.Empty(t, store.jobs, "no job row may be created")
			assert.Empty(t, pub.published, "nothing may be published")
		})
	}
}

func TestSubmit_PublishFailureMarksJobFailed(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	p := New(store, pub, fixedClock(1), logger.Nop().Logger)

	jobID, err := p.Submit(context.Background(), domain.JobTypeLookup, "apache")

	require.ErrorIs(t, err, domain.ErrPublishFailed)
	assert.Empty(t, jobID)

	require.Len(t, store.jobs, 1)
	for id, job := range store.jobs {
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Contains(t, store.enqueueFailed[id], "enqueue failed")
		assert.Contains(t, store.enqueueFailed[id], "broker unreachable")
	}
}

func TestSubmit_StoreFailureDoesNotPublish(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	pub := &fakePublisher{}
	p := New(store, pub, fixedClock(1), logger.Nop().Logger)

	_, err := p.Submit(context.Background(), domain.JobTypeScan, "example.com")

	require.Error(t, err)
	assert.Empty(t, pub.published, "write-before-publish: no message without a row")
}

func TestSubmit_NonBlocking(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{delay: 10 * time.Millisecond}
	p := New(store, pub, fixedClock(1), logger.Nop().Logger)

	start := time.Now()
	_, err := p.Submit(context.Background(), domain.JobTypeLookup, "nginx")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		target  string
		wantErr bool
	}{
		{"ipv4", domain.JobTypeScan, "10.0.0.1", false},
		{"ipv6", domain.JobTypeScan, "2001:db8::1", false},
		{"hostname", domain.JobTypeScan, "scanme.example.com", false},
		{"single label host", domain.JobTypeScan, "localhost", false},
		{"hostname with spaces", domain.JobTypeScan, "bad host", true},
		{"hostname with scheme", domain.JobTypeScan, "http://example.com", true},
		{"leading hyphen label", domain.JobTypeScan, "-bad.example.com", true},
		{"keyword", domain.JobTypeLookup, "apache httpd", false},
		{"empty", domain.JobTypeLookup, "", true},
		{"unknown type", "other", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.jobType, tt.target)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidTarget)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
