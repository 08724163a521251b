package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quanglt/vulnscan-be/internal/worker/domain"
	"github.com/quanglt/vulnscan-be/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningConsumer(t *testing.T, store JobStore, broker Broker) *Consumer {
	t.Helper()

	c := NewConsumer(&Config{
		Logger:             logger.Nop().Logger,
		Store:              store,
		Broker:             broker,
		Scanner:            &fakeScanner{report: sampleReport()},
		Lookup:             &fakeLookup{},
		Clock:              fixedClock(1700000000),
		WorkerID:           "test-worker",
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	})
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func delivery(ack amqp.Acknowledger, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         body,
	}
}

func queueBody(t *testing.T, jobID, jobType, target string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.QueueMessage{
		JobID:     jobID,
		JobType:   jobType,
		Target:    target,
		CreatedAt: 1699999000,
	})
	require.NoError(t, err)
	return body
}

func TestConsumer_ValidMessageProcessedAndAcked(t *testing.T) {
	store := newFakeStore()
	store.addPendingJob(testScanJobID, domain.JobTypeScan, "203.0.113.10")

	broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}
	newRunningConsumer(t, store, broker)

	ack := &fakeAcknowledger{}
	broker.deliveries <- delivery(ack, 7, queueBody(t, testScanJobID, domain.JobTypeScan, "203.0.113.10"))

	require.Eventually(t, func() bool {
		return len(ack.ackedTags()) == 1
	}, 2*time.Second, 5*time.Millisecond, "valid message should be acked after processing")

	assert.Equal(t, []uint64{7}, ack.ackedTags())
	assert.Empty(t, ack.nackCalls())
	assert.Equal(t, domain.JobStatusCompleted, store.jobSnapshot(testScanJobID).status)
}

func TestConsumer_PoisonMessageNackedWithoutRequeue(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("definitely not json")},
		{name: "bad job id", body: queueBodyRaw(`{"job_id":"not-a-uuid","job_type":"scan","target":"x"}`)},
		{name: "unknown job type", body: queueBodyRaw(`{"job_id":"6f1d2c3b-4a5e-4f60-9a71-8b2c3d4e5f60","job_type":"exfiltrate","target":"x"}`)},
		{name: "empty target", body: queueBodyRaw(`{"job_id":"6f1d2c3b-4a5e-4f60-9a71-8b2c3d4e5f60","job_type":"scan","target":""}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}
			newRunningConsumer(t, newFakeStore(), broker)

			ack := &fakeAcknowledger{}
			broker.deliveries <- delivery(ack, 3, tt.body)

			require.Eventually(t, func() bool {
				return len(ack.nackCalls()) == 1
			}, 2*time.Second, 5*time.Millisecond)

			calls := ack.nackCalls()
			assert.Equal(t, uint64(3), calls[0].tag)
			assert.False(t, calls[0].requeue, "poison messages must never requeue")
			assert.Empty(t, ack.ackedTags())
		})
	}
}

func queueBodyRaw(s string) []byte { return []byte(s) }

func TestConsumer_RetryableFailureNackedWithRequeue(t *testing.T) {
	store := newFakeStore()
	store.addPendingJob(testScanJobID, domain.JobTypeScan, "203.0.113.10")
	store.completeErr = assert.AnError

	broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}
	newRunningConsumer(t, store, broker)

	ack := &fakeAcknowledger{}
	broker.deliveries <- delivery(ack, 9, queueBody(t, testScanJobID, domain.JobTypeScan, "203.0.113.10"))

	require.Eventually(t, func() bool {
		return len(ack.nackCalls()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	calls := ack.nackCalls()
	assert.True(t, calls[0].requeue, "store failures must requeue so delivery retries")
	assert.Empty(t, ack.ackedTags())
}

func TestConsumer_TerminalFailureAcked(t *testing.T) {
	store := newFakeStore()
	// No job row behind the message: terminal, ack to drop it
	broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}
	newRunningConsumer(t, store, broker)

	ack := &fakeAcknowledger{}
	broker.deliveries <- delivery(ack, 4, queueBody(t, testScanJobID, domain.JobTypeScan, "203.0.113.10"))

	require.Eventually(t, func() bool {
		return len(ack.ackedTags()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, ack.nackCalls())
}

func TestConsumer_StartStopIdempotent(t *testing.T) {
	broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}
	c := NewConsumer(&Config{
		Logger:             logger.Nop().Logger,
		Store:              newFakeStore(),
		Broker:             broker,
		Scanner:            &fakeScanner{},
		Lookup:             &fakeLookup{},
		Clock:              fixedClock(1700000000),
		WorkerID:           "test-worker",
		ReconnectBaseDelay: time.Millisecond,
	})

	assert.False(t, c.Status().Running)

	c.Start(context.Background())
	c.Start(context.Background()) // second start is a no-op

	require.Eventually(t, func() bool {
		return c.Status().Running
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "test-worker", c.Status().WorkerID)

	c.Stop()
	assert.False(t, c.Status().Running)
	c.Stop() // second stop is a no-op

	// The lifecycle supports restart after a clean stop
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return c.Status().Running
	}, time.Second, 5*time.Millisecond)
	c.Stop()
	assert.False(t, c.Status().Running)
}

func TestConsumer_ReconnectsWithBackoffAndRecovers(t *testing.T) {
	broker := &fakeBroker{failConsumes: 2}
	c := NewConsumer(&Config{
		Logger:             logger.Nop().Logger,
		Store:              newFakeStore(),
		Broker:             broker,
		Scanner:            &fakeScanner{},
		Lookup:             &fakeLookup{},
		Clock:              fixedClock(1700000000),
		WorkerID:           "test-worker",
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	})
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool {
		consumes, _ := broker.stats()
		return consumes >= 3
	}, 2*time.Second, 5*time.Millisecond, "consumer should keep retrying until consume succeeds")

	_, reconnects := broker.stats()
	assert.GreaterOrEqual(t, reconnects, 2)

	// Once consuming, the failure is cleared
	require.Eventually(t, func() bool {
		s := c.Status()
		return s.Running && s.LastError == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConsumer_GivesUpAfterBoundedReconnectAttempts(t *testing.T) {
	broker := &fakeBroker{failConsumes: 1 << 30}
	c := NewConsumer(&Config{
		Logger:               logger.Nop().Logger,
		Store:                newFakeStore(),
		Broker:               broker,
		Scanner:              &fakeScanner{},
		Lookup:               &fakeLookup{},
		Clock:                fixedClock(1700000000),
		WorkerID:             "test-worker",
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    2 * time.Millisecond,
		ReconnectMaxAttempts: 2,
	})
	c.Start(context.Background())

	require.Eventually(t, func() bool {
		return !c.Status().Running
	}, 2*time.Second, 5*time.Millisecond, "consumer should stop itself after exhausting the retry budget")

	status := c.Status()
	assert.Contains(t, status.LastError, "exhausted")

	consumes, reconnects := broker.stats()
	assert.Equal(t, 3, consumes)
	assert.Equal(t, 2, reconnects)
}

func TestConsumer_StopRequeuesUndispatchedDelivery(t *testing.T) {
	store := newFakeStore()
	store.addPendingJob(testScanJobID, domain.JobTypeScan, "203.0.113.10")

	broker := &fakeBroker{deliveries: make(chan amqp.Delivery)}

	// The single worker stays busy until the test releases it, so the
	// second delivery is stuck at the dispatcher when Stop arrives.
	blockScan := make(chan struct{})
	scan := &fakeScanner{
		report: sampleReport(),
		delay:  func(context.Context) { <-blockScan },
	}

	c := NewConsumer(&Config{
		Logger:             logger.Nop().Logger,
		Store:              store,
		Broker:             broker,
		Scanner:            scan,
		Lookup:             &fakeLookup{},
		Clock:              fixedClock(1700000000),
		WorkerID:           "test-worker",
		Concurrency:        1,
		ReconnectBaseDelay: time.Millisecond,
	})
	c.Start(context.Background())

	ackBusy := &fakeAcknowledger{}
	broker.deliveries <- delivery(ackBusy, 1, queueBody(t, testScanJobID, domain.JobTypeScan, "203.0.113.10"))

	// Occupies the dispatcher while the single worker is still busy
	ackWaiting := &fakeAcknowledger{}
	broker.deliveries <- delivery(ackWaiting, 2, queueBody(t, testScanJobID, domain.JobTypeScan, "203.0.113.10"))

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(ackWaiting.nackCalls()) == 1
	}, 2*time.Second, 5*time.Millisecond, "dispatcher should requeue the stuck delivery on shutdown")

	// Release the in-flight job so Stop can drain the pool
	close(blockScan)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	calls := ackWaiting.nackCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].requeue, "undispatched delivery must requeue on shutdown")
}
