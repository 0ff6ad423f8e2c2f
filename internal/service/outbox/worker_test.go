package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func paidEvent(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     domain.TimelineOrderPaid,
		Payload:       []byte(`{"order_id":"order-` + id + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	assert.Equal(t, []string{"msg-1"}, repo.sentIDs)
	assert.Empty(t, repo.failedIDs)
	assert.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-2")}}
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithDLQPublisher(dlqPublisher), WithRetryBaseDelay(0), WithMaxAttempts(3))

	assert.Zero(t, worker.ProcessOnce(context.Background()))
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.sentIDs)
	assert.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlqPublisher.calls())

	var dl deadLetter
	require.NoError(t, json.Unmarshal(dlqPublisher.last().Payload, &dl))
	assert.Equal(t, "msg-2", dl.OutboxID)
	assert.Equal(t, "order-msg-2", dl.AggregateID)
	assert.Contains(t, dl.PublishError, "publish failed")
	assert.JSONEq(t, `{"order_id":"order-msg-2"}`, string(dl.Payload))
}

func TestWorker_ProcessOnce_DLQFailureKeepsMessagePending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-4")}}
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlqPublisher := &stubPublisher{err: errors.New("dlq down")}
	rec := &metricsRecorder{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlqPublisher), WithRetryBaseDelay(0), WithMaxAttempts(2), WithMetrics(rec))
	worker.ProcessOnce(context.Background())

	assert.Empty(t, repo.failedIDs)
	assert.Empty(t, repo.sentIDs)
	assert.Equal(t, 1, rec.count(resultDLQFailed))
	assert.Equal(t, 2, rec.count(resultRetryError))
	assert.Equal(t, 1, rec.lastPending())
}

func TestWorker_ProcessOnce_HoldsLaterEventsOfFailedOrder(t *testing.T) {
	t.Parallel()

	created := domain.OutboxMessage{ID: "m-1", AggregateType: "order", AggregateID: "order-1", EventType: domain.TimelineOrderCreated}
	paid := domain.OutboxMessage{ID: "m-2", AggregateType: "order", AggregateID: "order-1", EventType: domain.TimelineOrderPaid}
	other := domain.OutboxMessage{ID: "m-3", AggregateType: "order", AggregateID: "order-2", EventType: domain.TimelineOrderCreated}

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{created, paid, other}}
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("leader not available")}}
	rec := &metricsRecorder{}

	worker := NewWorker(repo, publisher, WithMaxAttempts(1), WithRetryBaseDelay(0), WithMetrics(rec))

	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	assert.Equal(t, []string{"m-3"}, repo.sentIDs)
	assert.Equal(t, []string{"m-1"}, repo.failedIDs)
	assert.Equal(t, 1, rec.count(resultHeld))
	assert.Equal(t, 2, publisher.calls(), "held event must not reach the broker")
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Len(t, repo.sentIDs, 1)
	assert.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_DrainsMemoryOutbox(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.Enqueue(ctx, paidEvent(id))
		require.NoError(t, err)
	}

	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, WithBatchSize(2), WithRetryBaseDelay(0))

	assert.Equal(t, 2, worker.ProcessOnce(ctx))
	assert.Equal(t, 1, worker.ProcessOnce(ctx))
	assert.Zero(t, worker.ProcessOnce(ctx))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))

	assert.Zero(t, NewWorker(nil, nil, WithRetryBaseDelay(0)).retryBackoff(5))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithPollInterval(5*time.Millisecond), WithRetryBaseDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(&stubOutboxRepo{}, nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker must return immediately")
	}
}

type metricsRecorder struct {
	mu      sync.Mutex
	results map[string]int
	pending int
}

func (m *metricsRecorder) RecordOutboxPublish(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[result]++
}

func (m *metricsRecorder) SetOutboxBacklog(pending int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = pending
}

func (m *metricsRecorder) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[result]
}

func (m *metricsRecorder) lastPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.published = append(s.published, event)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
	_ Metrics                 = (*metricsRecorder)(nil)
)
