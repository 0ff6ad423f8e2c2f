package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var _ domain.IdempotencyRepository = (*stubCleanupRepo)(nil)

func TestCleanupWorker_Sweep_DrainsInBatches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	worker := NewCleanupWorker(repo, WithBatchSize(2))

	deleted, err := worker.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, 3, repo.calls())
}

func TestCleanupWorker_Sweep_StopsAtBatchLimit(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 2, 2}}
	worker := NewCleanupWorker(repo, WithBatchSize(2), WithMaxBatches(2))

	deleted, err := worker.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	assert.Equal(t, 2, repo.calls())
}

func TestCleanupWorker_Sweep_ReportsPartialProgressOnError(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{10},
		deleteErrors:  []error{nil, errors.New("connection reset")},
	}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.Sweep(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, 10, deleted)
}

func TestCleanupWorker_Sweep_MemoryRepositoryKeepsLiveKeys(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"checkout-a", "checkout-b", "checkout-c"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "checkout-live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	deleted, err := NewCleanupWorker(repo, WithBatchSize(2)).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = repo.Get(ctx, "checkout-live")
	require.NoError(t, err)
}

func TestCleanupWorker_Sweep_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &stubCleanupRepo{}
	_, err := NewCleanupWorker(repo).Sweep(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls())
}

func TestCleanupWorker_Run_RecordsMetricsAndStops(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubCleanupRepo{deleteResults: []int{3}}
	rec := &cleanupRecorder{}
	worker := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
		WithMetrics(rec),
		WithClock(func() time.Time { return fixed }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return rec.runs() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	assert.Equal(t, 3, rec.deletedTotal())
	assert.Equal(t, fixed, repo.lastCutoff())
}

func TestCleanupWorker_Run_RecordsFailure(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("db down")}}
	rec := &cleanupRecorder{}
	worker := NewCleanupWorker(repo, WithInterval(time.Hour), WithMetrics(rec))

	worker.runOnce(context.Background())
	assert.Equal(t, map[string]int{"error": 1}, rec.results())
}

func TestCleanupWorker_Run_NilRepo(t *testing.T) {
	t.Parallel()

	NewCleanupWorker(nil).Run(context.Background())
}

type cleanupRecorder struct {
	mu      sync.Mutex
	byLabel map[string]int
	deleted int
}

func (r *cleanupRecorder) RecordIdempotencyCleanup(result string, deleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byLabel == nil {
		r.byLabel = map[string]int{}
	}
	r.byLabel[result]++
	r.deleted += deleted
}

func (r *cleanupRecorder) runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.byLabel {
		total += n
	}
	return total
}

func (r *cleanupRecorder) results() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.byLabel))
	for k, v := range r.byLabel {
		out[k] = v
	}
	return out
}

func (r *cleanupRecorder) deletedTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}

type stubCleanupRepo struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
	cutoff        time.Time
}

func (s *stubCleanupRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkDone(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkFailed(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) Delete(context.Context, string) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.cutoff = before

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubCleanupRepo) lastCutoff() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoff
}
