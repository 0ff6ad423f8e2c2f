package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyRepositoryInMemory хранит ответы чекаута по Idempotency-Key.
type idempotencyRepositoryInMemory struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyRepository(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyRepository(now func() time.Time) *idempotencyRepositoryInMemory {
	return &idempotencyRepositoryInMemory{
		now:   now,
		items: make(map[string]domain.IdempotencyRecord),
	}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(
	_ context.Context,
	key, requestHash string,
	ttlAt time.Time,
) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.items[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneIdempotencyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[key] = record
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok || record.Expired(r.now()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(_ context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(_ context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, body, httpStatus)
}

func (r *idempotencyRepositoryInMemory) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
	return nil
}

// DeleteExpired удаляет не более limit просроченных записей, начиная с самых старых.
func (r *idempotencyRepositoryInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.items {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.items, record.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepositoryInMemory) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), body...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()
	r.items[key] = record
	return nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
