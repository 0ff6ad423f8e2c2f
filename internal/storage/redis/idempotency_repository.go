package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// keyIdempotency — idem:checkout:{Idempotency-Key} -> JSON записи.
	keyIdempotency = "idem:checkout:%s"

	defaultIdempotencyTTL = 24 * time.Hour
	maxClaimAttempts      = 3
)

type storedRecord struct {
	RequestHash  string                   `json:"request_hash"`
	ResponseBody []byte                   `json:"response_body,omitempty"`
	HTTPStatus   int                      `json:"http_status,omitempty"`
	Status       domain.IdempotencyStatus `json:"status"`
	TTLAt        time.Time                `json:"ttl_at"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// idempotencyRepository держит ключи в Redis с нативным TTL:
// просроченные ключи исчезают сами, воркер очистки не нужен.
type idempotencyRepository struct {
	rdb *goredis.Client
	now func() time.Time
}

// NewIdempotencyRepository создаёт Redis-хранилище ключей Idempotency-Key.
func NewIdempotencyRepository(client *Client) domain.IdempotencyRepository {
	return &idempotencyRepository{
		rdb: client.rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(
	ctx context.Context,
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

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := storedRecord{
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("encode idempotency record: %w", err)
	}

	redisKey := fmt.Sprintf(keyIdempotency, key)
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		claimed, err := r.rdb.SetNX(ctx, redisKey, payload, ttlFor(ttlAt, now)).Result()
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if claimed {
			return record.toDomain(key), nil
		}

		existing, err := r.Get(ctx, key)
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			// Ключ истёк между SETNX и GET, пробуем занять снова.
			continue
		}
		if err != nil {
			return domain.IdempotencyRecord{}, err
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
	return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	raw, err := r.rdb.Get(ctx, fmt.Sprintf(keyIdempotency, key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}
	record, err := decodeRecord(key, raw)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return record.toDomain(key), nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, body, httpStatus)
}

func (r *idempotencyRepository) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := r.rdb.Del(ctx, fmt.Sprintf(keyIdempotency, key)).Err(); err != nil {
		return fmt.Errorf("delete idempotency key %s: %w", key, err)
	}
	return nil
}

// DeleteExpired ничего не делает: Redis удаляет ключи по TTL.
func (r *idempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// finish переписывает запись под WATCH, сохраняя оставшийся TTL.
func (r *idempotencyRepository) finish(
	ctx context.Context,
	key string,
	status domain.IdempotencyStatus,
	body []byte,
	httpStatus int,
) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	redisKey := fmt.Sprintf(keyIdempotency, key)

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return fmt.Errorf("get idempotency key: %w", err)
		}
		record, err := decodeRecord(key, raw)
		if err != nil {
			return err
		}

		record.Status = status
		record.ResponseBody = body
		record.HTTPStatus = httpStatus
		record.UpdatedAt = r.now()
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, redisKey, payload, goredis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, redisKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return fmt.Errorf("finish idempotency key %s: %w", key, err)
		}
		return err
	}
	return fmt.Errorf("finish idempotency key %s: %w", key, goredis.TxFailedErr)
}

func decodeRecord(key string, raw []byte) (storedRecord, error) {
	var record storedRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return storedRecord{}, fmt.Errorf("decode idempotency key %s: %w", key, err)
	}
	if !record.Status.Valid() {
		return storedRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, record.Status)
	}
	return record, nil
}

func (s storedRecord) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  s.RequestHash,
		ResponseBody: append([]byte(nil), s.ResponseBody...),
		HTTPStatus:   s.HTTPStatus,
		Status:       s.Status,
		TTLAt:        s.TTLAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// ttlFor переводит момент истечения в TTL; в прошлом — минимальный TTL, запись сразу истекает.
func ttlFor(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
