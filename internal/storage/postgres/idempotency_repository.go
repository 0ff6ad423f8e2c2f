package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-хранилище ключей Idempotency-Key.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing занимает ключ. Просроченный ключ переиспользуется сразу,
// не дожидаясь воркера очистки.
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

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key
	`, key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now).Scan(&claimed)
	if err == nil {
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyStatusProcessing,
			TTLAt:       ttlAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	// Ключ жив и принадлежит другому запросу.
	existing, getErr := r.Get(ctx, key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1 AND ttl_at > NOW()
	`, key).Scan(
		&record.Key, &record.RequestHash, &record.ResponseBody, &httpStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete idempotency key %s: %w", key, err)
	}
	return nil
}

// DeleteExpired удаляет до limit просроченных ключей, самые старые первыми. limit<=0 — без ограничения.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *idempotencyRepository) finish(
	ctx context.Context,
	key string,
	status domain.IdempotencyStatus,
	responseBody []byte,
	httpStatus int,
) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $2,
		    http_status = $3,
		    status = $4,
		    updated_at = $5
		WHERE key = $1
	`, key, responseBody, httpStatus, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	return requireAffected(res, domain.ErrIdempotencyKeyNotFound)
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
