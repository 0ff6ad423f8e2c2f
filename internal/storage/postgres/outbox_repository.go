package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultOutboxBatch = 100
	// outboxLease — на сколько строка, выданная воркеру, скрыта от других воркеров.
	outboxLease = 30 * time.Second
)

type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
}

// NewOutboxRepository создаёт PostgreSQL-outbox событий заказа.
// Несколько воркеров могут читать его параллельно: PullPending выдаёт строки в аренду.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), lease: outboxLease}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending арендует до limit самых старых pending-сообщений.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	rows, err := r.db.QueryContext(ctx, `
		WITH batch AS (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending'
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET locked_until = NOW() + make_interval(secs => $2)
		FROM batch
		WHERE o.id = batch.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at
	`, limit, r.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		msg       domain.OutboxMessage
		createdAt time.Time
	}
	batch := make([]claimed, 0, limit)
	for rows.Next() {
		var c claimed
		if err := rows.Scan(
			&c.msg.ID, &c.msg.AggregateType, &c.msg.AggregateID, &c.msg.EventType, &c.msg.Payload, &c.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не гарантирует порядок.
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].createdAt.Equal(batch[j].createdAt) {
			return batch[i].createdAt.Before(batch[j].createdAt)
		}
		return batch[i].msg.ID < batch[j].msg.ID
	})

	result := make([]domain.OutboxMessage, 0, len(batch))
	for _, c := range batch {
		result = append(result, c.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, "sent")
}

// MarkFailed — терминальный статус: сообщение ушло в DLQ.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, "failed")
}

func (r *outboxRepository) finish(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    locked_until = NULL,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	}
	return requireAffected(res, domain.ErrOutboxPublish)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
