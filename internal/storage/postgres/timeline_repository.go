package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-журнал событий заказа.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if strings.TrimSpace(event.OrderID) == "" || strings.TrimSpace(event.Type) == "" {
		return domain.NewValidationError("timeline", "order id and type are required")
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает события в порядке записи.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of %s: %w", orderID, err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
