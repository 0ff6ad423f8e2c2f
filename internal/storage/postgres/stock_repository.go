package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// stockRepository хранит счётчики в inventory и журнал в stock_movements.
// Каждая запись счётчика и её движение коммитятся одной транзакцией.
type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Get(ctx context.Context, variantID string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item := domain.StockItem{VariantID: variantID}
	err := r.db.QueryRowContext(ctx, `
		SELECT on_hand, reserved, low_stock_threshold, updated_at
		FROM inventory
		WHERE variant_id = $1
	`, variantID).Scan(&item.OnHand, &item.Reserved, &item.LowStockThreshold, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return item, nil
}

func (r *stockRepository) List(ctx context.Context) ([]domain.InventoryRow, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT i.variant_id, v.sku, v.size, v.color, v.active, p.name,
		       i.on_hand, i.reserved, i.low_stock_threshold
		FROM inventory i
		JOIN variants v ON v.id = i.variant_id
		JOIN products p ON p.id = v.product_id
		ORDER BY p.name ASC, v.sku ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InventoryRow, 0)
	for rows.Next() {
		var row domain.InventoryRow
		if err := rows.Scan(
			&row.VariantID, &row.SKU, &row.Size, &row.Color, &row.Active, &row.ProductName,
			&row.OnHand, &row.Reserved, &row.LowStockThreshold,
		); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory rows: %w", err)
	}
	return result, nil
}

func (r *stockRepository) CompareAndSetReserved(
	ctx context.Context,
	expected domain.StockItem,
	reserved int,
	mv domain.StockMovement,
) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var updated domain.StockItem
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		updated = domain.StockItem{VariantID: expected.VariantID}
		err := tx.QueryRowContext(ctx, `
			UPDATE inventory
			SET reserved = $4,
			    updated_at = NOW()
			WHERE variant_id = $1
			  AND on_hand = $2
			  AND reserved = $3
			  AND $4 BETWEEN 0 AND on_hand
			RETURNING on_hand, reserved, low_stock_threshold, updated_at
		`, expected.VariantID, expected.OnHand, expected.Reserved, reserved).Scan(
			&updated.OnHand, &updated.Reserved, &updated.LowStockThreshold, &updated.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				exists, existsErr := stockRowExistsTx(ctx, tx, expected.VariantID)
				if existsErr != nil {
					return existsErr
				}
				if !exists {
					return domain.ErrStockItemNotFound
				}
				return domain.ErrConcurrentModification
			}
			if isCheckViolation(err) {
				return domain.ErrConcurrentModification
			}
			return fmt.Errorf("compare and set reserved: %w", err)
		}

		_, err = insertMovementTx(ctx, tx, mv)
		return err
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	return updated, nil
}

func (r *stockRepository) ApplyCapture(ctx context.Context, variantID string, qty int, mv domain.StockMovement) (bool, error) {
	return r.applyOnce(ctx, variantID, mv, `
		UPDATE inventory
		SET on_hand = GREATEST(on_hand - $2, 0),
		    reserved = LEAST(GREATEST(reserved - $2, 0), GREATEST(on_hand - $2, 0)),
		    updated_at = NOW()
		WHERE variant_id = $1
	`, qty)
}

func (r *stockRepository) ApplyRelease(ctx context.Context, variantID string, qty int, mv domain.StockMovement) (bool, error) {
	return r.applyOnce(ctx, variantID, mv, `
		UPDATE inventory
		SET reserved = GREATEST(reserved - $2, 0),
		    updated_at = NOW()
		WHERE variant_id = $1
	`, qty)
}

// applyOnce блокирует строку склада, пишет движение и применяет update.
// Повтор по (reason, order, variant) упирается в уникальный индекс и ничего не меняет.
func (r *stockRepository) applyOnce(ctx context.Context, variantID string, mv domain.StockMovement, update string, qty int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	applied := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockStockRowTx(ctx, tx, variantID); err != nil {
			if errors.Is(err, domain.ErrStockItemNotFound) {
				return nil
			}
			return err
		}

		inserted, err := insertMovementTx(ctx, tx, mv)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		if _, err := tx.ExecContext(ctx, update, variantID, qty); err != nil {
			return fmt.Errorf("apply %s: %w", mv.Reason, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *stockRepository) ApplyAdjust(ctx context.Context, variantID string, delta int, mv domain.StockMovement) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var updated domain.StockItem
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := lockStockRowTx(ctx, tx, variantID)
		if err != nil {
			return err
		}

		next := current.OnHand + delta
		if next < current.Reserved {
			next = current.Reserved
		}
		mv.Quantity = next - current.OnHand

		updated = current
		if err := tx.QueryRowContext(ctx, `
			UPDATE inventory
			SET on_hand = $2,
			    updated_at = NOW()
			WHERE variant_id = $1
			RETURNING on_hand, updated_at
		`, variantID, next).Scan(&updated.OnHand, &updated.UpdatedAt); err != nil {
			return fmt.Errorf("adjust on hand: %w", err)
		}

		_, err = insertMovementTx(ctx, tx, mv)
		return err
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	return updated, nil
}

func (r *stockRepository) Movements(ctx context.Context, variantID string) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, variant_id, quantity, reason, order_id, actor_id, note, created_at
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY created_at ASC, id ASC
	`, variantID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			mv                   domain.StockMovement
			reason               string
			orderID, actor, note sql.NullString
		)
		if err := rows.Scan(&mv.ID, &mv.VariantID, &mv.Quantity, &reason, &orderID, &actor, &note, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		mv.Reason = domain.MovementReason(reason)
		mv.OrderID = orderID.String
		mv.ActorID = actor.String
		mv.Note = note.String
		result = append(result, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return result, nil
}

func lockStockRowTx(ctx context.Context, tx *sql.Tx, variantID string) (domain.StockItem, error) {
	item := domain.StockItem{VariantID: variantID}
	err := tx.QueryRowContext(ctx, `
		SELECT on_hand, reserved, low_stock_threshold, updated_at
		FROM inventory
		WHERE variant_id = $1
		FOR UPDATE
	`, variantID).Scan(&item.OnHand, &item.Reserved, &item.LowStockThreshold, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("lock stock row: %w", err)
	}
	return item, nil
}

func stockRowExistsTx(ctx context.Context, tx *sql.Tx, variantID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT variant_id FROM inventory WHERE variant_id = $1`, variantID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check stock row exists: %w", err)
}

// insertMovementTx возвращает false, если такое capture/release уже записано.
func insertMovementTx(ctx context.Context, tx *sql.Tx, mv domain.StockMovement) (bool, error) {
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, variant_id, quantity, reason, order_id, actor_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT DO NOTHING
	`,
		mv.ID, mv.VariantID, mv.Quantity, string(mv.Reason),
		nullString(mv.OrderID), nullString(mv.ActorID), nullString(mv.Note), mv.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert stock movement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stock movement rows affected: %w", err)
	}
	return affected > 0, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
