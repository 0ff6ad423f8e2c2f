package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.Shipping == nil {
		return domain.NewValidationError("shippingMethod", "is required")
	}
	addr := order.Shipping.DeliveryAddress()

	var pickup []byte
	if point, ok := order.Shipping.Pickup(); ok {
		data, err := json.Marshal(point)
		if err != nil {
			return fmt.Errorf("encode pickup point: %w", err)
		}
		pickup = data
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, email, full_name, phone,
				shipping_method, street, city, postal_code, country, pickup_point,
				status, subtotal_minor, discount_minor, shipping_minor, tax_minor, total_minor,
				currency, discount_code, provider, payment_ref, payment_url,
				version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		`,
			order.ID, order.Customer.Email, order.Customer.FullName, order.Customer.Phone,
			string(order.Shipping.Method()), addr.Street, addr.City, addr.PostalCode, addr.Country, pickup,
			string(order.Status), order.SubtotalMinor, order.DiscountMinor, order.ShippingMinor, order.TaxMinor, order.TotalMinor,
			order.Currency, nullString(order.DiscountCode), order.Provider, nullString(order.PaymentRef), nullString(order.PaymentURL),
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, variant_id, name, sku, qty, unit_price_minor, line_total_minor, position
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				item.ID, order.ID, item.VariantID, item.Name, item.SKU,
				item.Qty, item.UnitPriceMinor, item.LineTotalMinor, i,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order        domain.Order
		status       string
		method       string
		addr         domain.Address
		pickup       []byte
		discountCode sql.NullString
		paymentRef   sql.NullString
		paymentURL   sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, phone,
		       shipping_method, street, city, postal_code, country, pickup_point,
		       status, subtotal_minor, discount_minor, shipping_minor, tax_minor, total_minor,
		       currency, discount_code, provider, payment_ref, payment_url,
		       version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.Customer.Email, &order.Customer.FullName, &order.Customer.Phone,
		&method, &addr.Street, &addr.City, &addr.PostalCode, &addr.Country, &pickup,
		&status, &order.SubtotalMinor, &order.DiscountMinor, &order.ShippingMinor, &order.TaxMinor, &order.TotalMinor,
		&order.Currency, &discountCode, &order.Provider, &paymentRef, &paymentURL,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.DiscountCode = discountCode.String
	order.PaymentRef = paymentRef.String
	order.PaymentURL = paymentURL.String

	var point *domain.PickupPoint
	if len(pickup) > 0 {
		point = &domain.PickupPoint{}
		if err := json.Unmarshal(pickup, point); err != nil {
			return domain.Order{}, fmt.Errorf("decode pickup point of order %s: %w", id, err)
		}
	}
	shipping, err := domain.ParseShipping(method, addr, point)
	if err != nil {
		return domain.Order{}, fmt.Errorf("restore shipping of order %s: %w", id, err)
	}
	order.Shipping = shipping

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// Delete удаляет заказ; позиции уходят каскадом.
func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (r *orderRepository) SetPaymentURL(ctx context.Context, id, url string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_url = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, url, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set payment url: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

// MarkPaid — условный UPDATE: выигрывает ровно одна доставка уведомления.
func (r *orderRepository) MarkPaid(ctx context.Context, id, paymentRef string, paidAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    payment_ref = $3,
			    paid_at = $4,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $1
			  AND status = $5
		`, id, string(domain.OrderStatusPaid), nullString(paymentRef), paidAt,
			string(domain.OrderStatusPendingPayment))
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		exists, err := orderExistsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderStatusConflict
	})
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, variant_id, name, sku, qty, unit_price_minor, line_total_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item := domain.OrderItem{OrderID: orderID}
		if err := rows.Scan(
			&item.ID, &item.VariantID, &item.Name, &item.SKU,
			&item.Qty, &item.UnitPriceMinor, &item.LineTotalMinor,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
