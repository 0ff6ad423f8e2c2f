package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CatalogRepository читает товары, варианты и коды скидок.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-каталог.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

func (r *CatalogRepository) GetVariants(ctx context.Context, ids []string) (map[string]domain.VariantPrice, error) {
	result := make(map[string]domain.VariantPrice, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, p.id, p.name, v.sku, p.base_price_minor, v.price_delta_minor, v.active, p.active
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select variant prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.VariantPrice
		if err := rows.Scan(
			&v.VariantID, &v.ProductID, &v.ProductName, &v.SKU,
			&v.BasePriceMinor, &v.PriceDeltaMinor, &v.VariantActive, &v.ProductActive,
		); err != nil {
			return nil, fmt.Errorf("scan variant price: %w", err)
		}
		result[v.VariantID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant prices: %w", err)
	}
	return result, nil
}

func (r *CatalogRepository) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.base_price_minor,
		       v.id, v.sku, v.size, v.color, v.price_delta_minor
		FROM products p
		JOIN variants v ON v.product_id = p.id AND v.active
		WHERE p.active
		ORDER BY p.name ASC, p.id ASC, v.sku ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			p domain.Product
			v domain.Variant
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.BasePriceMinor, &v.ID, &v.SKU, &v.Size, &v.Color, &v.PriceDeltaMinor); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		v.ProductID = p.ID
		v.Active = true

		pos, ok := index[p.ID]
		if !ok {
			p.Active = true
			products = append(products, p)
			pos = len(products) - 1
			index[p.ID] = pos
		}
		products[pos].Variants = append(products[pos].Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// ResolveDiscount ищет активный код без учёта регистра.
func (r *CatalogRepository) ResolveDiscount(ctx context.Context, code string) (domain.Discount, bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Discount{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		d     domain.Discount
		dtype string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, type, value, min_order_minor, active
		FROM discounts
		WHERE UPPER(code) = $1 AND active
	`, code).Scan(&d.Code, &dtype, &d.Value, &d.MinOrderMinor, &d.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Discount{}, false, nil
		}
		return domain.Discount{}, false, fmt.Errorf("select discount: %w", err)
	}
	d.Type = domain.DiscountType(dtype)
	return d, true, nil
}

var (
	_ domain.CatalogReader    = (*CatalogRepository)(nil)
	_ domain.DiscountResolver = (*CatalogRepository)(nil)
)
