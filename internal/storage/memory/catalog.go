package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Catalog — in-memory каталог товаров, вариантов и кодов скидок.
type Catalog struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	variants  map[string]domain.Variant
	discounts map[string]domain.Discount
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		products:  make(map[string]domain.Product),
		variants:  make(map[string]domain.Variant),
		discounts: make(map[string]domain.Discount),
	}
}

// PutProduct добавляет или заменяет товар вместе с вариантами.
func (c *Catalog) PutProduct(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.products[p.ID]; ok {
		for _, v := range old.Variants {
			delete(c.variants, v.ID)
		}
	}
	variants := make([]domain.Variant, len(p.Variants))
	copy(variants, p.Variants)
	for i := range variants {
		variants[i].ProductID = p.ID
		c.variants[variants[i].ID] = variants[i]
	}
	p.Variants = variants
	c.products[p.ID] = p
}

// PutDiscount добавляет или заменяет код скидки.
func (c *Catalog) PutDiscount(d domain.Discount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discounts[normalizeCode(d.Code)] = d
}

// GetVariants возвращает прайс по найденным вариантам.
func (c *Catalog) GetVariants(_ context.Context, ids []string) (map[string]domain.VariantPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]domain.VariantPrice, len(ids))
	for _, id := range ids {
		v, ok := c.variants[id]
		if !ok {
			continue
		}
		p := c.products[v.ProductID]
		result[id] = domain.VariantPrice{
			VariantID:       v.ID,
			ProductID:       p.ID,
			ProductName:     p.Name,
			SKU:             v.SKU,
			BasePriceMinor:  p.BasePriceMinor,
			PriceDeltaMinor: v.PriceDeltaMinor,
			VariantActive:   v.Active,
			ProductActive:   p.Active,
		}
	}
	return result, nil
}

// ListActiveProducts возвращает активные товары, отсортированные по имени.
func (c *Catalog) ListActiveProducts(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if !p.Active {
			continue
		}
		active := make([]domain.Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			if v.Active {
				active = append(active, v)
			}
		}
		p.Variants = active
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ResolveDiscount ищет активный код скидки без учёта регистра.
func (c *Catalog) ResolveDiscount(_ context.Context, code string) (domain.Discount, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.discounts[normalizeCode(code)]
	if !ok || !d.Active {
		return domain.Discount{}, false, nil
	}
	return d, true, nil
}

func (c *Catalog) variantInfo(id string) (domain.Variant, domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.variants[id]
	if !ok {
		return domain.Variant{}, domain.Product{}, false
	}
	return v, c.products[v.ProductID], true
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var (
	_ domain.CatalogReader    = (*Catalog)(nil)
	_ domain.DiscountResolver = (*Catalog)(nil)
)
