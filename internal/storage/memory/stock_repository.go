package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// stockRepositoryInMemory хранит счётчики и журнал движений под одним мьютексом,
// так что запись счётчика и движения атомарна.
type stockRepositoryInMemory struct {
	mu        sync.RWMutex
	catalog   *Catalog
	items     map[string]domain.StockItem
	movements []domain.StockMovement
	applied   map[string]struct{}
}

// NewStockRepository создаёт in-memory склад. catalog нужен для админского списка.
func NewStockRepository(catalog *Catalog) *stockRepositoryInMemory {
	return &stockRepositoryInMemory{
		catalog: catalog,
		items:   make(map[string]domain.StockItem),
		applied: make(map[string]struct{}),
	}
}

// Put заводит или перезаписывает строку склада (сидирование и тесты).
func (r *stockRepositoryInMemory) Put(item domain.StockItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.LowStockThreshold == 0 {
		item.LowStockThreshold = domain.DefaultLowStockThreshold
	}
	item.UpdatedAt = time.Now().UTC()
	r.items[item.VariantID] = item
}

func (r *stockRepositoryInMemory) Get(_ context.Context, variantID string) (domain.StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[variantID]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return item, nil
}

func (r *stockRepositoryInMemory) List(_ context.Context) ([]domain.InventoryRow, error) {
	r.mu.RLock()
	items := make([]domain.StockItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	r.mu.RUnlock()

	rows := make([]domain.InventoryRow, 0, len(items))
	for _, item := range items {
		row := domain.InventoryRow{
			VariantID:         item.VariantID,
			OnHand:            item.OnHand,
			Reserved:          item.Reserved,
			LowStockThreshold: item.LowStockThreshold,
		}
		if r.catalog != nil {
			if v, p, ok := r.catalog.variantInfo(item.VariantID); ok {
				row.SKU = v.SKU
				row.Size = v.Size
				row.Color = v.Color
				row.Active = v.Active
				row.ProductName = p.Name
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProductName != rows[j].ProductName {
			return rows[i].ProductName < rows[j].ProductName
		}
		return rows[i].SKU < rows[j].SKU
	})
	return rows, nil
}

func (r *stockRepositoryInMemory) CompareAndSetReserved(
	_ context.Context,
	expected domain.StockItem,
	reserved int,
	mv domain.StockMovement,
) (domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[expected.VariantID]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	if current.OnHand != expected.OnHand || current.Reserved != expected.Reserved {
		return domain.StockItem{}, domain.ErrConcurrentModification
	}
	if reserved < 0 || reserved > current.OnHand {
		return domain.StockItem{}, domain.ErrConcurrentModification
	}

	current.Reserved = reserved
	current.UpdatedAt = time.Now().UTC()
	r.items[current.VariantID] = current
	r.appendMovementLocked(mv)
	return current, nil
}

func (r *stockRepositoryInMemory) ApplyCapture(_ context.Context, variantID string, qty int, mv domain.StockMovement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[variantID]
	if !ok {
		return false, nil
	}
	key := appliedKey(mv)
	if _, done := r.applied[key]; done {
		return false, nil
	}

	current.OnHand = clampZero(current.OnHand - qty)
	current.Reserved = clampZero(current.Reserved - qty)
	if current.Reserved > current.OnHand {
		current.Reserved = current.OnHand
	}
	current.UpdatedAt = time.Now().UTC()
	r.items[variantID] = current
	r.applied[key] = struct{}{}
	r.appendMovementLocked(mv)
	return true, nil
}

func (r *stockRepositoryInMemory) ApplyRelease(_ context.Context, variantID string, qty int, mv domain.StockMovement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[variantID]
	if !ok {
		return false, nil
	}
	key := appliedKey(mv)
	if _, done := r.applied[key]; done {
		return false, nil
	}

	current.Reserved = clampZero(current.Reserved - qty)
	current.UpdatedAt = time.Now().UTC()
	r.items[variantID] = current
	r.applied[key] = struct{}{}
	r.appendMovementLocked(mv)
	return true, nil
}

func (r *stockRepositoryInMemory) ApplyAdjust(_ context.Context, variantID string, delta int, mv domain.StockMovement) (domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[variantID]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}

	next := current.OnHand + delta
	if next < current.Reserved {
		next = current.Reserved
	}
	mv.Quantity = next - current.OnHand
	current.OnHand = next
	current.UpdatedAt = time.Now().UTC()
	r.items[variantID] = current
	r.appendMovementLocked(mv)
	return current, nil
}

func (r *stockRepositoryInMemory) Movements(_ context.Context, variantID string) ([]domain.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for _, mv := range r.movements {
		if mv.VariantID == variantID {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (r *stockRepositoryInMemory) appendMovementLocked(mv domain.StockMovement) {
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	r.movements = append(r.movements, mv)
}

// appliedKey — ключ идемпотентности capture/release по заказу и варианту.
func appliedKey(mv domain.StockMovement) string {
	return string(mv.Reason) + "|" + mv.OrderID + "|" + mv.VariantID
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
