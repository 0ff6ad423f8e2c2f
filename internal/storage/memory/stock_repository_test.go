package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newSeededStock(t *testing.T) *stockRepositoryInMemory {
	t.Helper()
	catalog := NewCatalog()
	stock := NewStockRepository(catalog)
	SeedDemo(catalog, stock)
	return stock
}

func TestStockRepository_CompareAndSetReserved(t *testing.T) {
	ctx := context.Background()
	stock := newSeededStock(t)

	read, err := stock.Get(ctx, DemoTeeWhiteM)
	require.NoError(t, err)

	updated, err := stock.CompareAndSetReserved(ctx, read, read.Reserved+3, domain.StockMovement{
		VariantID: DemoTeeWhiteM, Quantity: 3, Reason: domain.MovementOrderReserve, OrderID: "ord-1",
	})
	require.NoError(t, err)
	require.Equal(t, 3, updated.Reserved)

	// Повторная запись с устаревшим снимком должна проиграть.
	_, err = stock.CompareAndSetReserved(ctx, read, read.Reserved+1, domain.StockMovement{
		VariantID: DemoTeeWhiteM, Quantity: 1, Reason: domain.MovementOrderReserve, OrderID: "ord-2",
	})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)

	movements, err := stock.Movements(ctx, DemoTeeWhiteM)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, "ord-1", movements[0].OrderID)
}

func TestStockRepository_CompareAndSetReserved_RejectsOverOnHand(t *testing.T) {
	ctx := context.Background()
	stock := newSeededStock(t)

	read, err := stock.Get(ctx, DemoCapArchived)
	require.NoError(t, err)

	_, err = stock.CompareAndSetReserved(ctx, read, read.OnHand+1, domain.StockMovement{
		VariantID: DemoCapArchived, Reason: domain.MovementOrderReserve, OrderID: "ord-1",
	})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestStockRepository_CaptureIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	stock := NewStockRepository(nil)
	stock.Put(domain.StockItem{VariantID: "v1", OnHand: 5, Reserved: 2})

	mv := domain.StockMovement{VariantID: "v1", Quantity: -2, Reason: domain.MovementOrderCapture, OrderID: "ord-1"}
	applied, err := stock.ApplyCapture(ctx, "v1", 2, mv)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = stock.ApplyCapture(ctx, "v1", 2, mv)
	require.NoError(t, err)
	require.False(t, applied)

	item, err := stock.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 3, item.OnHand)
	require.Equal(t, 0, item.Reserved)

	movements, err := stock.Movements(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestStockRepository_CaptureMissingRowIsNoop(t *testing.T) {
	stock := NewStockRepository(nil)

	applied, err := stock.ApplyCapture(context.Background(), "ghost", 1, domain.StockMovement{
		VariantID: "ghost", Reason: domain.MovementOrderCapture, OrderID: "ord-1",
	})
	require.NoError(t, err)
	require.False(t, applied)
}

func TestStockRepository_ReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	stock := NewStockRepository(nil)
	stock.Put(domain.StockItem{VariantID: "v1", OnHand: 5, Reserved: 1})

	applied, err := stock.ApplyRelease(ctx, "v1", 4, domain.StockMovement{
		VariantID: "v1", Quantity: -4, Reason: domain.MovementOrderRelease, OrderID: "ord-1",
	})
	require.NoError(t, err)
	require.True(t, applied)

	item, err := stock.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 0, item.Reserved)
	require.Equal(t, 5, item.OnHand)
}

func TestStockRepository_AdjustFloorsAtReserved(t *testing.T) {
	ctx := context.Background()
	stock := NewStockRepository(nil)
	stock.Put(domain.StockItem{VariantID: "v1", OnHand: 5, Reserved: 3})

	item, err := stock.ApplyAdjust(ctx, "v1", -10, domain.StockMovement{
		VariantID: "v1", Reason: domain.MovementAdminAdjust, ActorID: "admin-1", Note: "inventory count",
	})
	require.NoError(t, err)
	require.Equal(t, 3, item.OnHand)
	require.True(t, item.Consistent())

	movements, err := stock.Movements(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, -2, movements[0].Quantity)

	_, err = stock.ApplyAdjust(ctx, "missing", 1, domain.StockMovement{VariantID: "missing"})
	require.ErrorIs(t, err, domain.ErrStockItemNotFound)
}

func TestStockRepository_ListJoinsCatalog(t *testing.T) {
	stock := newSeededStock(t)

	rows, err := stock.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for _, row := range rows {
		require.NotEmpty(t, row.SKU)
		require.NotEmpty(t, row.ProductName)
		require.Equal(t, domain.DefaultLowStockThreshold, row.LowStockThreshold)
	}
}
