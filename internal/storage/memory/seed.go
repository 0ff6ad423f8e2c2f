package memory

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Идентификаторы демо-данных стабильны, чтобы ими было удобно пользоваться в curl и нагрузочном тесте.
const (
	DemoHoodieID       = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0a01"
	DemoHoodieBlackM   = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0b01"
	DemoHoodieBlackL   = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0b02"
	DemoTeeID          = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0a02"
	DemoTeeWhiteM      = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0c01"
	DemoCapID          = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0a03"
	DemoCapArchived    = "8b0f2c1e-6a55-4d0e-9a51-3c1f7d8e0d01"
	demoDefaultOnHand  = 25
	demoArchivedOnHand = 3
)

// SeedDemo наполняет каталог и склад демо-ассортиментом.
func SeedDemo(catalog *Catalog, stock *stockRepositoryInMemory) {
	catalog.PutProduct(domain.Product{
		ID:             DemoHoodieID,
		Name:           "Haters Hoodie",
		BasePriceMinor: 22000,
		Active:         true,
		Variants: []domain.Variant{
			{ID: DemoHoodieBlackM, SKU: "HOOD-BLK-M", Size: "M", Color: "black", Active: true},
			{ID: DemoHoodieBlackL, SKU: "HOOD-BLK-L", Size: "L", Color: "black", PriceDeltaMinor: 1000, Active: true},
		},
	})
	catalog.PutProduct(domain.Product{
		ID:             DemoTeeID,
		Name:           "Local Tee",
		BasePriceMinor: 9900,
		Active:         true,
		Variants: []domain.Variant{
			{ID: DemoTeeWhiteM, SKU: "TEE-WHT-M", Size: "M", Color: "white", Active: true},
		},
	})
	catalog.PutProduct(domain.Product{
		ID:             DemoCapID,
		Name:           "Archive Cap",
		BasePriceMinor: 5900,
		Active:         false,
		Variants: []domain.Variant{
			{ID: DemoCapArchived, SKU: "CAP-ARC", Size: "ONE", Color: "grey", Active: true},
		},
	})

	catalog.PutDiscount(domain.Discount{Code: "HATERS10", Type: domain.DiscountPercent, Value: 10, Active: true})
	catalog.PutDiscount(domain.Discount{Code: "LOCAL25", Type: domain.DiscountFixed, Value: 2500, Active: true})

	for _, id := range []string{DemoHoodieBlackM, DemoHoodieBlackL, DemoTeeWhiteM} {
		stock.Put(domain.StockItem{VariantID: id, OnHand: demoDefaultOnHand})
	}
	stock.Put(domain.StockItem{VariantID: DemoCapArchived, OnHand: demoArchivedOnHand})
}
