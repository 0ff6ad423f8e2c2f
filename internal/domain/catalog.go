package domain

// Product — карточка товара с базовой ценой (брутто, в грошах).
type Product struct {
	ID             string
	Name           string
	BasePriceMinor int64
	Active         bool
	Variants       []Variant
}

// Variant — конкретная продаваемая единица (размер/цвет) со своим SKU.
type Variant struct {
	ID              string
	ProductID       string
	SKU             string
	Size            string
	Color           string
	PriceDeltaMinor int64
	Active          bool
}

// VariantPrice — строка прайса, которую каталог отдаёт ценовому движку.
type VariantPrice struct {
	VariantID       string
	ProductID       string
	ProductName     string
	SKU             string
	BasePriceMinor  int64
	PriceDeltaMinor int64
	VariantActive   bool
	ProductActive   bool
}

// Sellable сообщает, можно ли продавать вариант.
func (v VariantPrice) Sellable() bool {
	return v.VariantActive && v.ProductActive
}

// UnitPriceMinor — итоговая цена единицы: база товара плюс дельта варианта.
func (v VariantPrice) UnitPriceMinor() int64 {
	return v.BasePriceMinor + v.PriceDeltaMinor
}

// DisplayName — имя позиции для снимка заказа.
func (v VariantPrice) DisplayName() string {
	return v.ProductName + " (" + v.SKU + ")"
}
