package domain

import "strings"

// ShippingMethod — способ доставки, выбранный на чекауте.
type ShippingMethod string

const (
	ShippingCourier      ShippingMethod = "COURIER"
	ShippingInPostLocker ShippingMethod = "INPOST_LOCKER"
	ShippingDPDPickup    ShippingMethod = "DPD_PICKUP"
)

// PickupProvider — оператор пункта выдачи.
type PickupProvider string

const (
	PickupProviderInPost PickupProvider = "INPOST"
	PickupProviderDPD    PickupProvider = "DPD"
)

// DefaultCountry используется, если страна в адресе не указана.
const DefaultCountry = "PL"

// Address — адрес покупателя.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// PickupPoint — пункт выдачи или паккомат.
type PickupPoint struct {
	Provider     PickupProvider `json:"provider"`
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	AddressLine1 string         `json:"line1"`
	AddressLine2 string         `json:"line2,omitempty"`
	Lat          *float64       `json:"lat,omitempty"`
	Lng          *float64       `json:"lng,omitempty"`
	Type         string         `json:"type,omitempty"`
}

// Shipping — закрытое множество вариантов доставки.
// Реализации есть только в этом пакете.
type Shipping interface {
	Method() ShippingMethod
	DeliveryAddress() Address
	Pickup() (PickupPoint, bool)
	sealedShipping()
}

// CourierShipping — курьерская доставка на адрес.
type CourierShipping struct {
	Address Address
}

func (s CourierShipping) Method() ShippingMethod { return ShippingCourier }

func (s CourierShipping) DeliveryAddress() Address { return s.Address }

func (s CourierShipping) Pickup() (PickupPoint, bool) { return PickupPoint{}, false }

func (CourierShipping) sealedShipping() {}

// InPostLockerShipping — доставка в паккомат InPost.
type InPostLockerShipping struct {
	Address Address
	Point   PickupPoint
}

func (s InPostLockerShipping) Method() ShippingMethod { return ShippingInPostLocker }

func (s InPostLockerShipping) DeliveryAddress() Address { return s.Address }

func (s InPostLockerShipping) Pickup() (PickupPoint, bool) { return s.Point, true }

func (InPostLockerShipping) sealedShipping() {}

// DPDPickupShipping — доставка в пункт DPD.
type DPDPickupShipping struct {
	Address Address
	Point   PickupPoint
}

func (s DPDPickupShipping) Method() ShippingMethod { return ShippingDPDPickup }

func (s DPDPickupShipping) DeliveryAddress() Address { return s.Address }

func (s DPDPickupShipping) Pickup() (PickupPoint, bool) { return s.Point, true }

func (DPDPickupShipping) sealedShipping() {}

// ParseShipping собирает вариант доставки из сырых полей запроса и валидирует его.
func ParseShipping(method string, addr Address, point *PickupPoint) (Shipping, error) {
	addr = normalizeAddress(addr)
	if err := validateAddress(addr); err != nil {
		return nil, err
	}

	switch ShippingMethod(strings.TrimSpace(method)) {
	case ShippingCourier:
		return CourierShipping{Address: addr}, nil
	case ShippingInPostLocker:
		p, err := requirePickupPoint(point, PickupProviderInPost)
		if err != nil {
			return nil, err
		}
		return InPostLockerShipping{Address: addr, Point: p}, nil
	case ShippingDPDPickup:
		p, err := requirePickupPoint(point, PickupProviderDPD)
		if err != nil {
			return nil, err
		}
		return DPDPickupShipping{Address: addr, Point: p}, nil
	default:
		return nil, NewValidationError("shippingMethod", "must be one of INPOST_LOCKER, DPD_PICKUP, COURIER")
	}
}

func normalizeAddress(addr Address) Address {
	addr.Street = strings.TrimSpace(addr.Street)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	if addr.Country == "" {
		addr.Country = DefaultCountry
	}
	return addr
}

func validateAddress(addr Address) error {
	switch {
	case addr.Street == "":
		return NewValidationError("address.street", "is required")
	case addr.City == "":
		return NewValidationError("address.city", "is required")
	case addr.PostalCode == "":
		return NewValidationError("address.postalCode", "is required")
	}
	return nil
}

func requirePickupPoint(point *PickupPoint, provider PickupProvider) (PickupPoint, error) {
	if point == nil {
		return PickupPoint{}, NewValidationError("pickupPoint", "is required for the selected shipping method")
	}
	p := *point
	p.ID = strings.TrimSpace(p.ID)
	p.AddressLine1 = strings.TrimSpace(p.AddressLine1)
	if p.Provider != provider {
		return PickupPoint{}, NewValidationError("pickupPoint.provider", "must be "+string(provider))
	}
	if p.ID == "" {
		return PickupPoint{}, NewValidationError("pickupPoint.id", "is required")
	}
	if p.AddressLine1 == "" {
		return PickupPoint{}, NewValidationError("pickupPoint.address.line1", "is required")
	}
	if p.Type != "" && p.Type != "LOCKER" && p.Type != "POINT" {
		return PickupPoint{}, NewValidationError("pickupPoint.type", "must be LOCKER or POINT")
	}
	return p, nil
}
