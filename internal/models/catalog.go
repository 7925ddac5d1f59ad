package models

// Product is a merchandise item with a base price
type Product struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	BasePrice Money  `json:"base_price"`
	Active    bool   `json:"active"`
}

// Variant is a purchasable option combination of a product. PriceOverride,
// when set, replaces the product's base price.
type Variant struct {
	ID            int    `json:"id"`
	ProductID     int    `json:"product_id"`
	SKU           string `json:"sku"`
	PriceOverride *Money `json:"price_override,omitempty"`
	Stock         int    `json:"stock"`
}

// UnitPrice returns the authoritative price for the variant
func (v *Variant) UnitPrice(p *Product) Money {
	if v.PriceOverride != nil {
		return *v.PriceOverride
	}
	return p.BasePrice
}

// Campsite is a bookable pitch with a nightly rate
type Campsite struct {
	ID          int    `json:"id"`
	Campground  string `json:"campground"`
	Name        string `json:"name"`
	NightlyRate Money  `json:"nightly_rate"`
	MaxGuests   int    `json:"max_guests"`
}

// SubEvent is an optional add-on within an event (workshop, dinner, flight slot)
type SubEvent struct {
	ID      int    `json:"id"`
	EventID int    `json:"event_id"`
	Name    string `json:"name"`
	Cost    Money  `json:"cost"`
}
