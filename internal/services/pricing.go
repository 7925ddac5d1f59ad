package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"festival-platform/internal/models"
)

// QuoteLine is one priced cart line
type QuoteLine struct {
	Key         string              `json:"key"`
	Kind        models.CartItemKind `json:"kind"`
	Description string              `json:"description"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   models.Money        `json:"unit_price"`
	Total       models.Money        `json:"total"`
	// Unavailable lines are shown but not priced. Problem says why.
	Unavailable bool   `json:"unavailable,omitempty"`
	Problem     string `json:"problem,omitempty"`
}

// Quote is the authoritative price of a cart. Fields hidden from JSON
// carry what the commit transaction needs to write.
type Quote struct {
	Lines             []QuoteLine  `json:"lines"`
	MerchandiseTotal  models.Money `json:"merchandise_total"`
	BookingTotal      models.Money `json:"booking_total"`
	RegistrationTotal models.Money `json:"registration_total"`
	Total             models.Money `json:"total"`
	Currency          string       `json:"currency"`
	// Unavailable lists the keys of lines left out of the totals. Only a
	// display quote can have any.
	Unavailable []string `json:"unavailable,omitempty"`

	OrderItems    []models.OrderItem          `json:"-"`
	BookingIDs    []int                       `json:"-"`
	Registrations []*models.EventRegistration `json:"-"`
}

// PricingAggregator computes cart totals from current catalog prices and the
// stored totals of provisional bookings. Cached figures in the cart are never used.
type PricingAggregator struct {
	catalog  CatalogReader
	bookings BookingStore
	currency string
}

// NewPricingAggregator creates a new pricing aggregator
func NewPricingAggregator(catalog CatalogReader, bookings BookingStore, currency string) *PricingAggregator {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &PricingAggregator{catalog: catalog, bookings: bookings, currency: currency}
}

// Currency returns the currency every quote is expressed in
func (p *PricingAggregator) Currency() string {
	return p.currency
}

// Quote prices every line of cart for userID. It has no side effects, so two
// calls against unchanged data return equal totals. Any line that can no
// longer be bought fails the whole quote.
func (p *PricingAggregator) Quote(ctx context.Context, userID int, cart *models.Cart) (*Quote, error) {
	return p.quote(ctx, userID, cart, false)
}

// DisplayQuote prices cart for showing to the customer. A booking whose hold
// expired or a product that left the catalog is listed as unavailable and
// left out of the totals, so the rest of the cart can still be shown.
func (p *PricingAggregator) DisplayQuote(ctx context.Context, userID int, cart *models.Cart) (*Quote, error) {
	return p.quote(ctx, userID, cart, true)
}

func (p *PricingAggregator) quote(ctx context.Context, userID int, cart *models.Cart, lenient bool) (*Quote, error) {
	q := &Quote{
		MerchandiseTotal:  models.Zero(),
		BookingTotal:      models.Zero(),
		RegistrationTotal: models.Zero(),
		Total:             models.Zero(),
		Currency:          p.currency,
	}

	for _, key := range cart.Keys() {
		item, _ := cart.Get(key)
		var err error
		switch item.Kind {
		case models.KindMerchandise:
			err = p.priceMerchandise(ctx, q, key, item.Merchandise)
		case models.KindCampsiteBooking:
			err = p.priceBooking(ctx, q, key, userID, item.Booking)
		case models.KindEventRegistration:
			err = p.priceRegistration(ctx, q, key, userID, item.Registration)
		default:
			err = fmt.Errorf("%w: unknown cart item kind %q", models.ErrInvalidInput, item.Kind)
		}
		if err != nil {
			if !lenient || !lineUnavailable(err) {
				return nil, err
			}
			q.Lines = append(q.Lines, unavailableLine(key, item, err))
			q.Unavailable = append(q.Unavailable, key.String())
		}
	}

	q.Total = q.MerchandiseTotal.Add(q.BookingTotal).Add(q.RegistrationTotal)
	return q, nil
}

func lineUnavailable(err error) bool {
	return errors.Is(err, models.ErrBookingNoLongerAvailable) || errors.Is(err, models.ErrItemUnavailable)
}

func unavailableLine(key models.CartKey, item models.CartItem, cause error) QuoteLine {
	line := QuoteLine{
		Key:         key.String(),
		Kind:        item.Kind,
		Quantity:    1,
		UnitPrice:   models.Zero(),
		Total:       models.Zero(),
		Unavailable: true,
		Problem:     cause.Error(),
	}
	switch item.Kind {
	case models.KindMerchandise:
		line.Description = fmt.Sprintf("Product %d", item.Merchandise.ProductID)
		line.Quantity = item.Merchandise.Quantity
	case models.KindCampsiteBooking:
		line.Description = bookingDescription(item.Booking.CampsiteID, item.Booking.CheckIn, item.Booking.CheckOut)
	case models.KindEventRegistration:
		line.Description = fmt.Sprintf("Event %d registration", item.Registration.EventID)
	}
	return line
}

func bookingDescription(campsiteID int, checkIn, checkOut time.Time) string {
	nights := models.Nights(checkIn, checkOut)
	unit := "nights"
	if nights == 1 {
		unit = "night"
	}
	return fmt.Sprintf("Campsite %d, %d %s, %s to %s", campsiteID, nights, unit, checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"))
}

func (p *PricingAggregator) lookupVariant(ctx context.Context, line *models.MerchandiseLine) (*models.Product, *models.Variant, error) {
	variant, err := p.catalog.GetVariant(ctx, line.VariantID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("variant %d: %w", line.VariantID, models.ErrItemUnavailable)
		}
		return nil, nil, err
	}
	if variant.ProductID != line.ProductID {
		return nil, nil, fmt.Errorf("variant %d does not belong to product %d: %w", line.VariantID, line.ProductID, models.ErrItemUnavailable)
	}

	product, err := p.catalog.GetProduct(ctx, variant.ProductID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("product %d: %w", variant.ProductID, models.ErrItemUnavailable)
		}
		return nil, nil, err
	}
	if !product.Active {
		return nil, nil, fmt.Errorf("product %d is inactive: %w", product.ID, models.ErrItemUnavailable)
	}
	return product, variant, nil
}

func (p *PricingAggregator) priceMerchandise(ctx context.Context, q *Quote, key models.CartKey, line *models.MerchandiseLine) error {
	product, variant, err := p.lookupVariant(ctx, line)
	if err != nil {
		return err
	}

	unit := variant.UnitPrice(product)
	total := models.Times(unit, line.Quantity)
	description := product.Name
	if variant.SKU != "" {
		description += " (" + variant.SKU + ")"
	}

	q.Lines = append(q.Lines, QuoteLine{
		Key:         key.String(),
		Kind:        models.KindMerchandise,
		Description: description,
		Quantity:    line.Quantity,
		UnitPrice:   unit,
		Total:       total,
	})
	q.OrderItems = append(q.OrderItems, models.OrderItem{
		ProductID:       product.ID,
		VariantID:       variant.ID,
		Quantity:        line.Quantity,
		PriceAtPurchase: unit,
	})
	q.MerchandiseTotal = q.MerchandiseTotal.Add(total)
	return nil
}

func (p *PricingAggregator) priceBooking(ctx context.Context, q *Quote, key models.CartKey, userID int, line *models.BookingLine) error {
	booking, err := p.bookings.GetByID(ctx, line.BookingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("booking %d: %w", line.BookingID, models.ErrBookingNoLongerAvailable)
		}
		return err
	}
	if !booking.IsPending() || booking.UserID != userID {
		return fmt.Errorf("booking %d: %w", line.BookingID, models.ErrBookingNoLongerAvailable)
	}

	// The stored total prices the whole stay, so the line is a single unit
	q.Lines = append(q.Lines, QuoteLine{
		Key:         key.String(),
		Kind:        models.KindCampsiteBooking,
		Description: bookingDescription(booking.CampsiteID, booking.CheckIn, booking.CheckOut),
		Quantity:    1,
		UnitPrice:   booking.TotalPrice,
		Total:       booking.TotalPrice,
	})
	q.BookingIDs = append(q.BookingIDs, booking.ID)
	q.BookingTotal = q.BookingTotal.Add(booking.TotalPrice)
	return nil
}

func (p *PricingAggregator) priceRegistration(ctx context.Context, q *Quote, key models.CartKey, userID int, draft *models.RegistrationDraft) error {
	types, err := p.catalog.ListAttendeeTypes(ctx, draft.EventID)
	if err != nil {
		return err
	}
	allowed := make(map[int]models.AttendeeType, len(types))
	for _, t := range types {
		allowed[t.ID] = t
	}

	reg := &models.EventRegistration{
		UserID:   userID,
		EventID:  draft.EventID,
		TotalFee: models.Zero(),
	}

	for _, attendee := range draft.Attendees {
		t, ok := allowed[attendee.AttendeeTypeID]
		if !ok {
			return fmt.Errorf("%w: attendee type %d is not offered for event %d", models.ErrInvalidInput, attendee.AttendeeTypeID, draft.EventID)
		}
		reg.Attendees = append(reg.Attendees, models.RegisteredAttendee{Fee: t.Price, Info: attendee})
		reg.TotalFee = reg.TotalFee.Add(t.Price)
	}

	for _, subEventID := range draft.SubEventIDs() {
		sub, err := p.catalog.GetSubEvent(ctx, subEventID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("sub-event %d: %w", subEventID, models.ErrItemUnavailable)
			}
			return err
		}
		if sub.EventID != draft.EventID {
			return fmt.Errorf("%w: sub-event %d does not belong to event %d", models.ErrInvalidInput, subEventID, draft.EventID)
		}
		for _, idx := range draft.SubEventSelections[subEventID] {
			if idx < 0 || idx >= len(draft.Attendees) {
				return fmt.Errorf("%w: attendee index %d out of range", models.ErrInvalidInput, idx)
			}
			reg.SubEvents = append(reg.SubEvents, models.SubEventRegistration{
				SubEventID:    sub.ID,
				AttendeeIndex: idx,
				Fee:           sub.Cost,
			})
			reg.TotalFee = reg.TotalFee.Add(sub.Cost)
		}
	}

	q.Lines = append(q.Lines, QuoteLine{
		Key:         key.String(),
		Kind:        models.KindEventRegistration,
		Description: fmt.Sprintf("Event %d registration, %d attendee(s)", draft.EventID, len(draft.Attendees)),
		Quantity:    len(draft.Attendees),
		UnitPrice:   reg.TotalFee,
		Total:       reg.TotalFee,
	})
	q.Registrations = append(q.Registrations, reg)
	q.RegistrationTotal = q.RegistrationTotal.Add(reg.TotalFee)
	return nil
}

// CheckStock verifies current stock covers every merchandise line. The commit
// transaction repeats the check with a guarded decrement.
func (p *PricingAggregator) CheckStock(ctx context.Context, cart *models.Cart) error {
	for _, line := range cart.MerchandiseLines() {
		_, variant, err := p.lookupVariant(ctx, &line)
		if err != nil {
			return err
		}
		if variant.Stock < line.Quantity {
			return fmt.Errorf("variant %d has %d left, %d requested: %w", variant.ID, variant.Stock, line.Quantity, models.ErrInsufficientStock)
		}
	}
	return nil
}
