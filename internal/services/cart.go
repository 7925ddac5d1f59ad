package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"festival-platform/internal/metrics"
	"festival-platform/internal/models"

	"github.com/google/uuid"
)

// CartService applies cart mutations to a session and persists it. Every
// mutation drops any in-flight checkout attempt.
type CartService struct {
	catalog      CatalogReader
	pricing      *PricingAggregator
	reservations *ReservationManager
	sessions     CartSessionStore
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(catalog CatalogReader, pricing *PricingAggregator, reservations *ReservationManager, sessions CartSessionStore, m *metrics.Metrics) *CartService {
	return &CartService{
		catalog:      catalog,
		pricing:      pricing,
		reservations: reservations,
		sessions:     sessions,
		metrics:      m,
		now:          time.Now,
	}
}

// Session loads the cart session for token, creating an empty one when none
// exists. A session that belonged to a different user is started afresh.
func (s *CartService) Session(ctx context.Context, token string, userID int, email string) (*models.CartSession, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing session token", models.ErrInvalidInput)
	}

	session, err := s.sessions.Load(ctx, token)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		session = models.NewCartSession(token)
	}

	if session.UserID != 0 && userID != 0 && session.UserID != userID {
		log.Printf("cart: session %s changed owner, starting a new cart", token)
		fresh := models.NewCartSession(token)
		fresh.Version = session.Version
		session = fresh
	}
	if userID != 0 {
		session.UserID = userID
		session.UserEmail = email
	}
	if session.Cart == nil {
		session.Cart = models.NewCart()
	}
	return session, nil
}

// maxSessionSaves bounds how often a change is reapplied to a session that
// other requests keep saving
const maxSessionSaves = 3

// saveSession applies fn to session and saves it. When another request saved
// the session first, the stored copy is reloaded into session and fn runs
// again on it, so a stale copy never overwrites newer state.
func saveSession(ctx context.Context, store CartSessionStore, session *models.CartSession,
	reload func(context.Context) (*models.CartSession, error), fn func(*models.CartSession) error) error {
	for attempt := 1; ; attempt++ {
		if err := fn(session); err != nil {
			return err
		}
		err := store.Save(ctx, session)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrSessionChanged) || attempt == maxSessionSaves {
			return fmt.Errorf("failed to save cart session: %w", err)
		}

		fresh, err := reload(ctx)
		if err != nil {
			return err
		}
		*session = *fresh
	}
}

// mutate applies a cart change and drops any checkout in progress
func (s *CartService) mutate(ctx context.Context, session *models.CartSession, fn func(*models.CartSession) error) error {
	token, userID, email := session.Token, session.UserID, session.UserEmail
	reload := func(ctx context.Context) (*models.CartSession, error) {
		return s.Session(ctx, token, userID, email)
	}
	return saveSession(ctx, s.sessions, session, reload, func(cs *models.CartSession) error {
		if err := fn(cs); err != nil {
			return err
		}
		cs.ResetCheckout()
		return nil
	})
}

func (s *CartService) checkStock(ctx context.Context, line models.MerchandiseLine) error {
	variant, err := s.catalog.GetVariant(ctx, line.VariantID)
	if err != nil {
		return err
	}
	if variant.Stock < line.Quantity {
		return fmt.Errorf("variant %d has %d left, %d requested: %w", variant.ID, variant.Stock, line.Quantity, models.ErrInsufficientStock)
	}
	return nil
}

// AddMerchandise resolves the variant for the chosen option values and adds
// quantity of it, incrementing an existing line
func (s *CartService) AddMerchandise(ctx context.Context, session *models.CartSession, productID int, optionValueIDs []int, quantity int) (line *models.MerchandiseLine, err error) {
	defer func() { s.metrics.CartOperation("add_merchandise", err) }()

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", models.ErrInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("product %d: %w", productID, models.ErrItemUnavailable)
		}
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("product %d is inactive: %w", productID, models.ErrItemUnavailable)
	}

	variant, err := s.catalog.ResolveVariant(ctx, productID, optionValueIDs)
	if err != nil {
		return nil, err
	}

	var wanted models.MerchandiseLine
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		wanted = models.MerchandiseLine{ProductID: productID, VariantID: variant.ID, Quantity: quantity}
		if existing, ok := cs.Cart.Get(models.MerchandiseKey(variant.ID)); ok {
			wanted.Quantity += existing.Merchandise.Quantity
		}
		if variant.Stock < wanted.Quantity {
			return fmt.Errorf("variant %d has %d left, %d requested: %w", variant.ID, variant.Stock, wanted.Quantity, models.ErrInsufficientStock)
		}
		return cs.Cart.AddMerchandise(models.MerchandiseLine{ProductID: productID, VariantID: variant.ID, Quantity: quantity})
	})
	if err != nil {
		return nil, err
	}
	return &wanted, nil
}

// AddCampsiteBooking holds the campsite for the session's user and adds the
// booking to the cart. Only authenticated users can hold a site.
func (s *CartService) AddCampsiteBooking(ctx context.Context, session *models.CartSession, campsiteID int, checkIn, checkOut time.Time, guestCount int) (line *models.BookingLine, err error) {
	defer func() { s.metrics.CartOperation("add_booking", err) }()

	if !session.IsAuthenticated() {
		return nil, fmt.Errorf("%w: sign in to book a campsite", models.ErrUnauthorized)
	}

	booking, err := s.reservations.Reserve(ctx, models.BookingRequest{
		UserID:     session.UserID,
		CampsiteID: campsiteID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		GuestCount: guestCount,
	})
	if err != nil {
		return nil, err
	}

	line = &models.BookingLine{
		BookingID:   booking.ID,
		CampsiteID:  booking.CampsiteID,
		CheckIn:     booking.CheckIn,
		CheckOut:    booking.CheckOut,
		GuestCount:  booking.GuestCount,
		CachedTotal: booking.TotalPrice,
	}
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		return cs.Cart.Put(models.CartItem{Kind: models.KindCampsiteBooking, Booking: line})
	})
	if err != nil {
		s.releaseQuietly(ctx, booking.ID, booking.UserID)
		return nil, err
	}
	return line, nil
}

func (s *CartService) releaseQuietly(ctx context.Context, bookingID, userID int) {
	if err := s.reservations.Release(context.WithoutCancel(ctx), bookingID, userID); err != nil {
		log.Printf("cart: failed to release booking %d: %v", bookingID, err)
	}
}

// AddEventRegistrationDraft is step one of the registration wizard. It
// validates attendees against the event's attendee types and stores a draft
// in the cart. Nothing is written to the database until commit.
func (s *CartService) AddEventRegistrationDraft(ctx context.Context, session *models.CartSession, eventID int, attendees []models.Attendee) (draft *models.RegistrationDraft, err error) {
	defer func() { s.metrics.CartOperation("add_registration", err) }()

	if len(attendees) == 0 {
		return nil, fmt.Errorf("%w: at least one attendee is required", models.ErrInvalidInput)
	}

	exists, err := s.catalog.EventExists(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("event %d: %w", eventID, models.ErrNotFound)
	}

	types, err := s.catalog.ListAttendeeTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int]*models.AttendeeType, len(types))
	for i := range types {
		allowed[types[i].ID] = &types[i]
	}

	now := s.now()
	for i, attendee := range attendees {
		t, ok := allowed[attendee.AttendeeTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: attendee %d has a type not offered for this event", models.ErrInvalidInput, i+1)
		}
		if err := attendee.ValidateFor(t, now); err != nil {
			return nil, fmt.Errorf("attendee %d: %w", i+1, err)
		}
	}

	draft = &models.RegistrationDraft{
		DraftID:            uuid.NewString(),
		EventID:            eventID,
		Attendees:          attendees,
		SubEventSelections: map[int][]int{},
		Step:               models.StepAttendees,
	}
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		return cs.Cart.Put(models.CartItem{Kind: models.KindEventRegistration, Registration: draft})
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// SelectSubEvents is step two of the registration wizard. selections maps a
// sub-event id to the indices of the attendees taking it. An empty map is a
// valid choice and still completes the draft.
func (s *CartService) SelectSubEvents(ctx context.Context, session *models.CartSession, draftID string, selections map[int][]int) (draft *models.RegistrationDraft, err error) {
	defer func() { s.metrics.CartOperation("select_sub_events", err) }()

	var updated models.RegistrationDraft
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		item, ok := cs.Cart.Get(models.RegistrationKey(draftID))
		if !ok {
			return fmt.Errorf("registration draft %s: %w", draftID, models.ErrNotFound)
		}
		updated = item.Registration.Clone()

		normalized, err := models.NormalizeSelections(selections, len(updated.Attendees))
		if err != nil {
			return err
		}
		for subEventID := range normalized {
			sub, err := s.catalog.GetSubEvent(ctx, subEventID)
			if err != nil {
				return err
			}
			if sub.EventID != updated.EventID {
				return fmt.Errorf("%w: sub-event %d does not belong to event %d", models.ErrInvalidInput, subEventID, updated.EventID)
			}
		}

		updated.SubEventSelections = normalized
		updated.Step = models.StepComplete
		return cs.Cart.Put(models.CartItem{Kind: models.KindEventRegistration, Registration: &updated})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateQuantity sets the quantity of a merchandise line
func (s *CartService) UpdateQuantity(ctx context.Context, session *models.CartSession, key models.CartKey, quantity int) (err error) {
	defer func() { s.metrics.CartOperation("update_quantity", err) }()

	if key.Kind != models.KindMerchandise {
		return fmt.Errorf("%w: only merchandise quantities can change", models.ErrInvalidInput)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", models.ErrInvalidInput)
	}
	return s.mutate(ctx, session, func(cs *models.CartSession) error {
		item, ok := cs.Cart.Get(key)
		if !ok {
			return fmt.Errorf("cart item %s: %w", key, models.ErrNotFound)
		}

		line := *item.Merchandise
		line.Quantity = quantity
		if err := s.checkStock(ctx, line); err != nil {
			return err
		}
		return cs.Cart.Put(models.CartItem{Kind: models.KindMerchandise, Merchandise: &line})
	})
}

// Remove deletes a cart line. A booking line also releases its row if it is
// still pending and owned by the session's user.
func (s *CartService) Remove(ctx context.Context, session *models.CartSession, key models.CartKey) (err error) {
	defer func() { s.metrics.CartOperation("remove", err) }()

	var removed models.CartItem
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		item, ok := cs.Cart.Delete(key)
		if !ok {
			return fmt.Errorf("cart item %s: %w", key, models.ErrNotFound)
		}
		removed = item
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Kind == models.KindCampsiteBooking && session.IsAuthenticated() {
		s.releaseQuietly(ctx, removed.Booking.BookingID, session.UserID)
	}
	return nil
}

// Clear empties the cart. Held bookings are left for the sweeper.
func (s *CartService) Clear(ctx context.Context, session *models.CartSession) (err error) {
	defer func() { s.metrics.CartOperation("clear", err) }()

	return s.mutate(ctx, session, func(cs *models.CartSession) error {
		cs.Cart.Clear()
		return nil
	})
}

// Abandon releases every held booking and then empties the cart
func (s *CartService) Abandon(ctx context.Context, session *models.CartSession) (err error) {
	defer func() { s.metrics.CartOperation("abandon", err) }()

	released := make(map[int]bool)
	if session.IsAuthenticated() {
		for _, line := range session.Cart.BookingLines() {
			if err := s.reservations.Release(ctx, line.BookingID, session.UserID); err != nil {
				return err
			}
			released[line.BookingID] = true
		}
	}

	// A newer copy of the session may hold bookings this one did not
	var late []int
	err = s.mutate(ctx, session, func(cs *models.CartSession) error {
		late = late[:0]
		for _, line := range cs.Cart.BookingLines() {
			if !released[line.BookingID] {
				late = append(late, line.BookingID)
			}
		}
		cs.Cart.Clear()
		return nil
	})
	if err != nil {
		return err
	}
	if session.IsAuthenticated() {
		for _, id := range late {
			s.releaseQuietly(ctx, id, session.UserID)
		}
	}
	return nil
}

// View prices the cart for display. Lines that can no longer be bought are
// marked unavailable rather than failing the view.
func (s *CartService) View(ctx context.Context, session *models.CartSession) (*Quote, error) {
	return s.pricing.DisplayQuote(ctx, session.UserID, session.Cart)
}
