package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"festival-platform/internal/models"
	"festival-platform/internal/repositories/memory"

	"github.com/google/uuid"
)

// scriptedGateway returns a fixed confirmation, optionally capturing a
// different amount than the intent was opened for
type scriptedGateway struct {
	name      string
	status    ConfirmationStatus
	captured  *models.Money
	reason    string
	createErr error

	mu      sync.Mutex
	created int
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.mu.Lock()
	g.created++
	id := fmt.Sprintf("%s_intent_%d", g.name, g.created)
	g.mu.Unlock()
	return &models.IntentHandle{Gateway: g.name, IntentID: id, Amount: amount, Currency: currency}, nil
}

func (g *scriptedGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error) {
	switch g.status {
	case ConfirmationSucceeded:
		captured := handle.Amount
		if g.captured != nil {
			captured = *g.captured
		}
		return &Confirmation{Status: ConfirmationSucceeded, TransactionID: "txn_" + handle.IntentID, Captured: captured, Currency: handle.Currency}, nil
	case ConfirmationFailed:
		return &Confirmation{Status: ConfirmationFailed, Reason: g.reason}, nil
	default:
		return &Confirmation{Status: ConfirmationPending}, nil
	}
}

type testEnv struct {
	db           *memory.Store
	catalog      *memory.CatalogRepository
	bookings     *memory.BookingRepository
	sessions     *memory.CartSessionRepository
	attempts     *memory.CheckoutAttemptRepository
	flags        *memory.ReconciliationRepository
	pricing      *PricingAggregator
	reservations *ReservationManager
	cart         *CartService
	checkout     *CheckoutOrchestrator
	gateway      *scriptedGateway
}

// newTestEnv seeds the catalog used by the $85 checkout: a $20 t-shirt, a
// $15/night campsite and an event with a $10 attendee type and a $5 sub-event
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := memory.NewStore()
	db.AddProduct(1, "Festival T-Shirt", models.FromCents(2000))
	db.AddVariant(11, 1, 10, nil, 101)
	override := models.FromCents(2500)
	db.AddVariant(12, 1, 10, &override, 102)
	db.AddCampsite(models.Campsite{ID: 5, Campground: "North Field", Name: "Site 5", NightlyRate: models.FromCents(1500), MaxGuests: 4})
	db.AddEvent(7,
		models.AttendeeType{ID: 70, Name: "General", Price: models.FromCents(1000)},
		models.AttendeeType{ID: 71, Name: "Pilot", Price: models.FromCents(3000), RequiresPilotDetails: true},
	)
	db.AddSubEvent(models.SubEvent{ID: 700, EventID: 7, Name: "Fly-in dinner", Cost: models.FromCents(500)})
	db.AddEvent(8, models.AttendeeType{ID: 80, Name: "General", Price: models.FromCents(1000)})
	db.AddSubEvent(models.SubEvent{ID: 800, EventID: 8, Name: "Other dinner", Cost: models.FromCents(500)})

	env := &testEnv{
		db:       db,
		catalog:  memory.NewCatalogRepository(db),
		bookings: memory.NewBookingRepository(db),
		sessions: memory.NewCartSessionRepository(db),
		attempts: memory.NewCheckoutAttemptRepository(db),
		flags:    memory.NewReconciliationRepository(db),
		gateway:  &scriptedGateway{name: "card", status: ConfirmationSucceeded},
	}
	env.pricing = NewPricingAggregator(env.catalog, env.bookings, "AUD")
	env.reservations = NewReservationManager(env.catalog, env.bookings, time.Hour, nil)
	env.cart = NewCartService(env.catalog, env.pricing, env.reservations, env.sessions, nil)
	env.checkout = NewCheckoutOrchestrator(
		env.pricing,
		NewGatewayRegistry(env.gateway, NewMockGateway(), NewManualGateway()),
		env.attempts,
		env.sessions,
		env.flags,
		NewCommitter(memory.NewCheckoutRepository(db), CheckoutCommittedTopic),
		nil,
	)
	return env
}

func (e *testEnv) session(t *testing.T, userID int) *models.CartSession {
	t.Helper()
	s, err := e.cart.Session(context.Background(), uuid.NewString(), userID, fmt.Sprintf("user%d@example.com", userID))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func (e *testEnv) reload(t *testing.T, s *models.CartSession) *models.CartSession {
	t.Helper()
	loaded, err := e.sessions.Load(context.Background(), s.Token)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return loaded
}

func stayDates(offsetDays, nights int) (time.Time, time.Time) {
	in := models.DateOnly(time.Now()).AddDate(0, 0, offsetDays)
	return in, in.AddDate(0, 0, nights)
}

// fill85 builds the cart from the reference scenario: 2 t-shirts ($40),
// 2 nights camping ($30) and one registration with one sub-event ($15)
func (e *testEnv) fill85(t *testing.T, s *models.CartSession) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.cart.AddMerchandise(ctx, s, 1, []int{101}, 2); err != nil {
		t.Fatalf("add merchandise: %v", err)
	}
	in, out := stayDates(10, 2)
	if _, err := e.cart.AddCampsiteBooking(ctx, s, 5, in, out, 2); err != nil {
		t.Fatalf("add booking: %v", err)
	}
	draft, err := e.cart.AddEventRegistrationDraft(ctx, s, 7, []models.Attendee{
		{AttendeeTypeID: 70, FirstName: "Alex", LastName: "Reed", Email: "alex@example.com"},
	})
	if err != nil {
		t.Fatalf("add registration: %v", err)
	}
	if _, err := e.cart.SelectSubEvents(ctx, s, draft.DraftID, map[int][]int{700: {0}}); err != nil {
		t.Fatalf("select sub-events: %v", err)
	}
}

var testAddress = models.ShippingAddress{
	Name:       "Alex Reed",
	Line1:      "12 Hangar Rd",
	City:       "Temora",
	State:      "NSW",
	PostalCode: "2666",
	Country:    "AU",
}

func day(d int) time.Time {
	return time.Date(2030, 1, d, 0, 0, 0, 0, time.UTC)
}

// fillShirtsAndCamping builds the merchandise and camping cart: 2 t-shirts
// at $20 and 3 nights on a $15 site, $85 with no registration
func (e *testEnv) fillShirtsAndCamping(t *testing.T, s *models.CartSession) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.cart.AddMerchandise(ctx, s, 1, []int{101}, 2); err != nil {
		t.Fatalf("add merchandise: %v", err)
	}
	in, out := stayDates(20, 3)
	if _, err := e.cart.AddCampsiteBooking(ctx, s, 5, in, out, 2); err != nil {
		t.Fatalf("add booking: %v", err)
	}
}

// racingSessions runs before once, just ahead of the next save, the way a
// request from another tab lands between a load and a save
type racingSessions struct {
	CartSessionStore
	before func(ctx context.Context)
}

func (r *racingSessions) Save(ctx context.Context, session *models.CartSession) error {
	if fn := r.before; fn != nil {
		r.before = nil
		fn(ctx)
	}
	return r.CartSessionStore.Save(ctx, session)
}
