package repositories

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"festival-platform/internal/database"
	"festival-platform/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, migrates it and empties every
// table. The database is wiped, so never point it at real data.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, database.Config{URL: dbURL})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(ctx))
	_, err = db.ExecContext(ctx, `
		TRUNCATE sub_event_registrations, attendee_planes, registration_attendees, event_registrations,
			reconciliation_flags, outbox, checkout_attempts, cart_sessions,
			order_items, orders, bookings, payments,
			product_variant_options, product_option_values, product_options, product_variants, products,
			campsites, sub_events, event_attendee_types, attendee_types, events
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db.DB
}

type pgFixture struct {
	db         *sql.DB
	productID  int
	variantID  int
	campsiteID int
}

// seedCatalog adds a $20 shirt variant holding stock and a $15/night campsite
func seedCatalog(t *testing.T, db *sql.DB, stock int) *pgFixture {
	t.Helper()
	ctx := context.Background()
	f := &pgFixture{db: db}

	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO products (name, base_price) VALUES ('Festival T-Shirt', 20.00) RETURNING id`).Scan(&f.productID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO product_variants (product_id, sku, stock) VALUES ($1, 'TSHIRT-M', $2) RETURNING id`,
		f.productID, stock).Scan(&f.variantID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO campsites (campground, name, nightly_rate, max_guests) VALUES ('North Field', 'Site 1', 15.00, 4) RETURNING id`).Scan(&f.campsiteID))
	return f
}

func (f *pgFixture) booking(t *testing.T, userID int) *models.ProvisionalBooking {
	t.Helper()
	in := models.DateOnly(time.Now()).AddDate(0, 0, 20)
	booking, err := NewBookingRepository(f.db).CreatePending(context.Background(), models.BookingRequest{
		UserID: userID, CampsiteID: f.campsiteID, CheckIn: in, CheckOut: in.AddDate(0, 0, 3), GuestCount: 2,
	}, models.FromCents(4500))
	require.NoError(t, err)
	return booking
}

func (f *pgFixture) attempt(t *testing.T, userID int) *models.CheckoutAttempt {
	t.Helper()
	attempt := &models.CheckoutAttempt{
		SessionToken: uuid.NewString(),
		UserID:       userID,
		Gateway:      "mock",
		IntentID:     "mock_" + uuid.NewString(),
		Amount:       models.FromCents(8500),
		Currency:     "AUD",
	}
	require.NoError(t, NewCheckoutAttemptRepository(f.db).Create(context.Background(), attempt))
	return attempt
}

// plan pays for qty shirts and the given bookings
func (f *pgFixture) plan(attempt *models.CheckoutAttempt, qty int, bookingIDs ...int) *models.CommitPlan {
	return &models.CommitPlan{
		AttemptID:     attempt.ID,
		UserID:        attempt.UserID,
		Gateway:       attempt.Gateway,
		TransactionID: "txn_" + attempt.IntentID,
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
		Order: &models.Order{
			UserID:          attempt.UserID,
			TotalAmount:     models.FromCents(int64(2000 * qty)),
			Currency:        attempt.Currency,
			Status:          models.OrderPaid,
			ShippingAddress: models.ShippingAddress{Name: "Alex Reed", Line1: "12 Hangar Rd", City: "Temora", State: "NSW", PostalCode: "2666", Country: "AU"},
			Items:           []models.OrderItem{{ProductID: f.productID, VariantID: f.variantID, Quantity: qty, PriceAtPurchase: models.FromCents(2000)}},
		},
		BookingIDs: bookingIDs,
		EventTopic: "checkout.committed",
	}
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func (f *pgFixture) bookingStatus(t *testing.T, id int) models.BookingStatus {
	t.Helper()
	booking, err := NewBookingRepository(f.db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return booking.Status
}

func TestCheckoutRepository_CommitWritesEverything(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 10)
	booking := f.booking(t, 1)
	attempt := f.attempt(t, 1)
	ctx := context.Background()

	result, err := NewCheckoutRepository(db).CommitCheckout(ctx, f.plan(attempt, 2, booking.ID))
	require.NoError(t, err)
	require.NotNil(t, result.OrderID)
	assert.NotEmpty(t, result.OrderNumber)

	assert.Equal(t, 8, count(t, db, `SELECT stock FROM product_variants WHERE id = $1`, f.variantID))
	assert.Equal(t, models.BookingConfirmed, f.bookingStatus(t, booking.ID))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM payments WHERE id = $1 AND order_id = $2 AND booking_id = $3`, result.PaymentID, *result.OrderID, booking.ID))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM outbox`))

	stored, err := NewCheckoutAttemptRepository(db).GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCommitted, stored.Status)

	again, err := NewCheckoutRepository(db).CommitCheckout(ctx, f.plan(attempt, 2, booking.ID))
	require.NoError(t, err)
	assert.True(t, again.AlreadyCommitted)
	assert.Equal(t, result.PaymentID, again.PaymentID)
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM payments`))
}

func TestCheckoutRepository_StockUnderflowWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 1)
	booking := f.booking(t, 1)
	attempt := f.attempt(t, 1)

	_, err := NewCheckoutRepository(db).CommitCheckout(context.Background(), f.plan(attempt, 2, booking.ID))
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	assert.Equal(t, 1, count(t, db, `SELECT stock FROM product_variants WHERE id = $1`, f.variantID))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM order_items`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM payments`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM outbox`))
	assert.Equal(t, models.BookingPendingBasket, f.bookingStatus(t, booking.ID), "the booking is not promoted")

	stored, err := NewCheckoutAttemptRepository(db).GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptAwaiting, stored.Status)
}

func TestCheckoutRepository_SweptBooking(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 10)
	booking := f.booking(t, 1)
	attempt := f.attempt(t, 1)
	ctx := context.Background()

	n, err := NewBookingRepository(db).DeleteExpiredPending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = NewCheckoutRepository(db).CommitCheckout(ctx, f.plan(attempt, 1, booking.ID))
	assert.ErrorIs(t, err, models.ErrBookingNoLongerAvailable)

	assert.Equal(t, 10, count(t, db, `SELECT stock FROM product_variants WHERE id = $1`, f.variantID))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM payments`))
}

func TestCheckoutRepository_ForeignBookingIsNotPromoted(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 10)
	booking := f.booking(t, 2)
	attempt := f.attempt(t, 1)

	_, err := NewCheckoutRepository(db).CommitCheckout(context.Background(), f.plan(attempt, 1, booking.ID))
	assert.ErrorIs(t, err, models.ErrBookingNoLongerAvailable)
	assert.Equal(t, models.BookingPendingBasket, f.bookingStatus(t, booking.ID))
}

func TestBookingRepository_ConcurrentCreatePending(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 10)
	repo := NewBookingRepository(db)
	in := models.DateOnly(time.Now()).AddDate(0, 0, 30)

	const racers = 2
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = repo.CreatePending(context.Background(), models.BookingRequest{
				UserID: i + 1, CampsiteID: f.campsiteID, CheckIn: in, CheckOut: in.AddDate(0, 0, 2), GuestCount: 1,
			}, models.FromCents(3000))
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrSiteUnavailable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM bookings WHERE campsite_id = $1`, f.campsiteID))
}

func TestBookingRepository_DeletePendingOnlyForOwner(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db, 10)
	booking := f.booking(t, 1)
	repo := NewBookingRepository(db)
	ctx := context.Background()

	removed, err := repo.DeletePending(ctx, booking.ID, 2)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = repo.DeletePending(ctx, booking.ID, 1)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = repo.GetByID(ctx, booking.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartSessionRepository_VersionedSave(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCartSessionRepository(db)
	ctx := context.Background()
	token := uuid.NewString()

	session := models.NewCartSession(token)
	session.UserID = 1
	require.NoError(t, repo.Save(ctx, session))
	assert.Equal(t, 1, session.Version)

	assert.ErrorIs(t, repo.Save(ctx, models.NewCartSession(token)), models.ErrSessionChanged)

	stale, err := repo.Load(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, stale.Version)

	require.NoError(t, session.Cart.AddMerchandise(models.MerchandiseLine{ProductID: 1, VariantID: 11, Quantity: 2}))
	require.NoError(t, repo.Save(ctx, session))
	assert.Equal(t, 2, session.Version)

	assert.ErrorIs(t, repo.Save(ctx, stale), models.ErrSessionChanged)

	stored, err := repo.Load(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, 1, stored.Cart.Len())
}
