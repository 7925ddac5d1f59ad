package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"festival-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) (*Store, *models.ProvisionalBooking, *models.CheckoutAttempt) {
	t.Helper()
	ctx := context.Background()

	s := NewStore()
	SeedDemo(s)

	in := models.DateOnly(time.Now()).AddDate(0, 0, 10)
	booking, err := NewBookingRepository(s).CreatePending(ctx, models.BookingRequest{
		UserID: 1, CampsiteID: 1, CheckIn: in, CheckOut: in.AddDate(0, 0, 2), GuestCount: 2,
	}, models.FromCents(3000))
	require.NoError(t, err)

	attempt := &models.CheckoutAttempt{SessionToken: "tok", UserID: 1, Gateway: "mock", IntentID: "mock_1", Amount: models.FromCents(7000), Currency: "AUD", Status: models.AttemptAwaiting}
	require.NoError(t, NewCheckoutAttemptRepository(s).Create(ctx, attempt))
	return s, booking, attempt
}

func plan(attemptID, bookingID, qty int) *models.CommitPlan {
	return &models.CommitPlan{
		AttemptID:     attemptID,
		UserID:        1,
		Gateway:       "mock",
		TransactionID: "txn_1",
		Amount:        models.FromCents(7000),
		Currency:      "AUD",
		Order: &models.Order{
			UserID:      1,
			TotalAmount: models.FromCents(4000),
			Currency:    "AUD",
			Status:      models.OrderPaid,
			Items:       []models.OrderItem{{ProductID: 1, VariantID: 11, Quantity: qty, PriceAtPurchase: models.FromCents(2000)}},
		},
		BookingIDs: []int{bookingID},
		EventTopic: "checkout.committed",
	}
}

func TestBookingRepository_RejectsOverlap(t *testing.T) {
	s, booking, _ := seeded(t)
	repo := NewBookingRepository(s)

	_, err := repo.CreatePending(context.Background(), models.BookingRequest{
		UserID: 2, CampsiteID: 1, CheckIn: booking.CheckIn.AddDate(0, 0, 1), CheckOut: booking.CheckOut.AddDate(0, 0, 1), GuestCount: 1,
	}, models.FromCents(3000))
	assert.ErrorIs(t, err, models.ErrSiteUnavailable)

	_, err = repo.CreatePending(context.Background(), models.BookingRequest{
		UserID: 2, CampsiteID: 1, CheckIn: booking.CheckOut, CheckOut: booking.CheckOut.AddDate(0, 0, 1), GuestCount: 1,
	}, models.FromCents(1500))
	assert.NoError(t, err, "check-out day is free for the next arrival")
}

func TestCheckoutRepository_Commit(t *testing.T) {
	s, booking, attempt := seeded(t)
	ctx := context.Background()

	result, err := NewCheckoutRepository(s).CommitCheckout(ctx, plan(attempt.ID, booking.ID, 2))
	require.NoError(t, err)

	require.NotNil(t, result.OrderID)
	assert.Equal(t, 48, s.Variants[11].Stock)
	assert.Equal(t, models.BookingConfirmed, s.Bookings[booking.ID].Status)
	require.Len(t, s.Payments, 1)
	assert.Equal(t, booking.ID, *s.Payments[0].BookingID)
	assert.Equal(t, result.PaymentID, *s.Bookings[booking.ID].PaymentID)

	require.Len(t, s.Outbox, 1)
	var event models.CheckoutCommittedEvent
	require.NoError(t, json.Unmarshal(s.Outbox[0].Payload, &event))
	assert.Equal(t, s.Outbox[0].EventID, event.EventID)
	assert.Equal(t, []int{booking.ID}, event.BookingIDs)
	assert.Equal(t, "1", s.Outbox[0].Key)

	again, err := NewCheckoutRepository(s).CommitCheckout(ctx, plan(attempt.ID, booking.ID, 2))
	require.NoError(t, err)
	assert.True(t, again.AlreadyCommitted)
	assert.Equal(t, result.PaymentID, again.PaymentID)
	assert.Len(t, s.Payments, 1)
}

func TestCheckoutRepository_CommitIsAllOrNothing(t *testing.T) {
	s, booking, attempt := seeded(t)

	_, err := NewCheckoutRepository(s).CommitCheckout(context.Background(), plan(attempt.ID, booking.ID, 51))
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	assert.Equal(t, 50, s.Variants[11].Stock)
	assert.Equal(t, models.BookingPendingBasket, s.Bookings[booking.ID].Status)
	assert.Empty(t, s.Payments)
	assert.Empty(t, s.Orders)
	assert.Empty(t, s.Outbox)
	assert.Equal(t, models.AttemptAwaiting, s.Attempts[attempt.ID].Status)
}

func TestCheckoutRepository_ExpiredBooking(t *testing.T) {
	s, booking, attempt := seeded(t)
	delete(s.Bookings, booking.ID)

	_, err := NewCheckoutRepository(s).CommitCheckout(context.Background(), plan(attempt.ID, booking.ID, 1))
	assert.ErrorIs(t, err, models.ErrBookingNoLongerAvailable)
	assert.Empty(t, s.Orders)
}

func TestCheckoutAttemptRepository_FinalStatusIsSticky(t *testing.T) {
	s, _, attempt := seeded(t)
	repo := NewCheckoutAttemptRepository(s)
	ctx := context.Background()

	require.NoError(t, repo.UpdateStatus(ctx, attempt.ID, models.AttemptFailed, "declined"))
	require.NoError(t, repo.UpdateStatus(ctx, attempt.ID, models.AttemptAmountMismatch, "captured 1.00"))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, attempt.ID, models.AttemptAwaiting, ""), models.ErrInvalidCheckoutState)

	assert.ErrorIs(t, repo.Create(ctx, &models.CheckoutAttempt{Gateway: "mock", IntentID: "mock_1"}), models.ErrDuplicateEntry)
}

func TestOrderRepository_GetByUser(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		s.Orders = append(s.Orders, &models.Order{ID: i + 1, UserID: 1, Items: []models.OrderItem{{ID: 1}}})
	}
	s.Orders = append(s.Orders, &models.Order{ID: 4, UserID: 2})
	repo := NewOrderRepository(s)

	orders, total, err := repo.GetByUser(context.Background(), 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, orders, 2)
	assert.Equal(t, 3, orders[0].ID)
	assert.Equal(t, 2, orders[1].ID)

	orders, _, err = repo.GetByUser(context.Background(), 1, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, orders)

	order, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, order.Items, 1)

	_, err = repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartSessionRepository_DeleteStale(t *testing.T) {
	s := NewStore()
	repo := NewCartSessionRepository(s)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, models.NewCartSession("a")))

	n, err := repo.DeleteStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Load(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartSessionRepository_RejectsStaleVersion(t *testing.T) {
	repo := NewCartSessionRepository(NewStore())
	ctx := context.Background()

	first := models.NewCartSession("a")
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 1, first.Version)

	second := models.NewCartSession("a")
	assert.ErrorIs(t, repo.Save(ctx, second), models.ErrSessionChanged, "a new session cannot replace a stored one")

	stale, err := repo.Load(ctx, "a")
	require.NoError(t, err)
	fresh, err := repo.Load(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, first.Cart.AddMerchandise(models.MerchandiseLine{ProductID: 1, VariantID: 11, Quantity: 2}))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	assert.ErrorIs(t, repo.Save(ctx, stale), models.ErrSessionChanged)
	assert.ErrorIs(t, repo.Save(ctx, fresh), models.ErrSessionChanged)

	stored, err := repo.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, 1, stored.Cart.Len())
}
