package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"festival-platform/internal/middleware"
	"festival-platform/internal/models"
	"festival-platform/internal/repositories/memory"
	"festival-platform/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortGateway captures one cent less than the intent was opened for
type shortGateway struct{}

func (shortGateway) Name() string { return "short" }

func (shortGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	return &models.IntentHandle{Gateway: "short", IntentID: "short_" + models.FormatMoney(amount), Amount: amount, Currency: currency}, nil
}

func (shortGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*services.Confirmation, error) {
	return &services.Confirmation{
		Status:        services.ConfirmationSucceeded,
		TransactionID: "txn_" + handle.IntentID,
		Captured:      handle.Amount.Sub(models.FromCents(1)),
		Currency:      handle.Currency,
	}, nil
}

type testAPI struct {
	store    *memory.Store
	mock     *services.MockGateway
	checkout *services.CheckoutOrchestrator
	router   chi.Router
}

// newTestAPI wires the handlers over an in-memory store. Requests carry their
// cart token and user in X-Test-Token / X-Test-User / X-Test-Admin headers.
func newTestAPI(t *testing.T, extra ...services.PaymentGateway) *testAPI {
	t.Helper()

	store := memory.NewStore()
	memory.SeedDemo(store)

	catalog := memory.NewCatalogRepository(store)
	bookings := memory.NewBookingRepository(store)
	sessions := memory.NewCartSessionRepository(store)

	mock := services.NewMockGateway()
	gateways := services.NewGatewayRegistry(append([]services.PaymentGateway{mock, services.NewManualGateway()}, extra...)...)

	pricing := services.NewPricingAggregator(catalog, bookings, "AUD")
	reservations := services.NewReservationManager(catalog, bookings, time.Hour, nil)
	cart := services.NewCartService(catalog, pricing, reservations, sessions, nil)
	checkout := services.NewCheckoutOrchestrator(
		pricing,
		gateways,
		memory.NewCheckoutAttemptRepository(store),
		sessions,
		memory.NewReconciliationRepository(store),
		services.NewCommitter(memory.NewCheckoutRepository(store), services.CheckoutCommittedTopic),
		nil,
	)

	cartHandler := NewCartHandler(cart)
	checkoutHandler := NewCheckoutHandler(cart, checkout, gateways)
	orderHandler := NewOrderHandler(services.NewOrderService(memory.NewOrderRepository(store)))
	adminHandler := NewAdminHandler(checkout, 0)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := strconv.Atoi(r.Header.Get("X-Test-User"))
			identity := middleware.Identity{UserID: userID, IsAdmin: r.Header.Get("X-Test-Admin") == "true"}
			if userID > 0 {
				identity.Email = "user" + strconv.Itoa(userID) + "@example.com"
			}
			next.ServeHTTP(w, r.WithContext(middleware.WithSession(r.Context(), r.Header.Get("X-Test-Token"), identity)))
		})
	})
	r.Get("/cart", cartHandler.ViewCart)
	r.Post("/cart/merchandise", cartHandler.AddMerchandise)
	r.Post("/cart/bookings", cartHandler.AddCampsiteBooking)
	r.Post("/cart/registrations", cartHandler.AddEventRegistration)
	r.Put("/cart/registrations/{draftID}/sub-events", cartHandler.SelectSubEvents)
	r.Patch("/cart/items/{key}", cartHandler.UpdateItem)
	r.Delete("/cart/items/{key}", cartHandler.RemoveItem)
	r.Delete("/cart", cartHandler.ClearCart)
	r.Get("/checkout/gateways", checkoutHandler.ListGateways)
	r.Put("/checkout/address", checkoutHandler.SetAddress)
	r.Post("/checkout/intent", checkoutHandler.CreateIntent)
	r.Post("/checkout/confirm", checkoutHandler.Confirm)
	r.Get("/orders", orderHandler.ListOrders)
	r.Get("/orders/{id}", orderHandler.GetOrder)
	r.Get("/admin/flags", adminHandler.ListReconciliationFlags)
	r.Post("/admin/flags/{id}/resolve", adminHandler.ResolveReconciliationFlag)
	r.Post("/admin/attempts/{id}/manual", adminHandler.ConfirmManualPayment)
	r.Post("/admin/reconcile", adminHandler.ReconcileNow)

	return &testAPI{store: store, mock: mock, checkout: checkout, router: r}
}

type client struct {
	api    *testAPI
	token  string
	userID int
	admin  bool
}

func (a *testAPI) client(token string, userID int) *client {
	return &client{api: a, token: token, userID: userID}
}

func (c *client) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Test-Token", c.token)
	}
	if c.userID > 0 {
		req.Header.Set("X-Test-User", strconv.Itoa(c.userID))
	}
	if c.admin {
		req.Header.Set("X-Test-Admin", "true")
	}
	rec := httptest.NewRecorder()
	c.api.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func stay(offsetDays, nights int) (string, string) {
	in := models.DateOnly(time.Now()).AddDate(0, 0, offsetDays)
	return in.Format(dateLayout), in.AddDate(0, 0, nights).Format(dateLayout)
}

var address = models.ShippingAddress{
	Name:       "Alex Reed",
	Line1:      "12 Hangar Rd",
	City:       "Temora",
	State:      "NSW",
	PostalCode: "2666",
	Country:    "AU",
}

// fill puts two t-shirts ($40), two nights on site 1 ($30) and a general
// registration with the dinner ($15) in the cart
func (c *client) fill(t *testing.T) {
	t.Helper()

	rec := c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "option_value_ids": []int{101}, "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	in, out := stay(10, 2)
	rec = c.do(t, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 1, "check_in": in, "check_out": out, "guest_count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(t, http.MethodPost, "/cart/registrations", map[string]any{
		"event_id":  1,
		"attendees": []models.Attendee{{AttendeeTypeID: 1, FirstName: "Alex", LastName: "Reed", Email: "alex@example.com"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[models.RegistrationDraft](t, rec)

	rec = c.do(t, http.MethodPut, "/cart/registrations/"+draft.DraftID+"/sub-events", map[string]any{"selections": map[int][]int{1: {0}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (c *client) startPayment(t *testing.T, gateway string) services.IntentResult {
	t.Helper()
	rec := c.do(t, http.MethodPut, "/checkout/address", address)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(t, http.MethodPost, "/checkout/intent", map[string]string{"gateway": gateway})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[services.IntentResult](t, rec)
}

func TestCartHandler_AddAndView(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 0)

	rec := c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "option_value_ids": []int{103}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cart := decode[CartResponse](t, rec)
	require.Contains(t, cart.Items, "merchandise:13")
	assert.Equal(t, 1, cart.Items["merchandise:13"].Merchandise.Quantity)
	assertMoney(t, "25", cart.Quote.Total)

	rec = c.do(t, http.MethodPatch, "/cart/items/merchandise:13", map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertMoney(t, "75", decode[CartResponse](t, rec).Quote.Total)

	rec = c.do(t, http.MethodGet, "/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertMoney(t, "75", decode[CartResponse](t, rec).Quote.Total)

	rec = c.do(t, http.MethodDelete, "/cart/items/merchandise:13", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponse](t, rec).Items)
}

func TestCartHandler_Errors(t *testing.T) {
	api := newTestAPI(t)
	anon := api.client("tok-1", 0)
	in, out := stay(10, 2)

	tests := []struct {
		name   string
		client *client
		method string
		path   string
		body   any
		want   int
	}{
		{"no session", api.client("", 0), http.MethodGet, "/cart", nil, http.StatusUnauthorized},
		{"unknown field", anon, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "colour": "red"}, http.StatusBadRequest},
		{"unknown variant", anon, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "option_value_ids": []int{999}}, http.StatusConflict},
		{"more than stock", anon, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "option_value_ids": []int{103}, "quantity": 21}, http.StatusConflict},
		{"booking needs sign in", anon, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 1, "check_in": in, "check_out": out, "guest_count": 1}, http.StatusUnauthorized},
		{"bad date", api.client("tok-2", 5), http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 1, "check_in": "10/01/2030", "check_out": out, "guest_count": 1}, http.StatusBadRequest},
		{"unknown campsite", api.client("tok-2", 5), http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 99, "check_in": in, "check_out": out, "guest_count": 1}, http.StatusNotFound},
		{"bad cart key", anon, http.MethodDelete, "/cart/items/widget:1", nil, http.StatusBadRequest},
		{"missing line", anon, http.MethodPatch, "/cart/items/merchandise:11", map[string]int{"quantity": 2}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.client.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if rec.Code >= 400 {
				body := decode[errorResponse](t, rec)
				assert.False(t, body.Success)
				assert.NotEmpty(t, body.Error)
			}
		})
	}
}

func TestCartHandler_DoubleBookingConflicts(t *testing.T) {
	api := newTestAPI(t)
	in, out := stay(10, 3)

	rec := api.client("tok-a", 1).do(t, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 2, "check_in": in, "check_out": out, "guest_count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.client("tok-b", 2).do(t, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 2, "check_in": in, "check_out": out, "guest_count": 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCartHandler_ClearWithRelease(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)
	in, out := stay(5, 1)

	rec := c.do(t, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 3, "check_in": in, "check_out": out, "guest_count": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, api.store.Bookings, 1)

	rec = c.do(t, http.MethodDelete, "/cart?release=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, api.store.Bookings)
}

func TestCheckoutHandler_CommitsPaidCart(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)
	c.fill(t)

	intent := c.startPayment(t, "mock")
	assertMoney(t, "85", intent.Intent.Amount)
	assert.Equal(t, "AUD", intent.Intent.Currency)

	rec := c.do(t, http.MethodPost, "/checkout/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[services.ConfirmResult](t, rec)
	assert.Equal(t, services.OutcomeCommitted, result.Outcome)
	require.NotNil(t, result.Commit.OrderID)

	require.Len(t, api.store.Payments, 1)
	assertMoney(t, "85", api.store.Payments[0].Amount)
	assert.Equal(t, 48, api.store.Variants[11].Stock)
	assert.Len(t, api.store.Outbox, 1)

	rec = c.do(t, http.MethodGet, "/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartResponse](t, rec)
	assert.Empty(t, cart.Items)
	assert.Equal(t, models.CheckoutCommitted, cart.Checkout.State)

	rec = c.do(t, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[struct {
		Orders []models.Order `json:"orders"`
		Total  int            `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, orders.Total)

	path := "/orders/" + strconv.Itoa(*result.Commit.OrderID)
	rec = c.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertMoney(t, "40", decode[models.Order](t, rec).TotalAmount)

	rec = api.client("tok-2", 2).do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutHandler_RequiresSignIn(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 0)

	rec := c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(t, http.MethodPut, "/checkout/address", address)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutHandler_EmptyCart(t *testing.T) {
	api := newTestAPI(t)
	rec := api.client("tok-1", 1).do(t, http.MethodPut, "/checkout/address", address)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_IncompleteRegistration(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)

	rec := c.do(t, http.MethodPost, "/cart/registrations", map[string]any{
		"event_id":  1,
		"attendees": []models.Attendee{{AttendeeTypeID: 1, FirstName: "Alex", LastName: "Reed", Email: "alex@example.com"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(t, http.MethodPut, "/checkout/address", address)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(t, http.MethodPost, "/checkout/intent", map[string]string{"gateway": "mock"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandler_DeclinedPayment(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)
	c.fill(t)

	intent := c.startPayment(t, "mock")
	api.mock.Decline(intent.Intent.IntentID, "card declined")

	rec := c.do(t, http.MethodPost, "/checkout/confirm", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	assert.Empty(t, api.store.Payments)

	rec = c.do(t, http.MethodGet, "/cart", nil)
	cart := decode[CartResponse](t, rec)
	assert.Equal(t, models.CheckoutFailed, cart.Checkout.State)
	assert.Len(t, cart.Items, 3, "a declined payment keeps the cart")
}

func TestCheckoutHandler_AmountMismatchIsFlagged(t *testing.T) {
	api := newTestAPI(t, shortGateway{})
	c := api.client("tok-1", 1)
	c.fill(t)
	c.startPayment(t, "short")

	rec := c.do(t, http.MethodPost, "/checkout/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Empty(t, api.store.Payments)
	assert.Empty(t, api.store.Orders)

	admin := api.client("tok-admin", 99)
	admin.admin = true
	rec = admin.do(t, http.MethodGet, "/admin/flags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flags := decode[struct {
		Flags []models.ReconciliationFlag `json:"flags"`
	}](t, rec)
	require.Len(t, flags.Flags, 1)
	assertMoney(t, "84.99", flags.Flags[0].Amount)

	rec = admin.do(t, http.MethodPost, "/admin/flags/"+strconv.Itoa(flags.Flags[0].ID)+"/resolve", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = admin.do(t, http.MethodPost, "/admin/flags/"+strconv.Itoa(flags.Flags[0].ID)+"/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutHandler_ManualPayment(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)
	c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 2, "quantity": 2})
	intent := c.startPayment(t, "manual")

	rec := c.do(t, http.MethodPost, "/checkout/confirm", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	admin := api.client("", 99)
	path := "/admin/attempts/" + strconv.Itoa(intent.AttemptID) + "/manual"

	rec = admin.do(t, http.MethodPost, path, map[string]any{"reference": "BANK-1", "amount": "24.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.OutcomeCommitted, decode[services.ConfirmResult](t, rec).Outcome)

	rec = admin.do(t, http.MethodPost, path, map[string]any{"reference": "BANK-1", "amount": "24.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[services.ConfirmResult](t, rec).Commit.AlreadyCommitted)
	assert.Len(t, api.store.Payments, 1)
}

func TestAdminHandler_ReconcileNow(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 1)
	c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 2})
	c.startPayment(t, "mock")
	for _, a := range api.store.Attempts {
		a.CreatedAt = time.Now().Add(-time.Hour)
	}

	rec := api.client("", 99).do(t, http.MethodPost, "/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[services.ReconcileSummary](t, rec)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Committed)
	assert.Len(t, api.store.Payments, 1)
}

func TestCheckoutHandler_ListGateways(t *testing.T) {
	api := newTestAPI(t)
	rec := api.client("tok-1", 0).do(t, http.MethodGet, "/checkout/gateways", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string][]string{"gateways": {"manual", "mock"}}, decode[map[string][]string](t, rec))
}

func TestCartHandler_ExpiredHoldShownAsUnavailable(t *testing.T) {
	api := newTestAPI(t)
	c := api.client("tok-1", 5)

	in, out := stay(10, 2)
	rec := c.do(t, http.MethodPost, "/cart/bookings", map[string]any{"campsite_id": 1, "check_in": in, "check_out": out, "guest_count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cart := decode[CartResponse](t, rec)
	require.Len(t, cart.Quote.Lines, 1)
	assert.Equal(t, 1, cart.Quote.Lines[0].Quantity)
	assertMoney(t, "30", cart.Quote.Lines[0].UnitPrice)

	// The sweeper deletes the hold once it expires
	for id := range api.store.Bookings {
		delete(api.store.Bookings, id)
	}

	rec = c.do(t, http.MethodPost, "/cart/merchandise", map[string]any{"product_id": 1, "option_value_ids": []int{101}, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code, "the mutation was saved and must be reported as such: %s", rec.Body.String())

	cart = decode[CartResponse](t, rec)
	assert.Len(t, cart.Items, 2)
	assertMoney(t, "20", cart.Quote.Total)
	assertMoney(t, "0", cart.Quote.BookingTotal)
	assert.Equal(t, []string{"campsite_booking:1"}, cart.Quote.Unavailable)

	var stale *services.QuoteLine
	for i := range cart.Quote.Lines {
		if cart.Quote.Lines[i].Key == "campsite_booking:1" {
			stale = &cart.Quote.Lines[i]
		}
	}
	require.NotNil(t, stale)
	assert.True(t, stale.Unavailable)
	assert.Contains(t, stale.Problem, "no longer available")

	rec = c.do(t, http.MethodGet, "/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Paying still requires every line to be available
	rec = c.do(t, http.MethodPut, "/checkout/address", address)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = c.do(t, http.MethodPost, "/checkout/intent", map[string]string{"gateway": "mock"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Removing the stale line lets the customer carry on
	rec = c.do(t, http.MethodDelete, "/cart/items/campsite_booking:1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[CartResponse](t, rec).Quote.Unavailable)
}
