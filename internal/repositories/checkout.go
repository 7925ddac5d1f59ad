package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"festival-platform/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CheckoutRepository runs the commit transaction that turns a paid cart into
// permanent orders, bookings, registrations and a payment
type CheckoutRepository struct {
	db *sql.DB
}

// NewCheckoutRepository creates a new checkout repository
func NewCheckoutRepository(db *sql.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

// CommitCheckout applies plan in a single transaction. Any error rolls back
// every write. A plan whose attempt is already committed returns the earlier
// result with AlreadyCommitted set.
func (r *CheckoutRepository) CommitCheckout(ctx context.Context, plan *models.CommitPlan) (*models.CommitResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.AttemptStatus
	var existingPayment sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT status, payment_id FROM checkout_attempts WHERE id = $1 FOR UPDATE`,
		plan.AttemptID).Scan(&status, &existingPayment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkout attempt %d: %w", plan.AttemptID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock checkout attempt: %w", err)
	}
	if status == models.AttemptCommitted {
		return &models.CommitResult{PaymentID: int(existingPayment.Int64), AlreadyCommitted: true}, nil
	}
	if status.IsFinal() {
		return nil, fmt.Errorf("checkout attempt %d is %s: %w", plan.AttemptID, status, models.ErrInvalidCheckoutState)
	}

	result := &models.CommitResult{}

	if plan.Order != nil {
		if err := r.createOrder(ctx, tx, plan.Order); err != nil {
			return nil, err
		}
		result.OrderID = &plan.Order.ID
		result.OrderNumber = plan.Order.OrderNumber
	}

	if err := r.promoteBookings(ctx, tx, plan.BookingIDs, plan.UserID); err != nil {
		return nil, err
	}
	result.BookingIDs = append([]int(nil), plan.BookingIDs...)

	for _, reg := range plan.Registrations {
		if err := r.createRegistration(ctx, tx, reg); err != nil {
			return nil, err
		}
		result.RegistrationIDs = append(result.RegistrationIDs, reg.ID)
	}

	payment := &models.Payment{
		UserID:               plan.UserID,
		GatewayName:          plan.Gateway,
		GatewayTransactionID: plan.TransactionID,
		Status:               models.PaymentSuccessful,
		Amount:               plan.Amount,
		Currency:             plan.Currency,
		OrderID:              result.OrderID,
	}
	if len(result.BookingIDs) > 0 {
		payment.BookingID = &result.BookingIDs[0]
	}
	if len(result.RegistrationIDs) > 0 {
		payment.RegistrationID = &result.RegistrationIDs[0]
	}
	if err := r.createPayment(ctx, tx, payment); err != nil {
		return nil, err
	}
	result.PaymentID = payment.ID

	if err := r.linkPayment(ctx, tx, payment.ID, result); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status = $2, payment_id = $3, failure_reason = '', updated_at = $4
		WHERE id = $1`, plan.AttemptID, models.AttemptCommitted, payment.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark checkout attempt committed: %w", err)
	}

	if plan.EventTopic != "" {
		event := models.CheckoutCommittedEvent{
			EventID:         uuid.NewString(),
			AttemptID:       plan.AttemptID,
			UserID:          plan.UserID,
			PaymentID:       payment.ID,
			Gateway:         plan.Gateway,
			TransactionID:   plan.TransactionID,
			Amount:          plan.Amount,
			Currency:        plan.Currency,
			OrderID:         result.OrderID,
			OrderNumber:     result.OrderNumber,
			BookingIDs:      result.BookingIDs,
			RegistrationIDs: result.RegistrationIDs,
			CommittedAt:     time.Now().UTC(),
		}
		if err := insertOutbox(ctx, tx, event.EventID, plan.EventTopic, strconv.Itoa(plan.UserID), event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit checkout: %w", err)
	}

	return result, nil
}

func (r *CheckoutRepository) createOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	orderNumber := models.GenerateOrderNumber()

	// Ensure order number is unique (retry if collision)
	for i := 0; i < 5; i++ {
		var exists bool
		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", orderNumber).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check order number uniqueness: %w", err)
		}
		if !exists {
			break
		}
		orderNumber = models.GenerateOrderNumber()
	}
	order.OrderNumber = orderNumber

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, user_id, total_amount, currency, shipping_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		order.OrderNumber,
		order.UserID,
		order.TotalAmount,
		order.Currency,
		address,
		order.Status,
		time.Now(),
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if err := decrementStock(ctx, tx, item.VariantID, item.Quantity); err != nil {
			return err
		}
		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			order.ID, item.ProductID, item.VariantID, item.Quantity, item.PriceAtPurchase,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// decrementStock refuses to take a variant's stock below zero
func decrementStock(ctx context.Context, tx *sql.Tx, variantID, quantity int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`, variantID, quantity)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("variant %d: %w", variantID, models.ErrInsufficientStock)
		}
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("variant %d: %w", variantID, models.ErrInsufficientStock)
	}
	return nil
}

// promoteBookings confirms pending bookings. Campsites are locked in id order
// before the booking rows so this never deadlocks against CreatePending.
func (r *CheckoutRepository) promoteBookings(ctx context.Context, tx *sql.Tx, bookingIDs []int, userID int) error {
	if len(bookingIDs) == 0 {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT campsite_id FROM bookings WHERE id = ANY($1)`, pq.Array(int64s(bookingIDs)))
	if err != nil {
		return fmt.Errorf("failed to read booking campsites: %w", err)
	}
	var campsiteIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan campsite id: %w", err)
		}
		campsiteIDs = append(campsiteIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read booking campsites: %w", err)
	}
	sort.Ints(campsiteIDs)

	for _, id := range campsiteIDs {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM campsites WHERE id = $1 FOR UPDATE`, id); err != nil {
			return fmt.Errorf("failed to lock campsite: %w", err)
		}
	}

	for _, id := range bookingIDs {
		booking, err := scanBooking(tx.QueryRowContext(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("booking %d: %w", id, models.ErrBookingNoLongerAvailable)
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		if !booking.IsPending() || booking.UserID != userID {
			return fmt.Errorf("booking %d is %s: %w", id, booking.Status, models.ErrBookingNoLongerAvailable)
		}

		conflict, err := hasOverlap(ctx, tx, booking.CampsiteID, booking.CheckIn, booking.CheckOut, booking.ID)
		if err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("booking %d overlaps another reservation: %w", id, models.ErrBookingNoLongerAvailable)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
			id, models.BookingConfirmed, time.Now())
		if err != nil {
			if isExclusionViolation(err) {
				return fmt.Errorf("booking %d overlaps another reservation: %w", id, models.ErrBookingNoLongerAvailable)
			}
			return fmt.Errorf("failed to confirm booking: %w", err)
		}
	}
	return nil
}

func (r *CheckoutRepository) createRegistration(ctx context.Context, tx *sql.Tx, reg *models.EventRegistration) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO event_registrations (user_id, event_id, total_fee, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		reg.UserID, reg.EventID, reg.TotalFee, time.Now(),
	).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event registration: %w", err)
	}

	for i := range reg.Attendees {
		attendee := &reg.Attendees[i]
		info := attendee.Info

		var ausNumber sql.NullString
		if info.Pilot != nil {
			ausNumber = sql.NullString{String: info.Pilot.AusNumber, Valid: true}
		}
		var dob sql.NullTime
		if info.Junior != nil {
			dob = sql.NullTime{Time: info.Junior.DateOfBirth, Valid: true}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO registration_attendees (registration_id, attendee_type_id, first_name, last_name, email, aus_number, date_of_birth, fee)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			reg.ID, info.AttendeeTypeID, info.FirstName, info.LastName, info.Email, ausNumber, dob, attendee.Fee,
		).Scan(&attendee.ID)
		if err != nil {
			return fmt.Errorf("failed to create attendee: %w", err)
		}

		if info.Pilot != nil {
			for _, plane := range info.Pilot.Planes {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO attendee_planes (attendee_id, registration, make, model)
					VALUES ($1, $2, $3, $4)`,
					attendee.ID, plane.Registration, plane.Make, plane.Model)
				if err != nil {
					return fmt.Errorf("failed to create attendee plane: %w", err)
				}
			}
		}
	}

	for i := range reg.SubEvents {
		sub := &reg.SubEvents[i]
		if sub.AttendeeIndex < 0 || sub.AttendeeIndex >= len(reg.Attendees) {
			return fmt.Errorf("%w: sub-event attendee index %d", models.ErrInvalidInput, sub.AttendeeIndex)
		}
		sub.AttendeeID = reg.Attendees[sub.AttendeeIndex].ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sub_event_registrations (registration_id, sub_event_id, attendee_id, fee)
			VALUES ($1, $2, $3, $4)`,
			reg.ID, sub.SubEventID, sub.AttendeeID, sub.Fee)
		if err != nil {
			return fmt.Errorf("failed to create sub-event registration: %w", err)
		}
	}
	return nil
}

func (r *CheckoutRepository) createPayment(ctx context.Context, tx *sql.Tx, payment *models.Payment) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO payments (user_id, gateway_name, gateway_transaction_id, status, amount, currency, order_id, booking_id, registration_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		payment.UserID,
		payment.GatewayName,
		payment.GatewayTransactionID,
		payment.Status,
		payment.Amount,
		payment.Currency,
		nullableInt(payment.OrderID),
		nullableInt(payment.BookingID),
		nullableInt(payment.RegistrationID),
		time.Now(),
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment %s/%s: %w", payment.GatewayName, payment.GatewayTransactionID, models.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *CheckoutRepository) linkPayment(ctx context.Context, tx *sql.Tx, paymentID int, result *models.CommitResult) error {
	if result.OrderID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET payment_id = $2 WHERE id = $1`, *result.OrderID, paymentID); err != nil {
			return fmt.Errorf("failed to link order payment: %w", err)
		}
	}
	if len(result.BookingIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET payment_id = $2 WHERE id = ANY($1)`,
			pq.Array(int64s(result.BookingIDs)), paymentID); err != nil {
			return fmt.Errorf("failed to link booking payment: %w", err)
		}
	}
	if len(result.RegistrationIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE event_registrations SET payment_id = $2 WHERE id = ANY($1)`,
			pq.Array(int64s(result.RegistrationIDs)), paymentID); err != nil {
			return fmt.Errorf("failed to link registration payment: %w", err)
		}
	}
	return nil
}
