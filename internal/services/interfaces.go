package services

import (
	"context"
	"time"

	"festival-platform/internal/models"
)

// CatalogReader interface for read-only price and stock lookups
type CatalogReader interface {
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	GetVariant(ctx context.Context, id int) (*models.Variant, error)
	ResolveVariant(ctx context.Context, productID int, optionValueIDs []int) (*models.Variant, error)
	GetCampsite(ctx context.Context, id int) (*models.Campsite, error)
	EventExists(ctx context.Context, eventID int) (bool, error)
	ListAttendeeTypes(ctx context.Context, eventID int) ([]models.AttendeeType, error)
	GetAttendeeType(ctx context.Context, id int) (*models.AttendeeType, error)
	GetSubEvent(ctx context.Context, id int) (*models.SubEvent, error)
}

// BookingStore interface for provisional booking rows
type BookingStore interface {
	CreatePending(ctx context.Context, req models.BookingRequest, total models.Money) (*models.ProvisionalBooking, error)
	GetByID(ctx context.Context, id int) (*models.ProvisionalBooking, error)
	DeletePending(ctx context.Context, id, userID int) (bool, error)
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error)
}

// CartSessionStore interface for server-side cart sessions
type CartSessionStore interface {
	Load(ctx context.Context, token string) (*models.CartSession, error)
	Save(ctx context.Context, session *models.CartSession) error
	Delete(ctx context.Context, token string) error
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// AttemptStore interface for checkout attempts
type AttemptStore interface {
	Create(ctx context.Context, attempt *models.CheckoutAttempt) error
	GetByID(ctx context.Context, id int) (*models.CheckoutAttempt, error)
	GetByIntent(ctx context.Context, gateway, intentID string) (*models.CheckoutAttempt, error)
	UpdateStatus(ctx context.Context, id int, status models.AttemptStatus, reason string) error
	ListAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]*models.CheckoutAttempt, error)
}

// ReconciliationStore interface for captured payments needing manual review
type ReconciliationStore interface {
	Create(ctx context.Context, flag *models.ReconciliationFlag) error
	ListOpen(ctx context.Context, limit, offset int) ([]*models.ReconciliationFlag, error)
	Resolve(ctx context.Context, id int) error
}

// CheckoutStore interface for the all-or-nothing commit transaction
type CheckoutStore interface {
	CommitCheckout(ctx context.Context, plan *models.CommitPlan) (*models.CommitResult, error)
}

// OutboxStore interface for events awaiting publication
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
}

// OrderReader interface for committed orders
type OrderReader interface {
	GetByID(ctx context.Context, id int) (*models.Order, error)
	GetByUser(ctx context.Context, userID int, limit, offset int) ([]*models.Order, int, error)
}
