package models

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
)

// ShippingAddress is where merchandise is sent
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Validate validates the address fields
func (a *ShippingAddress) Validate() error {
	required := map[string]string{
		"name":        a.Name,
		"line1":       a.Line1,
		"city":        a.City,
		"state":       a.State,
		"postal_code": a.PostalCode,
		"country":     a.Country,
	}
	for _, field := range []string{"name", "line1", "city", "state", "postal_code", "country"} {
		if strings.TrimSpace(required[field]) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
		}
	}
	if len(a.Name) > 255 || len(a.Line1) > 255 || len(a.Line2) > 255 {
		return fmt.Errorf("%w: address fields must be less than 255 characters", ErrInvalidInput)
	}
	return nil
}

// String renders the address on one line for storage and receipts
func (a ShippingAddress) String() string {
	parts := []string{a.Name, a.Line1}
	if a.Line2 != "" {
		parts = append(parts, a.Line2)
	}
	parts = append(parts, a.City, a.State+" "+a.PostalCode, a.Country)
	return strings.Join(parts, ", ")
}

// Order is created only at commit time
type Order struct {
	ID              int             `json:"id" db:"id"`
	OrderNumber     string          `json:"order_number" db:"order_number"`
	UserID          int             `json:"user_id" db:"user_id"`
	TotalAmount     Money           `json:"total_amount" db:"total_amount"`
	Currency        string          `json:"currency" db:"currency"`
	ShippingAddress ShippingAddress `json:"shipping_address" db:"shipping_address"`
	Status          OrderStatus     `json:"status" db:"status"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// OrderItem snapshots the price paid for a variant
type OrderItem struct {
	ID              int   `json:"id" db:"id"`
	OrderID         int   `json:"order_id" db:"order_id"`
	ProductID       int   `json:"product_id" db:"product_id"`
	VariantID       int   `json:"variant_id" db:"variant_id"`
	Quantity        int   `json:"quantity" db:"quantity"`
	PriceAtPurchase Money `json:"price_at_purchase" db:"price_at_purchase"`
}

// Subtotal returns price × quantity
func (i OrderItem) Subtotal() Money {
	return Times(i.PriceAtPurchase, i.Quantity)
}

var orderNumberRegex = regexp.MustCompile(`^ORD-\d{8}-\d{6}$`)

// Validate validates the order data
func (o *Order) Validate() error {
	if !orderNumberRegex.MatchString(o.OrderNumber) {
		return errors.New("order number format is invalid")
	}
	if o.TotalAmount.IsNegative() {
		return errors.New("total amount cannot be negative")
	}
	switch o.Status {
	case OrderPendingPayment, OrderPaid:
	default:
		return errors.New("invalid order status")
	}
	if len(o.Items) == 0 {
		return errors.New("order must contain at least one item")
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			return errors.New("order item quantity must be at least 1")
		}
		if item.PriceAtPurchase.IsNegative() {
			return errors.New("order item price cannot be negative")
		}
	}
	return nil
}

// GenerateOrderNumber generates a unique order number
func GenerateOrderNumber() string {
	now := time.Now()
	dateStr := now.Format("20060102")

	max := big.NewInt(1000000)
	randomNum, err := rand.Int(rand.Reader, max)
	if err != nil {
		return fmt.Sprintf("ORD-%s-%06d", dateStr, now.UnixNano()%1000000)
	}

	return fmt.Sprintf("ORD-%s-%06d", dateStr, randomNum.Int64())
}

// IsPaid returns true if the order has been paid
func (o *Order) IsPaid() bool {
	return o.Status == OrderPaid
}
