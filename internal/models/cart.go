package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CartItemKind discriminates the payload carried by a CartItem
type CartItemKind string

const (
	KindMerchandise       CartItemKind = "merchandise"
	KindCampsiteBooking   CartItemKind = "campsite_booking"
	KindEventRegistration CartItemKind = "event_registration"
)

var kindOrder = map[CartItemKind]int{
	KindMerchandise:       0,
	KindCampsiteBooking:   1,
	KindEventRegistration: 2,
}

// Valid reports whether k is a known kind
func (k CartItemKind) Valid() bool {
	_, ok := kindOrder[k]
	return ok
}

// CartKey identifies one line in a cart. Ref is the variant id, the booking id
// or the registration draft id depending on Kind.
type CartKey struct {
	Kind CartItemKind
	Ref  string
}

// MerchandiseKey returns the key of the line holding a product variant
func MerchandiseKey(variantID int) CartKey {
	return CartKey{Kind: KindMerchandise, Ref: strconv.Itoa(variantID)}
}

// BookingKey returns the key of the line referencing a provisional booking
func BookingKey(bookingID int) CartKey {
	return CartKey{Kind: KindCampsiteBooking, Ref: strconv.Itoa(bookingID)}
}

// RegistrationKey returns the key of an event registration draft
func RegistrationKey(draftID string) CartKey {
	return CartKey{Kind: KindEventRegistration, Ref: draftID}
}

func (k CartKey) String() string {
	return string(k.Kind) + ":" + k.Ref
}

// MarshalText lets CartKey be used as a JSON object key
func (k CartKey) MarshalText() ([]byte, error) {
	if !k.Kind.Valid() || k.Ref == "" {
		return nil, fmt.Errorf("%w: cart key %q", ErrInvalidInput, k.String())
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses the form produced by MarshalText
func (k *CartKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCartKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCartKey parses "kind:ref"
func ParseCartKey(s string) (CartKey, error) {
	kind, ref, ok := strings.Cut(s, ":")
	key := CartKey{Kind: CartItemKind(kind), Ref: ref}
	if !ok || !key.Kind.Valid() || ref == "" {
		return CartKey{}, fmt.Errorf("%w: cart key %q", ErrInvalidInput, s)
	}
	if key.Kind != KindEventRegistration {
		if _, err := strconv.Atoi(ref); err != nil {
			return CartKey{}, fmt.Errorf("%w: cart key %q", ErrInvalidInput, s)
		}
	}
	return key, nil
}

// IntRef returns Ref as an integer id for merchandise and booking keys
func (k CartKey) IntRef() (int, error) {
	return strconv.Atoi(k.Ref)
}

// MerchandiseLine is a product variant with a quantity
type MerchandiseLine struct {
	ProductID int `json:"product_id"`
	VariantID int `json:"variant_id"`
	Quantity  int `json:"quantity"`
}

// BookingLine references a provisional booking row. CachedTotal is only shown
// to the user; pricing always reads the stored row.
type BookingLine struct {
	BookingID   int       `json:"booking_id"`
	CampsiteID  int       `json:"campsite_id"`
	CheckIn     time.Time `json:"check_in"`
	CheckOut    time.Time `json:"check_out"`
	GuestCount  int       `json:"guest_count"`
	CachedTotal Money     `json:"cached_total"`
}

// CartItem is a tagged union: exactly one payload matches Kind
type CartItem struct {
	Kind         CartItemKind       `json:"kind"`
	Merchandise  *MerchandiseLine   `json:"merchandise,omitempty"`
	Booking      *BookingLine       `json:"booking,omitempty"`
	Registration *RegistrationDraft `json:"registration,omitempty"`
}

// Key returns the cart key for the item
func (i CartItem) Key() CartKey {
	switch i.Kind {
	case KindMerchandise:
		if i.Merchandise != nil {
			return MerchandiseKey(i.Merchandise.VariantID)
		}
	case KindCampsiteBooking:
		if i.Booking != nil {
			return BookingKey(i.Booking.BookingID)
		}
	case KindEventRegistration:
		if i.Registration != nil {
			return RegistrationKey(i.Registration.DraftID)
		}
	}
	return CartKey{Kind: i.Kind}
}

// Validate checks the tag/payload pairing and per-kind invariants
func (i CartItem) Validate() error {
	payloads := 0
	if i.Merchandise != nil {
		payloads++
	}
	if i.Booking != nil {
		payloads++
	}
	if i.Registration != nil {
		payloads++
	}
	if payloads != 1 {
		return fmt.Errorf("%w: cart item must carry exactly one payload", ErrInvalidInput)
	}

	switch i.Kind {
	case KindMerchandise:
		if i.Merchandise == nil {
			return fmt.Errorf("%w: merchandise item without payload", ErrInvalidInput)
		}
		if i.Merchandise.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
		}
	case KindCampsiteBooking:
		if i.Booking == nil {
			return fmt.Errorf("%w: booking item without payload", ErrInvalidInput)
		}
		if !i.Booking.CheckOut.After(i.Booking.CheckIn) {
			return fmt.Errorf("%w: check-out must be after check-in", ErrInvalidInput)
		}
	case KindEventRegistration:
		if i.Registration == nil {
			return fmt.Errorf("%w: registration item without payload", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown cart item kind %q", ErrInvalidInput, i.Kind)
	}
	return nil
}

// Cart holds the lines of one cart session
type Cart struct {
	Items map[CartKey]CartItem `json:"items"`
}

// NewCart creates an empty cart
func NewCart() *Cart {
	return &Cart{Items: make(map[CartKey]CartItem)}
}

// Len returns the number of lines
func (c *Cart) Len() int {
	return len(c.Items)
}

// IsEmpty returns true if the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Get returns the line stored under key
func (c *Cart) Get(key CartKey) (CartItem, bool) {
	item, ok := c.Items[key]
	return item, ok
}

// Put stores a line under its own key, replacing any previous line
func (c *Cart) Put(item CartItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if c.Items == nil {
		c.Items = make(map[CartKey]CartItem)
	}
	c.Items[item.Key()] = item
	return nil
}

// Delete removes a line and returns it
func (c *Cart) Delete(key CartKey) (CartItem, bool) {
	item, ok := c.Items[key]
	if ok {
		delete(c.Items, key)
	}
	return item, ok
}

// AddMerchandise inserts a line or increments the quantity of an existing one
func (c *Cart) AddMerchandise(line MerchandiseLine) error {
	if line.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	key := MerchandiseKey(line.VariantID)
	if existing, ok := c.Items[key]; ok {
		updated := *existing.Merchandise
		updated.Quantity += line.Quantity
		existing.Merchandise = &updated
		c.Items[key] = existing
		return nil
	}
	return c.Put(CartItem{Kind: KindMerchandise, Merchandise: &line})
}

// Clear empties the cart
func (c *Cart) Clear() {
	c.Items = make(map[CartKey]CartItem)
}

// Keys returns the line keys in a stable order
func (c *Cart) Keys() []CartKey {
	keys := make([]CartKey, 0, len(c.Items))
	for key := range c.Items {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return kindOrder[keys[i].Kind] < kindOrder[keys[j].Kind]
		}
		return keys[i].Ref < keys[j].Ref
	})
	return keys
}

// MerchandiseLines returns merchandise lines in key order
func (c *Cart) MerchandiseLines() []MerchandiseLine {
	var lines []MerchandiseLine
	for _, key := range c.Keys() {
		if item := c.Items[key]; item.Kind == KindMerchandise {
			lines = append(lines, *item.Merchandise)
		}
	}
	return lines
}

// BookingLines returns campsite booking lines in key order
func (c *Cart) BookingLines() []BookingLine {
	var lines []BookingLine
	for _, key := range c.Keys() {
		if item := c.Items[key]; item.Kind == KindCampsiteBooking {
			lines = append(lines, *item.Booking)
		}
	}
	return lines
}

// RegistrationDrafts returns registration drafts in key order
func (c *Cart) RegistrationDrafts() []RegistrationDraft {
	var drafts []RegistrationDraft
	for _, key := range c.Keys() {
		if item := c.Items[key]; item.Kind == KindEventRegistration {
			drafts = append(drafts, *item.Registration)
		}
	}
	return drafts
}

// Clone returns a deep copy of the cart
func (c *Cart) Clone() *Cart {
	out := NewCart()
	for key, item := range c.Items {
		cp := item
		if item.Merchandise != nil {
			m := *item.Merchandise
			cp.Merchandise = &m
		}
		if item.Booking != nil {
			b := *item.Booking
			cp.Booking = &b
		}
		if item.Registration != nil {
			r := item.Registration.Clone()
			cp.Registration = &r
		}
		out.Items[key] = cp
	}
	return out
}
