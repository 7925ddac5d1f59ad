// Package memory keeps every repository in process memory. The server falls
// back to it in development when Postgres is unreachable, and tests use it in
// place of the SQL repositories.
package memory

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"festival-platform/internal/models"
)

// Store holds the tables. Fields are exported so tests can arrange state
// directly; code outside tests goes through the repository types.
type Store struct {
	mu sync.Mutex

	Products       map[int]*models.Product
	Variants       map[int]*models.Variant
	VariantOptions map[int][]int
	Campsites      map[int]*models.Campsite
	Events         map[int]bool
	AttendeeTypes  map[int]models.AttendeeType
	EventTypes     map[int][]int
	SubEvents      map[int]*models.SubEvent

	Bookings    map[int]*models.ProvisionalBooking
	nextBooking int

	Sessions map[string][]byte

	Attempts    map[int]*models.CheckoutAttempt
	nextAttempt int

	Flags         []*models.ReconciliationFlag
	Orders        []*models.Order
	Payments      []*models.Payment
	Registrations []*models.EventRegistration
	Outbox        []models.OutboxRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		Products:       make(map[int]*models.Product),
		Variants:       make(map[int]*models.Variant),
		VariantOptions: make(map[int][]int),
		Campsites:      make(map[int]*models.Campsite),
		Events:         make(map[int]bool),
		AttendeeTypes:  make(map[int]models.AttendeeType),
		EventTypes:     make(map[int][]int),
		SubEvents:      make(map[int]*models.SubEvent),
		Bookings:       make(map[int]*models.ProvisionalBooking),
		Sessions:       make(map[string][]byte),
		Attempts:       make(map[int]*models.CheckoutAttempt),
	}
}

// AddProduct adds an active product
func (s *Store) AddProduct(id int, name string, base models.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Products[id] = &models.Product{ID: id, Name: name, BasePrice: base, Active: true}
}

// AddVariant adds a variant identified by its option values
func (s *Store) AddVariant(id, productID int, stock int, override *models.Money, options ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Variants[id] = &models.Variant{ID: id, ProductID: productID, SKU: "SKU-" + strconv.Itoa(id), PriceOverride: override, Stock: stock}
	sorted := append([]int(nil), options...)
	sort.Ints(sorted)
	s.VariantOptions[id] = sorted
}

// AddCampsite adds a bookable site
func (s *Store) AddCampsite(site models.Campsite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Campsites[site.ID] = &site
}

// AddEvent adds an event with the attendee types it allows
func (s *Store) AddEvent(id int, types ...models.AttendeeType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events[id] = true
	for _, t := range types {
		t.EventID = id
		s.AttendeeTypes[t.ID] = t
		s.EventTypes[id] = append(s.EventTypes[id], t.ID)
	}
}

// AddSubEvent adds an optional add-on to an event
func (s *Store) AddSubEvent(sub models.SubEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubEvents[sub.ID] = &sub
}

func (s *Store) overlapsLocked(campsiteID int, in, out time.Time, excludeID int) bool {
	for _, b := range s.Bookings {
		if b.ID != excludeID && b.CampsiteID == campsiteID && b.OverlapsBooking(in, out) {
			return true
		}
	}
	return false
}

// SeedDemo loads a small festival catalog for local development
func SeedDemo(s *Store) {
	s.AddProduct(1, "Festival T-Shirt", models.FromCents(2000))
	s.AddVariant(11, 1, 50, nil, 101)
	s.AddVariant(12, 1, 50, nil, 102)
	large := models.FromCents(2500)
	s.AddVariant(13, 1, 20, &large, 103)
	s.AddProduct(2, "Enamel Mug", models.FromCents(1200))
	s.AddVariant(21, 2, 100, nil)

	s.AddCampsite(models.Campsite{ID: 1, Campground: "North Field", Name: "Site 1", NightlyRate: models.FromCents(1500), MaxGuests: 4})
	s.AddCampsite(models.Campsite{ID: 2, Campground: "North Field", Name: "Site 2", NightlyRate: models.FromCents(1500), MaxGuests: 4})
	s.AddCampsite(models.Campsite{ID: 3, Campground: "Riverside", Name: "Powered Site 3", NightlyRate: models.FromCents(2500), MaxGuests: 6})

	s.AddEvent(1,
		models.AttendeeType{ID: 1, Name: "General", Price: models.FromCents(1000)},
		models.AttendeeType{ID: 2, Name: "Pilot", Price: models.FromCents(3000), RequiresPilotDetails: true},
		models.AttendeeType{ID: 3, Name: "Junior", Price: models.FromCents(500), RequiresJuniorDetails: true},
	)
	s.AddSubEvent(models.SubEvent{ID: 1, EventID: 1, Name: "Fly-in dinner", Cost: models.FromCents(500)})
	s.AddSubEvent(models.SubEvent{ID: 2, EventID: 1, Name: "Aerobatics workshop", Cost: models.FromCents(4500)})
}
