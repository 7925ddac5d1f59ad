package memory

import (
	"context"
	"fmt"
	"sort"

	"festival-platform/internal/models"
)

// CatalogRepository reads products, campsites and events
type CatalogRepository struct {
	s *Store
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(s *Store) *CatalogRepository {
	return &CatalogRepository{s: s}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *CatalogRepository) GetVariant(ctx context.Context, id int) (*models.Variant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.Variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %d: %w", id, models.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

// ResolveVariant finds the variant of productID with exactly optionValueIDs
func (r *CatalogRepository) ResolveVariant(ctx context.Context, productID int, optionValueIDs []int) (*models.Variant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := append([]int(nil), optionValueIDs...)
	sort.Ints(want)
	for id, v := range r.s.Variants {
		if v.ProductID == productID && sameInts(r.s.VariantOptions[id], want) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("product %d options %v: %w", productID, optionValueIDs, models.ErrItemUnavailable)
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *CatalogRepository) GetCampsite(ctx context.Context, id int) (*models.Campsite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Campsites[id]
	if !ok {
		return nil, fmt.Errorf("campsite %d: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *CatalogRepository) EventExists(ctx context.Context, eventID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.Events[eventID], nil
}

func (r *CatalogRepository) ListAttendeeTypes(ctx context.Context, eventID int) ([]models.AttendeeType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.AttendeeType
	for _, id := range r.s.EventTypes[eventID] {
		out = append(out, r.s.AttendeeTypes[id])
	}
	return out, nil
}

func (r *CatalogRepository) GetAttendeeType(ctx context.Context, id int) (*models.AttendeeType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.AttendeeTypes[id]
	if !ok {
		return nil, fmt.Errorf("attendee type %d: %w", id, models.ErrNotFound)
	}
	return &t, nil
}

func (r *CatalogRepository) GetSubEvent(ctx context.Context, id int) (*models.SubEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.SubEvents[id]
	if !ok {
		return nil, fmt.Errorf("sub-event %d: %w", id, models.ErrNotFound)
	}
	cp := *sub
	return &cp, nil
}
