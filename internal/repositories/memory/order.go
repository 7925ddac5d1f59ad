package memory

import (
	"context"
	"fmt"
	"sort"

	"festival-platform/internal/models"
)

// OrderRepository reads committed merchandise orders
type OrderRepository struct {
	s *Store
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(s *Store) *OrderRepository {
	return &OrderRepository{s: s}
}

func (r *OrderRepository) GetByID(ctx context.Context, id int) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.Orders {
		if o.ID == id {
			return copyOrder(o), nil
		}
	}
	return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
}

// GetByUser returns a user's orders newest first with the total count
func (r *OrderRepository) GetByUser(ctx context.Context, userID int, limit, offset int) ([]*models.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var mine []*models.Order
	for _, o := range r.s.Orders {
		if o.UserID == userID {
			mine = append(mine, copyOrder(o))
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].ID > mine[j].ID })
	total := len(mine)
	if offset >= total {
		return nil, total, nil
	}
	mine = mine[offset:]
	if len(mine) > limit {
		mine = mine[:limit]
	}
	for _, o := range mine {
		o.Items = nil
	}
	return mine, total, nil
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}
