package services

import (
	"context"
	"fmt"

	"festival-platform/internal/models"
)

// OrderService serves committed merchandise orders to their owners
type OrderService struct {
	orderRepo OrderReader
}

// NewOrderService creates a new order service
func NewOrderService(orderRepo OrderReader) *OrderService {
	return &OrderService{orderRepo: orderRepo}
}

// GetUserOrders retrieves orders for a user with pagination, newest first
func (s *OrderService) GetUserOrders(ctx context.Context, userID int, limit, offset int) ([]*models.Order, int, error) {
	if userID <= 0 {
		return nil, 0, models.ErrUnauthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.orderRepo.GetByUser(ctx, userID, limit, offset)
}

// GetOrderByID retrieves an order with permission checking
func (s *OrderService) GetOrderByID(ctx context.Context, orderID int, requestingUserID int, isAdmin bool) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Users can only view their own orders unless they're admin
	if !isAdmin && order.UserID != requestingUserID {
		return nil, fmt.Errorf("%w: insufficient permissions to view this order", models.ErrUnauthorized)
	}

	return order, nil
}
