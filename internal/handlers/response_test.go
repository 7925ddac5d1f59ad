package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"festival-platform/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("order 1: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrEmptyCart, http.StatusBadRequest},
		{models.ErrRegistrationIncomplete, http.StatusBadRequest},
		{models.ErrUnauthorized, http.StatusUnauthorized},
		{models.ErrSiteUnavailable, http.StatusConflict},
		{models.ErrInsufficientStock, http.StatusConflict},
		{models.ErrBookingNoLongerAvailable, http.StatusConflict},
		{models.ErrAmountMismatch, http.StatusConflict},
		{fmt.Errorf("cart session tok at version 2: %w", models.ErrSessionChanged), http.StatusConflict},
		{models.ErrEmptyOrZeroTotal, http.StatusUnprocessableEntity},
		{&models.GatewayError{Gateway: "stripe", Reason: "card declined"}, http.StatusPaymentRequired},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestWriteServiceError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestPagination(t *testing.T) {
	limit, offset := pagination(httptest.NewRequest(http.MethodGet, "/?limit=5&offset=10", nil), 20)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)

	limit, offset = pagination(httptest.NewRequest(http.MethodGet, "/?limit=-1&offset=x", nil), 20)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Quantity int `json:"quantity"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2}`))
	assert.NoError(t, decodeJSON(req, &v))
	assert.Equal(t, 2, v.Quantity)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":2}`))
	assert.ErrorIs(t, decodeJSON(req, &v), models.ErrInvalidInput)
}
