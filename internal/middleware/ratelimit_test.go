package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_IsAllowed(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.IsAllowed("ip:1"), "attempt %d", i+1)
	}
	assert.False(t, rl.IsAllowed("ip:1"))
	assert.Greater(t, rl.RetryAfter("ip:1"), time.Duration(0))
	assert.True(t, rl.IsAllowed("ip:2"))
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)
	defer rl.Stop()

	rl.IsAllowed("k")
	rl.IsAllowed("k")
	assert.False(t, rl.IsAllowed("k"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.IsAllowed("k"))
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(method string, identity Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/checkout/intent", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req = req.WithContext(WithSession(req.Context(), "tok", identity))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send(http.MethodPost, Identity{UserID: 1}).Code)
	limited := send(http.MethodPost, Identity{UserID: 1})
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send(http.MethodPost, Identity{UserID: 2}).Code, "limits are per user")
	assert.Equal(t, http.StatusOK, send(http.MethodGet, Identity{UserID: 1}).Code, "reads are not limited")
}
