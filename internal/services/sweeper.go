package services

import (
	"context"
	"log"
	"time"

	"festival-platform/internal/metrics"
)

// DefaultCartSessionTTL is how long an untouched cart session is kept
const DefaultCartSessionTTL = 7 * 24 * time.Hour

// SweepResult counts rows removed by one sweep
type SweepResult struct {
	Bookings int64 `json:"bookings"`
	Sessions int64 `json:"sessions"`
}

// ExpirySweeper deletes pending bookings past their hold time and cart
// sessions nobody has touched for a while. It runs inside the server on a
// ticker or once from cmd/sweep-reservations.
type ExpirySweeper struct {
	reservations *ReservationManager
	sessions     CartSessionStore
	sessionTTL   time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(reservations *ReservationManager, sessions CartSessionStore, sessionTTL time.Duration, m *metrics.Metrics) *ExpirySweeper {
	if sessionTTL <= 0 {
		sessionTTL = DefaultCartSessionTTL
	}
	return &ExpirySweeper{
		reservations: reservations,
		sessions:     sessions,
		sessionTTL:   sessionTTL,
		metrics:      m,
		now:          time.Now,
	}
}

// Sweep runs one pass. Bookings are swept before sessions so a failure on
// the session table never leaves sites held.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	result := &SweepResult{}

	n, err := s.reservations.SweepExpired(ctx, now.Add(-s.reservations.TTL()))
	if err != nil {
		return result, err
	}
	result.Bookings = n

	if s.sessions != nil {
		n, err = s.sessions.DeleteStale(ctx, now.Add(-s.sessionTTL))
		if err != nil {
			return result, err
		}
		result.Sessions = n
		s.metrics.SessionsDeleted(n)
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	RunEvery(ctx, "sweeper", interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// RunEvery calls fn immediately and then on every tick until ctx is done.
// Errors are logged and the loop keeps going.
func RunEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		log.Printf("%s: disabled (interval %s)", name, interval)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("%s: running every %s", name, interval)
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Printf("%s: %v", name, err)
		}
		select {
		case <-ctx.Done():
			log.Printf("%s: stopped", name)
			return
		case <-ticker.C:
		}
	}
}
