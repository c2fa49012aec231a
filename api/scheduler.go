/*
scheduler.go - Automated card expiry scheduler

PURPOSE:
  Periodically moves active cards whose expiration date has passed to the
  expired state. Expiry is an administrative state change only; balance and
  pending are untouched.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - A failed run is logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour, EXPIRY_CHECK_INTERVAL)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(handler.Cards, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - fund/card.go: CardService.ExpireDue
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CardExpirer is the part of fund.CardService the scheduler drives.
type CardExpirer interface {
	ExpireDue(ctx context.Context, asOf time.Time) (int, error)
}

// ExpiryScheduler expires cards in the background.
type ExpiryScheduler struct {
	Cards         CardExpirer
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(cards CardExpirer, logger *slog.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScheduler{
		Cards:         cards,
		Logger:        logger.With(slog.String("component", "expiry-scheduler")),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("started", slog.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *ExpiryScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one check and returns how many cards were expired.
func (s *ExpiryScheduler) RunNow(ctx context.Context) int {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	n, err := s.Cards.ExpireDue(ctx, now())
	if err != nil {
		s.Logger.Error("expiry check failed", slog.String("error", err.Error()), slog.Int("expired", n))
	}
	if n > 0 {
		cardsExpiredTotal.Add(float64(n))
		s.Logger.Info("cards expired", slog.Int("count", n))
	}
	return n
}

// NextRunTime returns when the next scheduled check will occur.
func (s *ExpiryScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
