package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/scanbook/internal/booking/domain"
)

var (
	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hold_sweep_expired_total",
		Help: "Total number of holds expired by the background sweeper.",
	})
	sweepLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hold_sweep_lag_seconds",
		Help: "Age past deadline of the oldest hold expired in the last sweep.",
	})
)

// SweeperConfig tunes the expiry sweep loop.
type SweeperConfig struct {
	Interval time.Duration
}

// Sweeper periodically reverts pending bookings whose hold deadline has
// passed. Clients mirror the deadline and usually notice first, but the
// sweeper is the ultimate authority: it runs even when the client is closed
// or the tab frozen.
type Sweeper struct {
	svc    *Service
	logger *zap.Logger
	cfg    SweeperConfig
	tracer trace.Tracer
}

// NewSweeper constructs a sweeper bound to the booking service.
func NewSweeper(svc *Service, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		svc:    svc,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("booking.hold.sweeper"),
	}
}

// Run starts the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.sweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("hold sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweepOnce expires every pending booking whose hold deadline has passed.
func (s *Sweeper) sweepOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "hold.sweep")
	defer span.End()

	now := s.svc.clock.Now()
	stale, err := s.svc.repo.ListPendingBefore(ctx, now)
	if err != nil {
		return err
	}

	maxLag := 0.0
	for _, booking := range stale {
		if err := s.expire(ctx, booking, now); err != nil {
			s.logger.Warn("expire booking failed",
				zap.String("booking_id", booking.ID.String()), zap.Error(err))
			continue
		}
		sweepExpiredTotal.Inc()
		if lag := now.Sub(booking.HoldExpiresAt).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	if len(stale) > 0 {
		sweepLagSeconds.Set(maxLag)
		s.logger.Info("expired stale holds", zap.Int("count", len(stale)))
	}
	return nil
}

func (s *Sweeper) expire(ctx context.Context, booking domain.Booking, now time.Time) error {
	// The store key normally lapsed on its own TTL; the owner-checked
	// release covers stores without native expiry.
	_, _ = s.svc.holds.ReleaseIfOwner(ctx, booking.SlotID, booking.ID)

	booking.Status = domain.BookingExpired
	if _, err := s.svc.repo.UpdateBooking(ctx, booking); err != nil {
		return err
	}
	if err := s.svc.slots.SetSlotStatus(ctx, booking.SlotID, domain.SlotOpen); err != nil {
		return err
	}

	_ = s.svc.events.Publish(ctx, domain.BookingEvent{
		BookingID: booking.ID,
		Type:      domain.EventHoldExpired,
		Payload:   map[string]any{"slot_id": booking.SlotID.String()},
		CreatedAt: now,
	})
	return nil
}
