package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/hold"
)

// SlotCatalog exposes the slot inventory the booking service arbitrates
// over. Status writes keep the catalog's view consistent with the hold
// store, which remains the authority on who owns a hold.
type SlotCatalog interface {
	SlotByID(ctx context.Context, id uuid.UUID) (domain.Slot, error)
	SetSlotStatus(ctx context.Context, id uuid.UUID, status domain.SlotStatus) error
}

// Config carries the business parameters of the hold protocol. Both are
// deployment configuration, not invariants.
type Config struct {
	HoldTTL    time.Duration
	FeePercent int64
}

// Service owns booking drafts and the authoritative hold lifecycle: it is
// the sole arbiter of the compare-and-swap that guarantees at most one live
// hold per slot.
type Service struct {
	repo       domain.Repository
	slots      SlotCatalog
	holds      hold.Store
	events     domain.EventPublisher
	clock      domain.Clock
	idempotent domain.IdempotencyRepository
	cfg        Config
}

// New constructs a Service with the required collaborators.
func New(repo domain.Repository, slots SlotCatalog, holds hold.Store, events domain.EventPublisher, clock domain.Clock, idem domain.IdempotencyRepository, cfg Config) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 7 * time.Minute
	}
	if cfg.FeePercent < 0 {
		cfg.FeePercent = 0
	}
	return &Service{repo: repo, slots: slots, holds: holds, events: events, clock: clock, idempotent: idem, cfg: cfg}
}

// CreateBookingRequest contains the payload for opening a booking draft.
type CreateBookingRequest struct {
	UserID uuid.UUID
	SlotID uuid.UUID
}

// CreateBookingResponse returns the draft identifier and the hold deadline
// the client mirrors locally.
type CreateBookingResponse struct {
	BookingID   uuid.UUID `json:"booking_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	AmountCents int64     `json:"amount_cents"`
	FeeCents    int64     `json:"fee_cents"`
}

// CreateBooking claims the slot via the hold store and opens a PENDING
// booking draft. Losing the claim race returns ErrSlotUnavailable: an
// expected outcome, never inferred from stale client state.
func (s *Service) CreateBooking(ctx context.Context, key string, req CreateBookingRequest) (CreateBookingResponse, error) {
	if key != "" && s.idempotent != nil {
		if cached, ok, err := s.idempotent.GetResponse(ctx, key); err == nil && ok {
			return decodeCreateBookingResponse(cached)
		}
	}

	slot, err := s.slots.SlotByID(ctx, req.SlotID)
	if err != nil {
		return CreateBookingResponse{}, fmt.Errorf("lookup slot: %w", err)
	}
	if slot.Status == domain.SlotBooked || slot.Status == domain.SlotBlocked {
		return CreateBookingResponse{}, domain.ErrSlotUnavailable
	}

	bookingID := uuid.New()
	held, err := s.holds.TryHold(ctx, slot.ID, bookingID, s.cfg.HoldTTL)
	if err != nil {
		return CreateBookingResponse{}, fmt.Errorf("claim hold: %w", err)
	}
	if !held {
		return CreateBookingResponse{}, domain.ErrSlotUnavailable
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.HoldTTL)
	booking := domain.Booking{
		ID:            bookingID,
		UserID:        req.UserID,
		SlotID:        slot.ID,
		CenterID:      slot.CenterID,
		Service:       slot.Service,
		City:          slot.City,
		Status:        domain.BookingPending,
		AmountCents:   slot.PriceCents,
		FeeCents:      slot.PriceCents * s.cfg.FeePercent / 100,
		HoldExpiresAt: expiresAt,
		CreatedAt:     now,
		Version:       1,
	}

	created, err := s.repo.CreateBooking(ctx, booking)
	if err != nil {
		// The hold must not outlive a failed draft.
		_, _ = s.holds.ReleaseIfOwner(ctx, slot.ID, bookingID)
		return CreateBookingResponse{}, fmt.Errorf("create booking: %w", err)
	}

	if err := s.slots.SetSlotStatus(ctx, slot.ID, domain.SlotHeld); err != nil {
		return CreateBookingResponse{}, fmt.Errorf("mark slot held: %w", err)
	}

	_ = s.events.Publish(ctx, domain.BookingEvent{
		BookingID: created.ID,
		Type:      domain.EventHoldCreated,
		Payload:   map[string]any{"slot_id": slot.ID.String(), "expires_at": expiresAt.Format(time.RFC3339)},
		CreatedAt: now,
	})

	resp := CreateBookingResponse{
		BookingID:   created.ID,
		ExpiresAt:   expiresAt,
		AmountCents: created.AmountCents,
		FeeCents:    created.FeeCents,
	}
	if key != "" && s.idempotent != nil {
		_ = s.idempotent.PutResponse(ctx, key, encodeCreateBookingResponse(resp))
	}
	return resp, nil
}

// GetBooking retrieves a booking by identifier.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.repo.GetBookingByID(ctx, id)
}

// ConfirmBooking promotes a held slot to BOOKED once payment succeeded. The
// hold store is consulted first: a hold that expired or was released in the
// meantime yields ErrConfirmationMismatch, never a silent success.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID uuid.UUID, paymentRef string) (domain.Booking, error) {
	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if booking.Status == domain.BookingConfirmed {
		return booking, nil
	}
	if !booking.Status.CanTransitionTo(domain.BookingConfirmed) {
		return domain.Booking{}, domain.ErrInvalidTransition
	}

	holder, ok, err := s.holds.Holder(ctx, booking.SlotID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("check hold: %w", err)
	}
	if !ok || holder != booking.ID {
		return domain.Booking{}, domain.ErrConfirmationMismatch
	}

	now := s.clock.Now()
	booking.Status = domain.BookingConfirmed
	booking.PaymentRef = &paymentRef
	booking.ConfirmedAt = &now

	updated, err := s.repo.UpdateBooking(ctx, booking)
	if err != nil {
		return domain.Booking{}, err
	}

	if err := s.slots.SetSlotStatus(ctx, booking.SlotID, domain.SlotBooked); err != nil {
		return domain.Booking{}, fmt.Errorf("mark slot booked: %w", err)
	}
	_, _ = s.holds.ReleaseIfOwner(ctx, booking.SlotID, booking.ID)
	hold.ObserveLifetime(now.Sub(booking.CreatedAt).Seconds())

	_ = s.events.Publish(ctx, domain.BookingEvent{
		BookingID: updated.ID,
		Type:      domain.EventBookingConfirmed,
		Payload:   map[string]any{"payment_ref": paymentRef},
		CreatedAt: now,
	})

	return updated, nil
}

// CancelHold releases the draft's hold early. Idempotent: cancelling an
// already cancelled, expired or confirmed booking changes nothing.
func (s *Service) CancelHold(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingPending {
		return nil
	}

	released, err := s.holds.ReleaseIfOwner(ctx, booking.SlotID, booking.ID)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}

	reopen := released
	if !released {
		// The TTL may have lapsed between the client's timer and this call.
		// A slot with no live hold must not stay HELD; only a successor's
		// live hold keeps it off the market.
		_, ok, err := s.holds.Holder(ctx, booking.SlotID)
		if err != nil {
			return fmt.Errorf("check hold: %w", err)
		}
		reopen = !ok
	}

	now := s.clock.Now()
	booking.Status = domain.BookingCancelled
	booking.CancelledAt = &now
	if _, err := s.repo.UpdateBooking(ctx, booking); err != nil {
		return err
	}
	if reopen {
		if err := s.slots.SetSlotStatus(ctx, booking.SlotID, domain.SlotOpen); err != nil {
			return fmt.Errorf("reopen slot: %w", err)
		}
	}
	if released {
		hold.ObserveLifetime(now.Sub(booking.CreatedAt).Seconds())
	}

	_ = s.events.Publish(ctx, domain.BookingEvent{
		BookingID: booking.ID,
		Type:      domain.EventHoldReleased,
		Payload:   map[string]any{"slot_id": booking.SlotID.String()},
		CreatedAt: now,
	})
	return nil
}

// RecordPaymentFailure keeps the draft on its hold but emits the analytics
// event. The user may retry within the remaining window.
func (s *Service) RecordPaymentFailure(ctx context.Context, bookingID uuid.UUID, reason string) {
	_ = s.events.Publish(ctx, domain.BookingEvent{
		BookingID: bookingID,
		Type:      domain.EventPaymentFailed,
		Payload:   map[string]any{"reason": reason},
		CreatedAt: s.clock.Now(),
	})
}

func encodeCreateBookingResponse(resp CreateBookingResponse) []byte {
	payload, _ := json.Marshal(resp)
	return payload
}

func decodeCreateBookingResponse(b []byte) (CreateBookingResponse, error) {
	var resp CreateBookingResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return CreateBookingResponse{}, err
	}
	return resp, nil
}
