package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SlotStatus captures the availability of a bookable appointment slot.
type SlotStatus string

const (
	SlotOpen    SlotStatus = "OPEN"
	SlotHeld    SlotStatus = "HELD"
	SlotBooked  SlotStatus = "BOOKED"
	SlotBlocked SlotStatus = "BLOCKED"
)

// BookingStatus tracks a booking draft through the hold/payment window.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingCancelled BookingStatus = "CANCELLED"
)

var (
	ErrInvalidTransition    = errors.New("invalid booking state transition")
	ErrSlotUnavailable      = errors.New("slot unavailable")
	ErrHoldExpired          = errors.New("hold expired")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrConfirmationMismatch = errors.New("booking could not be confirmed")
)

var allowedTransitions = map[BookingStatus][]BookingStatus{
	BookingPending: {BookingConfirmed, BookingExpired, BookingCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal. A
// self-transition is allowed so idempotent retries do not fail.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Center is a physical diagnostic facility. Centers are read-only inputs
// here; their lifecycle belongs to the partner administration surface.
type Center struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	City     string    `json:"city"`
	AreaHint string    `json:"area_hint"`
	Location GeoPoint  `json:"location"`
	Rating   float64   `json:"rating"`
}

// Slot is a bookable appointment unit at a specific center.
type Slot struct {
	ID              uuid.UUID  `json:"id"`
	CenterID        uuid.UUID  `json:"center_id"`
	Service         string     `json:"service"`
	City            string     `json:"city"`
	StartTime       time.Time  `json:"start_time"`
	PriceCents      int64      `json:"price_cents"`
	TurnaroundHours int        `json:"turnaround_hours"`
	Status          SlotStatus `json:"status"`
}

// Hold is a time-boxed provisional claim binding one slot to one booking
// draft. The authoritative copy lives server-side; clients mirror ExpiresAt
// and never extend it.
type Hold struct {
	BookingID uuid.UUID `json:"booking_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the hold deadline has passed at the given instant.
func (h Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Booking aggregates a slot claim, its hold window and the payment outcome.
type Booking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	SlotID        uuid.UUID
	CenterID      uuid.UUID
	Service       string
	City          string
	Status        BookingStatus
	AmountCents   int64
	FeeCents      int64
	PaymentRef    *string
	HoldExpiresAt time.Time
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
	Version       int64
}

// BookingEventType enumerates analytics/notification events emitted around
// the booking flow. Delivery is best-effort and must never block the flow.
type BookingEventType string

const (
	EventSlotsViewed      BookingEventType = "SlotsViewed"
	EventHoldCreated      BookingEventType = "HoldCreated"
	EventHoldExpired      BookingEventType = "HoldExpired"
	EventHoldReleased     BookingEventType = "HoldReleased"
	EventPaymentFailed    BookingEventType = "PaymentFailed"
	EventBookingConfirmed BookingEventType = "BookingConfirmed"
)

type BookingEvent struct {
	ID        int64
	BookingID uuid.UUID
	Type      BookingEventType
	Payload   map[string]any
	CreatedAt time.Time
}

// Repository stores booking drafts and their event trail.
type Repository interface {
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking) (Booking, error)
	ListPendingBefore(ctx context.Context, deadline time.Time) ([]Booking, error)
	CreateBookingEvent(ctx context.Context, event BookingEvent) error
}

// IdempotencyRepository caches responses keyed by client idempotency key so
// a retried create does not race itself into a second hold.
type IdempotencyRepository interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

// EventPublisher emits booking events to the notification/analytics fabric.
type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

// Clock abstracts wall-clock time so hold expiry is testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
