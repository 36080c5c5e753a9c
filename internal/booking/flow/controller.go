package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/hold"
	"github.com/example/scanbook/internal/booking/rank"
)

// Step is the flow's current position in the checkout journey.
type Step string

const (
	StepSelect       Step = "SELECT"
	StepAuthenticate Step = "AUTHENTICATE"
	StepPay          Step = "PAY"
	StepConfirmed    Step = "CONFIRMED"
)

var (
	ErrFlowClosed   = errors.New("booking flow closed")
	ErrHoldInFlight = errors.New("hold request already in flight")
	ErrWrongStep    = errors.New("operation not valid in current step")
	ErrUnknownSlot  = errors.New("slot not in the loaded candidate list")
)

// HoldGrant is the booking service's answer to a successful hold claim.
type HoldGrant struct {
	BookingID   uuid.UUID `json:"booking_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	AmountCents int64     `json:"amount_cents"`
	FeeCents    int64     `json:"fee_cents"`
}

// SlotQuery loads candidate slots and their centers.
type SlotQuery interface {
	FetchSlots(ctx context.Context, city, service string, date *time.Time) ([]domain.Slot, []domain.Center, error)
}

// BookingAPI is the authoritative booking service. CreateBooking is the
// compare-and-swap: the controller never assumes success before the server
// confirms it.
type BookingAPI interface {
	CreateBooking(ctx context.Context, slotID uuid.UUID) (HoldGrant, error)
	ConfirmBooking(ctx context.Context, bookingID uuid.UUID, paymentRef string) error
	CancelHold(ctx context.Context, bookingID uuid.UUID) error
}

// Session identifies an authenticated user.
type Session struct {
	UserID uuid.UUID
}

// AuthSession resolves the current session; nil means sign-in is required.
type AuthSession interface {
	Session(ctx context.Context) (*Session, error)
}

// Payments opens the opaque payment surface for a booking. Outcomes come
// back through PaymentSucceeded / PaymentFailed; the controller knows
// nothing about payment internals.
type Payments interface {
	Begin(ctx context.Context, bookingID uuid.UUID, amountCents int64) error
}

// NoticeKind classifies user-visible flow notices.
type NoticeKind string

const (
	NoticeHoldExpired        NoticeKind = "hold_expired"
	NoticeSlotUnavailable    NoticeKind = "slot_unavailable"
	NoticePaymentFailed      NoticeKind = "payment_failed"
	NoticeConfirmationFailed NoticeKind = "confirmation_failed"
	NoticeNetwork            NoticeKind = "network"
)

// Notice is a user-visible message produced by a failed or expired step.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// State is a snapshot of the flow for rendering.
type State struct {
	Step                 Step
	SelectedSlotID       *uuid.UUID
	BookingID            *uuid.UUID
	RemainingHoldSeconds int
	NeedsRefresh         bool
}

// Config wires the flow's identity and observers.
type Config struct {
	City     string
	Service  string
	Tick     time.Duration
	OnNotice func(Notice)
	OnTick   func(remaining time.Duration)
}

// Controller drives one checkout journey from slot selection to a confirmed
// booking. One instance per user session; all state is owned here, nothing
// is package-global, so teardown is explicit and tests can inject a clock.
type Controller struct {
	slots    SlotQuery
	api      BookingAPI
	auth     AuthSession
	payments Payments
	events   domain.EventPublisher
	clock    domain.Clock
	logger   *zap.Logger
	cfg      Config

	mu            sync.Mutex
	step          Step
	userLoc       *domain.GeoPoint
	ranked        []rank.RankedSlot
	selected      *rank.RankedSlot
	grant         *HoldGrant
	lastBookingID *uuid.UUID
	countdown     *hold.Countdown
	pending       *PendingSelection
	holdInFlight  bool
	needsRefresh  bool
	closed        bool
}

// NewController constructs a flow starting at SELECT.
func NewController(slots SlotQuery, api BookingAPI, auth AuthSession, payments Payments, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger, cfg Config) *Controller {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Controller{
		slots:    slots,
		api:      api,
		auth:     auth,
		payments: payments,
		events:   events,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		step:     StepSelect,
	}
}

// SetUserLocation supplies the optional ranking coordinate. Absence is a
// normal state, not an error: ranking falls through distance.
func (c *Controller) SetUserLocation(loc *domain.GeoPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userLoc = loc
}

// State returns a render snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := State{Step: c.step, NeedsRefresh: c.needsRefresh}
	if c.selected != nil {
		id := c.selected.Slot.ID
		state.SelectedSlotID = &id
	}
	if c.grant != nil {
		id := c.grant.BookingID
		state.BookingID = &id
		remaining := c.grant.ExpiresAt.Sub(c.clock.Now())
		if remaining > 0 {
			state.RemainingHoldSeconds = int(remaining / time.Second)
		}
	}
	return state
}

// LoadSlots fetches and ranks the candidate list for display. Transport
// failures surface to the caller for a retry affordance.
func (c *Controller) LoadSlots(ctx context.Context, date *time.Time) ([]rank.RankedSlot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrFlowClosed
	}
	city, service, userLoc := c.cfg.City, c.cfg.Service, c.userLoc
	c.mu.Unlock()

	slots, centers, err := c.slots.FetchSlots(ctx, city, service, date)
	if err != nil {
		return nil, err
	}
	ranked := rank.Rank(slots, centers, userLoc)

	c.mu.Lock()
	c.ranked = ranked
	c.needsRefresh = false
	c.mu.Unlock()

	c.emit(ctx, uuid.Nil, domain.EventSlotsViewed, map[string]any{
		"city": city, "service": service, "count": len(ranked),
	})
	return ranked, nil
}

// SelectSlot is the SELECT-step action. Without a session the flow detours
// to AUTHENTICATE, persisting the choice for resume; with one it attempts
// the hold and moves to PAY.
func (c *Controller) SelectSlot(ctx context.Context, slotID uuid.UUID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrFlowClosed
	}
	if c.step != StepSelect {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.holdInFlight {
		c.mu.Unlock()
		return ErrHoldInFlight
	}
	var chosen *rank.RankedSlot
	for i := range c.ranked {
		if c.ranked[i].Slot.ID == slotID {
			chosen = &c.ranked[i]
			break
		}
	}
	if chosen == nil {
		c.mu.Unlock()
		return ErrUnknownSlot
	}
	c.mu.Unlock()

	session, err := c.auth.Session(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		c.mu.Lock()
		c.pending = &PendingSelection{City: c.cfg.City, Service: c.cfg.Service, SlotID: slotID}
		c.selected = chosen
		c.step = StepAuthenticate
		c.mu.Unlock()
		return nil
	}

	return c.attemptHold(ctx, chosen)
}

// Pending returns the selection parked across the sign-in detour.
func (c *Controller) Pending() *PendingSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// CompleteAuthentication resumes the parked selection after sign-in and
// re-attempts the hold with the same semantics as SELECT → PAY.
func (c *Controller) CompleteAuthentication(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrFlowClosed
	}
	if c.step != StepAuthenticate || c.pending == nil {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.holdInFlight {
		c.mu.Unlock()
		return ErrHoldInFlight
	}
	chosen := c.selected
	c.mu.Unlock()

	session, err := c.auth.Session(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrWrongStep
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return c.attemptHold(ctx, chosen)
}

// attemptHold round-trips the hold claim. Only the server arbitrates
// availability; a lost race is a normal outcome handled in place.
func (c *Controller) attemptHold(ctx context.Context, chosen *rank.RankedSlot) error {
	c.mu.Lock()
	if c.holdInFlight {
		c.mu.Unlock()
		return ErrHoldInFlight
	}
	c.holdInFlight = true
	c.mu.Unlock()

	grant, err := c.api.CreateBooking(ctx, chosen.Slot.ID)

	c.mu.Lock()
	c.holdInFlight = false
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			// The flow tore down mid-claim; do not strand the hold.
			go func() { _ = c.api.CancelHold(context.Background(), grant.BookingID) }()
		}
		return ErrFlowClosed
	}
	if err != nil {
		c.step = StepSelect
		if errors.Is(err, domain.ErrSlotUnavailable) {
			c.needsRefresh = true
			c.mu.Unlock()
			c.notify(Notice{Kind: NoticeSlotUnavailable, Message: "that slot was just taken, please pick another"})
			return domain.ErrSlotUnavailable
		}
		c.mu.Unlock()
		c.notify(Notice{Kind: NoticeNetwork, Message: "could not reserve the slot, please retry"})
		return err
	}

	c.selected = chosen
	c.grant = &grant
	id := grant.BookingID
	c.lastBookingID = &id
	c.step = StepPay
	c.countdown = hold.NewCountdown(
		domain.Hold{BookingID: grant.BookingID, SlotID: chosen.Slot.ID, ExpiresAt: grant.ExpiresAt},
		c.clock,
		hold.CountdownConfig{Tick: c.cfg.Tick, OnTick: c.cfg.OnTick, OnExpire: c.expire},
	)
	c.countdown.Start()
	amount := grant.AmountCents + grant.FeeCents
	c.mu.Unlock()

	if c.payments != nil {
		if err := c.payments.Begin(ctx, grant.BookingID, amount); err != nil {
			c.notify(Notice{Kind: NoticePaymentFailed, Message: "payment could not be started, please retry"})
		}
	}
	return nil
}

// expire is the countdown callback: PAY → SELECT, clear the hold, tell the
// user, and best-effort release server-side (its own TTL is the backstop).
func (c *Controller) expire() {
	c.mu.Lock()
	if c.closed || c.step == StepConfirmed {
		c.mu.Unlock()
		return
	}
	var bookingID *uuid.UUID
	if c.grant != nil {
		id := c.grant.BookingID
		bookingID = &id
	}
	c.selected = nil
	c.grant = nil
	c.countdown = nil
	c.step = StepSelect
	c.needsRefresh = true
	c.mu.Unlock()

	c.notify(Notice{Kind: NoticeHoldExpired, Message: "your hold expired, please pick a slot again"})
	if bookingID != nil {
		c.emit(context.Background(), *bookingID, domain.EventHoldExpired, nil)
		go func() { _ = c.api.CancelHold(context.Background(), *bookingID) }()
	}
}

// PaymentSucceeded is invoked by the payment surface. Success always wins
// over a racing expiry: the server-side confirmation is the authoritative
// check, and only its rejection turns this into a failure.
func (c *Controller) PaymentSucceeded(ctx context.Context, paymentRef string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrFlowClosed
	}
	if c.step == StepConfirmed {
		c.mu.Unlock()
		return nil
	}
	if c.lastBookingID == nil {
		c.mu.Unlock()
		return ErrWrongStep
	}
	bookingID := *c.lastBookingID
	c.mu.Unlock()

	err := c.api.ConfirmBooking(ctx, bookingID, paymentRef)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrFlowClosed
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationMismatch) {
			c.stopCountdownLocked()
			c.selected = nil
			c.grant = nil
			c.step = StepSelect
			c.needsRefresh = true
			c.mu.Unlock()
			c.notify(Notice{Kind: NoticeConfirmationFailed, Message: "booking could not be confirmed, please retry"})
			return domain.ErrConfirmationMismatch
		}
		c.mu.Unlock()
		c.notify(Notice{Kind: NoticeNetwork, Message: "confirmation did not go through, please retry"})
		return err
	}

	c.stopCountdownLocked()
	c.step = StepConfirmed
	c.mu.Unlock()

	c.emit(ctx, bookingID, domain.EventBookingConfirmed, map[string]any{"payment_ref": paymentRef})
	return nil
}

// PaymentFailed keeps the flow on PAY; the hold is still live and the user
// may retry until the countdown runs out.
func (c *Controller) PaymentFailed(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.closed || c.step != StepPay {
		c.mu.Unlock()
		return
	}
	var bookingID uuid.UUID
	if c.grant != nil {
		bookingID = c.grant.BookingID
	}
	c.mu.Unlock()

	c.notify(Notice{Kind: NoticePaymentFailed, Message: "payment failed, you can retry while the hold lasts"})
	c.emit(ctx, bookingID, domain.EventPaymentFailed, map[string]any{"reason": reason})
}

// Close tears the flow down: the countdown stops on every exit path and a
// live hold is released promptly rather than waiting out its TTL.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopCountdownLocked()
	var bookingID *uuid.UUID
	if c.grant != nil && c.step != StepConfirmed {
		id := c.grant.BookingID
		bookingID = &id
	}
	c.grant = nil
	c.selected = nil
	c.mu.Unlock()

	if bookingID != nil {
		if err := c.api.CancelHold(ctx, *bookingID); err != nil {
			c.logger.Debug("hold release on teardown failed", zap.Error(err))
		}
	}
}

func (c *Controller) stopCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) notify(n Notice) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(n)
	}
}

// emit publishes an analytics event. Best-effort: failures never block the
// flow.
func (c *Controller) emit(ctx context.Context, bookingID uuid.UUID, typ domain.BookingEventType, payload map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, domain.BookingEvent{
		BookingID: bookingID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: c.clock.Now(),
	}); err != nil {
		c.logger.Debug("event publish failed", zap.Error(err))
	}
}
