package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/flow"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type stubSlotQuery struct {
	slots   []domain.Slot
	centers []domain.Center
	err     error
}

func (s *stubSlotQuery) FetchSlots(_ context.Context, _, _ string, _ *time.Time) ([]domain.Slot, []domain.Center, error) {
	return s.slots, s.centers, s.err
}

type stubAPI struct {
	mu         sync.Mutex
	grant      flow.HoldGrant
	createErr  error
	confirmErr error
	block      chan struct{}
	created    []uuid.UUID
	confirmed  []uuid.UUID
	cancelled  []uuid.UUID
}

func (s *stubAPI) CreateBooking(_ context.Context, slotID uuid.UUID) (flow.HoldGrant, error) {
	s.mu.Lock()
	s.created = append(s.created, slotID)
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return flow.HoldGrant{}, s.createErr
	}
	return s.grant, nil
}

func (s *stubAPI) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *stubAPI) ConfirmBooking(_ context.Context, bookingID uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmErr != nil {
		return s.confirmErr
	}
	s.confirmed = append(s.confirmed, bookingID)
	return nil
}

func (s *stubAPI) CancelHold(_ context.Context, bookingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, bookingID)
	return nil
}

func (s *stubAPI) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

type stubAuth struct{ session *flow.Session }

func (s *stubAuth) Session(_ context.Context) (*flow.Session, error) { return s.session, nil }

type stubPayments struct {
	mu    sync.Mutex
	began []uuid.UUID
}

func (s *stubPayments) Begin(_ context.Context, bookingID uuid.UUID, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.began = append(s.began, bookingID)
	return nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.BookingEvent
}

func (s *stubPublisher) Publish(_ context.Context, event domain.BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []flow.Notice
}

func (n *noticeRecorder) record(notice flow.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeRecorder) kinds() []flow.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]flow.NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type fixture struct {
	ctrl    *flow.Controller
	api     *stubAPI
	auth    *stubAuth
	pay     *stubPayments
	events  *stubPublisher
	notices *noticeRecorder
	clock   *fakeClock
	slot    domain.Slot
}

func newFixture(t *testing.T, authenticated bool) *fixture {
	t.Helper()
	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)

	center := domain.Center{ID: uuid.New(), City: "mumbai", Rating: 4.5,
		Location: domain.GeoPoint{Lat: 19.08, Lng: 72.88}}
	slot := domain.Slot{
		ID: uuid.New(), CenterID: center.ID, Service: "mri-brain", City: "mumbai",
		StartTime: start.Add(3 * time.Hour), PriceCents: 80000, Status: domain.SlotOpen,
	}

	api := &stubAPI{grant: flow.HoldGrant{
		BookingID: uuid.New(), ExpiresAt: start.Add(420 * time.Second),
		AmountCents: 80000, FeeCents: 2400,
	}}
	auth := &stubAuth{}
	if authenticated {
		auth.session = &flow.Session{UserID: uuid.New()}
	}
	pay := &stubPayments{}
	events := &stubPublisher{}
	notices := &noticeRecorder{}

	ctrl := flow.NewController(
		&stubSlotQuery{slots: []domain.Slot{slot}, centers: []domain.Center{center}},
		api, auth, pay, events, clock, nil,
		flow.Config{City: "mumbai", Service: "mri-brain", Tick: 2 * time.Millisecond, OnNotice: notices.record},
	)
	t.Cleanup(func() { ctrl.Close(context.Background()) })

	_, err := ctrl.LoadSlots(context.Background(), nil)
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, api: api, auth: auth, pay: pay, events: events,
		notices: notices, clock: clock, slot: slot}
}

func TestSelectWithSessionMovesToPay(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	state := f.ctrl.State()
	require.Equal(t, flow.StepPay, state.Step)
	require.NotNil(t, state.BookingID)
	require.Equal(t, f.api.grant.BookingID, *state.BookingID)
	require.Equal(t, 420, state.RemainingHoldSeconds)

	f.pay.mu.Lock()
	defer f.pay.mu.Unlock()
	require.Equal(t, []uuid.UUID{f.api.grant.BookingID}, f.pay.began)
}

func TestSelectWithoutSessionDetoursToAuthenticate(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))
	require.Equal(t, flow.StepAuthenticate, f.ctrl.State().Step)

	pending := f.ctrl.Pending()
	require.NotNil(t, pending)
	require.Equal(t, f.slot.ID, pending.SlotID)
	require.Empty(t, f.api.created, "no hold attempt before authentication")

	// Sign-in completes; the parked selection resumes into PAY.
	f.auth.session = &flow.Session{UserID: uuid.New()}
	require.NoError(t, f.ctrl.CompleteAuthentication(context.Background()))
	require.Equal(t, flow.StepPay, f.ctrl.State().Step)
	require.Nil(t, f.ctrl.Pending())
}

func TestSelectUnknownSlot(t *testing.T) {
	f := newFixture(t, true)
	err := f.ctrl.SelectSlot(context.Background(), uuid.New())
	require.ErrorIs(t, err, flow.ErrUnknownSlot)
}

func TestSlotUnavailableStaysOnSelect(t *testing.T) {
	f := newFixture(t, true)
	f.api.createErr = domain.ErrSlotUnavailable

	err := f.ctrl.SelectSlot(context.Background(), f.slot.ID)
	require.ErrorIs(t, err, domain.ErrSlotUnavailable)

	state := f.ctrl.State()
	require.Equal(t, flow.StepSelect, state.Step)
	require.True(t, state.NeedsRefresh, "availability changed, the list is stale")
	require.Contains(t, f.notices.kinds(), flow.NoticeSlotUnavailable)
}

func TestSecondSelectWhileHoldInFlightRejected(t *testing.T) {
	f := newFixture(t, true)
	f.api.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.SelectSlot(context.Background(), f.slot.ID) }()

	waitFor(t, func() bool { return f.api.createdCount() == 1 })
	require.ErrorIs(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID), flow.ErrHoldInFlight)

	close(f.api.block)
	require.NoError(t, <-errCh)
	require.Equal(t, flow.StepPay, f.ctrl.State().Step)
}

func TestPaymentFailureKeepsPayAndCountdown(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	f.clock.Advance(60 * time.Second)
	f.ctrl.PaymentFailed(context.Background(), "card declined")

	state := f.ctrl.State()
	require.Equal(t, flow.StepPay, state.Step, "payment failure self-loops on PAY")
	require.Equal(t, 360, state.RemainingHoldSeconds, "hold keeps running down")
	require.Contains(t, f.notices.kinds(), flow.NoticePaymentFailed)
}

func TestHoldExpiryReturnsToSelect(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	f.clock.Advance(421 * time.Second)
	waitFor(t, func() bool { return f.ctrl.State().Step == flow.StepSelect })

	state := f.ctrl.State()
	require.Nil(t, state.SelectedSlotID)
	require.Nil(t, state.BookingID)
	require.True(t, state.NeedsRefresh)
	require.Contains(t, f.notices.kinds(), flow.NoticeHoldExpired)

	// Expiry also best-effort releases server-side.
	waitFor(t, func() bool { return f.api.cancelCount() == 1 })
}

func TestPaymentSuccessConfirms(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	require.NoError(t, f.ctrl.PaymentSucceeded(context.Background(), "pay_123"))
	require.Equal(t, flow.StepConfirmed, f.ctrl.State().Step)

	// Terminal: a late expiry must not drag the flow back.
	f.clock.Advance(time.Hour)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, flow.StepConfirmed, f.ctrl.State().Step)
	require.Zero(t, f.api.cancelCount())
}

func TestPaymentSuccessIdempotent(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))
	require.NoError(t, f.ctrl.PaymentSucceeded(context.Background(), "pay_123"))
	require.NoError(t, f.ctrl.PaymentSucceeded(context.Background(), "pay_123"))

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	require.Len(t, f.api.confirmed, 1)
}

func TestPaymentSuccessAfterExpiryRejectedByServer(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	f.clock.Advance(421 * time.Second)
	waitFor(t, func() bool { return f.ctrl.State().Step == flow.StepSelect })

	// The success callback lands after the hold already expired; the server
	// no longer recognizes the hold and the flow must not show success.
	f.api.confirmErr = domain.ErrConfirmationMismatch
	err := f.ctrl.PaymentSucceeded(context.Background(), "pay_123")
	require.ErrorIs(t, err, domain.ErrConfirmationMismatch)
	require.Equal(t, flow.StepSelect, f.ctrl.State().Step)
	require.Contains(t, f.notices.kinds(), flow.NoticeConfirmationFailed)
}

func TestConfirmNetworkFailureStaysOnPay(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	transport := errors.New("connection reset")
	f.api.confirmErr = transport
	err := f.ctrl.PaymentSucceeded(context.Background(), "pay_123")
	require.ErrorIs(t, err, transport)
	require.Equal(t, flow.StepPay, f.ctrl.State().Step, "retryable failure keeps the payment step")
	require.Contains(t, f.notices.kinds(), flow.NoticeNetwork)
}

func TestCloseReleasesActiveHold(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))

	f.ctrl.Close(context.Background())
	require.Equal(t, 1, f.api.cancelCount())

	f.ctrl.Close(context.Background())
	require.Equal(t, 1, f.api.cancelCount(), "second close is a no-op")

	require.ErrorIs(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID), flow.ErrFlowClosed)
}

func TestCloseAfterConfirmationDoesNotCancel(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.SelectSlot(context.Background(), f.slot.ID))
	require.NoError(t, f.ctrl.PaymentSucceeded(context.Background(), "pay_123"))

	f.ctrl.Close(context.Background())
	require.Zero(t, f.api.cancelCount(), "a confirmed booking is not a hold to release")
}

func TestLoadSlotsEmptyListIsValid(t *testing.T) {
	ctrl := flow.NewController(
		&stubSlotQuery{}, &stubAPI{}, &stubAuth{}, nil, nil, nil, nil,
		flow.Config{City: "pune", Service: "ct-chest"},
	)
	defer ctrl.Close(context.Background())

	ranked, err := ctrl.LoadSlots(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, ranked)
}

func TestPendingSelectionQueryRoundTrip(t *testing.T) {
	p := flow.PendingSelection{City: "mumbai", Service: "mri-brain", SlotID: uuid.New()}
	parsed, err := flow.ParsePendingSelection(p.Query())
	require.NoError(t, err)
	require.Equal(t, p, parsed)
}

func TestParsePendingSelectionMissingSlot(t *testing.T) {
	p := flow.PendingSelection{City: "mumbai", Service: "mri-brain", SlotID: uuid.New()}
	values := p.Query()
	values.Del("slot")
	_, err := flow.ParsePendingSelection(values)
	require.ErrorIs(t, err, flow.ErrNoPendingSelection)
}
