package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/flow"
)

// ErrNetwork marks transport-level failures. Callers test with errors.Is and
// may retry at their discretion.
var ErrNetwork = errors.New("network error")

// errConflict tags 409 responses; the operation methods map it to the
// domain sentinel that fits their semantics.
var errConflict = errors.New("conflict")

// Client talks to the booking and catalog HTTP APIs and satisfies the flow's
// SlotQuery and BookingAPI contracts. Every availability decision
// round-trips: the client never infers a slot's state locally.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New constructs a client against the given base URL. The bearer token may
// be empty for unauthenticated calls.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken swaps the bearer token after sign-in completes.
func (c *Client) SetToken(token string) { c.token = token }

type slotsResponse struct {
	Slots   []domain.Slot   `json:"slots"`
	Centers []domain.Center `json:"centers"`
}

// FetchSlots implements flow.SlotQuery.
func (c *Client) FetchSlots(ctx context.Context, city, service string, date *time.Time) ([]domain.Slot, []domain.Center, error) {
	q := url.Values{}
	q.Set("city", city)
	q.Set("service", service)
	if date != nil {
		q.Set("date", date.Format("2006-01-02"))
	}

	var resp slotsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/slots?"+q.Encode(), nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Slots, resp.Centers, nil
}

// CreateBooking implements flow.BookingAPI. A 409 means the claim race was
// lost and maps to domain.ErrSlotUnavailable.
func (c *Client) CreateBooking(ctx context.Context, slotID uuid.UUID) (flow.HoldGrant, error) {
	body := map[string]string{"slot_id": slotID.String()}
	var grant flow.HoldGrant
	if err := c.do(ctx, http.MethodPost, "/v1/bookings", body, &grant); err != nil {
		if errors.Is(err, errConflict) {
			return flow.HoldGrant{}, domain.ErrSlotUnavailable
		}
		return flow.HoldGrant{}, err
	}
	return grant, nil
}

// ConfirmBooking implements flow.BookingAPI. Any conflict here — lost hold,
// cancelled or expired draft — means the server no longer honors the
// confirmation, so it maps to domain.ErrConfirmationMismatch rather than a
// retryable failure.
func (c *Client) ConfirmBooking(ctx context.Context, bookingID uuid.UUID, paymentRef string) error {
	body := map[string]string{"payment_ref": paymentRef}
	err := c.do(ctx, http.MethodPost, "/v1/bookings/"+bookingID.String()+"/confirm", body, nil)
	if errors.Is(err, errConflict) {
		return domain.ErrConfirmationMismatch
	}
	return err
}

// CancelHold implements flow.BookingAPI. Idempotent server-side; errors are
// returned but safe to drop.
func (c *Client) CancelHold(ctx context.Context, bookingID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/v1/bookings/"+bookingID.String()+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusConflict:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", errConflict, bytes.TrimSpace(msg))
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrConfirmationMismatch
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
}
