package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/scanbook/internal/auth"
	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/repository"
	"github.com/example/scanbook/internal/booking/service"
)

// HTTP exposes the booking endpoints.
type HTTP struct {
	svc       *service.Service
	jwtSecret string
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, jwtSecret: jwtSecret}
}

// Router builds the chi router with all endpoints and middlewares. Cancel is
// deliberately outside the auth gate: releasing a hold must work even after
// the session lapsed, and the operation is idempotent.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret))
		r.Post("/v1/bookings", h.createBooking)
		r.Get("/v1/bookings/{id}", h.getBooking)
		r.Post("/v1/bookings/{id}/confirm", h.confirmBooking)
	})
	r.Post("/v1/bookings/{id}/cancel", h.cancelHold)
	return r
}

type createBookingRequest struct {
	SlotID string `json:"slot_id"`
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	var payload createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slotID, err := uuid.Parse(payload.SlotID)
	if err != nil {
		http.Error(w, "invalid slot_id", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.CreateBooking(r.Context(), r.Header.Get("Idempotency-Key"), service.CreateBookingRequest{
		UserID: session.UserID,
		SlotID: slotID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref"`
}

func (h *HTTP) confirmBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var payload confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.PaymentRef == "" {
		http.Error(w, "missing payment_ref", http.StatusBadRequest)
		return
	}
	booking, err := h.svc.ConfirmBooking(r.Context(), id, payload.PaymentRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *HTTP) cancelHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.svc.CancelHold(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bookingResponse(b domain.Booking) map[string]any {
	resp := map[string]any{
		"booking_id":      b.ID.String(),
		"slot_id":         b.SlotID.String(),
		"service":         b.Service,
		"city":            b.City,
		"status":          string(b.Status),
		"amount_cents":    b.AmountCents,
		"fee_cents":       b.FeeCents,
		"hold_expires_at": b.HoldExpiresAt,
	}
	if b.PaymentRef != nil {
		resp["payment_ref"] = *b.PaymentRef
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSlotUnavailable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConfirmationMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
