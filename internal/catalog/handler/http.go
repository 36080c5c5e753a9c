package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/scanbook/internal/auth"
	"github.com/example/scanbook/internal/booking/domain"
	catalogsvc "github.com/example/scanbook/internal/catalog/service"
)

// HTTP exposes the slot and center endpoints.
type HTTP struct {
	svc       *catalogsvc.Service
	jwtSecret string
}

// New creates the handler. An empty secret leaves center registration open,
// which is only acceptable in local setups.
func New(svc *catalogsvc.Service, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, jwtSecret: jwtSecret}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/slots", h.slots)
	r.Get("/v1/centers/nearby", h.nearbyCenters)
	if h.jwtSecret != "" {
		r.Group(func(g chi.Router) {
			g.Use(auth.Middleware(h.jwtSecret, "admin"))
			g.Post("/v1/centers", h.registerCenter)
		})
	} else {
		r.Post("/v1/centers", h.registerCenter)
	}
	return r
}

func (h *HTTP) registerCenter(w http.ResponseWriter, r *http.Request) {
	var center domain.Center
	if err := json.NewDecoder(r.Body).Decode(&center); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if center.ID == uuid.Nil {
		center.ID = uuid.New()
	}
	if center.Name == "" || center.City == "" {
		http.Error(w, "name and city are required", http.StatusBadRequest)
		return
	}
	if err := h.svc.RegisterCenter(r.Context(), center); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, center)
}

func (h *HTTP) slots(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	service := r.URL.Query().Get("service")
	if city == "" || service == "" {
		http.Error(w, "city and service are required", http.StatusBadRequest)
		return
	}

	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = &parsed
	}

	result, err := h.svc.FetchSlots(r.Context(), city, service, date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTP) nearbyCenters(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		http.Error(w, "lat must be a number", http.StatusBadRequest)
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		http.Error(w, "lng must be a number", http.StatusBadRequest)
		return
	}

	var radius float64
	if raw := r.URL.Query().Get("radius_km"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			http.Error(w, "radius_km must be a number", http.StatusBadRequest)
			return
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	centers, err := h.svc.NearbyCenters(r.Context(), domain.GeoPoint{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"centers": centers})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
