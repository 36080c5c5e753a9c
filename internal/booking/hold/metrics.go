package hold

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	holdAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_hold_attempts_total",
		Help: "Hold acquisition attempts grouped by outcome.",
	}, []string{"result"})

	holdLifetime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_hold_lifetime_seconds",
		Help:    "Observed lifetime of holds from creation to release or expiry.",
		Buckets: []float64{30, 60, 120, 240, 420, 600},
	})
)

// ObserveLifetime records how long a hold lived before it was released,
// promoted or expired.
func ObserveLifetime(seconds float64) {
	holdLifetime.Observe(seconds)
}
