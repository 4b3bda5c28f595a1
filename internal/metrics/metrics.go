// Package metrics provides Prometheus instrumentation for the community engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// XPAwardedTotal sums XP granted, partitioned by reason code.
	XPAwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_xp_awarded_total",
		Help: "Total XP awarded",
	}, []string{"reason"})

	// AchievementsUnlockedTotal counts achievement unlocks.
	AchievementsUnlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_achievements_unlocked_total",
		Help: "Total achievements unlocked",
	}, []string{"achievement"})

	// TradesOpenedTotal counts simulated trades opened, partitioned by side.
	TradesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_trades_opened_total",
		Help: "Total simulated trades opened",
	}, []string{"side"})

	// TradesClosedTotal counts closed trades, partitioned by outcome.
	TradesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_trades_closed_total",
		Help: "Total simulated trades closed",
	}, []string{"outcome"})

	// VotesTotal counts poll votes recorded.
	VotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specter_poll_votes_total",
		Help: "Total poll votes recorded",
	})

	// NotificationsTotal counts notifications created, by type.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_notifications_total",
		Help: "Total notifications created",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "specter_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "specter_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "specter_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
