// Package metrics provides Prometheus instrumentation for the handoff
// service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handoff",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Offer lifecycle metrics ---

	OffersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_created_total",
		Help:      "Total offers created.",
	})

	OffersAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_accepted_total",
		Help:      "Total offers accepted by the listing owner.",
	})

	OffersConfirmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_confirmed_total",
		Help:      "Total offers confirmed with an agreed handover.",
	})

	OffersCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_completed_total",
		Help:      "Total offers completed (verified by both parties).",
	})

	OffersCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_cancelled_total",
		Help:      "Total offers cancelled after acceptance.",
	})

	OffersExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "offers_expired_total",
		Help:      "Total pending offers expired by the sweep timer.",
	})

	// --- Pickup scheduling metrics ---

	PickupProposalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "pickup_proposals_total",
		Help:      "Total pickup proposals opened.",
	})

	// PickupCyclesPerOffer observes how many proposal cycles an offer
	// needed before confirmation.
	PickupCyclesPerOffer = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "handoff",
		Name:      "pickup_cycles_per_offer",
		Help:      "Number of pickup proposals before an offer confirmed.",
		Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
	})

	// --- Review metrics ---

	ReviewsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "handoff",
		Name:      "reviews_submitted_total",
		Help:      "Total reviews submitted.",
	})

	ReviewScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "handoff",
		Name:      "review_scores",
		Help:      "Distribution of submitted review scores.",
		Buckets:   []float64{1, 2, 3, 4, 4.5, 5},
	})

	// --- Event delivery metrics ---

	// EventDeliveriesTotal counts webhook delivery attempts by result.
	EventDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Name:      "event_deliveries_total",
			Help:      "Total webhook event deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "handoff",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// --- Runtime gauges ---

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handoff", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OffersCreatedTotal,
		OffersAcceptedTotal,
		OffersConfirmedTotal,
		OffersCompletedTotal,
		OffersCancelledTotal,
		OffersExpiredTotal,
		PickupProposalsTotal,
		PickupCyclesPerOffer,
		ReviewsSubmittedTotal,
		ReviewScores,
		EventDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
