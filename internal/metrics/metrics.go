// Package metrics provides Prometheus instrumentation for the game server.
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
	// TradesTotal counts executed trades, partitioned by symbol and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_trades_total",
		Help: "Total number of trades executed",
	}, []string{"symbol", "side"})

	// TradeRejections counts trades refused by validation, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_trade_rejections_total",
		Help: "Trades rejected during validation",
	}, []string{"reason"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// Players tracks the number of registered player accounts.
	Players = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_players",
		Help: "Number of registered players",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// ScheduledEventsFired counts scheduled session events applied, by event.
	ScheduledEventsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_scheduled_events_fired_total",
		Help: "Scheduled session events applied",
	}, []string{"event"})

	// CardPurchases counts card purchases by card ID.
	CardPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_card_purchases_total",
		Help: "Total card purchases",
	}, []string{"card"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
