// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts simulated clock steps, partitioned by market state.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_ticks_total",
		Help: "Total number of clock steps",
	}, []string{"state"})

	// TickDuration tracks how long one clock step takes under the session lock.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kospisim_tick_duration_seconds",
		Help:    "Clock step latency in seconds",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	})

	// MarketDay is the current simulated trading day.
	MarketDay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kospisim_market_day",
		Help: "Current simulated trading day",
	})

	// MarketOpen is 1 while the market is open and 0 while closed.
	MarketOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kospisim_market_open",
		Help: "Whether the market is open",
	})

	// HaltsTotal counts band halts by limit side.
	HaltsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_halts_total",
		Help: "Trading halts triggered by daily band limits",
	}, []string{"side"})

	// DelistingsTotal counts instruments delisted below the floor price.
	DelistingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kospisim_delistings_total",
		Help: "Instruments delisted",
	})

	// RelistingsTotal counts instruments restored after the waiting period.
	RelistingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kospisim_relistings_total",
		Help: "Instruments relisted",
	})

	// NewsTotal counts emitted news by declared effect and decoy flag.
	NewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_news_total",
		Help: "News events emitted",
	}, []string{"effect", "decoy"})

	// OrdersTotal counts order submissions by kind and outcome (ok or a
	// rejection reason code).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_orders_total",
		Help: "Order submissions",
	}, []string{"kind", "outcome"})

	// PendingExecutionsTotal counts limit orders filled by the clock.
	PendingExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_pending_executions_total",
		Help: "Limit orders executed on a clock step",
	}, []string{"side"})

	// LiquidationsTotal counts forced liquidations by leverage tier.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_liquidations_total",
		Help: "Leveraged positions force-closed",
	}, []string{"leverage"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kospisim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PublishFailures counts snapshot fan-out or persistence failures by sink.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_publish_failures_total",
		Help: "Failed publications per sink",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kospisim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kospisim_http_request_duration_seconds",
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

		// Route pattern keeps user and order ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
