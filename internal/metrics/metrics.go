// Package metrics provides Prometheus instrumentation for the paper ledger.
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
	// TradesTotal counts filled trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades that failed, by side and error kind.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_trade_rejections_total",
		Help: "Trades rejected or failed, by reason",
	}, []string{"side", "reason"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// Compensations counts balance reverts after a failed position write.
	// outcome is "restored" or "failed"; "failed" means the ledger needs an
	// operator.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_compensations_total",
		Help: "Compensating balance writes after a failed position write",
	}, []string{"outcome"})

	TradeLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_trade_log_failures_total",
		Help: "Filled trades whose trade record could not be appended",
	})

	// OracleRequests counts price lookups by outcome (ok, error, cache_hit).
	OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_oracle_requests_total",
		Help: "Price oracle lookups",
	}, []string{"outcome"})

	// LedgerCache counts in-process ledger cache lookups.
	LedgerCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_ledger_cache_total",
		Help: "Ledger cache lookups by entity and result",
	}, []string{"entity", "result"})

	// OpenPositions tracks the number of held tickers.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_open_positions",
		Help: "Number of open positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern for the path label so that
// /quotes/AAPL and /quotes/MSFT share one series.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack is needed so the WebSocket upgrade works behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
