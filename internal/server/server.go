// Package server exposes the ledger over HTTP and pushes ledger events over
// WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/metrics"
	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/portfolio"
	"github.com/atmx/paper-ledger/internal/store"
	"github.com/atmx/paper-ledger/internal/trade"
)

// DefaultHistoryLimit caps GET /trades when no limit is given.
const DefaultHistoryLimit = 100

// DefaultRequestTimeout bounds API requests when no trade timeout is set.
const DefaultRequestTimeout = 30 * time.Second

// requestGrace is how long an order request outlives its trade wait, so the
// handler can still answer.
const requestGrace = time.Second

// Deps are the collaborators a Server serves.
type Deps struct {
	Engine *trade.Engine
	Orders *trade.Dispatcher
	Valuer *portfolio.Valuer
	Ledger store.Ledger
	Hub    *WSHub
}

// Server handles the HTTP API.
type Server struct {
	engine       *trade.Engine
	orders       *trade.Dispatcher
	valuer       *portfolio.Valuer
	ledger       store.Ledger
	hub          *WSHub
	tradeTimeout time.Duration
}

// New creates a Server. tradeTimeout bounds each order request and sets the
// API request timeout; zero means DefaultRequestTimeout.
func New(d Deps, tradeTimeout time.Duration) *Server {
	return &Server{
		engine:       d.Engine,
		orders:       d.Orders,
		valuer:       d.Valuer,
		ledger:       d.Ledger,
		hub:          d.Hub,
		tradeTimeout: tradeTimeout,
	}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /api/v1/orders.
type OrderRequest struct {
	Ticker   string          `json:"ticker"`
	Side     string          `json:"side"` // "BUY" or "SELL", any case
	Quantity json.RawMessage `json:"quantity"`
}

// Shares parses the quantity. A missing quantity is zero, which the engine
// rejects; anything but a whole number is an error.
func (o OrderRequest) Shares() (int64, error) {
	if len(o.Quantity) == 0 || string(o.Quantity) == "null" {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(o.Quantity, &n); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", trade.ErrInvalidQuantity, o.Quantity)
	}
	q, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s shares, must be a positive whole number", trade.ErrInvalidQuantity, n)
	}
	return q, nil
}

// ResetRequest is the JSON body for POST /api/v1/reset.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// QuoteResponse is the body returned from GET /api/v1/quotes/{ticker}.
type QuoteResponse struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stays outside the request timeout.
		r.Get("/ws", s.hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.RequestTimeout()))

			r.Post("/orders", s.PlaceOrder)
			r.Get("/account", s.GetAccount)
			r.Get("/positions", s.ListPositions)
			r.Get("/trades", s.ListTrades)
			r.Get("/quotes/{ticker}", s.GetQuote)
			r.Post("/reset", s.Reset)
		})
	})
	return r
}

// RequestTimeout is the deadline of every API request except the
// WebSocket stream.
func (s *Server) RequestTimeout() time.Duration {
	if s.tradeTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return s.tradeTimeout + requestGrace
}

// cors allows the browser dashboard to call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- HTTP Handlers ---

// PlaceOrder handles POST /api/v1/orders. The trade runs on the dispatcher;
// the handler waits for its result.
func (s *Server) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rejectOrder(w, "", "Invalid request body: "+err.Error())
		return
	}
	side := model.Side(strings.ToUpper(strings.TrimSpace(req.Side)))
	if !side.Valid() {
		rejectOrder(w, model.KindInvalidQuantity, fmt.Sprintf("Unknown side %q, expected BUY or SELL", req.Side))
		return
	}
	qty, err := req.Shares()
	if err != nil {
		msg := err.Error()
		rejectOrder(w, model.KindInvalidQuantity, strings.ToUpper(msg[:1])+msg[1:])
		return
	}

	ctx := r.Context()
	if s.tradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tradeTimeout)
		defer cancel()
	}

	job, err := s.orders.Submit(ctx, trade.Intent{Ticker: req.Ticker, Side: side, Quantity: qty})
	switch {
	case errors.Is(err, trade.ErrDispatcherClosed):
		writeError(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	res, err := job.Wait(ctx)
	if err != nil {
		slog.WarnContext(ctx, "order still pending after timeout", "job_id", job.ID, "err", err)
		writeError(w, "order did not complete in time, job "+job.ID, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("X-Job-ID", job.ID)
	writeJSON(w, StatusFor(res), res)
}

// rejectOrder answers an order that never reached the engine with the same
// result shape the engine returns.
func rejectOrder(w http.ResponseWriter, kind model.ErrorKind, msg string) {
	writeJSON(w, http.StatusBadRequest, model.Result{Message: msg, Kind: kind})
}

// StatusFor maps a trade result to an HTTP status.
func StatusFor(res model.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case model.KindInvalidQuantity:
		return http.StatusBadRequest
	case model.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case model.KindInsufficientShares:
		return http.StatusConflict
	case model.KindPriceUnavailable, model.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// GetAccount handles GET /api/v1/account.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	sum, err := s.valuer.Summary(r.Context())
	if err != nil {
		writeError(w, "failed to value account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListPositions handles GET /api/v1/positions.
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	vals, err := s.valuer.Positions(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if vals == nil {
		vals = []model.PositionValuation{}
	}
	writeJSON(w, http.StatusOK, vals)
}

// ListTrades handles GET /api/v1/trades?limit=N, newest first.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.ledger.ListTrades(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetQuote handles GET /api/v1/quotes/{ticker}.
func (s *Server) GetQuote(w http.ResponseWriter, r *http.Request) {
	t, price, err := s.engine.Quote(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, "no price for "+chi.URLParam(r, "ticker"), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Ticker: t, Price: price})
}

// Reset handles POST /api/v1/reset. The body must be {"confirm":true}.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, `reset requires {"confirm":true}`, http.StatusBadRequest)
		return
	}
	if err := s.engine.Reset(r.Context()); err != nil {
		writeError(w, "reset failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Broadcast(Event{Type: EventLedgerReset})
	s.PushSummary(r.Context())

	w.WriteHeader(http.StatusNoContent)
}

// PushSummary broadcasts the current account summary when anyone listens.
func (s *Server) PushSummary(ctx context.Context) {
	if s.hub.Clients() == 0 {
		return
	}
	sum, err := s.valuer.Summary(ctx)
	if err != nil {
		slog.WarnContext(ctx, "account refresh failed", "err", err)
		return
	}
	s.hub.Broadcast(Event{Type: EventAccountUpdated, Summary: &sum})
}

// Refresh pushes the account summary every interval until ctx is done.
// A non-positive interval disables it.
func (s *Server) Refresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.PushSummary(ctx)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
