package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kospisim/market-engine/internal/metrics"
	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/replica"
)

// Follower serves the paper account of a replica. Request bodies share the
// engine's order types; user_id is ignored since a follower holds a single
// account.
type Follower struct {
	replica *replica.Replica
}

// NewFollower creates handlers for rep.
func NewFollower(rep *replica.Replica) *Follower {
	return &Follower{replica: rep}
}

// GetAccount handles GET /api/v1/account
func (f *Follower) GetAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.replica.Account())
}

// GetInstrument handles GET /api/v1/instruments/{id}
func (f *Follower) GetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, ok := f.replica.Instrument(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, "instrument not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// PlaceOrder handles POST /api/v1/orders
func (f *Follower) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		tx  model.Transaction
		err error
	)
	if req.Side == model.SideSell && req.Leverage > 1 {
		tx, err = f.replica.Sell(r.Context(), req.InstrumentID, req.Quantity, req.Leverage)
	} else {
		tx, err = f.replica.MarketOrder(r.Context(), req.InstrumentID, req.Side, req.Quantity)
	}
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PlaceLeveraged handles POST /api/v1/orders/leverage
func (f *Follower) PlaceLeveraged(w http.ResponseWriter, r *http.Request) {
	var req LeverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := f.replica.BuyLeveraged(r.Context(), req.InstrumentID, req.Quantity, req.Leverage)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PlaceLimit handles POST /api/v1/orders/limit
func (f *Follower) PlaceLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	o, err := f.replica.PlaceLimit(r.Context(), req.InstrumentID, req.Side, req.Quantity, req.TargetPrice)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CancelLimit handles DELETE /api/v1/orders/limit/{orderID}
func (f *Follower) CancelLimit(w http.ResponseWriter, r *http.Request) {
	if err := f.replica.CancelLimit(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		writeRejection(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewFollowerRouter wires the follower's HTTP surface.
func NewFollowerRouter(f *Follower) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"follower"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/account", f.GetAccount)
		r.Get("/instruments/{id}", f.GetInstrument)

		r.Post("/orders", f.PlaceOrder)
		r.Post("/orders/leverage", f.PlaceLeveraged)
		r.Post("/orders/limit", f.PlaceLimit)
		r.Delete("/orders/limit/{orderID}", f.CancelLimit)
	})
	return r
}
