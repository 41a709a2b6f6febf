// Package api provides the HTTP handlers for reading the simulated market,
// submitting orders and querying portfolios, plus the WebSocket hub that
// streams snapshots and notifications.
//
// All monetary values use shopspring/decimal; prices are whole units.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/session"
	"github.com/kospisim/market-engine/internal/settlement"
)

// Service handles market reads and order submission against one session.
// The session serializes orders against the clock.
type Service struct {
	session *session.Session
}

// NewService creates a new order service.
func NewService(s *session.Session) *Service {
	return &Service{session: s}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders. Leverage selects which
// position a sell closes; it defaults to the unleveraged one.
type OrderRequest struct {
	UserID       string     `json:"user_id"`
	InstrumentID string     `json:"instrument_id"`
	Side         model.Side `json:"side"`
	Quantity     int64      `json:"quantity"`
	Leverage     int        `json:"leverage,omitempty"`
}

// LeverageRequest is the JSON body for POST /orders/leverage.
type LeverageRequest struct {
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Quantity     int64  `json:"quantity"`
	Leverage     int    `json:"leverage"`
}

// LimitRequest is the JSON body for POST /orders/limit.
type LimitRequest struct {
	UserID       string     `json:"user_id"`
	InstrumentID string     `json:"instrument_id"`
	Side         model.Side `json:"side"`
	Quantity     int64      `json:"quantity"`
	TargetPrice  int64      `json:"target_price"`
}

// HoldingView is one position marked to the current price.
type HoldingView struct {
	model.Position
	InstrumentName string          `json:"instrument_name"`
	CurrentPrice   int64           `json:"current_price"`
	Value          decimal.Decimal `json:"value"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is the JSON body returned from GET /portfolio/{userID}.
type PortfolioResponse struct {
	UserID        string               `json:"user_id"`
	Cash          decimal.Decimal      `json:"cash"`
	Holdings      []HoldingView        `json:"holdings"`
	HoldingsValue decimal.Decimal      `json:"holdings_value"`
	TotalAssets   decimal.Decimal      `json:"total_assets"`
	RealizedPnL   decimal.Decimal      `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal      `json:"unrealized_pnl"`
	PendingOrders []model.PendingOrder `json:"pending_orders"`
	Transactions  []model.Transaction  `json:"transactions"`
}

// --- Market reads ---

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// ListInstruments handles GET /api/v1/instruments
func (s *Service) ListInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Instruments())
}

// GetInstrument handles GET /api/v1/instruments/{id}
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.session.Instrument(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, "instrument not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// ListNews handles GET /api/v1/news
func (s *Service) ListNews(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.News())
}

// --- Orders ---

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	var (
		tx  model.Transaction
		err error
	)
	if req.Side == model.SideSell && req.Leverage > 1 {
		tx, err = s.session.Sell(r.Context(), req.UserID, req.InstrumentID, req.Quantity, req.Leverage)
	} else {
		tx, err = s.session.MarketOrder(r.Context(), req.UserID, req.InstrumentID, req.Side, req.Quantity)
	}
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PlaceLeveraged handles POST /api/v1/orders/leverage
func (s *Service) PlaceLeveraged(w http.ResponseWriter, r *http.Request) {
	var req LeverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	tx, err := s.session.BuyLeveraged(r.Context(), req.UserID, req.InstrumentID, req.Quantity, req.Leverage)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PlaceLimit handles POST /api/v1/orders/limit
func (s *Service) PlaceLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	o, err := s.session.PlaceLimit(r.Context(), req.UserID, req.InstrumentID, req.Side, req.Quantity, req.TargetPrice)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CancelLimit handles DELETE /api/v1/orders/limit/{orderID}?user_id=
func (s *Service) CancelLimit(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := s.session.CancelLimit(r.Context(), userID, chi.URLParam(r, "orderID")); err != nil {
		writeRejection(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SellAll handles POST /api/v1/portfolio/{userID}/sell-all
func (s *Service) SellAll(w http.ResponseWriter, r *http.Request) {
	txs, err := s.session.SellAll(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	acct := s.session.Account(chi.URLParam(r, "userID"))
	snap := s.session.Snapshot()

	resp := PortfolioResponse{
		UserID:        acct.UserID,
		Cash:          acct.Cash,
		Holdings:      make([]HoldingView, 0, len(acct.Positions)),
		RealizedPnL:   acct.RealizedPnL,
		PendingOrders: nonNil(acct.PendingOrders),
		Transactions:  nonNil(acct.Transactions),
	}
	for _, p := range acct.Positions {
		price := p.AveragePrice.IntPart()
		if is, ok := snap.Instrument(p.Key.InstrumentID); ok {
			price = is.CurrentPrice
		}
		name := p.Key.InstrumentID
		if inst, ok := s.session.Instrument(p.Key.InstrumentID); ok {
			name = inst.Name
		}
		value := settlement.PositionValue(p, price)
		unrealized := value.Sub(p.Margin())

		resp.Holdings = append(resp.Holdings, HoldingView{
			Position:       *p,
			InstrumentName: name,
			CurrentPrice:   price,
			Value:          value,
			UnrealizedPnL:  unrealized,
		})
		resp.HoldingsValue = resp.HoldingsValue.Add(value)
		resp.UnrealizedPnL = resp.UnrealizedPnL.Add(unrealized)
	}
	resp.TotalAssets = resp.Cash.Add(resp.HoldingsValue)

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeRejection reports an order rejection with its reason code.
func writeRejection(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rejectionStatus(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error":  err.Error(),
		"reason": settlement.Reason(err),
	})
}

func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, settlement.ErrUnknownInstrument), errors.Is(err, settlement.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrInvalidQuantity),
		errors.Is(err, settlement.ErrInvalidSide),
		errors.Is(err, settlement.ErrInvalidLeverage),
		errors.Is(err, settlement.ErrInvalidTargetPrice):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrInsufficientCash),
		errors.Is(err, settlement.ErrInsufficientHoldings),
		errors.Is(err, settlement.ErrInstrumentHalted),
		errors.Is(err, settlement.ErrInstrumentDelisted),
		errors.Is(err, settlement.ErrMarketClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
