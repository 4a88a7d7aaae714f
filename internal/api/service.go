// Package api exposes the settlement engine over HTTP for the settlement
// environment and its actors: oracle and rate publishers, liquidity
// providers, traders and liquidators.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/bins"
	"github.com/atmx/settlement-engine/internal/engine"
	"github.com/atmx/settlement-engine/internal/interest"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/store"
)

// Core bundles the in-memory settlement state the service drives.
type Core struct {
	Engine *engine.Engine
	Oracle *oracle.Table
	Rates  *interest.Schedule
	Ledger *bins.Ledger
}

// Service serializes every state-changing request through a single
// writer lock; read-only handlers share a read lock. The store is a
// mirror written after each accepted transition.
type Service struct {
	core  Core
	store store.Store
	mu    sync.RWMutex
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new settlement service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(core Core, st store.Store, hub *WSHub) *Service {
	return &Service{core: core, store: st, wsHub: hub}
}

// Routes mounts the API under r.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/oracle/snapshots", s.AppendSnapshot)
	r.Get("/oracle/latest", s.LatestSnapshot)
	r.Get("/oracle/versions", s.ListSnapshots)
	r.Get("/oracle/versions/{version}", s.GetSnapshot)

	r.Post("/rates", s.AppendRate)
	r.Get("/rates", s.ListRates)

	r.Get("/bins", s.ListBins)
	r.Post("/liquidity/deposit", s.Deposit)
	r.Post("/liquidity/withdraw", s.Withdraw)
	r.Post("/liquidity/add", s.RequestAdd)
	r.Post("/liquidity/remove", s.RequestRemove)
	r.Get("/liquidity/receipts", s.ListReceipts)
	r.Post("/liquidity/receipts/claim", s.ClaimReceipts)
	r.Get("/liquidity/receipts/{receiptID}", s.GetReceipt)
	r.Post("/liquidity/receipts/{receiptID}/claim", s.ClaimReceipt)
	r.Post("/liquidity/receipts/{receiptID}/withdraw", s.WithdrawReceipt)

	r.Post("/positions", s.OpenPosition)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Post("/positions/{positionID}/close", s.ClosePosition)
	r.Post("/positions/{positionID}/liquidate", s.LiquidatePosition)
	r.Get("/positions/{positionID}/solvency", s.GetSolvency)
	r.Get("/positions/{positionID}/interest", s.GetInterest)

	r.Get("/settlements", s.ListSettlements)
}

// --- Request/Response types ---

// CloseRequest is the JSON body for POST /positions/{id}/close.
type CloseRequest struct {
	Caller         string          `json:"caller"`
	KeeperFeeLimit decimal.Decimal `json:"keeper_fee_limit"`
}

// InterestResponse is returned from GET /positions/{id}/interest.
type InterestResponse struct {
	PositionID  uint64          `json:"position_id"`
	At          int64           `json:"at"`
	InterestFee decimal.Decimal `json:"interest_fee"`
}

// --- Position handlers ---

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req engine.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	pos, err := s.core.Engine.Open(req)
	metrics.ObserveSince("open", start)
	if err != nil {
		writeEngineError(w, "open", err)
		return
	}

	s.mirror(r.Context(), "save position", func(ctx context.Context) error {
		return s.store.SavePosition(ctx, pos)
	})
	metrics.PositionsOpened.WithLabelValues(pos.Side().String()).Inc()
	s.observeBook(pos.Bins)

	slog.Info("position opened",
		"position_id", pos.ID,
		"owner", pos.Owner,
		"qty", pos.Qty.String(),
		"leverage", pos.Leverage.String(),
		"maker_margin", pos.MakerMargin.String(),
		"trading_fee", pos.TradingFee.String(),
		"entry_version", pos.EntryOracleVersion,
	)
	s.broadcast(WSMessage{
		Type:       "position_opened",
		PositionID: pos.ID,
		Owner:      pos.Owner,
		Version:    pos.EntryOracleVersion,
		Qty:        pos.Qty.String(),
	})

	writeJSON(w, http.StatusCreated, pos)
}

// GetPosition handles GET /api/v1/positions/{positionID}
// Falls back to the store for positions the engine no longer holds.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "positionID")
	if !ok {
		return
	}

	s.mu.RLock()
	pos, found := s.core.Engine.Position(id)
	s.mu.RUnlock()

	if !found {
		var err error
		pos, err = s.store.GetPosition(r.Context(), id)
		if err != nil {
			writeError(w, "position not found", http.StatusNotFound)
			return
		}
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListPositions handles GET /api/v1/positions?status=open
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := model.PositionStatus(r.URL.Query().Get("status"))

	s.mu.RLock()
	positions := s.core.Engine.Positions(status)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, positions)
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "positionID")
	if !ok {
		return
	}
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	settlement, err := s.core.Engine.Close(id, req.Caller, req.KeeperFeeLimit)
	metrics.ObserveSince("close", start)
	if err != nil {
		writeEngineError(w, "close", err)
		return
	}
	s.settled(r.Context(), settlement)
	writeJSON(w, http.StatusOK, settlement)
}

// LiquidatePosition handles POST /api/v1/positions/{positionID}/liquidate
func (s *Service) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "positionID")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	settlement, err := s.core.Engine.Liquidate(id)
	metrics.ObserveSince("liquidate", start)
	if err != nil {
		writeEngineError(w, "liquidate", err)
		return
	}
	s.settled(r.Context(), settlement)
	writeJSON(w, http.StatusOK, settlement)
}

// settled mirrors, meters, logs and broadcasts a terminal transition.
// Callers hold the write lock.
func (s *Service) settled(ctx context.Context, st *model.Settlement) {
	status := model.StatusClosed
	if st.Kind == model.SettlementLiquidation {
		status = model.StatusLiquidated
	}
	s.mirror(ctx, "record settlement", func(ctx context.Context) error {
		if err := s.store.UpdatePositionStatus(ctx, st.PositionID, status, st.Timestamp); err != nil {
			return err
		}
		return s.store.InsertSettlement(ctx, st)
	})

	metrics.PositionsSettled.WithLabelValues(string(st.Kind)).Inc()
	if pos, ok := s.core.Engine.Position(st.PositionID); ok {
		s.observeBook(pos.Bins)
	}

	slog.Info("position settled",
		"position_id", st.PositionID,
		"kind", st.Kind,
		"entry_price", st.EntryPrice.String(),
		"exit_price", st.ExitPrice.String(),
		"pnl", st.PnL.String(),
		"interest_fee", st.InterestFee.String(),
		"keeper_fee", st.KeeperFee.String(),
		"net", st.Net.String(),
	)
	s.broadcast(WSMessage{
		Type:       "position_" + string(status),
		PositionID: st.PositionID,
		Owner:      st.Owner,
		Version:    st.ExitVersion,
		Price:      st.ExitPrice.String(),
		PnL:        st.PnL.String(),
		Net:        st.Net.String(),
	})
}

// GetSolvency handles GET /api/v1/positions/{positionID}/solvency
func (s *Service) GetSolvency(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "positionID")
	if !ok {
		return
	}

	s.mu.RLock()
	report, err := s.core.Engine.Evaluate(id)
	s.mu.RUnlock()
	if err != nil {
		writeEngineError(w, "solvency", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetInterest handles GET /api/v1/positions/{positionID}/interest?at=<unix>
func (s *Service) GetInterest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "positionID")
	if !ok {
		return
	}
	var at int64
	if v := r.URL.Query().Get("at"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, "at must be a unix timestamp", http.StatusBadRequest)
			return
		}
		at = n
	}

	s.mu.RLock()
	if at == 0 {
		at = s.core.Engine.Now()
	}
	fee, err := s.core.Engine.PreviewInterest(id, at)
	s.mu.RUnlock()
	if err != nil {
		writeEngineError(w, "interest", err)
		return
	}
	writeJSON(w, http.StatusOK, InterestResponse{PositionID: id, At: at, InterestFee: fee})
}

// ListSettlements handles GET /api/v1/settlements?owner=<id>
func (s *Service) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := s.store.ListSettlements(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, "failed to list settlements", http.StatusInternalServerError)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

// --- Helpers ---

// mirror writes to the store after an accepted engine transition. Engine
// state is authoritative, so a failed write is logged, not returned.
func (s *Service) mirror(ctx context.Context, what string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		slog.Error("store mirror write failed", "op", what, "err", err)
	}
}

// observeBook refreshes reserved-liquidity gauges for the touched tiers.
func (s *Service) observeBook(dist model.Distribution) {
	for _, m := range dist {
		if b, ok := s.core.Ledger.Bin(m.Tier); ok {
			f, _ := b.ReservedLiquidity.Float64()
			metrics.BinReserved.WithLabelValues(strconv.Itoa(m.Tier)).Set(f)
		}
	}
	metrics.OpenPositions.Set(float64(s.core.Engine.OpenCount()))
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, param+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// statusFor maps an engine error to an HTTP status by error class.
func statusFor(err error) (int, string) {
	switch model.Classify(err) {
	case model.ErrValidation:
		return http.StatusBadRequest, "validation"
	case model.ErrResource:
		return http.StatusConflict, "resource"
	case model.ErrConsistency:
		if errors.Is(err, model.ErrUnknownPosition) ||
			errors.Is(err, model.ErrUnknownReceipt) ||
			errors.Is(err, model.ErrSnapshotNotFound) {
			return http.StatusNotFound, "consistency"
		}
		return http.StatusUnprocessableEntity, "consistency"
	case model.ErrLimitExceeded:
		return http.StatusUnprocessableEntity, "limit"
	}
	return http.StatusInternalServerError, "internal"
}

// writeEngineError logs, meters and writes a rejected operation.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	status, class := statusFor(err)
	metrics.Rejections.WithLabelValues(class).Inc()
	slog.Warn("operation rejected", "op", op, "class", class, "err", err)
	writeError(w, err.Error(), status)
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
