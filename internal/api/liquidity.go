package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// LiquidityRequest is the JSON body for deposit, withdraw and receipt
// requests. Deposit and add accept Bins as one all-or-nothing batch, in
// which case Tier/Amount are ignored. Withdraw and remove take a single
// Tier/Amount and reject Bins.
type LiquidityRequest struct {
	Owner  string            `json:"owner"`
	Tier   int               `json:"tier"`
	Amount decimal.Decimal   `json:"amount"`
	Bins   []model.BinMargin `json:"bins,omitempty"`
}

// BinsResponse is returned from GET /bins.
type BinsResponse struct {
	Long  []model.FeeRateBin `json:"long"`
	Short []model.FeeRateBin `json:"short"`
}

func decodeLiquidity(w http.ResponseWriter, r *http.Request) (LiquidityRequest, bool) {
	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// decodeSingle decodes a request for a route that moves one bin.
func decodeSingle(w http.ResponseWriter, r *http.Request) (LiquidityRequest, bool) {
	req, ok := decodeLiquidity(w, r)
	if ok && len(req.Bins) > 0 {
		writeError(w, "bins batch not supported; send tier and amount", http.StatusBadRequest)
		return req, false
	}
	return req, ok
}

func (req LiquidityRequest) pairs() []model.BinMargin {
	if len(req.Bins) > 0 {
		return req.Bins
	}
	return []model.BinMargin{{Tier: req.Tier, Amount: req.Amount}}
}

// ListBins handles GET /api/v1/bins
func (s *Service) ListBins(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := BinsResponse{
		Long:  s.core.Ledger.Bins(model.Long),
		Short: s.core.Ledger.Bins(model.Short),
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// Deposit handles POST /api/v1/liquidity/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLiquidity(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.core.Ledger.DepositBatch(req.pairs()); err != nil {
		writeEngineError(w, "deposit", err)
		return
	}
	slog.Info("liquidity deposited", "owner", req.Owner, "bins", len(req.pairs()))
	writeJSON(w, http.StatusOK, req.pairs())
}

// Withdraw handles POST /api/v1/liquidity/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSingle(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.core.Ledger.Withdraw(req.Tier, req.Amount); err != nil {
		writeEngineError(w, "withdraw", err)
		return
	}
	slog.Info("liquidity withdrawn", "owner", req.Owner, "tier", req.Tier, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, model.BinMargin{Tier: req.Tier, Amount: req.Amount})
}

// RequestAdd handles POST /api/v1/liquidity/add
func (s *Service) RequestAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLiquidity(w, r)
	if !ok {
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipts, err := s.core.Ledger.RequestAddBatch(req.Owner, req.pairs(), s.core.Engine.Now())
	if err != nil {
		writeEngineError(w, "request_add", err)
		return
	}
	s.issued(r.Context(), receipts)
	writeJSON(w, http.StatusCreated, receipts)
}

// RequestRemove handles POST /api/v1/liquidity/remove
func (s *Service) RequestRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSingle(w, r)
	if !ok {
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := s.core.Ledger.RequestRemove(req.Owner, req.Tier, req.Amount, s.core.Engine.Now())
	if err != nil {
		writeEngineError(w, "request_remove", err)
		return
	}
	s.issued(r.Context(), []model.LiquidityReceipt{receipt})
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Service) issued(ctx context.Context, receipts []model.LiquidityReceipt) {
	for i := range receipts {
		rc := &receipts[i]
		s.mirror(ctx, "save receipt", func(ctx context.Context) error {
			return s.store.SaveReceipt(ctx, rc)
		})
		slog.Info("liquidity receipt issued",
			"receipt_id", rc.ID,
			"owner", rc.Owner,
			"kind", rc.Kind,
			"tier", rc.Tier,
			"amount", rc.Amount.String(),
			"requested_version", rc.RequestedOracleVersion,
		)
	}
}

// ListReceipts handles GET /api/v1/liquidity/receipts?owner=<id>
func (s *Service) ListReceipts(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	s.mu.RLock()
	receipts := s.core.Ledger.Receipts(owner)
	s.mu.RUnlock()

	if receipts == nil {
		receipts = []model.LiquidityReceipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// GetReceipt handles GET /api/v1/liquidity/receipts/{receiptID}
func (s *Service) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "receiptID")
	if !ok {
		return
	}

	s.mu.RLock()
	receipt, found := s.core.Ledger.Receipt(id)
	s.mu.RUnlock()

	if !found {
		writeError(w, "receipt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ClaimBatchRequest is the JSON body for POST /liquidity/receipts/claim.
type ClaimBatchRequest struct {
	IDs []uint64 `json:"ids"`
}

// ClaimReceipts handles POST /api/v1/liquidity/receipts/claim
// Claims every listed receipt or none.
func (s *Service) ClaimReceipts(w http.ResponseWriter, r *http.Request) {
	var req ClaimBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, "ids are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipts, err := s.core.Ledger.ClaimBatch(req.IDs)
	if err != nil {
		writeEngineError(w, "claim_batch", err)
		return
	}
	for _, rc := range receipts {
		id := rc.ID
		s.mirror(r.Context(), "delete receipt", func(ctx context.Context) error {
			return s.store.DeleteReceipt(ctx, id)
		})
	}
	slog.Info("liquidity receipts claimed", "count", len(receipts))
	writeJSON(w, http.StatusOK, receipts)
}

// ClaimReceipt handles POST /api/v1/liquidity/receipts/{receiptID}/claim
func (s *Service) ClaimReceipt(w http.ResponseWriter, r *http.Request) {
	s.settleReceipt(w, r, "claim", s.core.Ledger.Claim)
}

// WithdrawReceipt handles POST /api/v1/liquidity/receipts/{receiptID}/withdraw
func (s *Service) WithdrawReceipt(w http.ResponseWriter, r *http.Request) {
	s.settleReceipt(w, r, "withdraw_receipt", s.core.Ledger.WithdrawReceipt)
}

func (s *Service) settleReceipt(w http.ResponseWriter, r *http.Request, op string, fn func(uint64) (model.LiquidityReceipt, error)) {
	id, ok := parseID(w, r, "receiptID")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := fn(id)
	if err != nil {
		writeEngineError(w, op, err)
		return
	}
	s.mirror(r.Context(), "delete receipt", func(ctx context.Context) error {
		return s.store.DeleteReceipt(ctx, id)
	})

	slog.Info("liquidity receipt settled",
		"op", op,
		"receipt_id", id,
		"owner", receipt.Owner,
		"tier", receipt.Tier,
		"amount", receipt.Amount.String(),
	)
	s.broadcast(WSMessage{
		Type:    "liquidity_" + op,
		Owner:   receipt.Owner,
		Tier:    strconv.Itoa(receipt.Tier),
		Qty:     receipt.Amount.String(),
		Version: receipt.RequestedOracleVersion,
	})
	writeJSON(w, http.StatusOK, receipt)
}
