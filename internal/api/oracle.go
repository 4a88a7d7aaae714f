package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
)

// SnapshotRequest is the JSON body for POST /oracle/snapshots. A zero
// price publishes an invalidation guard. A zero timestamp means now.
type SnapshotRequest struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// RateRequest is the JSON body for POST /rates.
type RateRequest struct {
	AnnualRateBps int64 `json:"annual_rate_bps"`
	EffectiveFrom int64 `json:"effective_from"`
}

// AppendSnapshot handles POST /api/v1/oracle/snapshots
func (s *Service) AppendSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := req.Timestamp
	if ts == 0 {
		ts = s.core.Engine.Now()
	}
	version, err := s.core.Oracle.Append(req.Price, ts)
	if err != nil {
		writeEngineError(w, "oracle_append", err)
		return
	}
	snap, _ := s.core.Oracle.At(version)
	metrics.OracleVersion.Set(float64(version))

	slog.Info("oracle snapshot appended",
		"version", version,
		"price", req.Price.String(),
		"timestamp", ts,
	)
	s.broadcast(WSMessage{
		Type:    "oracle_updated",
		Version: version,
		Price:   req.Price.String(),
	})

	writeJSON(w, http.StatusCreated, snap)
}

// LatestSnapshot handles GET /api/v1/oracle/latest
func (s *Service) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap, ok := s.core.Oracle.Latest()
	s.mu.RUnlock()

	if !ok {
		writeError(w, "no oracle snapshot published", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetSnapshot handles GET /api/v1/oracle/versions/{version}
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseUint(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		writeError(w, "version must be a positive integer", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	snap, err := s.core.Oracle.At(version)
	s.mu.RUnlock()

	if err != nil {
		writeEngineError(w, "oracle_get", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSnapshots handles GET /api/v1/oracle/versions?v=1,2,3
// Unpublished versions are omitted from the response.
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("v")
	if raw == "" {
		writeError(w, "v is required", http.StatusBadRequest)
		return
	}
	var versions []uint64
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			writeError(w, "v must be a comma-separated list of versions", http.StatusBadRequest)
			return
		}
		versions = append(versions, v)
	}

	s.mu.RLock()
	snaps := s.core.Oracle.AtVersions(versions)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, snaps)
}

// AppendRate handles POST /api/v1/rates
func (s *Service) AppendRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.core.Rates.Append(req.AnnualRateBps, req.EffectiveFrom); err != nil {
		writeEngineError(w, "rate_append", err)
		return
	}

	slog.Info("rate appended",
		"annual_rate_bps", req.AnnualRateBps,
		"effective_from", req.EffectiveFrom,
	)
	writeJSON(w, http.StatusCreated, model.RateRecord{
		AnnualRateBps:  req.AnnualRateBps,
		BeginTimestamp: req.EffectiveFrom,
	})
}

// ListRates handles GET /api/v1/rates
// With ?at=<unix seconds> it returns only the record in effect then.
func (s *Service) ListRates(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, "at must be a unix timestamp", http.StatusBadRequest)
			return
		}
		s.mu.RLock()
		rec, ok := s.core.Rates.RateAt(at)
		s.mu.RUnlock()
		if !ok {
			writeError(w, "no rate in effect", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	s.mu.RLock()
	records := s.core.Rates.Records()
	s.mu.RUnlock()

	if records == nil {
		records = []model.RateRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
