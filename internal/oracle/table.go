// Package oracle implements the append-only Oracle Version Table: the
// sequence of (version, price, timestamp) snapshots all PnL math reads.
//
// Versions start at 1 and increase by one per append. A snapshot with a
// zero price is an invalidation guard: it advances the version but must
// never be used as an entry or exit price.
package oracle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// Table holds published snapshots. It is not safe for concurrent
// mutation; the settlement environment serializes appends.
type Table struct {
	snapshots []model.OracleSnapshot // snapshots[i].Version == i+1
}

// NewTable creates an empty table at version 0.
func NewTable() *Table {
	return &Table{}
}

// Append publishes a new snapshot and returns its version. Timestamps may
// repeat but never go backwards. A zero price publishes a guard; a
// negative price is rejected.
func (t *Table) Append(price decimal.Decimal, timestamp int64) (uint64, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: %s", model.ErrInvalidOraclePrice, price)
	}
	if n := len(t.snapshots); n > 0 && timestamp < t.snapshots[n-1].Timestamp {
		return 0, fmt.Errorf("%w: %d < %d", model.ErrNonMonotonicOracle, timestamp, t.snapshots[n-1].Timestamp)
	}
	version := uint64(len(t.snapshots)) + 1
	t.snapshots = append(t.snapshots, model.OracleSnapshot{
		Version:   version,
		Price:     price,
		Timestamp: timestamp,
	})
	return version, nil
}

// CurrentVersion returns the head version, 0 when nothing is published.
func (t *Table) CurrentVersion() uint64 {
	return uint64(len(t.snapshots))
}

// At returns the snapshot for version.
func (t *Table) At(version uint64) (model.OracleSnapshot, error) {
	if version == 0 || version > uint64(len(t.snapshots)) {
		return model.OracleSnapshot{}, fmt.Errorf("%w: version %d", model.ErrSnapshotNotFound, version)
	}
	return t.snapshots[version-1], nil
}

// AtVersions returns the snapshots that exist among versions, in request
// order. Missing versions are skipped.
func (t *Table) AtVersions(versions []uint64) []model.OracleSnapshot {
	out := make([]model.OracleSnapshot, 0, len(versions))
	for _, v := range versions {
		if s, err := t.At(v); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the head snapshot. ok is false when the table is empty.
func (t *Table) Latest() (snap model.OracleSnapshot, ok bool) {
	if len(t.snapshots) == 0 {
		return model.OracleSnapshot{}, false
	}
	return t.snapshots[len(t.snapshots)-1], true
}

// IsValidPrice reports whether a snapshot price may be used for settlement.
func IsValidPrice(price decimal.Decimal) bool {
	return price.IsPositive()
}
