// Package interest implements the append-only interest rate schedule and
// the time-weighted accrual of borrowing fees against maker margin.
//
// A record is effective over [BeginTimestamp, next.BeginTimestamp), the
// last one over [BeginTimestamp, +inf). Time before the first record
// accrues nothing.
package interest

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/fixed"
	"github.com/atmx/settlement-engine/internal/model"
)

// SecondsPerYear is the fixed 365-day year used by accrual.
const SecondsPerYear = 365 * 24 * 3600

// yearBps is SecondsPerYear * 10000, the accrual denominator.
var yearBps = decimal.NewFromInt(SecondsPerYear).Mul(fixed.BpsDenominator)

// Schedule is the ordered list of rate records. Appends are serialized by
// the settlement environment; reads may run concurrently with each other.
type Schedule struct {
	records   []model.RateRecord
	precision int32
}

// NewSchedule creates an empty schedule whose accrual terms are truncated
// at precision decimal places.
func NewSchedule(precision int32) *Schedule {
	return &Schedule{precision: precision}
}

// Append adds a rate effective from effectiveFrom. effectiveFrom must be
// strictly greater than the last record's BeginTimestamp.
func (s *Schedule) Append(annualRateBps, effectiveFrom int64) error {
	if annualRateBps < 0 {
		return fmt.Errorf("%w: annual rate %d bps is negative", model.ErrValidation, annualRateBps)
	}
	if n := len(s.records); n > 0 && effectiveFrom <= s.records[n-1].BeginTimestamp {
		return fmt.Errorf("%w: %d <= %d", model.ErrNonMonotonicSchedule, effectiveFrom, s.records[n-1].BeginTimestamp)
	}
	s.records = append(s.records, model.RateRecord{
		AnnualRateBps:  annualRateBps,
		BeginTimestamp: effectiveFrom,
	})
	return nil
}

// Records returns a copy of the schedule.
func (s *Schedule) Records() []model.RateRecord {
	out := make([]model.RateRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RateAt returns the record in effect at ts.
func (s *Schedule) RateAt(ts int64) (model.RateRecord, bool) {
	i := s.indexAt(ts)
	if i < 0 {
		return model.RateRecord{}, false
	}
	return s.records[i], true
}

// indexAt returns the index of the record with the greatest
// BeginTimestamp <= ts, or -1.
func (s *Schedule) indexAt(ts int64) int {
	n := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].BeginTimestamp > ts
	})
	return n - 1
}

// Accrued returns the interest owed on principal over [from, to].
//
// The walk starts at the record in effect at `to` and moves backward.
// Each record contributes principal * rate * overlap / (year * 10000),
// truncated on its own. A record whose BeginTimestamp equals `from` is
// the one governing `from`; it contributes and ends the walk.
func (s *Schedule) Accrued(principal decimal.Decimal, from, to int64) decimal.Decimal {
	total := decimal.Zero
	if to <= from || principal.IsZero() {
		return total
	}

	cursor := to
	for i := s.indexAt(to); i >= 0; i-- {
		rec := s.records[i]
		start := rec.BeginTimestamp
		if start < from {
			start = from
		}
		if period := cursor - start; period > 0 && rec.AnnualRateBps > 0 {
			num := principal.Mul(decimal.NewFromInt(rec.AnnualRateBps)).Mul(decimal.NewFromInt(period))
			term, _ := fixed.Quo(num, yearBps, s.precision)
			total = total.Add(term)
		}
		cursor = rec.BeginTimestamp
		if rec.BeginTimestamp <= from {
			break
		}
	}
	return total
}
