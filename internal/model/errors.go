package model

import (
	"errors"
	"fmt"
)

// Error classes. Every concrete error below wraps exactly one of them, so
// callers may test either errors.Is(err, ErrInsufficientLiquidity) or
// errors.Is(err, ErrResource).
var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrResource marks a shortage of liquidity; retry with a smaller
	// amount or after more liquidity arrives.
	ErrResource = errors.New("resource error")

	// ErrConsistency marks caller or oracle misuse.
	ErrConsistency = errors.New("consistency error")

	// ErrLimitExceeded marks a caller-supplied limit that was too tight.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Validation errors
var (
	ErrInvalidQuantity         = fmt.Errorf("%w: quantity must be non-zero", ErrValidation)
	ErrInvalidLeverage         = fmt.Errorf("%w: leverage out of range", ErrValidation)
	ErrInvalidAmount           = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidFeeTier          = fmt.Errorf("%w: unsupported fee tier", ErrValidation)
	ErrInvalidSettlementToken  = fmt.Errorf("%w: settlement token does not match market", ErrValidation)
	ErrMarginBelowMinimum      = fmt.Errorf("%w: taker margin below minimum", ErrValidation)
	ErrMakerMarginExceedsLimit = fmt.Errorf("%w: maker margin exceeds requested limit", ErrValidation)
	ErrDistributionMismatch    = fmt.Errorf("%w: bin distribution does not match maker margin", ErrValidation)
	ErrNotPositionOwner        = fmt.Errorf("%w: caller does not own position", ErrValidation)
)

// Resource errors
var (
	ErrInsufficientLiquidity = fmt.Errorf("%w: insufficient liquidity", ErrResource)
	ErrBinOverdrawn          = fmt.Errorf("%w: bin overdrawn", ErrResource)
)

// Consistency errors
var (
	ErrNonMonotonicSchedule  = fmt.Errorf("%w: rate schedule must be strictly increasing", ErrConsistency)
	ErrUnknownPosition       = fmt.Errorf("%w: unknown position", ErrConsistency)
	ErrEntryPriceUnavailable = fmt.Errorf("%w: entry price not yet published", ErrConsistency)
	ErrSnapshotNotFound      = fmt.Errorf("%w: oracle snapshot not found", ErrConsistency)
	ErrUnknownReceipt        = fmt.Errorf("%w: unknown liquidity receipt", ErrConsistency)
	ErrReceiptNotMatured     = fmt.Errorf("%w: oracle has not advanced past receipt version", ErrConsistency)
	ErrPositionSolvent       = fmt.Errorf("%w: position is not liquidatable", ErrConsistency)
	ErrNonMonotonicOracle    = fmt.Errorf("%w: oracle timestamps must not decrease", ErrConsistency)
	ErrInvalidOraclePrice    = fmt.Errorf("%w: invalid oracle price", ErrConsistency)
)

// Limit errors
var (
	ErrKeeperFeeExceedsLimit  = fmt.Errorf("%w: keeper fee exceeds limit", ErrLimitExceeded)
	ErrTradingFeeExceedsLimit = fmt.Errorf("%w: trading fee exceeds max allowed fee", ErrLimitExceeded)
)

// Classify returns the error class of err, or nil when err belongs to none.
func Classify(err error) error {
	for _, class := range []error{ErrValidation, ErrResource, ErrConsistency, ErrLimitExceeded} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
