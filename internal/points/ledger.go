// File: internal/points/ledger.go
package points

import (
	"fmt"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/config"
)

// Default loyalty rules: every full 5000 IDR of a purchase earns 1 point,
// a redemption always costs 5 points.
const (
	DefaultAccrualUnit int64 = 5000
	DefaultRedeemCost  int64 = 5
)

// Rules holds the accrual and redemption parameters. The zero value is not
// usable; construct via DefaultRules or NewRules.
type Rules struct {
	AccrualUnit int64
	RedeemCost  int64
}

// DefaultRules returns the production loyalty rules.
func DefaultRules() Rules {
	return Rules{AccrualUnit: DefaultAccrualUnit, RedeemCost: DefaultRedeemCost}
}

// NewRules builds Rules from configuration.
func NewRules(cfg *config.Config) Rules {
	return Rules{AccrualUnit: cfg.PointsAccrualUnit, RedeemCost: cfg.PointsRedeemCost}
}

// Accrual is the proposed outcome of a purchase accrual. It is not persisted
// here; persisting the new balance is the caller's responsibility.
type Accrual struct {
	NewBalance int64
	Earned     int64
}

// NoAccrual reports whether the purchase earned nothing (amount below one
// full accrual unit).
func (a Accrual) NoAccrual() bool {
	return a.Earned == 0
}

// AccruePurchase applies the step-function accrual rule to the current
// balance: earned = amount / AccrualUnit, truncated. Partial increments are
// not prorated. A negative amount is a precondition violation.
func (r Rules) AccruePurchase(current, amount int64) (Accrual, error) {
	if amount < 0 {
		return Accrual{}, common.ErrBadRequest.WithDetails(
			fmt.Sprintf("purchase amount must be non-negative, got %d", amount))
	}
	earned := amount / r.AccrualUnit
	return Accrual{NewBalance: current + earned, Earned: earned}, nil
}

// Redeem deducts the fixed redemption cost from the current balance. It fails
// with ErrInsufficientPoints when the balance cannot cover the cost, so the
// result is never negative.
func (r Rules) Redeem(current int64) (int64, error) {
	if current < r.RedeemCost {
		return current, common.ErrInsufficientPoints.WithDetails(
			fmt.Sprintf("balance %d is below the redemption cost of %d", current, r.RedeemCost))
	}
	return current - r.RedeemCost, nil
}
