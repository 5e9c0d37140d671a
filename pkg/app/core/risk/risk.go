// Package risk computes the health of a margin account from its ledger
// records and the latest venue observations. Every function is pure.
package risk

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

// Ledger is the part of a margin account the risk engine reads
type Ledger interface {
	Records() (deposit, borrow fixed.Decimal)
	IsActive(slot int) bool
}

// MarginKind selects which venue requirement and group ratio apply
type MarginKind uint8

const (
	Init MarginKind = iota
	Maint
)

func (k MarginKind) String() string {
	if k == Init {
		return "init"
	}
	return "maint"
}

// NativeBalances converts the account's records to native units
func NativeBalances(l Ledger, g *group.MarginGroup) (deposit, borrow fixed.Decimal, err error) {
	depRec, borRec := l.Records()
	deposit, err = g.Bank.NativeDeposit(depRec)
	if err != nil {
		return fixed.Zero, fixed.Zero, fmt.Errorf("native deposit: %w", err)
	}
	borrow, err = g.Bank.NativeBorrow(borRec)
	if err != nil {
		return fixed.Zero, fixed.Zero, fmt.Errorf("native borrow: %w", err)
	}
	return deposit, borrow, nil
}

// activeObservations yields every active slot's observation and fails on
// the first one that is not valid
func activeObservations(l Ledger, obs *observation.Set, fn func(slot int, o observation.Observation)) error {
	for slot := 0; slot < observation.MaxUtps; slot++ {
		if !l.IsActive(slot) {
			continue
		}
		o := obs[slot]
		if !o.Valid {
			return fmt.Errorf("slot %d: %w", slot, apperrors.ErrIndeterminate)
		}
		fn(slot, o)
	}
	return nil
}

// ComputeEquity returns the account's net value across the bank and all
// active venues.
// Formula: nativeDeposit - nativeBorrow + Σ venue equity
func ComputeEquity(l Ledger, g *group.MarginGroup, obs *observation.Set) (fixed.Decimal, error) {
	deposit, borrow, err := NativeBalances(l, g)
	if err != nil {
		return fixed.Zero, err
	}
	var c fixed.Calc
	equity := c.Sub(deposit, borrow)
	err = activeObservations(l, obs, func(_ int, o observation.Observation) {
		equity = c.Add(equity, fixed.FromInt64(o.Equity))
	})
	if err != nil {
		return fixed.Zero, err
	}
	if c.Err() != nil {
		return fixed.Zero, fmt.Errorf("equity: %w", c.Err())
	}
	return equity, nil
}

// ComputeMarginRequirement sums venue requirements, never netting one
// venue's surplus against another's, and adds the group ratio on borrows.
// Formula: Σ venue requirement + ratio × nativeBorrow
func ComputeMarginRequirement(l Ledger, g *group.MarginGroup, obs *observation.Set, kind MarginKind) (fixed.Decimal, error) {
	_, borrow, err := NativeBalances(l, g)
	if err != nil {
		return fixed.Zero, err
	}
	ratio := g.Bank.InitMarginRatio
	if kind == Maint {
		ratio = g.Bank.MaintMarginRatio
	}

	var c fixed.Calc
	req := c.Mul(borrow, ratio)
	err = activeObservations(l, obs, func(_ int, o observation.Observation) {
		venue := o.MarginRequirementInit
		if kind == Maint {
			venue = o.MarginRequirementMaint
		}
		req = c.Add(req, fixed.FromUint64(venue))
	})
	if err != nil {
		return fixed.Zero, err
	}
	if c.Err() != nil {
		return fixed.Zero, fmt.Errorf("%s requirement: %w", kind, c.Err())
	}
	return req, nil
}

// FreeCollateral is equity above the initial requirement, clamped at zero
func FreeCollateral(l Ledger, g *group.MarginGroup, obs *observation.Set) (fixed.Decimal, error) {
	equity, err := ComputeEquity(l, g, obs)
	if err != nil {
		return fixed.Zero, err
	}
	req, err := ComputeMarginRequirement(l, g, obs, Init)
	if err != nil {
		return fixed.Zero, err
	}
	free, err := equity.Sub(req)
	if err != nil {
		return fixed.Zero, err
	}
	return fixed.Max(free, fixed.Zero), nil
}

// hasRecoverableVenue reports whether any active venue still holds value a
// liquidator could take over
func hasRecoverableVenue(l Ledger, obs *observation.Set) bool {
	for slot := 0; slot < observation.MaxUtps; slot++ {
		if l.IsActive(slot) && obs[slot].Valid && obs[slot].Recoverable() {
			return true
		}
	}
	return false
}

// CanBeLiquidated: equity below the maintenance requirement while at least
// one active venue can still be taken over.
func CanBeLiquidated(l Ledger, g *group.MarginGroup, obs *observation.Set) (bool, error) {
	equity, err := ComputeEquity(l, g, obs)
	if err != nil {
		return false, err
	}
	maint, err := ComputeMarginRequirement(l, g, obs, Maint)
	if err != nil {
		return false, err
	}
	return equity.LessThan(maint) && hasRecoverableVenue(l, obs), nil
}

// IsBankrupt: no positive equity left, nothing recoverable in any venue and
// a borrow the deposit does not cover. Never true at the same time as
// CanBeLiquidated. An account that owes nothing has nothing to write off.
func IsBankrupt(l Ledger, g *group.MarginGroup, obs *observation.Set) (bool, error) {
	equity, err := ComputeEquity(l, g, obs)
	if err != nil {
		return false, err
	}
	if equity.GreaterThan(fixed.Zero) || hasRecoverableVenue(l, obs) {
		return false, nil
	}
	shortfall, err := Shortfall(l, g)
	if err != nil {
		return false, err
	}
	return shortfall.GreaterThan(fixed.Zero), nil
}

// Shortfall is the native borrow the native deposit does not cover, zero
// when the deposit is enough
func Shortfall(l Ledger, g *group.MarginGroup) (fixed.Decimal, error) {
	deposit, borrow, err := NativeBalances(l, g)
	if err != nil {
		return fixed.Zero, err
	}
	diff, err := borrow.Sub(deposit)
	if err != nil {
		return fixed.Zero, fmt.Errorf("shortfall: %w", err)
	}
	return fixed.Max(diff, fixed.Zero), nil
}

// SelectLiquidationTarget picks the active venue with the smallest total
// collateral the liquidator can afford. Ties go to the lowest slot.
func SelectLiquidationTarget(l Ledger, obs *observation.Set, available uint64) (int, error) {
	target := -1
	for slot := 0; slot < observation.MaxUtps; slot++ {
		if !l.IsActive(slot) {
			continue
		}
		o := obs[slot]
		if !o.Valid || !o.Recoverable() || o.TotalCollateral > available {
			continue
		}
		if target < 0 || o.TotalCollateral < obs[target].TotalCollateral {
			target = slot
		}
	}
	if target < 0 {
		return -1, fmt.Errorf("available %d: %w", available, apperrors.ErrNoLiquidatableVenue)
	}
	return target, nil
}

func activeValid(l Ledger, obs *observation.Set, slot int) (observation.Observation, error) {
	if err := observation.CheckSlot(slot); err != nil {
		return observation.Observation{}, err
	}
	if !l.IsActive(slot) {
		return observation.Observation{}, fmt.Errorf("slot %d: %w", slot, apperrors.ErrNotActive)
	}
	o := obs[slot]
	if !o.Valid {
		return observation.Observation{}, fmt.Errorf("slot %d: %w", slot, apperrors.ErrIndeterminate)
	}
	return o, nil
}

// MaxRebalanceDepositAmount bounds a transfer from the bank into a venue so
// the account still meets its initial requirement afterwards. The account's
// own deposit moves at no margin cost; anything beyond it is borrowed and
// costs InitMarginRatio of itself in requirement, and is capped by what
// the bank can lend on top of the account's own deposit.
// Formula: 0 if free <= 0, else own + min(free / initRatio, liquidity - own)
func MaxRebalanceDepositAmount(l Ledger, g *group.MarginGroup, obs *observation.Set, slot int) (uint64, error) {
	if _, err := activeValid(l, obs, slot); err != nil {
		return 0, err
	}
	free, err := FreeCollateral(l, g, obs)
	if err != nil {
		return 0, err
	}
	if free.IsZero() {
		return 0, nil
	}
	deposit, borrow, err := NativeBalances(l, g)
	if err != nil {
		return 0, err
	}
	liquidity, err := g.Bank.Liquidity()
	if err != nil {
		return 0, err
	}

	var c fixed.Calc
	own := fixed.Max(c.Sub(deposit, borrow), fixed.Zero)
	// the vault's liquidity includes the account's own deposit
	borrowable := fixed.Max(c.Sub(liquidity, own), fixed.Zero)
	if !g.Bank.InitMarginRatio.IsZero() {
		borrowable = fixed.Min(borrowable, c.Div(c.Rescale(free, group.AccumulatorScale), g.Bank.InitMarginRatio))
	}
	bound := c.Uint64(c.Add(own, borrowable))
	if c.Err() != nil {
		return 0, fmt.Errorf("rebalance deposit bound: %w", c.Err())
	}
	return bound, nil
}

// MaxRebalanceWithdrawAmount is the venue's own free collateral
func MaxRebalanceWithdrawAmount(l Ledger, obs *observation.Set, slot int) (uint64, error) {
	o, err := activeValid(l, obs, slot)
	if err != nil {
		return 0, err
	}
	return o.FreeCollateral, nil
}
