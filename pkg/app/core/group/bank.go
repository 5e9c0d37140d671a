package group

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const (
	// AccumulatorScale is the precision of accumulators, rates and records
	AccumulatorScale = 12

	// SecondsPerYear converts APRs into per-second growth
	SecondsPerYear = 31_536_000
)

// Bank is the group's single lending pool. Account balances are stored as
// records; the native amount is record × accumulator, so interest accrues
// to every account by moving the two accumulators.
type Bank struct {
	// Interest model
	// borrowAPR = u × ScalingFactorC × (1 + InterestFee) + FixedFee
	// depositAPR = u × ScalingFactorC × u
	ScalingFactorC fixed.Decimal
	FixedFee       fixed.Decimal
	InterestFee    fixed.Decimal

	DepositAccumulator fixed.Decimal
	BorrowAccumulator  fixed.Decimal
	LastUpdate         int64 // unix seconds

	NativeDepositBalance fixed.Decimal
	NativeBorrowBalance  fixed.Decimal

	Mint  crypto.Pubkey
	Vault crypto.Pubkey

	InsuranceVault            crypto.Pubkey
	InsuranceVaultBalance     fixed.Decimal
	InsuranceVaultOutstanding fixed.Decimal
	FeeVault                  crypto.Pubkey
	FeeVaultOutstanding       fixed.Decimal

	// Margin applied to the account's native borrow, on top of venue requirements
	InitMarginRatio  fixed.Decimal
	MaintMarginRatio fixed.Decimal

	AccountDepositLimit uint64 // native units, 0 = unlimited

	// Liquidation discount split: the liquidator keeps LiquidatorFee of the
	// venue collateral, InsuranceFee goes to the insurance vault
	LiquidatorFee fixed.Decimal
	InsuranceFee  fixed.Decimal
}

// dec parses package-level constants
func dec(s string) fixed.Decimal {
	d, err := fixed.Parse(s)
	if err != nil {
		panic(err)
	}
	d, err = d.Rescale(AccumulatorScale)
	if err != nil {
		panic(err)
	}
	return d
}

var one = dec("1")

// DefaultBank returns the parameters a fresh group starts with
func DefaultBank(mint crypto.Pubkey, now int64) Bank {
	return Bank{
		// at 100% utilization: borrow pays 40% × 1.1 + 1%, deposits earn 40%
		ScalingFactorC: dec("0.4"),
		FixedFee:       dec("0.01"),
		InterestFee:    dec("0.1"),

		DepositAccumulator: one,
		BorrowAccumulator:  one,
		LastUpdate:         now,

		NativeDepositBalance:      dec("0"),
		NativeBorrowBalance:       dec("0"),
		InsuranceVaultBalance:     dec("0"),
		InsuranceVaultOutstanding: dec("0"),
		FeeVaultOutstanding:       dec("0"),

		Mint: mint,

		InitMarginRatio:  dec("0.15"),
		MaintMarginRatio: dec("0.075"),

		LiquidatorFee: dec("0.025"),
		InsuranceFee:  dec("0.025"),
	}
}

// NativeDeposit converts a deposit record to native units
func (b *Bank) NativeDeposit(record fixed.Decimal) (fixed.Decimal, error) {
	return record.Mul(b.DepositAccumulator)
}

// NativeBorrow converts a borrow record to native units
func (b *Bank) NativeBorrow(record fixed.Decimal) (fixed.Decimal, error) {
	return record.Mul(b.BorrowAccumulator)
}

// DepositRecord converts native units to a deposit record
func (b *Bank) DepositRecord(native fixed.Decimal) (fixed.Decimal, error) {
	return native.Div(b.DepositAccumulator)
}

// BorrowRecord converts native units to a borrow record
func (b *Bank) BorrowRecord(native fixed.Decimal) (fixed.Decimal, error) {
	return native.Div(b.BorrowAccumulator)
}

// Liquidity is what the vault can still lend out, never negative
func (b *Bank) Liquidity() (fixed.Decimal, error) {
	l, err := b.NativeDepositBalance.Sub(b.NativeBorrowBalance)
	if err != nil {
		return fixed.Zero, err
	}
	return fixed.Max(l, fixed.Zero), nil
}

// UtilizationRate is borrows over deposits, 0 for an empty pool
func (b *Bank) UtilizationRate() (fixed.Decimal, error) {
	if b.NativeDepositBalance.IsZero() {
		return dec("0"), nil
	}
	deposits, err := b.NativeDepositBalance.Rescale(AccumulatorScale)
	if err != nil {
		return fixed.Zero, err
	}
	u, err := b.NativeBorrowBalance.Div(deposits)
	if err != nil {
		return fixed.Zero, err
	}
	return fixed.Min(u, one), nil
}

// Rates is the annualized interest split at the current utilization
type Rates struct {
	Deposit fixed.Decimal
	Borrow  fixed.Decimal
	Fee     fixed.Decimal // part of Borrow retained by the fee vault
}

// InterestRates evaluates the utilization curve.
// Formula:
//
//	base       = u × C
//	borrowAPR  = base × (1 + interestFee) + fixedFee
//	depositAPR = base × u
//	feeAPR     = base × interestFee + fixedFee
func (b *Bank) InterestRates() (Rates, error) {
	u, err := b.UtilizationRate()
	if err != nil {
		return Rates{}, err
	}
	var c fixed.Calc
	base := c.Mul(u, b.ScalingFactorC)
	variableFee := c.Mul(base, b.InterestFee)
	r := Rates{
		Borrow:  c.Add(c.Add(base, variableFee), b.FixedFee),
		Deposit: c.Mul(base, u),
		Fee:     c.Add(variableFee, b.FixedFee),
	}
	if c.Err() != nil {
		return Rates{}, fmt.Errorf("interest rates: %w", c.Err())
	}
	return r, nil
}

// Accrue moves the accumulators forward to now. Deposit interest and the
// fee vault's share both come out of borrow interest.
func (b *Bank) Accrue(now int64) error {
	if now < b.LastUpdate {
		return fmt.Errorf("accrue at %d, last update %d: %w", now, b.LastUpdate, apperrors.ErrClockSkew)
	}
	if now == b.LastUpdate {
		return nil
	}
	rates, err := b.InterestRates()
	if err != nil {
		return err
	}

	var c fixed.Calc
	elapsed := c.Rescale(fixed.FromInt64(now-b.LastUpdate), AccumulatorScale)
	dtYears := c.Div(elapsed, fixed.FromInt64(SecondsPerYear))
	borrowGrowth := c.Mul(rates.Borrow, dtYears)
	depositGrowth := c.Mul(rates.Deposit, dtYears)
	fees := c.Mul(c.Mul(b.NativeBorrowBalance, rates.Fee), dtYears)

	next := *b
	next.BorrowAccumulator = c.Add(b.BorrowAccumulator, c.Mul(b.BorrowAccumulator, borrowGrowth))
	next.DepositAccumulator = c.Add(b.DepositAccumulator, c.Mul(b.DepositAccumulator, depositGrowth))
	next.NativeBorrowBalance = c.Add(b.NativeBorrowBalance, c.Mul(b.NativeBorrowBalance, borrowGrowth))
	next.NativeDepositBalance = c.Add(b.NativeDepositBalance, c.Mul(b.NativeDepositBalance, depositGrowth))
	next.FeeVaultOutstanding = c.Add(b.FeeVaultOutstanding, fees)
	next.LastUpdate = now
	if c.Err() != nil {
		return fmt.Errorf("accrue: %w", c.Err())
	}
	*b = next
	return nil
}
