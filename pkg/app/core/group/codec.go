package group

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/layout"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const recordName = "MarginGroup"

// Encode serializes the group as stored in its on-chain account
func (g *MarginGroup) Encode() []byte {
	w := layout.NewWriter(recordName)
	w.Pubkey(g.Admin)
	w.Bool(g.Paused)
	w.Uint8(uint8(g.PausePolicy))
	w.Uint64(g.Version)

	b := &g.Bank
	w.Decimal(b.ScalingFactorC)
	w.Decimal(b.FixedFee)
	w.Decimal(b.InterestFee)
	w.Decimal(b.DepositAccumulator)
	w.Decimal(b.BorrowAccumulator)
	w.Int64(b.LastUpdate)
	w.Decimal(b.NativeDepositBalance)
	w.Decimal(b.NativeBorrowBalance)
	w.Pubkey(b.Mint)
	w.Pubkey(b.Vault)
	w.Pubkey(b.InsuranceVault)
	w.Decimal(b.InsuranceVaultBalance)
	w.Decimal(b.InsuranceVaultOutstanding)
	w.Pubkey(b.FeeVault)
	w.Decimal(b.FeeVaultOutstanding)
	w.Decimal(b.InitMarginRatio)
	w.Decimal(b.MaintMarginRatio)
	w.Uint64(b.AccountDepositLimit)
	w.Decimal(b.LiquidatorFee)
	w.Decimal(b.InsuranceFee)
	return w.Bytes()
}

// Decode parses a group account fetched at address
func Decode(address crypto.Pubkey, raw []byte) (*MarginGroup, error) {
	r := layout.NewReader(raw)
	r.Expect(recordName)

	g := &MarginGroup{Address: address}
	g.Admin = r.Pubkey()
	g.Paused = r.Bool()
	g.PausePolicy = PausePolicy(r.Uint8())
	g.Version = r.Uint64()

	b := &g.Bank
	b.ScalingFactorC = r.Decimal()
	b.FixedFee = r.Decimal()
	b.InterestFee = r.Decimal()
	b.DepositAccumulator = r.Decimal()
	b.BorrowAccumulator = r.Decimal()
	b.LastUpdate = r.Int64()
	b.NativeDepositBalance = r.Decimal()
	b.NativeBorrowBalance = r.Decimal()
	b.Mint = r.Pubkey()
	b.Vault = r.Pubkey()
	b.InsuranceVault = r.Pubkey()
	b.InsuranceVaultBalance = r.Decimal()
	b.InsuranceVaultOutstanding = r.Decimal()
	b.FeeVault = r.Pubkey()
	b.FeeVaultOutstanding = r.Decimal()
	b.InitMarginRatio = r.Decimal()
	b.MaintMarginRatio = r.Decimal()
	b.AccountDepositLimit = r.Uint64()
	b.LiquidatorFee = r.Decimal()
	b.InsuranceFee = r.Decimal()

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode group %s: %w", address, err)
	}
	if g.PausePolicy > PauseAll {
		return nil, fmt.Errorf("decode group %s: pause policy %d: %w", address, g.PausePolicy, apperrors.ErrInvalidEncoding)
	}
	return g, nil
}
