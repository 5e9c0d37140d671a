// Package account implements the margin account state machine. Every
// mutation works on copies of the account and the group's bank and commits
// both only once all checks pass, then returns the intent the chain must
// execute.
package account

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// MarginAccount is one user's position in a margin group: a deposit and a
// borrow record against the group bank, plus up to MaxUtps venue slots.
type MarginAccount struct {
	Address   crypto.Pubkey `json:"address"`
	Authority crypto.Pubkey `json:"authority"`
	Group     crypto.Pubkey `json:"group"`

	// Records are native / accumulator, see group.Bank
	DepositRecord fixed.Decimal `json:"depositRecord"`
	BorrowRecord  fixed.Decimal `json:"borrowRecord"`

	ActiveUtps [observation.MaxUtps]bool           `json:"activeUtps"`
	UtpConfig  [observation.MaxUtps]utp.SlotConfig `json:"utpConfig"`

	// Version is bumped on every committed mutation; intents are guarded by it
	Version uint64 `json:"version"`
}

// Open creates an empty account in g
func Open(address, authority crypto.Pubkey, g *group.MarginGroup) *MarginAccount {
	return &MarginAccount{
		Address:       address,
		Authority:     authority,
		Group:         g.Address,
		DepositRecord: fixed.Zero,
		BorrowRecord:  fixed.Zero,
	}
}

// Records implements risk.Ledger
func (a *MarginAccount) Records() (deposit, borrow fixed.Decimal) {
	return a.DepositRecord, a.BorrowRecord
}

// IsActive implements risk.Ledger
func (a *MarginAccount) IsActive(slot int) bool {
	if slot < 0 || slot >= observation.MaxUtps {
		return false
	}
	return a.ActiveUtps[slot]
}

// HasActiveUtps reports whether any slot is in use
func (a *MarginAccount) HasActiveUtps() bool {
	for _, active := range a.ActiveUtps {
		if active {
			return true
		}
	}
	return false
}

// ActiveSlots lists the slots in use, lowest first
func (a *MarginAccount) ActiveSlots() []int {
	var slots []int
	for i, active := range a.ActiveUtps {
		if active {
			slots = append(slots, i)
		}
	}
	return slots
}

// SlotState is the adapter's view of slot; the index must be in range
func (a *MarginAccount) SlotState(slot int) utp.SlotState {
	return utp.SlotState{Index: slot, Active: a.ActiveUtps[slot], Config: a.UtpConfig[slot]}
}

func (a *MarginAccount) guard() intent.Guard {
	return intent.Guard{Account: a.Address, Version: a.Version}
}

func (a *MarginAccount) checkGroup(g *group.MarginGroup) error {
	if a.Group != g.Address {
		return fmt.Errorf("account %s belongs to group %s, not %s: %w", a.Address.Short(), a.Group.Short(), g.Address.Short(), apperrors.ErrInvalidAddress)
	}
	return nil
}

// venueSlot resolves an active slot served by adapter
func (a *MarginAccount) venueSlot(adapter utp.Adapter, slot int) (utp.SlotState, error) {
	if err := observation.CheckSlot(slot); err != nil {
		return utp.SlotState{}, err
	}
	s := a.SlotState(slot)
	if !s.Active {
		return utp.SlotState{}, fmt.Errorf("slot %d: %w", slot, apperrors.ErrNotActive)
	}
	if s.Config.Kind != adapter.Kind() {
		return utp.SlotState{}, fmt.Errorf("slot %d holds %s, adapter is %s: %w", slot, s.Config.Kind, adapter.Kind(), apperrors.ErrVenueMismatch)
	}
	return s, nil
}

// credit adds amount to the account, repaying any borrow first.
// Formula:
//
//	repay   = min(amount, nativeBorrow)
//	deposit = amount - repay
func credit(a *MarginAccount, b *group.Bank, amount fixed.Decimal) error {
	var c fixed.Calc
	borrow := fixed.Zero
	if !a.BorrowRecord.IsZero() {
		borrow = c.Check(b.NativeBorrow(a.BorrowRecord))
	}
	repay := fixed.Min(amount, borrow)
	if !repay.IsZero() {
		if repay.Equal(borrow) {
			a.BorrowRecord = fixed.Zero
		} else {
			a.BorrowRecord = c.Sub(a.BorrowRecord, c.Check(b.BorrowRecord(repay)))
		}
		b.NativeBorrowBalance = c.Sub(b.NativeBorrowBalance, repay)
	}
	rest := c.Sub(amount, repay)
	if rest.GreaterThan(fixed.Zero) {
		a.DepositRecord = c.Add(a.DepositRecord, c.Check(b.DepositRecord(rest)))
		b.NativeDepositBalance = c.Add(b.NativeDepositBalance, rest)
	}
	return c.Err()
}

// debit takes amount from the account, consuming its deposit first and
// borrowing the rest from the bank.
// Formula:
//
//	use    = min(amount, nativeDeposit)
//	borrow = amount - use, at most the bank's liquidity
func debit(a *MarginAccount, b *group.Bank, amount fixed.Decimal) error {
	var c fixed.Calc
	deposit := fixed.Zero
	if !a.DepositRecord.IsZero() {
		deposit = c.Check(b.NativeDeposit(a.DepositRecord))
	}
	use := fixed.Min(amount, deposit)
	if !use.IsZero() {
		if use.Equal(deposit) {
			a.DepositRecord = fixed.Zero
		} else {
			a.DepositRecord = c.Sub(a.DepositRecord, c.Check(b.DepositRecord(use)))
		}
		b.NativeDepositBalance = c.Sub(b.NativeDepositBalance, use)
	}
	rest := c.Sub(amount, use)
	if c.Err() != nil {
		return c.Err()
	}
	if rest.IsZero() {
		return nil
	}
	liquidity, err := b.Liquidity()
	if err != nil {
		return err
	}
	if rest.GreaterThan(liquidity) {
		return fmt.Errorf("borrow %s, liquidity %s: %w", rest, liquidity, apperrors.ErrInsufficientLiquidity)
	}
	a.BorrowRecord = c.Add(a.BorrowRecord, c.Check(b.BorrowRecord(rest)))
	b.NativeBorrowBalance = c.Add(b.NativeBorrowBalance, rest)
	return c.Err()
}
