package account

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

// commit swaps in the mutated copies and builds the guarded intent
func (a *MarginAccount) commit(g *group.MarginGroup, next *MarginAccount, bank group.Bank, ops ...intent.Op) intent.Intent {
	guard := a.guard()
	next.Version++
	*a = *next
	g.Bank = bank
	return intent.New([]intent.Guard{guard}, ops...)
}

func (a *MarginAccount) op(kind intent.OpKind, slot int, amount uint64) intent.Op {
	return intent.Op{Kind: kind, Account: a.Address, Slot: slot, Amount: amount}
}

func (a *MarginAccount) precheck(g *group.MarginGroup, action group.Action) error {
	if err := a.checkGroup(g); err != nil {
		return err
	}
	return g.Allow(action)
}

// orEmpty treats a missing observation set as "nothing observed"
func orEmpty(obs *observation.Set) *observation.Set {
	if obs == nil {
		return &observation.Set{}
	}
	return obs
}

// Deposit moves amount native units from the user into the bank.
// Outstanding borrows are repaid before anything is credited as deposit.
func (a *MarginAccount) Deposit(g *group.MarginGroup, amount uint64) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	if amount == 0 {
		return intent.Intent{}, apperrors.ErrInvalidAmount
	}

	next, bank := *a, g.Bank
	if err := credit(&next, &bank, fixed.FromUint64(amount)); err != nil {
		return intent.Intent{}, fmt.Errorf("deposit %d: %w", amount, err)
	}
	if limit := bank.AccountDepositLimit; limit > 0 {
		native, err := bank.NativeDeposit(next.DepositRecord)
		if err != nil {
			return intent.Intent{}, err
		}
		if native.GreaterThan(fixed.FromUint64(limit)) {
			return intent.Intent{}, fmt.Errorf("deposit would reach %s, limit %d: %w", native, limit, apperrors.ErrDepositLimitExceeded)
		}
	}
	return a.commit(g, &next, bank, a.op(intent.OpDeposit, intent.NoSlot, amount)), nil
}

// Withdraw pays amount native units out to the user, borrowing whatever
// the deposit does not cover. The account must still meet its initial
// requirement afterwards.
func (a *MarginAccount) Withdraw(g *group.MarginGroup, obs *observation.Set, amount uint64) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	if amount == 0 {
		return intent.Intent{}, apperrors.ErrInvalidAmount
	}
	obs = orEmpty(obs)

	next, bank := *a, g.Bank
	if err := debit(&next, &bank, fixed.FromUint64(amount)); err != nil {
		return intent.Intent{}, fmt.Errorf("withdraw %d: %w", amount, err)
	}

	after := *g
	after.Bank = bank
	equity, err := risk.ComputeEquity(&next, &after, obs)
	if err != nil {
		return intent.Intent{}, err
	}
	req, err := risk.ComputeMarginRequirement(&next, &after, obs, risk.Init)
	if err != nil {
		return intent.Intent{}, err
	}
	if equity.LessThan(req) {
		return intent.Intent{}, fmt.Errorf("withdraw %d leaves equity %s below %s: %w", amount, equity, req, apperrors.ErrInsufficientMargin)
	}
	return a.commit(g, &next, bank, a.op(intent.OpWithdraw, intent.NoSlot, amount)), nil
}

// ActivateUtp opens a venue account in slot with cfg
func (a *MarginAccount) ActivateUtp(g *group.MarginGroup, adapter utp.Adapter, slot int, cfg utp.SlotConfig) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	if err := observation.CheckSlot(slot); err != nil {
		return intent.Intent{}, err
	}
	venueOps, err := adapter.Activate(a.SlotState(slot), cfg)
	if err != nil {
		return intent.Intent{}, err
	}

	next := *a
	next.ActiveUtps[slot] = true
	next.UtpConfig[slot] = cfg
	head := a.op(intent.OpActivateUtp, slot, 0)
	head.Venue = cfg.Kind.String()
	return a.commit(g, &next, g.Bank, append([]intent.Op{head}, venueOps...)...), nil
}

// DeactivateUtp closes the venue account in slot. The latest observation
// must be valid and show nothing left on the venue.
func (a *MarginAccount) DeactivateUtp(g *group.MarginGroup, adapter utp.Adapter, slot int, obs *observation.Set) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	s, err := a.venueSlot(adapter, slot)
	if err != nil {
		return intent.Intent{}, err
	}
	o := orEmpty(obs)[slot]
	if !o.Valid {
		return intent.Intent{}, fmt.Errorf("slot %d: %w", slot, apperrors.ErrIndeterminate)
	}
	if o.Exposed() {
		return intent.Intent{}, fmt.Errorf("slot %d holds %d collateral: %w", slot, o.TotalCollateral, apperrors.ErrOpenExposure)
	}
	venueOps, err := adapter.Deactivate(s)
	if err != nil {
		return intent.Intent{}, err
	}

	next := *a
	next.ActiveUtps[slot] = false
	next.UtpConfig[slot] = utp.SlotConfig{}
	head := a.op(intent.OpDeactivateUtp, slot, 0)
	head.Venue = s.Config.Kind.String()
	return a.commit(g, &next, g.Bank, append([]intent.Op{head}, venueOps...)...), nil
}

// UtpDeposit moves amount from the bank into the venue in slot, bounded
// by risk.MaxRebalanceDepositAmount.
func (a *MarginAccount) UtpDeposit(g *group.MarginGroup, adapter utp.Adapter, slot int, amount uint64, obs *observation.Set) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	s, err := a.venueSlot(adapter, slot)
	if err != nil {
		return intent.Intent{}, err
	}
	obs = orEmpty(obs)
	bound, err := risk.MaxRebalanceDepositAmount(a, g, obs, slot)
	if err != nil {
		return intent.Intent{}, err
	}
	if amount > bound {
		return intent.Intent{}, fmt.Errorf("venue deposit %d, bound %d: %w", amount, bound, apperrors.ErrRebalanceBoundExceeded)
	}
	venueOps, err := adapter.Deposit(s, amount)
	if err != nil {
		return intent.Intent{}, err
	}

	next, bank := *a, g.Bank
	if err := debit(&next, &bank, fixed.FromUint64(amount)); err != nil {
		return intent.Intent{}, fmt.Errorf("venue deposit %d: %w", amount, err)
	}
	head := a.op(intent.OpUtpDeposit, slot, amount)
	head.Venue = s.Config.Kind.String()
	return a.commit(g, &next, bank, append([]intent.Op{head}, venueOps...)...), nil
}

// UtpWithdraw moves amount from the venue in slot back into the bank,
// bounded by the venue's free collateral.
func (a *MarginAccount) UtpWithdraw(g *group.MarginGroup, adapter utp.Adapter, slot int, amount uint64, obs *observation.Set) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionUser); err != nil {
		return intent.Intent{}, err
	}
	s, err := a.venueSlot(adapter, slot)
	if err != nil {
		return intent.Intent{}, err
	}
	bound, err := risk.MaxRebalanceWithdrawAmount(a, orEmpty(obs), slot)
	if err != nil {
		return intent.Intent{}, err
	}
	if amount > bound {
		return intent.Intent{}, fmt.Errorf("venue withdraw %d, free %d: %w", amount, bound, apperrors.ErrRebalanceBoundExceeded)
	}
	venueOps, err := adapter.Withdraw(s, amount)
	if err != nil {
		return intent.Intent{}, err
	}

	next, bank := *a, g.Bank
	if err := credit(&next, &bank, fixed.FromUint64(amount)); err != nil {
		return intent.Intent{}, fmt.Errorf("venue withdraw %d: %w", amount, err)
	}
	head := a.op(intent.OpUtpWithdraw, slot, amount)
	head.Venue = s.Config.Kind.String()
	return a.commit(g, &next, bank, append([]intent.Op{head}, venueOps...)...), nil
}

// Liquidate takes over liquidatee's venue in slot. The receiver is the
// liquidator and must have no venues of its own.
// Formula:
//
//	value     = venue total collateral
//	paid      = value × (1 - liquidatorFee)      from the liquidator
//	insurance = value × insuranceFee             to the insurance vault
//	credited  = paid - insurance                 to the liquidatee
func (a *MarginAccount) Liquidate(g *group.MarginGroup, liquidatee *MarginAccount, slot int, obs *observation.Set) (intent.Intent, error) {
	if err := a.precheck(g, group.ActionSolvency); err != nil {
		return intent.Intent{}, err
	}
	if err := liquidatee.checkGroup(g); err != nil {
		return intent.Intent{}, err
	}
	if liquidatee.Address == a.Address {
		return intent.Intent{}, apperrors.ErrSelfLiquidation
	}
	if a.HasActiveUtps() {
		return intent.Intent{}, fmt.Errorf("liquidator %s: %w", a.Address.Short(), apperrors.ErrLiquidatorHasActiveUtps)
	}
	if err := observation.CheckSlot(slot); err != nil {
		return intent.Intent{}, err
	}
	if !liquidatee.IsActive(slot) {
		return intent.Intent{}, fmt.Errorf("liquidatee slot %d: %w", slot, apperrors.ErrNotActive)
	}
	obs = orEmpty(obs)
	ok, err := risk.CanBeLiquidated(liquidatee, g, obs)
	if err != nil {
		return intent.Intent{}, err
	}
	if !ok {
		return intent.Intent{}, fmt.Errorf("account %s: %w", liquidatee.Address.Short(), apperrors.ErrAccountNotLiquidatable)
	}
	o := obs[slot]
	if !o.Recoverable() {
		return intent.Intent{}, fmt.Errorf("slot %d holds nothing: %w", slot, apperrors.ErrNoLiquidatableVenue)
	}

	deposit, borrow, err := risk.NativeBalances(a, g)
	if err != nil {
		return intent.Intent{}, err
	}
	var c fixed.Calc
	value := fixed.FromUint64(o.TotalCollateral)
	available := c.Sub(deposit, borrow)
	paid := c.Mul(value, c.Sub(one, g.Bank.LiquidatorFee))
	insurance := c.Mul(value, g.Bank.InsuranceFee)
	credited := c.Sub(paid, insurance)
	insuranceAmount := c.Uint64(insurance)
	if c.Err() != nil {
		return intent.Intent{}, fmt.Errorf("liquidation split: %w", c.Err())
	}
	if available.LessThan(value) {
		return intent.Intent{}, fmt.Errorf("liquidator holds %s, venue %d: %w", available, o.TotalCollateral, apperrors.ErrInsufficientFunds)
	}

	liquidator, victim, bank := *a, *liquidatee, g.Bank
	if err := debit(&liquidator, &bank, paid); err != nil {
		return intent.Intent{}, fmt.Errorf("liquidator pays %s: %w", paid, err)
	}
	if err := credit(&victim, &bank, credited); err != nil {
		return intent.Intent{}, fmt.Errorf("liquidatee credited %s: %w", credited, err)
	}
	bank.InsuranceVaultBalance, err = bank.InsuranceVaultBalance.Add(insurance)
	if err != nil {
		return intent.Intent{}, err
	}

	cfg := victim.UtpConfig[slot]
	liquidator.ActiveUtps[slot] = true
	liquidator.UtpConfig[slot] = cfg
	victim.ActiveUtps[slot] = false
	victim.UtpConfig[slot] = utp.SlotConfig{}

	guards := []intent.Guard{a.guard(), liquidatee.guard()}
	head := intent.Op{
		Kind:    intent.OpLiquidate,
		Account: liquidatee.Address,
		Slot:    slot,
		Amount:  o.TotalCollateral,
		Venue:   cfg.Kind.String(),
	}
	ops := []intent.Op{head}
	if insuranceAmount > 0 {
		ops = append(ops, intent.Op{Kind: intent.OpInsuranceTransfer, Account: g.Address, Slot: intent.NoSlot, Amount: insuranceAmount})
	}

	liquidator.Version++
	victim.Version++
	*a, *liquidatee = liquidator, victim
	g.Bank = bank
	return intent.New(guards, ops...), nil
}

// BankruptcyOutcome splits a bankrupt account's shortfall between the
// insurance vault and the other depositors
type BankruptcyOutcome struct {
	Shortfall  fixed.Decimal `json:"shortfall"`
	Covered    fixed.Decimal `json:"covered"`
	Socialized fixed.Decimal `json:"socialized"`
}

// HandleBankruptcy writes off a bankrupt account. The insurance vault
// covers what it can; the rest lowers the deposit accumulator so every
// remaining depositor shares the loss pro rata.
// Formula:
//
//	shortfall  = nativeBorrow - nativeDeposit
//	covered    = min(insurance, shortfall)
//	socialized = shortfall - covered
//	depositAcc = depositAcc × (1 - socialized / remainingDeposits)
func (a *MarginAccount) HandleBankruptcy(g *group.MarginGroup, obs *observation.Set) (BankruptcyOutcome, intent.Intent, error) {
	if err := a.precheck(g, group.ActionSolvency); err != nil {
		return BankruptcyOutcome{}, intent.Intent{}, err
	}
	obs = orEmpty(obs)
	bankrupt, err := risk.IsBankrupt(a, g, obs)
	if err != nil {
		return BankruptcyOutcome{}, intent.Intent{}, err
	}
	if !bankrupt {
		return BankruptcyOutcome{}, intent.Intent{}, fmt.Errorf("account %s: %w", a.Address.Short(), apperrors.ErrAccountNotBankrupt)
	}
	deposit, borrow, err := risk.NativeBalances(a, g)
	if err != nil {
		return BankruptcyOutcome{}, intent.Intent{}, err
	}

	var c fixed.Calc
	bank := g.Bank
	out := BankruptcyOutcome{Shortfall: fixed.Max(c.Sub(borrow, deposit), fixed.Zero)}
	out.Covered = fixed.Min(fixed.Max(bank.InsuranceVaultBalance, fixed.Zero), out.Shortfall)
	out.Socialized = c.Sub(out.Shortfall, out.Covered)

	bank.NativeBorrowBalance = fixed.Max(c.Sub(bank.NativeBorrowBalance, borrow), fixed.Zero)
	bank.NativeDepositBalance = fixed.Max(c.Sub(bank.NativeDepositBalance, deposit), fixed.Zero)
	bank.InsuranceVaultBalance = c.Sub(bank.InsuranceVaultBalance, out.Covered)
	if out.Socialized.GreaterThan(fixed.Zero) && bank.NativeDepositBalance.GreaterThan(fixed.Zero) {
		remaining := c.Rescale(bank.NativeDepositBalance, group.AccumulatorScale)
		ratio := fixed.Min(c.Div(c.Rescale(out.Socialized, group.AccumulatorScale), remaining), one)
		bank.DepositAccumulator = c.Mul(bank.DepositAccumulator, c.Sub(one, ratio))
		bank.NativeDepositBalance = fixed.Max(c.Sub(bank.NativeDepositBalance, out.Socialized), fixed.Zero)
	}
	shortfallAmount := c.Uint64(out.Shortfall)
	coveredAmount := c.Uint64(out.Covered)
	if c.Err() != nil {
		return BankruptcyOutcome{}, intent.Intent{}, fmt.Errorf("bankruptcy: %w", c.Err())
	}

	next := *a
	next.DepositRecord = fixed.Zero
	next.BorrowRecord = fixed.Zero
	ops := []intent.Op{a.op(intent.OpHandleBankruptcy, intent.NoSlot, shortfallAmount)}
	if coveredAmount > 0 {
		ops = append(ops, intent.Op{Kind: intent.OpInsuranceTransfer, Account: g.Address, Slot: intent.NoSlot, Amount: coveredAmount})
	}
	return out, a.commit(g, &next, bank, ops...), nil
}

var one = fixed.FromInt64(1)
