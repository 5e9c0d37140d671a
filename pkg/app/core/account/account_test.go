package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/app/utp/perp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

var (
	groupAddr   = crypto.Pubkey{0x60}
	admin       = crypto.Pubkey{0xAD}
	mint        = crypto.Pubkey{0x11}
	perpProgram = crypto.Pubkey{0xA1}
)

func newGroup() *group.MarginGroup {
	return group.New(groupAddr, admin, mint, 0)
}

func newAccount(g *group.MarginGroup, id byte) *MarginAccount {
	return Open(crypto.Pubkey{id}, crypto.Pubkey{id, 1}, g)
}

func perpConfig(t *testing.T, id byte) utp.SlotConfig {
	t.Helper()
	seed := crypto.Pubkey{0x5E, id}
	_, bump, err := utp.DeriveAuthority(perpProgram, seed)
	require.NoError(t, err)
	return utp.SlotConfig{
		Kind:          utp.KindPerp,
		Account:       crypto.Pubkey{0xAC, id},
		AuthoritySeed: seed,
		AuthorityBump: bump,
	}
}

// funded opens an account and deposits amount into it
func funded(t *testing.T, g *group.MarginGroup, id byte, amount uint64) *MarginAccount {
	t.Helper()
	a := newAccount(g, id)
	if amount > 0 {
		_, err := a.Deposit(g, amount)
		require.NoError(t, err)
	}
	return a
}

func activate(t *testing.T, g *group.MarginGroup, a *MarginAccount, slot int) {
	t.Helper()
	_, err := a.ActivateUtp(g, perp.New(perpProgram), slot, perpConfig(t, a.Address[0]))
	require.NoError(t, err)
}

func venue(slot int, o observation.Observation) *observation.Set {
	var s observation.Set
	o.Valid = true
	s[slot] = o
	return &s
}

func requireNative(t *testing.T, want int64, got fixed.Decimal) {
	t.Helper()
	require.True(t, got.Equal(fixed.FromInt64(want)), "got %s, want %d", got, want)
}

func balances(t *testing.T, g *group.MarginGroup, a *MarginAccount) (deposit, borrow fixed.Decimal) {
	t.Helper()
	deposit, err := g.Bank.NativeDeposit(a.DepositRecord)
	require.NoError(t, err)
	borrow, err = g.Bank.NativeBorrow(a.BorrowRecord)
	require.NoError(t, err)
	return deposit, borrow
}

func TestDepositAndWithdraw(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	a := newAccount(g, 1)

	in, err := a.Deposit(g, 1_000)
	require.NoError(err)
	require.Equal(uint64(1), a.Version)
	require.Equal([]intent.Guard{{Account: a.Address, Version: 0}}, in.Guards)
	require.Equal(intent.OpDeposit, in.Ops[0].Kind)
	require.Equal(uint64(1_000), in.Ops[0].Amount)
	requireNative(t, 1_000, g.Bank.NativeDepositBalance)

	_, err = a.Withdraw(g, nil, 400)
	require.NoError(err)
	deposit, borrow := balances(t, g, a)
	requireNative(t, 600, deposit)
	requireNative(t, 0, borrow)
	require.Equal(uint64(2), a.Version)

	// nothing left in the vault to borrow
	before, bank := *a, g.Bank
	_, err = a.Withdraw(g, nil, 700)
	require.ErrorIs(err, apperrors.ErrInsufficientLiquidity)
	require.Equal(before, *a)
	require.Equal(bank, g.Bank)

	_, err = a.Deposit(g, 0)
	require.ErrorIs(err, apperrors.ErrInvalidAmount)
}

func TestWithdrawRequiresInitialMargin(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	funded(t, g, 9, 10_000)
	a := funded(t, g, 1, 600)

	before := *a
	_, err := a.Withdraw(g, nil, 700)
	require.ErrorIs(err, apperrors.ErrInsufficientMargin)
	require.Equal("solvency", apperrors.KindOf(err))
	require.Equal(before, *a)
}

func TestWithdrawBorrowsAgainstVenueEquity(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	funded(t, g, 9, 100_000)
	a := newAccount(g, 1)
	activate(t, g, a, 0)
	obs := venue(0, observation.Observation{
		TotalCollateral: 10_000, Equity: 10_000,
		MarginRequirementInit: 1_000, MarginRequirementMaint: 500,
	})

	// equity 3000, requirement 7000 × 0.15 + 1000
	_, err := a.Withdraw(g, obs, 7_000)
	require.NoError(err)
	_, borrow := balances(t, g, a)
	requireNative(t, 7_000, borrow)

	_, err = a.Withdraw(g, obs, 1_000)
	require.ErrorIs(err, apperrors.ErrInsufficientMargin)

	// venue data missing
	_, err = a.Withdraw(g, nil, 1)
	require.ErrorIs(err, apperrors.ErrIndeterminate)

	// deposits repay the borrow first
	_, err = a.Deposit(g, 7_500)
	require.NoError(err)
	deposit, borrow := balances(t, g, a)
	requireNative(t, 500, deposit)
	require.True(a.BorrowRecord.IsZero())
	requireNative(t, 0, borrow)
	requireNative(t, 0, g.Bank.NativeBorrowBalance)
}

func TestDepositLimit(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	g.Bank.AccountDepositLimit = 1_000
	a := newAccount(g, 1)

	_, err := a.Deposit(g, 600)
	require.NoError(err)

	before := *a
	_, err = a.Deposit(g, 500)
	require.ErrorIs(err, apperrors.ErrDepositLimitExceeded)
	require.Equal(before, *a)

	_, err = a.Deposit(g, 400)
	require.NoError(err)
}

func TestPausedGroup(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	a := funded(t, g, 1, 100)

	_, err := g.SetPaused(admin, true)
	require.NoError(err)

	_, err = a.Deposit(g, 1)
	require.ErrorIs(err, apperrors.ErrGroupPaused)
	_, err = a.Withdraw(g, nil, 1)
	require.ErrorIs(err, apperrors.ErrGroupPaused)
	_, err = a.ActivateUtp(g, perp.New(perpProgram), 0, perpConfig(t, 1))
	require.ErrorIs(err, apperrors.ErrGroupPaused)

	// solvency operations pass the pause check and fail on their own merits
	_, _, err = a.HandleBankruptcy(g, nil)
	require.ErrorIs(err, apperrors.ErrAccountNotBankrupt)

	all := group.PauseAll
	_, err = g.Configure(admin, group.Config{PausePolicy: &all})
	require.NoError(err)
	_, _, err = a.HandleBankruptcy(g, nil)
	require.ErrorIs(err, apperrors.ErrGroupPaused)
}

func TestWrongGroup(t *testing.T) {
	g := newGroup()
	a := newAccount(g, 1)
	other := group.New(crypto.Pubkey{0x61}, admin, mint, 0)

	_, err := a.Deposit(other, 10)
	require.ErrorIs(t, err, apperrors.ErrInvalidAddress)
}

func TestUtpLifecycle(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	a := newAccount(g, 1)
	adapter := perp.New(perpProgram)
	cfg := perpConfig(t, 1)

	in, err := a.ActivateUtp(g, adapter, 3, cfg)
	require.NoError(err)
	require.True(a.IsActive(3))
	require.Equal(cfg, a.UtpConfig[3])
	require.Equal([]int{3}, a.ActiveSlots())
	require.Equal(intent.OpActivateUtp, in.Ops[0].Kind)
	require.Equal(intent.OpVenueInstruction, in.Ops[1].Kind)

	for i := 0; i < 2; i++ {
		_, err = a.ActivateUtp(g, adapter, 3, cfg)
		require.ErrorIs(err, apperrors.ErrAlreadyActive)
		require.ErrorIs(err, apperrors.ErrState)
	}
	require.Equal(cfg, a.UtpConfig[3])

	_, err = a.ActivateUtp(g, adapter, observation.MaxUtps, cfg)
	require.ErrorIs(err, apperrors.ErrSlotOutOfRange)

	exposed := venue(3, observation.Observation{TotalCollateral: 5})
	_, err = a.DeactivateUtp(g, adapter, 3, exposed)
	require.ErrorIs(err, apperrors.ErrOpenExposure)

	_, err = a.DeactivateUtp(g, adapter, 3, nil)
	require.ErrorIs(err, apperrors.ErrIndeterminate)
	require.True(a.IsActive(3))

	version := a.Version
	_, err = a.DeactivateUtp(g, adapter, 3, venue(3, observation.Observation{}))
	require.NoError(err)
	require.False(a.IsActive(3))
	require.Equal(utp.SlotConfig{}, a.UtpConfig[3])
	require.Equal(version+1, a.Version)

	_, err = a.DeactivateUtp(g, adapter, 3, venue(3, observation.Observation{}))
	require.ErrorIs(err, apperrors.ErrNotActive)
}

func TestUtpDepositBound(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	funded(t, g, 9, 10_000)
	a := funded(t, g, 1, 1_000)
	activate(t, g, a, 0)
	adapter := perp.New(perpProgram)
	obs := venue(0, observation.Observation{})

	// own 1000 plus min(10000, 1000 / 0.15) borrowed
	bound, err := risk.MaxRebalanceDepositAmount(a, g, obs, 0)
	require.NoError(err)
	require.Equal(uint64(7_666), bound)

	before := *a
	_, err = a.UtpDeposit(g, adapter, 0, 8_000, obs)
	require.ErrorIs(err, apperrors.ErrRebalanceBoundExceeded)
	require.Equal(before, *a)

	in, err := a.UtpDeposit(g, adapter, 0, 1_500, obs)
	require.NoError(err)
	require.Equal(intent.OpUtpDeposit, in.Ops[0].Kind)
	require.Equal("perp", in.Ops[0].Venue)
	deposit, borrow := balances(t, g, a)
	requireNative(t, 0, deposit)
	requireNative(t, 500, borrow)
}

func TestUtpWithdrawBound(t *testing.T) {
	require := require.New(t)
	g := newGroup()
	a := newAccount(g, 1)
	activate(t, g, a, 0)
	adapter := perp.New(perpProgram)
	obs := venue(0, observation.Observation{TotalCollateral: 1_000, Equity: 1_000, FreeCollateral: 300})

	_, err := a.UtpWithdraw(g, adapter, 0, 400, obs)
	require.ErrorIs(err, apperrors.ErrRebalanceBoundExceeded)

	_, err = a.UtpWithdraw(g, adapter, 1, 100, obs)
	require.ErrorIs(err, apperrors.ErrNotActive)

	_, err = a.UtpWithdraw(g, adapter, 0, 300, obs)
	require.NoError(err)
	deposit, _ := balances(t, g, a)
	requireNative(t, 300, deposit)
}

// liquidationSetup leaves account 1 with a 7000 borrow against a perp venue
// holding 10000 collateral whose equity fell to 7500
func liquidationSetup(t *testing.T) (*group.MarginGroup, *MarginAccount, *observation.Set) {
	t.Helper()
	g := newGroup()
	funded(t, g, 9, 100_000)
	a := newAccount(g, 1)
	activate(t, g, a, 0)
	healthy := venue(0, observation.Observation{
		TotalCollateral: 10_000, Equity: 10_000,
		MarginRequirementInit: 1_000, MarginRequirementMaint: 500,
	})
	_, err := a.Withdraw(g, healthy, 7_000)
	require.NoError(t, err)

	return g, a, venue(0, observation.Observation{
		TotalCollateral: 10_000, Equity: 7_500,
		MarginRequirementInit: 1_000, MarginRequirementMaint: 500,
	})
}

func TestLiquidate(t *testing.T) {
	require := require.New(t)
	g, victim, obs := liquidationSetup(t)
	liquidator := funded(t, g, 2, 20_000)
	cfg := victim.UtpConfig[0]
	lv, vv := liquidator.Version, victim.Version

	in, err := liquidator.Liquidate(g, victim, 0, obs)
	require.NoError(err)

	require.Equal([]intent.Guard{
		{Account: liquidator.Address, Version: lv},
		{Account: victim.Address, Version: vv},
	}, in.Guards)
	require.Len(in.Ops, 2)
	require.Equal(intent.OpLiquidate, in.Ops[0].Kind)
	require.Equal(uint64(10_000), in.Ops[0].Amount)
	require.Equal(intent.OpInsuranceTransfer, in.Ops[1].Kind)
	require.Equal(uint64(250), in.Ops[1].Amount)

	// the venue and its config moved over
	require.True(liquidator.IsActive(0))
	require.Equal(cfg, liquidator.UtpConfig[0])
	require.False(victim.IsActive(0))
	require.Equal(lv+1, liquidator.Version)
	require.Equal(vv+1, victim.Version)

	// 10000 × 0.975 paid; 9500 credited repays the 7000 borrow
	deposit, _ := balances(t, g, liquidator)
	requireNative(t, 10_250, deposit)
	deposit, borrow := balances(t, g, victim)
	requireNative(t, 2_500, deposit)
	requireNative(t, 0, borrow)
	requireNative(t, 250, g.Bank.InsuranceVaultBalance)
	requireNative(t, 0, g.Bank.NativeBorrowBalance)
	requireNative(t, 112_750, g.Bank.NativeDepositBalance)
}

func TestLiquidateRejections(t *testing.T) {
	g, victim, obs := liquidationSetup(t)

	t.Run("self", func(t *testing.T) {
		_, err := victim.Liquidate(g, victim, 0, obs)
		require.ErrorIs(t, err, apperrors.ErrSelfLiquidation)
	})

	t.Run("liquidator with venues", func(t *testing.T) {
		l := funded(t, g, 3, 20_000)
		activate(t, g, l, 5)
		_, err := l.Liquidate(g, victim, 0, obs)
		require.ErrorIs(t, err, apperrors.ErrLiquidatorHasActiveUtps)
	})

	t.Run("healthy account", func(t *testing.T) {
		l := funded(t, g, 4, 20_000)
		healthy := venue(0, observation.Observation{TotalCollateral: 10_000, Equity: 10_000})
		_, err := l.Liquidate(g, victim, 0, healthy)
		require.ErrorIs(t, err, apperrors.ErrAccountNotLiquidatable)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		l := funded(t, g, 5, 5_000)
		before, target := *l, *victim
		_, err := l.Liquidate(g, victim, 0, obs)
		require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		require.Equal(t, before, *l)
		require.Equal(t, target, *victim)
	})

	t.Run("inactive slot", func(t *testing.T) {
		l := funded(t, g, 6, 20_000)
		_, err := l.Liquidate(g, victim, 1, obs)
		require.ErrorIs(t, err, apperrors.ErrNotActive)
	})

	t.Run("paused all", func(t *testing.T) {
		l := funded(t, g, 7, 20_000)
		gp := *g
		gp.Paused = true
		gp.PausePolicy = group.PauseAll
		_, err := l.Liquidate(&gp, victim, 0, obs)
		require.ErrorIs(t, err, apperrors.ErrGroupPaused)

		gp.PausePolicy = group.PauseExemptSolvency
		_, err = l.Liquidate(&gp, victim, 0, obs)
		require.NoError(t, err)
	})
}

func TestHandleBankruptcy(t *testing.T) {
	require := require.New(t)
	g, a, _ := liquidationSetup(t)
	liquidator := funded(t, g, 2, 20_000)
	g.Bank.InsuranceVaultBalance = fixed.FromInt64(1_000)

	// the venue was wiped out; nothing left to take over
	wiped := venue(0, observation.Observation{})

	_, err := liquidator.Liquidate(g, a, 0, wiped)
	require.ErrorIs(err, apperrors.ErrAccountNotLiquidatable)

	out, in, err := a.HandleBankruptcy(g, wiped)
	require.NoError(err)
	requireNative(t, 7_000, out.Shortfall)
	requireNative(t, 1_000, out.Covered)
	requireNative(t, 6_000, out.Socialized)

	require.True(a.DepositRecord.IsZero())
	require.True(a.BorrowRecord.IsZero())
	require.Equal(intent.OpHandleBankruptcy, in.Ops[0].Kind)
	require.Equal(uint64(7_000), in.Ops[0].Amount)
	require.Equal(uint64(1_000), in.Ops[1].Amount)

	// 6000 spread over the 120000 still deposited
	requireNative(t, 0, g.Bank.InsuranceVaultBalance)
	require.Equal("0.950000000000", g.Bank.DepositAccumulator.String())
	requireNative(t, 114_000, g.Bank.NativeDepositBalance)
	deposit, _ := balances(t, g, liquidator)
	requireNative(t, 19_000, deposit)

	_, _, err = a.HandleBankruptcy(g, wiped)
	require.ErrorIs(err, apperrors.ErrAccountNotBankrupt)
}

func TestNothingToWriteOff(t *testing.T) {
	require := require.New(t)
	g := newGroup()

	for _, a := range []*MarginAccount{newAccount(g, 1), funded(t, g, 2, 500)} {
		version := a.Version
		_, _, err := a.HandleBankruptcy(g, nil)
		require.ErrorIs(err, apperrors.ErrAccountNotBankrupt)
		require.Equal(version, a.Version)
	}
}

func TestBankruptcyNeedsValidData(t *testing.T) {
	g, a, _ := liquidationSetup(t)
	_, _, err := a.HandleBankruptcy(g, nil)
	require.ErrorIs(t, err, apperrors.ErrIndeterminate)
}

func TestCodec(t *testing.T) {
	require := require.New(t)
	_, a, _ := liquidationSetup(t)

	got, err := Decode(a.Address, a.Encode())
	require.NoError(err)
	require.Equal(a.Authority, got.Authority)
	require.Equal(a.Version, got.Version)
	require.Equal(a.ActiveUtps, got.ActiveUtps)
	require.Equal(a.UtpConfig, got.UtpConfig)
	require.True(a.BorrowRecord.Equal(got.BorrowRecord))

	raw := a.Encode()
	_, err = Decode(a.Address, raw[:len(raw)-1])
	require.ErrorIs(err, apperrors.ErrInvalidEncoding)
}
