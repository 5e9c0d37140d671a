package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

func testKeys() (addr, admin, mint crypto.Pubkey) {
	addr[0], admin[0], mint[0] = 1, 2, 3
	return
}

func newTestGroup() *MarginGroup {
	addr, admin, mint := testKeys()
	return New(addr, admin, mint, 1_700_000_000)
}

func TestPausePolicy(t *testing.T) {
	tests := []struct {
		name    string
		paused  bool
		policy  PausePolicy
		userErr bool
		solvErr bool
	}{
		{"running", false, PauseExemptSolvency, false, false},
		{"paused exempt", true, PauseExemptSolvency, true, false},
		{"paused all", true, PauseAll, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGroup()
			g.Paused = tt.paused
			g.PausePolicy = tt.policy

			err := g.Allow(ActionUser)
			if tt.userErr {
				require.ErrorIs(t, err, apperrors.ErrGroupPaused)
			} else {
				require.NoError(t, err)
			}
			err = g.Allow(ActionSolvency)
			if tt.solvErr {
				require.ErrorIs(t, err, apperrors.ErrGroupPaused)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigure(t *testing.T) {
	require := require.New(t)

	g := newTestGroup()
	_, _, mint := testKeys()

	_, err := g.SetPaused(mint, true)
	require.ErrorIs(err, apperrors.ErrUnauthorized)
	require.False(g.Paused)

	in, err := g.SetPaused(g.Admin, true)
	require.NoError(err)
	require.True(g.Paused)
	require.Equal(uint64(1), g.Version)
	require.Equal(uint64(0), in.Guards[0].Version)

	bad := dec("0.5")
	before := g.Bank
	_, err = g.Configure(g.Admin, Config{MaintMarginRatio: &bad}) // above init 0.15
	require.ErrorIs(err, apperrors.ErrInvalidConfig)
	require.Equal(before, g.Bank)

	limit := uint64(5_000)
	initRatio := dec("0.6")
	_, err = g.Configure(g.Admin, Config{MaintMarginRatio: &bad, InitMarginRatio: &initRatio, AccountDepositLimit: &limit})
	require.NoError(err)
	require.Equal(uint64(5_000), g.Bank.AccountDepositLimit)
	require.True(g.Bank.MaintMarginRatio.Equal(bad))
}

func TestInterestRates(t *testing.T) {
	require := require.New(t)

	b := DefaultBank(crypto.Pubkey{}, 0)
	r, err := b.InterestRates()
	require.NoError(err)
	require.True(r.Deposit.IsZero())
	require.Equal("0.010000000000", r.Borrow.String()) // fixed fee only

	b.NativeDepositBalance = dec("1000")
	b.NativeBorrowBalance = dec("500")
	r, err = b.InterestRates()
	require.NoError(err)
	// u = 0.5, base = 0.2
	require.Equal("0.230000000000", r.Borrow.String())
	require.Equal("0.100000000000", r.Deposit.String())
	require.Equal("0.030000000000", r.Fee.String())
}

func TestAccrue(t *testing.T) {
	require := require.New(t)

	b := DefaultBank(crypto.Pubkey{}, 0)
	b.NativeDepositBalance = dec("1000000")
	b.NativeBorrowBalance = dec("500000")

	require.NoError(b.Accrue(SecondsPerYear))
	require.Equal("1.230000000000", b.BorrowAccumulator.String())
	require.Equal("1.100000000000", b.DepositAccumulator.String())
	require.Equal("615000.000000000000", b.NativeBorrowBalance.String())
	require.Equal("1100000.000000000000", b.NativeDepositBalance.String())
	require.Equal("15000.000000000000", b.FeeVaultOutstanding.String())
	require.Equal(int64(SecondsPerYear), b.LastUpdate)

	// interest paid by borrowers = deposit interest + fees
	paid, err := b.NativeBorrowBalance.Sub(dec("500000"))
	require.NoError(err)
	earned, err := b.NativeDepositBalance.Sub(dec("1000000"))
	require.NoError(err)
	total, err := earned.Add(b.FeeVaultOutstanding)
	require.NoError(err)
	require.True(paid.Equal(total))

	// accumulators never move backwards
	prev := b.BorrowAccumulator
	require.NoError(b.Accrue(SecondsPerYear + 60))
	require.False(b.BorrowAccumulator.LessThan(prev))

	err = b.Accrue(10)
	require.ErrorIs(err, apperrors.ErrClockSkew)
}

func TestRecordConversion(t *testing.T) {
	require := require.New(t)

	b := DefaultBank(crypto.Pubkey{}, 0)
	b.DepositAccumulator = dec("1.25")

	rec, err := b.DepositRecord(fixed.FromInt64(100))
	require.NoError(err)
	require.Equal("80.000000000000", rec.String())

	native, err := b.NativeDeposit(rec)
	require.NoError(err)
	require.True(native.Equal(fixed.FromInt64(100)))
}

func TestGroupCodec(t *testing.T) {
	require := require.New(t)

	g := newTestGroup()
	g.Paused = true
	g.PausePolicy = PauseAll
	g.Version = 9
	g.Bank.InsuranceVaultBalance = dec("12.5")

	back, err := Decode(g.Address, g.Encode())
	require.NoError(err)
	require.Equal(g.Admin, back.Admin)
	require.Equal(PauseAll, back.PausePolicy)
	require.Equal(uint64(9), back.Version)
	require.True(back.Bank.InsuranceVaultBalance.Equal(g.Bank.InsuranceVaultBalance))
	require.True(back.Bank.InitMarginRatio.Equal(g.Bank.InitMarginRatio))

	_, err = Decode(g.Address, g.Encode()[:40])
	require.ErrorIs(err, apperrors.ErrInvalidEncoding)
}
