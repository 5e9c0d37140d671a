package lend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

func TestObserve(t *testing.T) {
	tests := []struct {
		name      string
		ctl       Control
		stale     bool
		wantEq    int64
		wantInit  uint64
		wantMaint uint64
		wantFree  uint64
		wantValid bool
	}{
		{
			name:      "no borrows",
			ctl:       Control{Collateral: 50_000, ImfBps: 2_000, MmfBps: 1_000},
			wantEq:    50_000,
			wantFree:  50_000,
			wantValid: true,
		},
		{
			name:      "levered",
			ctl:       Control{Collateral: 50_000, Borrowed: 30_000, ImfBps: 2_000, MmfBps: 1_000},
			wantEq:    20_000,
			wantInit:  6_000,
			wantMaint: 3_000,
			wantFree:  14_000,
			wantValid: true,
		},
		{
			name:      "truncates fractions",
			ctl:       Control{Collateral: 10, Borrowed: 7, ImfBps: 1_500, MmfBps: 1_499},
			wantEq:    3,
			wantInit:  1,
			wantMaint: 1,
			wantFree:  2,
			wantValid: true,
		},
		{
			name:      "under water",
			ctl:       Control{Collateral: 1_000, Borrowed: 4_000, ImfBps: 5_000, MmfBps: 2_500},
			wantEq:    -3_000,
			wantInit:  2_000,
			wantMaint: 1_000,
			wantValid: true,
		},
		{
			name:     "stale prices",
			ctl:      Control{Collateral: 1_000},
			stale:    true,
			wantEq:   1_000,
			wantFree: 1_000,
		},
	}
	a := New(crypto.Pubkey{0xB2})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			o, err := a.Observe(utp.RawAccounts{
				RoleControl: tt.ctl.Encode(),
				RoleState:   State{Stale: tt.stale}.Encode(),
			})
			require.NoError(err)
			require.Equal(tt.wantEq, o.Equity)
			require.Equal(tt.ctl.Collateral, o.TotalCollateral)
			require.Equal(tt.wantInit, o.MarginRequirementInit)
			require.Equal(tt.wantMaint, o.MarginRequirementMaint)
			require.Equal(tt.wantFree, o.FreeCollateral)
			require.Equal(tt.wantValid, o.Valid)
		})
	}
}

func TestObserveRejectsBadFractions(t *testing.T) {
	a := New(crypto.Pubkey{0xB2})
	_, err := a.Observe(utp.RawAccounts{
		RoleControl: Control{Collateral: 1, ImfBps: 1_000, MmfBps: 2_000}.Encode(),
		RoleState:   State{}.Encode(),
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidVenueData)

	_, err = a.Observe(utp.RawAccounts{RoleControl: Control{}.Encode()})
	require.ErrorIs(t, err, apperrors.ErrInvalidVenueData)
}

func TestActivateTwice(t *testing.T) {
	require := require.New(t)

	program := crypto.Pubkey{0xB2}
	a := New(program)
	seed := crypto.Pubkey{0x77}
	_, bump, err := utp.DeriveAuthority(program, seed)
	require.NoError(err)
	cfg := utp.SlotConfig{Kind: utp.KindLend, Account: crypto.Pubkey{0x10}, AuthoritySeed: seed, AuthorityBump: bump}

	_, err = a.Activate(utp.SlotState{Index: 31}, cfg)
	require.NoError(err)
	_, err = a.Activate(utp.SlotState{Index: 31, Active: true, Config: cfg}, cfg)
	require.ErrorIs(err, apperrors.ErrAlreadyActive)
	require.ErrorIs(err, apperrors.ErrState)

	_, err = a.Activate(utp.SlotState{Index: 32}, cfg)
	require.ErrorIs(err, apperrors.ErrSlotOutOfRange)

	ops, err := a.Withdraw(utp.SlotState{Index: 31, Active: true, Config: cfg}, 9)
	require.NoError(err)
	require.Equal("withdraw_collateral", ops[0].Method)
}
