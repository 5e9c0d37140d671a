package observation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

func TestPutChecksSlot(t *testing.T) {
	require := require.New(t)

	var s Set
	require.NoError(s.Put(MaxUtps-1, Observation{TotalCollateral: 7, Valid: true}))
	require.Equal(uint64(7), s[MaxUtps-1].TotalCollateral)
	require.False(s[0].Valid)

	require.ErrorIs(s.Put(MaxUtps, Observation{}), apperrors.ErrSlotOutOfRange)
	require.ErrorIs(s.Put(-1, Observation{}), apperrors.ErrValidation)
}

func TestExposure(t *testing.T) {
	tests := []struct {
		name        string
		obs         Observation
		recoverable bool
		exposed     bool
	}{
		{"empty", Observation{Equity: -5}, false, false},
		{"collateral", Observation{TotalCollateral: 1}, true, true},
		{"free only", Observation{FreeCollateral: 1}, true, true},
		{"requirement only", Observation{MarginRequirementMaint: 3}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.recoverable, tt.obs.Recoverable())
			require.Equal(t, tt.exposed, tt.obs.Exposed())
		})
	}
}
