package utp

import (
	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
)

// Figures are a venue's account health in native units before clamping
type Figures struct {
	Collateral   uint64
	Equity       fixed.Decimal
	InitReq      fixed.Decimal
	MaintReq     fixed.Decimal
	Withdrawable uint64 // venue-side cap on free collateral
}

// Normalize turns venue figures into an observation. Requirements below
// zero clamp to zero; free collateral is equity above the initial
// requirement, capped by what the venue lets the owner withdraw.
func Normalize(f Figures, valid bool) (observation.Observation, error) {
	var c fixed.Calc
	initReq := fixed.Max(f.InitReq, fixed.Zero)
	maintReq := fixed.Max(f.MaintReq, fixed.Zero)
	free := fixed.Min(fixed.Max(c.Sub(f.Equity, initReq), fixed.Zero), fixed.FromUint64(f.Withdrawable))

	o := observation.Observation{
		TotalCollateral:        f.Collateral,
		FreeCollateral:         c.Uint64(free),
		MarginRequirementInit:  c.Uint64(initReq),
		MarginRequirementMaint: c.Uint64(maintReq),
		Equity:                 c.Int64(f.Equity),
		Valid:                  valid,
	}
	if err := c.Err(); err != nil {
		return observation.Observation{}, err
	}
	return o, nil
}
