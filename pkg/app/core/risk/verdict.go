package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

// Status is the solvency state of an account at one evaluation
type Status uint8

const (
	Healthy Status = iota
	RebalanceNeeded
	Liquidatable
	Bankrupt
	Indeterminate
)

var statusNames = [...]string{
	Healthy:         "healthy",
	RebalanceNeeded: "rebalance_needed",
	Liquidatable:    "liquidatable",
	Bankrupt:        "bankrupt",
	Indeterminate:   "indeterminate",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Verdict is the result of one evaluation. Figures are zero when the
// status is Indeterminate.
type Verdict struct {
	Status           Status        `json:"status"`
	Equity           fixed.Decimal `json:"equity"`
	InitRequirement  fixed.Decimal `json:"initRequirement"`
	MaintRequirement fixed.Decimal `json:"maintRequirement"`
	FreeCollateral   fixed.Decimal `json:"freeCollateral"`
	RebalanceSlots   []int         `json:"rebalanceSlots,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

// Evaluate classifies the account. Precedence:
// Indeterminate > Bankrupt > Liquidatable > RebalanceNeeded > Healthy.
// Missing venue data yields an Indeterminate verdict, never an error; only
// arithmetic failures are returned as errors.
func Evaluate(l Ledger, g *group.MarginGroup, obs *observation.Set) (Verdict, error) {
	v, err := evaluate(l, g, obs)
	if errors.Is(err, apperrors.ErrVenueData) {
		return Verdict{Status: Indeterminate, Reason: err.Error()}, nil
	}
	return v, err
}

func evaluate(l Ledger, g *group.MarginGroup, obs *observation.Set) (Verdict, error) {
	var v Verdict
	var err error
	if v.Equity, err = ComputeEquity(l, g, obs); err != nil {
		return Verdict{}, err
	}
	if v.InitRequirement, err = ComputeMarginRequirement(l, g, obs, Init); err != nil {
		return Verdict{}, err
	}
	if v.MaintRequirement, err = ComputeMarginRequirement(l, g, obs, Maint); err != nil {
		return Verdict{}, err
	}
	if v.FreeCollateral, err = FreeCollateral(l, g, obs); err != nil {
		return Verdict{}, err
	}

	bankrupt, err := IsBankrupt(l, g, obs)
	if err != nil {
		return Verdict{}, err
	}
	if bankrupt {
		v.Status = Bankrupt
		return v, nil
	}
	liquidatable, err := CanBeLiquidated(l, g, obs)
	if err != nil {
		return Verdict{}, err
	}
	if liquidatable {
		v.Status = Liquidatable
		return v, nil
	}

	for slot := 0; slot < observation.MaxUtps; slot++ {
		if !l.IsActive(slot) {
			continue
		}
		if VenueShortfall(obs[slot]) == 0 {
			continue
		}
		bound, err := MaxRebalanceDepositAmount(l, g, obs, slot)
		if err != nil {
			return Verdict{}, err
		}
		if bound > 0 {
			v.RebalanceSlots = append(v.RebalanceSlots, slot)
		}
	}
	if len(v.RebalanceSlots) > 0 {
		v.Status = RebalanceNeeded
	}
	return v, nil
}

// VenueShortfall is how far a venue's equity sits below its initial
// requirement, zero when it is covered
func VenueShortfall(o observation.Observation) uint64 {
	if o.Equity < 0 {
		// -(e+1)+1 keeps math.MinInt64 in range
		loss := uint64(-(o.Equity + 1)) + 1
		if o.MarginRequirementInit > math.MaxUint64-loss {
			return math.MaxUint64
		}
		return o.MarginRequirementInit + loss
	}
	if uint64(o.Equity) >= o.MarginRequirementInit {
		return 0
	}
	return o.MarginRequirementInit - uint64(o.Equity)
}
