// Package observation holds the normalized health snapshot each venue
// adapter produces for one UTP slot.
package observation

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

// MaxUtps is the number of venue slots per margin account
const MaxUtps = 32

// Observation is a point-in-time view of one venue account, in native units.
// Equity is signed: a venue account can be under water.
type Observation struct {
	TotalCollateral        uint64 `json:"totalCollateral"`
	FreeCollateral         uint64 `json:"freeCollateral"`
	MarginRequirementInit  uint64 `json:"marginRequirementInit"`
	MarginRequirementMaint uint64 `json:"marginRequirementMaint"`
	Equity                 int64  `json:"equity"`
	Valid                  bool   `json:"valid"`
}

// Recoverable reports whether a liquidator could still take something
// out of the venue account.
func (o Observation) Recoverable() bool {
	return o.TotalCollateral > 0 || o.FreeCollateral > 0
}

// Exposed reports any collateral or margin requirement left on the venue
func (o Observation) Exposed() bool {
	return o.Recoverable() || o.MarginRequirementInit > 0 || o.MarginRequirementMaint > 0
}

// Set holds one observation per slot; a slot never observed is invalid
type Set [MaxUtps]Observation

// CheckSlot validates a slot index
func CheckSlot(slot int) error {
	if slot < 0 || slot >= MaxUtps {
		return fmt.Errorf("slot %d: %w", slot, apperrors.ErrSlotOutOfRange)
	}
	return nil
}

// Put stores the observation for slot
func (s *Set) Put(slot int, o Observation) error {
	if err := CheckSlot(slot); err != nil {
		return err
	}
	s[slot] = o
	return nil
}
