// Package intent describes ledger mutations as ordered operation lists.
// The core never talks to the chain; it hands an Intent to a submitter.
package intent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

type OpKind uint8

const (
	OpDeposit OpKind = iota + 1
	OpWithdraw
	OpActivateUtp
	OpDeactivateUtp
	OpUtpDeposit
	OpUtpWithdraw
	OpVenueInstruction
	OpLiquidate
	OpInsuranceTransfer
	OpHandleBankruptcy
	OpAccrueInterest
	OpConfigureGroup
)

var opNames = map[OpKind]string{
	OpDeposit:           "deposit",
	OpWithdraw:          "withdraw",
	OpActivateUtp:       "activate_utp",
	OpDeactivateUtp:     "deactivate_utp",
	OpUtpDeposit:        "utp_deposit",
	OpUtpWithdraw:       "utp_withdraw",
	OpVenueInstruction:  "venue_instruction",
	OpLiquidate:         "liquidate",
	OpInsuranceTransfer: "insurance_transfer",
	OpHandleBankruptcy:  "handle_bankruptcy",
	OpAccrueInterest:    "accrue_interest",
	OpConfigureGroup:    "configure_group",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

func (k OpKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OpKind) UnmarshalText(b []byte) error {
	for kind, name := range opNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown op kind %q", b)
}

// NoSlot marks an op that does not address a UTP slot
const NoSlot = -1

// Op is one step of an intent. Venue instructions name the venue method and
// the accounts it touches; everything else is a margin program call.
type Op struct {
	Kind     OpKind          `json:"kind"`
	Account  crypto.Pubkey   `json:"account"`
	Slot     int             `json:"slot"`
	Amount   uint64          `json:"amount,omitempty"`
	Venue    string          `json:"venue,omitempty"`
	Method   string          `json:"method,omitempty"`
	Accounts []crypto.Pubkey `json:"accounts,omitempty"`
}

// Guard pins the account version an intent was built against. The ledger
// rejects the intent if the stored version moved on.
type Guard struct {
	Account crypto.Pubkey `json:"account"`
	Version uint64        `json:"version"`
}

type Intent struct {
	ID     uuid.UUID `json:"id"`
	Guards []Guard   `json:"guards"`
	Ops    []Op      `json:"ops"`
}

// New builds an intent with a fresh id
func New(guards []Guard, ops ...Op) Intent {
	return Intent{ID: uuid.New(), Guards: guards, Ops: ops}
}

// IdempotencyKey is stable for the same guarded versions and op sequence,
// so resubmitting an identical intent is detectable.
func (in Intent) IdempotencyKey() string {
	var b strings.Builder
	for i, g := range in.Guards {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%s@%d", g.Account, g.Version)
	}
	for _, op := range in.Ops {
		fmt.Fprintf(&b, "/%s:%d:%d", op.Kind, op.Slot, op.Amount)
	}
	return b.String()
}

// Kind names the leading margin program operation, for logs and metrics
func (in Intent) Kind() string {
	if len(in.Ops) == 0 {
		return "empty"
	}
	return in.Ops[0].Kind.String()
}
