// Package lend adapts a cross-margin lending venue as a UTP venue.
//
// The venue tracks collateral and borrows per control account and states
// margin fractions in basis points of the borrowed value.
package lend

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/layout"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const (
	RoleControl = "control"
	RoleState   = "state"

	controlRecord = "LendControl"
	stateRecord   = "LendState"

	bpsDenominator = 10_000

	// address book entries
	bookState = 0
	bookVault = 1
)

// Control is the venue's per-owner account
type Control struct {
	Authority  crypto.Pubkey
	Collateral uint64
	Borrowed   uint64 // value of open borrows, native units
	ImfBps     uint32 // initial margin fraction
	MmfBps     uint32 // maintenance margin fraction
}

func (c Control) Encode() []byte {
	w := layout.NewWriter(controlRecord)
	w.Pubkey(c.Authority)
	w.Uint64(c.Collateral)
	w.Uint64(c.Borrowed)
	w.Uint32(c.ImfBps)
	w.Uint32(c.MmfBps)
	return w.Bytes()
}

func decodeControl(raw []byte) (Control, error) {
	r := layout.NewReader(raw)
	r.Expect(controlRecord)
	c := Control{
		Authority:  r.Pubkey(),
		Collateral: r.Uint64(),
		Borrowed:   r.Uint64(),
		ImfBps:     r.Uint32(),
		MmfBps:     r.Uint32(),
	}
	if r.Err() != nil {
		return Control{}, r.Err()
	}
	if c.ImfBps > bpsDenominator || c.MmfBps > c.ImfBps {
		return Control{}, fmt.Errorf("margin fractions imf=%d mmf=%d bps", c.ImfBps, c.MmfBps)
	}
	return c, nil
}

// State is the venue-wide account; Stale is set while prices lag
type State struct {
	Stale bool
}

func (s State) Encode() []byte {
	w := layout.NewWriter(stateRecord)
	w.Bool(s.Stale)
	return w.Bytes()
}

func decodeState(raw []byte) (State, error) {
	r := layout.NewReader(raw)
	r.Expect(stateRecord)
	s := State{Stale: r.Bool()}
	return s, r.Err()
}

// Adapter implements utp.Adapter for the lending venue
type Adapter struct {
	program crypto.Pubkey
}

var _ utp.Adapter = (*Adapter)(nil)

func New(program crypto.Pubkey) *Adapter {
	return &Adapter{program: program}
}

func (a *Adapter) Kind() utp.Kind { return utp.KindLend }

func (a *Adapter) ProgramID() crypto.Pubkey { return a.program }

func (a *Adapter) Roles() []string { return []string{RoleControl, RoleState} }

func (a *Adapter) Accounts(cfg utp.SlotConfig) []crypto.Pubkey {
	return []crypto.Pubkey{cfg.Account, cfg.AddressBook[bookState]}
}

// Observe converts margin fractions into requirements.
// Formula:
//
//	equity   = collateral - borrowed
//	initReq  = borrowed × imf / 10000
//	maintReq = borrowed × mmf / 10000
func (a *Adapter) Observe(raw utp.RawAccounts) (observation.Observation, error) {
	craw, sraw := raw[RoleControl], raw[RoleState]
	if craw == nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleControl, utp.ErrMissingAccount)
	}
	if sraw == nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleState, utp.ErrMissingAccount)
	}
	ctl, err := decodeControl(craw)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleControl, err)
	}
	state, err := decodeState(sraw)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleState, err)
	}

	var c fixed.Calc
	borrowed := fixed.FromUint64(ctl.Borrowed)
	denom := fixed.FromInt64(bpsDenominator)
	f := utp.Figures{
		Collateral:   ctl.Collateral,
		Equity:       c.Sub(fixed.FromUint64(ctl.Collateral), borrowed),
		InitReq:      c.Div(c.Mul(borrowed, fixed.FromUint64(uint64(ctl.ImfBps))), denom),
		MaintReq:     c.Div(c.Mul(borrowed, fixed.FromUint64(uint64(ctl.MmfBps))), denom),
		Withdrawable: ctl.Collateral,
	}
	if c.Err() != nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleControl, c.Err())
	}
	o, err := utp.Normalize(f, !state.Stale)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("lend", RoleControl, err)
	}
	return o, nil
}

func (a *Adapter) Activate(slot utp.SlotState, cfg utp.SlotConfig) ([]intent.Op, error) {
	if err := utp.RequireInactive(slot); err != nil {
		return nil, err
	}
	authority, err := utp.CheckConfig(a, cfg)
	if err != nil {
		return nil, err
	}
	slot.Config = cfg
	return []intent.Op{
		utp.VenueOp(a, slot, "init_control", 0, cfg.Account, authority, cfg.AddressBook[bookState]),
	}, nil
}

func (a *Adapter) Deactivate(slot utp.SlotState) ([]intent.Op, error) {
	if err := utp.RequireActive(slot); err != nil {
		return nil, err
	}
	authority, err := utp.Authority(a.program, slot.Config)
	if err != nil {
		return nil, err
	}
	return []intent.Op{
		utp.VenueOp(a, slot, "close_control", 0, slot.Config.Account, authority),
	}, nil
}

func (a *Adapter) Deposit(slot utp.SlotState, amount uint64) ([]intent.Op, error) {
	if err := utp.RequireActive(slot); err != nil {
		return nil, err
	}
	if err := utp.RequireAmount(amount); err != nil {
		return nil, err
	}
	authority, err := utp.Authority(a.program, slot.Config)
	if err != nil {
		return nil, err
	}
	return []intent.Op{
		utp.VenueOp(a, slot, "deposit_collateral", amount, slot.Config.Account, authority, slot.Config.AddressBook[bookVault]),
	}, nil
}

func (a *Adapter) Withdraw(slot utp.SlotState, amount uint64) ([]intent.Op, error) {
	if err := utp.RequireActive(slot); err != nil {
		return nil, err
	}
	if err := utp.RequireAmount(amount); err != nil {
		return nil, err
	}
	authority, err := utp.Authority(a.program, slot.Config)
	if err != nil {
		return nil, err
	}
	book := slot.Config.AddressBook
	return []intent.Op{
		utp.VenueOp(a, slot, "withdraw_collateral", amount, slot.Config.Account, authority, book[bookVault], book[bookState]),
	}, nil
}
