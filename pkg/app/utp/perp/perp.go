// Package perp adapts a perpetual futures DEX as a UTP venue.
//
// The venue keeps one margin account per owner with its own health figures
// and a shared cache account whose oracle prices are valid until a slot.
package perp

import (
	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/layout"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const (
	RoleMargin = "margin"
	RoleCache  = "cache"

	marginRecord = "PerpMarginAccount"
	cacheRecord  = "PerpCache"

	// address book entries
	bookCache = 0
	bookVault = 1
)

// MarginAccount is the venue's per-owner record. Health figures are
// equity minus the weighted requirement, as computed by the venue at
// LastSlot.
type MarginAccount struct {
	Owner           crypto.Pubkey
	Deposit         uint64
	UnrealizedPnl   int64
	InitHealth      int64
	MaintHealth     int64
	LastSlot        uint64
	BeingLiquidated bool
}

func (m MarginAccount) Encode() []byte {
	w := layout.NewWriter(marginRecord)
	w.Pubkey(m.Owner)
	w.Uint64(m.Deposit)
	w.Int64(m.UnrealizedPnl)
	w.Int64(m.InitHealth)
	w.Int64(m.MaintHealth)
	w.Uint64(m.LastSlot)
	w.Bool(m.BeingLiquidated)
	return w.Bytes()
}

func decodeMargin(raw []byte) (MarginAccount, error) {
	r := layout.NewReader(raw)
	r.Expect(marginRecord)
	m := MarginAccount{
		Owner:           r.Pubkey(),
		Deposit:         r.Uint64(),
		UnrealizedPnl:   r.Int64(),
		InitHealth:      r.Int64(),
		MaintHealth:     r.Int64(),
		LastSlot:        r.Uint64(),
		BeingLiquidated: r.Bool(),
	}
	return m, r.Err()
}

// Cache holds the venue's oracle snapshot
type Cache struct {
	ValidUntil uint64
}

func (c Cache) Encode() []byte {
	w := layout.NewWriter(cacheRecord)
	w.Uint64(c.ValidUntil)
	return w.Bytes()
}

func decodeCache(raw []byte) (Cache, error) {
	r := layout.NewReader(raw)
	r.Expect(cacheRecord)
	c := Cache{ValidUntil: r.Uint64()}
	return c, r.Err()
}

// Adapter implements utp.Adapter for the perp venue
type Adapter struct {
	program crypto.Pubkey
}

var _ utp.Adapter = (*Adapter)(nil)

func New(program crypto.Pubkey) *Adapter {
	return &Adapter{program: program}
}

func (a *Adapter) Kind() utp.Kind { return utp.KindPerp }

func (a *Adapter) ProgramID() crypto.Pubkey { return a.program }

func (a *Adapter) Roles() []string { return []string{RoleMargin, RoleCache} }

func (a *Adapter) Accounts(cfg utp.SlotConfig) []crypto.Pubkey {
	return []crypto.Pubkey{cfg.Account, cfg.AddressBook[bookCache]}
}

// Observe derives the observation from venue health.
// Formula:
//
//	equity   = deposit + unrealizedPnl
//	initReq  = equity - initHealth
//	maintReq = equity - maintHealth
//	free     = min(max(initHealth, 0), deposit)
func (a *Adapter) Observe(raw utp.RawAccounts) (observation.Observation, error) {
	mraw, craw := raw[RoleMargin], raw[RoleCache]
	if mraw == nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleMargin, utp.ErrMissingAccount)
	}
	if craw == nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleCache, utp.ErrMissingAccount)
	}
	m, err := decodeMargin(mraw)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleMargin, err)
	}
	cache, err := decodeCache(craw)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleCache, err)
	}

	var c fixed.Calc
	equity := c.Add(fixed.FromUint64(m.Deposit), fixed.FromInt64(m.UnrealizedPnl))
	f := utp.Figures{
		Collateral:   m.Deposit,
		Equity:       equity,
		InitReq:      c.Sub(equity, fixed.FromInt64(m.InitHealth)),
		MaintReq:     c.Sub(equity, fixed.FromInt64(m.MaintHealth)),
		Withdrawable: m.Deposit,
	}
	if c.Err() != nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleMargin, c.Err())
	}
	valid := !m.BeingLiquidated && m.LastSlot <= cache.ValidUntil
	o, err := utp.Normalize(f, valid)
	if err != nil {
		return observation.Observation{}, utp.DecodeError("perp", RoleMargin, err)
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
		utp.VenueOp(a, slot, "create_margin_account", 0, cfg.Account, authority, cfg.AddressBook[bookCache]),
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
		utp.VenueOp(a, slot, "close_margin_account", 0, slot.Config.Account, authority),
	}, nil
}

func (a *Adapter) Deposit(slot utp.SlotState, amount uint64) ([]intent.Op, error) {
	return a.transfer(slot, "deposit", amount)
}

func (a *Adapter) Withdraw(slot utp.SlotState, amount uint64) ([]intent.Op, error) {
	return a.transfer(slot, "withdraw", amount)
}

func (a *Adapter) transfer(slot utp.SlotState, method string, amount uint64) ([]intent.Op, error) {
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
		// the venue re-checks health against the fresh cache before moving funds
		utp.VenueOp(a, slot, "refresh_cache", 0, book[bookCache]),
		utp.VenueOp(a, slot, method, amount, slot.Config.Account, authority, book[bookVault]),
	}, nil
}
