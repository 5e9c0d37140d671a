// Package utp defines the contract between a margin account and the
// external trading venues ("universal trading protocols") it delegates
// collateral to. The set of venues is closed: see Kind.
package utp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// Kind identifies a supported venue
type Kind uint8

const (
	KindNone Kind = iota
	KindPerp
	KindLend
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPerp:
		return "perp"
	case KindLend:
		return "lend"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names printed by String, except "none"
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "perp":
		return KindPerp, nil
	case "lend":
		return KindLend, nil
	default:
		return KindNone, fmt.Errorf("venue %q: %w", s, apperrors.ErrUnknownVenue)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// AddressBookLen is the number of venue-side accounts a slot remembers
const AddressBookLen = 4

// SlotConfig is what a margin account stores per active slot. The venue
// account is owned by a derived authority seeded with AuthoritySeed only,
// so the whole config can move to a liquidator.
type SlotConfig struct {
	Kind          Kind                          `json:"kind"`
	Account       crypto.Pubkey                 `json:"account"`
	AuthoritySeed crypto.Pubkey                 `json:"authoritySeed"`
	AuthorityBump uint8                         `json:"authorityBump"`
	AddressBook   [AddressBookLen]crypto.Pubkey `json:"addressBook"`
}

// SlotState is a read-only view of one slot handed to an adapter
type SlotState struct {
	Index  int
	Active bool
	Config SlotConfig
}

// RawAccounts maps an adapter's role names to fetched account bytes.
// A missing role or nil bytes means the account does not exist.
type RawAccounts map[string][]byte

// Adapter translates one venue's account layouts and instructions
type Adapter interface {
	Kind() Kind
	ProgramID() crypto.Pubkey

	// Roles names the venue accounts needed to observe a slot; Accounts
	// returns their addresses in the same order.
	Roles() []string
	Accounts(cfg SlotConfig) []crypto.Pubkey

	// Observe decodes fetched bytes. Missing or malformed accounts fail with
	// ErrInvalidVenueData; a venue that flags itself stale or mid
	// liquidation yields Valid=false without error.
	Observe(raw RawAccounts) (observation.Observation, error)

	Activate(slot SlotState, cfg SlotConfig) ([]intent.Op, error)
	Deactivate(slot SlotState) ([]intent.Op, error)
	Deposit(slot SlotState, amount uint64) ([]intent.Op, error)
	Withdraw(slot SlotState, amount uint64) ([]intent.Op, error)
}

// AuthoritySeedPrefix is the first seed of every slot authority address
const AuthoritySeedPrefix = "utp_authority"

// DeriveAuthority finds the address that signs for a slot's venue account
func DeriveAuthority(program, seed crypto.Pubkey) (crypto.Pubkey, uint8, error) {
	return crypto.FindProgramAddress([][]byte{[]byte(AuthoritySeedPrefix), seed[:]}, program)
}

// Authority rebuilds a slot's authority address from its stored bump
func Authority(program crypto.Pubkey, cfg SlotConfig) (crypto.Pubkey, error) {
	return crypto.CreateProgramAddress([][]byte{[]byte(AuthoritySeedPrefix), cfg.AuthoritySeed[:], {cfg.AuthorityBump}}, program)
}

// RequireInactive guards Activate
func RequireInactive(slot SlotState) error {
	if err := observation.CheckSlot(slot.Index); err != nil {
		return err
	}
	if slot.Active {
		return fmt.Errorf("slot %d: %w", slot.Index, apperrors.ErrAlreadyActive)
	}
	return nil
}

// RequireActive guards every operation on a live slot
func RequireActive(slot SlotState) error {
	if err := observation.CheckSlot(slot.Index); err != nil {
		return err
	}
	if !slot.Active {
		return fmt.Errorf("slot %d: %w", slot.Index, apperrors.ErrNotActive)
	}
	return nil
}

// RequireAmount rejects zero transfers
func RequireAmount(amount uint64) error {
	if amount == 0 {
		return apperrors.ErrInvalidAmount
	}
	return nil
}

// CheckConfig validates a config about to be activated on adapter a: the
// kind must match and the stored bump must derive the authority.
func CheckConfig(a Adapter, cfg SlotConfig) (crypto.Pubkey, error) {
	if cfg.Kind != a.Kind() {
		return crypto.Pubkey{}, fmt.Errorf("config kind %s on %s adapter: %w", cfg.Kind, a.Kind(), apperrors.ErrVenueMismatch)
	}
	if cfg.Account.IsZero() {
		return crypto.Pubkey{}, fmt.Errorf("empty venue account: %w", apperrors.ErrInvalidAddress)
	}
	authority, bump, err := DeriveAuthority(a.ProgramID(), cfg.AuthoritySeed)
	if err != nil {
		return crypto.Pubkey{}, err
	}
	if bump != cfg.AuthorityBump {
		return crypto.Pubkey{}, fmt.Errorf("authority bump %d, derived %d: %w", cfg.AuthorityBump, bump, apperrors.ErrVenueMismatch)
	}
	return authority, nil
}

// VenueOp builds a venue instruction op for slot
func VenueOp(a Adapter, slot SlotState, method string, amount uint64, accounts ...crypto.Pubkey) intent.Op {
	return intent.Op{
		Kind:     intent.OpVenueInstruction,
		Slot:     slot.Index,
		Amount:   amount,
		Venue:    a.Kind().String(),
		Method:   method,
		Accounts: accounts,
	}
}

// Registry resolves a Kind to its adapter
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry registers each adapter under its own kind
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		k := a.Kind()
		if k != KindPerp && k != KindLend {
			return nil, fmt.Errorf("register %s: %w", k, apperrors.ErrUnknownVenue)
		}
		if _, dup := r.adapters[k]; dup {
			return nil, fmt.Errorf("register %s twice: %w", k, apperrors.ErrInvalidConfig)
		}
		r.adapters[k] = a
	}
	return r, nil
}

// Get returns the adapter for k
func (r *Registry) Get(k Kind) (Adapter, error) {
	a, ok := r.adapters[k]
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", k, apperrors.ErrUnknownVenue)
	}
	return a, nil
}

// ErrMissingAccount reports a venue account the fetcher did not find
var ErrMissingAccount = errors.New("account does not exist")

// DecodeError wraps a layout failure as venue data error
func DecodeError(venue, role string, err error) error {
	return fmt.Errorf("%s %s account: %v: %w", venue, role, err, apperrors.ErrInvalidVenueData)
}
