// Package group holds the margin group: the shared bank, risk parameters
// and the admin pause switch every margin account in the group obeys.
package group

import (
	"fmt"
	"strings"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// PausePolicy decides what a paused group still allows
type PausePolicy uint8

const (
	// PauseExemptSolvency blocks user operations but keeps liquidation and
	// bankruptcy handling running
	PauseExemptSolvency PausePolicy = iota
	// PauseAll blocks every mutating operation
	PauseAll
)

func (p PausePolicy) String() string {
	switch p {
	case PauseExemptSolvency:
		return "exempt_solvency"
	case PauseAll:
		return "all"
	default:
		return fmt.Sprintf("pause_policy(%d)", uint8(p))
	}
}

// ParsePausePolicy accepts the names printed by String
func ParsePausePolicy(s string) (PausePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exempt_solvency":
		return PauseExemptSolvency, nil
	case "all":
		return PauseAll, nil
	default:
		return 0, fmt.Errorf("pause policy %q: %w", s, apperrors.ErrInvalidConfig)
	}
}

func (p PausePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PausePolicy) UnmarshalText(b []byte) error {
	v, err := ParsePausePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Action classifies operations for the pause check
type Action uint8

const (
	// ActionUser covers deposits, withdrawals and every UTP operation
	ActionUser Action = iota
	// ActionSolvency covers liquidation and bankruptcy handling
	ActionSolvency
)

// MarginGroup is the shared configuration of a set of margin accounts
type MarginGroup struct {
	Address     crypto.Pubkey
	Admin       crypto.Pubkey
	Bank        Bank
	Paused      bool
	PausePolicy PausePolicy
	Version     uint64
}

// New creates a group with default bank parameters
func New(address, admin, mint crypto.Pubkey, now int64) *MarginGroup {
	return &MarginGroup{
		Address: address,
		Admin:   admin,
		Bank:    DefaultBank(mint, now),
	}
}

// Allow returns ErrGroupPaused when the pause policy blocks the action
func (g *MarginGroup) Allow(a Action) error {
	if !g.Paused {
		return nil
	}
	if a == ActionSolvency && g.PausePolicy == PauseExemptSolvency {
		return nil
	}
	return apperrors.ErrGroupPaused
}

// Config is a partial update of the group's parameters; nil fields are kept
type Config struct {
	ScalingFactorC      *fixed.Decimal `yaml:"scaling_factor_c" json:"scalingFactorC,omitempty"`
	FixedFee            *fixed.Decimal `yaml:"fixed_fee" json:"fixedFee,omitempty"`
	InterestFee         *fixed.Decimal `yaml:"interest_fee" json:"interestFee,omitempty"`
	InitMarginRatio     *fixed.Decimal `yaml:"init_margin_ratio" json:"initMarginRatio,omitempty"`
	MaintMarginRatio    *fixed.Decimal `yaml:"maint_margin_ratio" json:"maintMarginRatio,omitempty"`
	AccountDepositLimit *uint64        `yaml:"account_deposit_limit" json:"accountDepositLimit,omitempty"`
	LiquidatorFee       *fixed.Decimal `yaml:"liquidator_fee" json:"liquidatorFee,omitempty"`
	InsuranceFee        *fixed.Decimal `yaml:"insurance_fee" json:"insuranceFee,omitempty"`
	Paused              *bool          `yaml:"paused" json:"paused,omitempty"`
	PausePolicy         *PausePolicy   `yaml:"pause_policy" json:"pausePolicy,omitempty"`
}

// Configure applies an admin update. The group is left untouched unless
// the merged parameters pass validation.
func (g *MarginGroup) Configure(signer crypto.Pubkey, cfg Config) (intent.Intent, error) {
	if signer != g.Admin {
		return intent.Intent{}, fmt.Errorf("signer %s: %w", signer, apperrors.ErrUnauthorized)
	}

	bank := g.Bank
	set := func(dst *fixed.Decimal, src *fixed.Decimal) {
		if src != nil {
			*dst = *src
		}
	}
	set(&bank.ScalingFactorC, cfg.ScalingFactorC)
	set(&bank.FixedFee, cfg.FixedFee)
	set(&bank.InterestFee, cfg.InterestFee)
	set(&bank.InitMarginRatio, cfg.InitMarginRatio)
	set(&bank.MaintMarginRatio, cfg.MaintMarginRatio)
	set(&bank.LiquidatorFee, cfg.LiquidatorFee)
	set(&bank.InsuranceFee, cfg.InsuranceFee)
	if cfg.AccountDepositLimit != nil {
		bank.AccountDepositLimit = *cfg.AccountDepositLimit
	}
	if err := bank.validate(); err != nil {
		return intent.Intent{}, err
	}

	guard := intent.Guard{Account: g.Address, Version: g.Version}
	g.Bank = bank
	if cfg.Paused != nil {
		g.Paused = *cfg.Paused
	}
	if cfg.PausePolicy != nil {
		g.PausePolicy = *cfg.PausePolicy
	}
	g.Version++
	return intent.New([]intent.Guard{guard}, intent.Op{
		Kind:    intent.OpConfigureGroup,
		Account: g.Address,
		Slot:    intent.NoSlot,
	}), nil
}

// SetPaused is Configure with only the pause switch
func (g *MarginGroup) SetPaused(signer crypto.Pubkey, paused bool) (intent.Intent, error) {
	return g.Configure(signer, Config{Paused: &paused})
}

// AccrueInterest is the permissionless crank call that moves the bank's
// accumulators to now.
func (g *MarginGroup) AccrueInterest(now int64) (intent.Intent, error) {
	guard := intent.Guard{Account: g.Address, Version: g.Version}
	if err := g.Bank.Accrue(now); err != nil {
		return intent.Intent{}, err
	}
	g.Version++
	return intent.New([]intent.Guard{guard}, intent.Op{
		Kind:    intent.OpAccrueInterest,
		Account: g.Address,
		Slot:    intent.NoSlot,
	}), nil
}

func (b *Bank) validate() error {
	zero := fixed.Zero
	unit := fixed.FromInt64(1)
	inUnit := func(name string, v fixed.Decimal) error {
		if v.IsNegative() || !v.LessThan(unit) {
			return fmt.Errorf("%s = %s, want [0, 1): %w", name, v, apperrors.ErrInvalidConfig)
		}
		return nil
	}

	if b.ScalingFactorC.IsNegative() {
		return fmt.Errorf("scaling factor %s is negative: %w", b.ScalingFactorC, apperrors.ErrInvalidConfig)
	}
	for _, f := range []struct {
		name string
		v    fixed.Decimal
	}{
		{"fixed_fee", b.FixedFee},
		{"interest_fee", b.InterestFee},
		{"liquidator_fee", b.LiquidatorFee},
		{"insurance_fee", b.InsuranceFee},
	} {
		if err := inUnit(f.name, f.v); err != nil {
			return err
		}
	}
	// 0 < maint <= init <= 1
	if !b.MaintMarginRatio.GreaterThan(zero) || b.MaintMarginRatio.GreaterThan(b.InitMarginRatio) || b.InitMarginRatio.GreaterThan(unit) {
		return fmt.Errorf("margin ratios init=%s maint=%s: %w", b.InitMarginRatio, b.MaintMarginRatio, apperrors.ErrInvalidConfig)
	}
	discount, err := b.LiquidatorFee.Add(b.InsuranceFee)
	if err != nil {
		return err
	}
	if !discount.LessThan(unit) {
		return fmt.Errorf("liquidation discount %s: %w", discount, apperrors.ErrInvalidConfig)
	}
	return nil
}
