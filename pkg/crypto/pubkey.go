package crypto

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

// PubkeyLen is the size of an ed25519 public key / account address
const PubkeyLen = 32

// Pubkey is a 32-byte account address, rendered as base58 text
type Pubkey [PubkeyLen]byte

// ParsePubkey decodes a base58 address string
func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("pubkey %q: %v: %w", s, err, apperrors.ErrInvalidAddress)
	}
	if len(raw) != PubkeyLen {
		return Pubkey{}, fmt.Errorf("pubkey %q decodes to %d bytes: %w", s, len(raw), apperrors.ErrInvalidAddress)
	}
	var p Pubkey
	copy(p[:], raw)
	return p, nil
}

// MustPubkey is ParsePubkey for constants and tests
func MustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Short returns the first 8 characters of the base58 form, for log lines
func (p Pubkey) Short() string {
	s := p.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(b []byte) error {
	v, err := ParsePubkey(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
