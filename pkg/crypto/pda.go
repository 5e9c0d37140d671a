package crypto

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
)

const (
	MaxSeeds   = 16
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

// CreateProgramAddress hashes seeds with the owning program id.
// Fails when the hash lands on the ed25519 curve, since such an address
// would have a private key.
// Formula: sha256(seed_0 || ... || seed_n || programID || "ProgramDerivedAddress")
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, fmt.Errorf("%d seeds (max %d): %w", len(seeds), MaxSeeds, apperrors.ErrInvalidAddress)
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return Pubkey{}, fmt.Errorf("seed of %d bytes (max %d): %w", len(s), MaxSeedLen, apperrors.ErrInvalidAddress)
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var out Pubkey
	copy(out[:], h.Sum(nil))
	if onCurve(out) {
		return Pubkey{}, fmt.Errorf("derived address on curve: %w", apperrors.ErrInvalidAddress)
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address together with its bump seed.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, fmt.Errorf("no viable bump: %w", apperrors.ErrInvalidAddress)
}

func onCurve(p Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
