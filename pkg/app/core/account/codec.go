package account

import (
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/layout"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const recordName = "MarginAccount"

// Encode serializes the account as stored on chain
func (a *MarginAccount) Encode() []byte {
	w := layout.NewWriter(recordName)
	w.Pubkey(a.Authority)
	w.Pubkey(a.Group)
	w.Decimal(a.DepositRecord)
	w.Decimal(a.BorrowRecord)
	w.Uint64(a.Version)
	for i := 0; i < observation.MaxUtps; i++ {
		cfg := a.UtpConfig[i]
		w.Bool(a.ActiveUtps[i])
		w.Uint8(uint8(cfg.Kind))
		w.Pubkey(cfg.Account)
		w.Pubkey(cfg.AuthoritySeed)
		w.Uint8(cfg.AuthorityBump)
		for _, k := range cfg.AddressBook {
			w.Pubkey(k)
		}
	}
	return w.Bytes()
}

// Decode parses an account fetched at address
func Decode(address crypto.Pubkey, raw []byte) (*MarginAccount, error) {
	r := layout.NewReader(raw)
	r.Expect(recordName)

	a := &MarginAccount{Address: address}
	a.Authority = r.Pubkey()
	a.Group = r.Pubkey()
	a.DepositRecord = r.Decimal()
	a.BorrowRecord = r.Decimal()
	a.Version = r.Uint64()
	for i := 0; i < observation.MaxUtps; i++ {
		a.ActiveUtps[i] = r.Bool()
		cfg := &a.UtpConfig[i]
		cfg.Kind = utp.Kind(r.Uint8())
		cfg.Account = r.Pubkey()
		cfg.AuthoritySeed = r.Pubkey()
		cfg.AuthorityBump = r.Uint8()
		for j := range cfg.AddressBook {
			cfg.AddressBook[j] = r.Pubkey()
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", a.Address.Short(), err)
	}
	for i, active := range a.ActiveUtps {
		if kind := a.UtpConfig[i].Kind; kind > utp.KindLend || (active && kind == utp.KindNone) {
			return nil, fmt.Errorf("decode account %s: slot %d venue %s: %w", a.Address.Short(), i, a.UtpConfig[i].Kind, apperrors.ErrInvalidEncoding)
		}
	}
	return a, nil
}
