// Package chain holds the collaborators the crank uses to read account
// bytes from, and hand intents to, the ledger.
package chain

import (
	"context"
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/account"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// Fetcher reads raw account data. The result is aligned with keys; a nil
// entry means the account does not exist.
type Fetcher interface {
	GetAccounts(ctx context.Context, keys []crypto.Pubkey) ([][]byte, error)
}

// Submitter hands an intent over for signing and execution
type Submitter interface {
	Submit(ctx context.Context, in intent.Intent) error
}

// LoadGroup fetches and decodes the margin group at addr
func LoadGroup(ctx context.Context, f Fetcher, addr crypto.Pubkey) (*group.MarginGroup, error) {
	raw, err := getOne(ctx, f, addr)
	if err != nil {
		return nil, err
	}
	return group.Decode(addr, raw)
}

// LoadAccount fetches and decodes the margin account at addr
func LoadAccount(ctx context.Context, f Fetcher, addr crypto.Pubkey) (*account.MarginAccount, error) {
	raw, err := getOne(ctx, f, addr)
	if err != nil {
		return nil, err
	}
	return account.Decode(addr, raw)
}

func getOne(ctx context.Context, f Fetcher, addr crypto.Pubkey) ([]byte, error) {
	raws, err := f.GetAccounts(ctx, []crypto.Pubkey{addr})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", addr.Short(), err)
	}
	if len(raws) != 1 || raws[0] == nil {
		return nil, fmt.Errorf("%s: %w", addr, apperrors.ErrAccountNotFound)
	}
	return raws[0], nil
}
