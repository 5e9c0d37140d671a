package chain

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/uhyunpark/hypermargin/pkg/app/core/account"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/layout"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// MemLedger is an in-memory ledger for tests and local runs. It serves
// stored bytes and accepts an intent only if every guarded account is
// still at the guarded version.
type MemLedger struct {
	mu        sync.RWMutex
	accounts  map[crypto.Pubkey][]byte
	submitted []intent.Intent
	seen      map[string]struct{}
}

var (
	_ Fetcher   = (*MemLedger)(nil)
	_ Submitter = (*MemLedger)(nil)

	accountTag = layout.Discriminator("MarginAccount")
	groupTag   = layout.Discriminator("MarginGroup")
)

func NewMemLedger() *MemLedger {
	return &MemLedger{
		accounts: make(map[crypto.Pubkey][]byte),
		seen:     make(map[string]struct{}),
	}
}

// Put stores raw bytes at key, replacing what was there
func (m *MemLedger) Put(key crypto.Pubkey, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[key] = bytes.Clone(raw)
}

// PutAccount stores an encoded margin account
func (m *MemLedger) PutAccount(a *account.MarginAccount) {
	m.Put(a.Address, a.Encode())
}

// PutGroup stores an encoded margin group
func (m *MemLedger) PutGroup(g *group.MarginGroup) {
	m.Put(g.Address, g.Encode())
}

func (m *MemLedger) Delete(key crypto.Pubkey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, key)
}

func (m *MemLedger) GetAccounts(ctx context.Context, keys []crypto.Pubkey) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		if raw, ok := m.accounts[k]; ok {
			out[i] = bytes.Clone(raw)
		}
	}
	return out, nil
}

// Submit checks the intent's guards. Resubmitting an accepted intent is a
// no-op.
func (m *MemLedger) Submit(ctx context.Context, in intent.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := in.IdempotencyKey()
	if _, dup := m.seen[key]; dup {
		return nil
	}
	for _, g := range in.Guards {
		version, err := m.version(g.Account)
		if err != nil {
			return err
		}
		if version != g.Version {
			return fmt.Errorf("%s at version %d, intent built on %d: %w", g.Account.Short(), version, g.Version, apperrors.ErrStaleIntent)
		}
	}
	m.seen[key] = struct{}{}
	m.submitted = append(m.submitted, in)
	return nil
}

// Submitted returns accepted intents in arrival order
func (m *MemLedger) Submitted() []intent.Intent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]intent.Intent(nil), m.submitted...)
}

func (m *MemLedger) version(key crypto.Pubkey) (uint64, error) {
	raw, ok := m.accounts[key]
	if !ok {
		return 0, fmt.Errorf("guard on %s: %w", key.Short(), apperrors.ErrAccountNotFound)
	}
	switch {
	case bytes.HasPrefix(raw, accountTag[:]):
		a, err := account.Decode(key, raw)
		if err != nil {
			return 0, err
		}
		return a.Version, nil
	case bytes.HasPrefix(raw, groupTag[:]):
		g, err := group.Decode(key, raw)
		if err != nil {
			return 0, err
		}
		return g.Version, nil
	default:
		return 0, fmt.Errorf("guard on %s: not a margin record: %w", key.Short(), apperrors.ErrInvalidEncoding)
	}
}
