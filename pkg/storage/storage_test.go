package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

func newTestStore(t *testing.T) (*PebbleStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func report(seq uint64, accounts ...crypto.Pubkey) RoundReport {
	r := RoundReport{
		ID:        uuid.New(),
		Seq:       seq,
		StartedAt: time.Unix(1_700_000_000+int64(seq), 0).UTC(),
		Accounts:  len(accounts),
		Counts:    map[string]int{},
	}
	for _, a := range accounts {
		r.Verdicts = append(r.Verdicts, VerdictRecord{
			Account: a,
			Round:   r.ID,
			Verdict: risk.Verdict{Status: risk.Liquidatable, Equity: fixed.FromInt64(int64(seq) * 100)},
		})
		r.Counts[risk.Liquidatable.String()]++
	}
	return r
}

func TestRounds(t *testing.T) {
	require := require.New(t)
	s, _ := newTestStore(t)

	_, ok, err := s.LatestRound()
	require.NoError(err)
	require.False(ok)

	a, b := crypto.Pubkey{1}, crypto.Pubkey{2}
	for seq := uint64(1); seq <= 12; seq++ {
		require.NoError(s.SaveRound(report(seq, a, b)))
	}

	latest, ok, err := s.LatestRound()
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(12), latest.Seq)
	require.Equal(2, latest.Counts["liquidatable"])

	recent, err := s.RecentRounds(3)
	require.NoError(err)
	require.Len(recent, 3)
	require.Equal([]uint64{12, 11, 10}, []uint64{recent[0].Seq, recent[1].Seq, recent[2].Seq})

	v, ok, err := s.LoadVerdict(b)
	require.NoError(err)
	require.True(ok)
	require.Equal(risk.Liquidatable, v.Verdict.Status)
	require.True(v.Verdict.Equity.Equal(fixed.FromInt64(1_200)))

	_, ok, err = s.LoadVerdict(crypto.Pubkey{3})
	require.NoError(err)
	require.False(ok)

	seq, err := s.LastRoundSeq()
	require.NoError(err)
	require.Equal(uint64(12), seq)
}

func TestOutbox(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(path)
	require.NoError(err)

	o, err := NewOutbox(s)
	require.NoError(err)

	guard := []intent.Guard{{Account: crypto.Pubkey{1}, Version: 4}}
	first := intent.New(guard, intent.Op{Kind: intent.OpLiquidate, Account: crypto.Pubkey{2}, Slot: 0, Amount: 10})
	second := intent.New(guard, intent.Op{Kind: intent.OpHandleBankruptcy, Account: crypto.Pubkey{1}, Slot: intent.NoSlot})
	require.NoError(o.Submit(ctx, first))
	require.NoError(o.Submit(ctx, second))

	// same guards and ops under a new id
	dup := intent.New(guard, first.Ops...)
	require.NoError(o.Submit(ctx, dup))

	pending, err := o.Pending(0)
	require.NoError(err)
	require.Len(pending, 2)
	require.Equal(first.ID, pending[0].ID)
	require.Equal(intent.OpLiquidate, pending[0].Ops[0].Kind)
	require.Equal(second.ID, pending[1].ID)

	require.NoError(o.Ack(first.ID))
	require.Error(o.Ack(first.ID))
	require.NoError(o.Submit(ctx, first))

	pending, err = o.Pending(10)
	require.NoError(err)
	require.Len(pending, 1)
	require.Equal(second.ID, pending[0].ID)

	// the sequence survives a reopen
	require.NoError(s.Close())
	s2, err := NewPebbleStore(path)
	require.NoError(err)
	defer s2.Close()
	o2, err := NewOutbox(s2)
	require.NoError(err)
	require.Equal(uint64(2), o2.seq)
}

func TestInMemoryJournal(t *testing.T) {
	require := require.New(t)
	j := NewInMemoryJournal()

	_, ok, err := j.LatestRound()
	require.NoError(err)
	require.False(ok)

	a := crypto.Pubkey{1}
	require.NoError(j.SaveRound(report(1, a)))
	require.NoError(j.SaveRound(report(2)))

	latest, ok, err := j.LatestRound()
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(2), latest.Seq)

	v, ok, err := j.LoadVerdict(a)
	require.NoError(err)
	require.True(ok)
	require.Equal(risk.Liquidatable, v.Verdict.Status)
}
