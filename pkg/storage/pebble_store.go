package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(32 << 20), // 32MB cache
		MemTableSize:             16 << 20,                  // 16MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             500,
		BytesPerSync:             512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveRound persists a round report and each account's verdict in one batch
func (s *PebbleStore) SaveRound(r RoundReport) error {
	b := s.db.NewBatch()
	defer b.Close()

	val, err := encodeJSON("round", r)
	if err != nil {
		return err
	}
	if err := b.Set(roundKey(r.Seq), val, nil); err != nil {
		return err
	}
	for _, v := range r.Verdicts {
		val, err := encodeJSON("verdict", v)
		if err != nil {
			return err
		}
		if err := b.Set(verdictKey(v.Account), val, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Seq, err)
	}
	return nil
}

// LatestRound returns the round with the highest sequence
func (s *PebbleStore) LatestRound() (RoundReport, bool, error) {
	rounds, err := s.RecentRounds(1)
	if err != nil || len(rounds) == 0 {
		return RoundReport{}, false, err
	}
	return rounds[0], true, nil
}

// RecentRounds loads up to limit rounds, newest first
func (s *PebbleStore) RecentRounds(limit int) ([]RoundReport, error) {
	prefix := []byte(prefixRound)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rounds []RoundReport
	for iter.Last(); iter.Valid() && len(rounds) < limit; iter.Prev() {
		var r RoundReport
		if err := decodeJSON("round", iter.Value(), &r); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, iter.Error()
}

// LoadVerdict returns the latest verdict recorded for addr
func (s *PebbleStore) LoadVerdict(addr crypto.Pubkey) (VerdictRecord, bool, error) {
	var v VerdictRecord
	ok, err := s.get(verdictKey(addr), "verdict", &v)
	return v, ok, err
}

func (s *PebbleStore) get(key []byte, kind string, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	defer closer.Close()
	if err := decodeJSON(kind, data, v); err != nil {
		return false, err
	}
	return true, nil
}

// lastSeq returns the highest sequence stored under prefix, 0 if none
func (s *PebbleStore) lastSeq(prefix string) (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return seqFromKey(prefix, iter.Key())
}

// LastRoundSeq lets a restarted crank continue the round sequence
func (s *PebbleStore) LastRoundSeq() (uint64, error) {
	return s.lastSeq(prefixRound)
}

var _ Journal = (*PebbleStore)(nil)
