package storage

import (
	"sync"

	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// InMemoryJournal keeps the latest round and verdicts in memory, for tests
// and runs without a database
type InMemoryJournal struct {
	mu       sync.Mutex
	latest   *RoundReport
	verdicts map[crypto.Pubkey]VerdictRecord
}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		verdicts: make(map[crypto.Pubkey]VerdictRecord),
	}
}

func (j *InMemoryJournal) SaveRound(r RoundReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.latest = &r
	for _, v := range r.Verdicts {
		j.verdicts[v.Account] = v
	}
	return nil
}

func (j *InMemoryJournal) LatestRound() (RoundReport, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.latest == nil {
		return RoundReport{}, false, nil
	}
	return *j.latest, true, nil
}

func (j *InMemoryJournal) LoadVerdict(addr crypto.Pubkey) (VerdictRecord, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.verdicts[addr]
	return v, ok, nil
}

var _ Journal = (*InMemoryJournal)(nil)
