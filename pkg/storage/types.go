// Package storage persists what the crank saw and decided: round reports,
// the latest verdict per account, and the outbox of intents waiting for an
// external signer.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// VerdictRecord is one account's evaluation in one round
type VerdictRecord struct {
	Account crypto.Pubkey `json:"account"`
	Round   uuid.UUID     `json:"round"`
	At      time.Time     `json:"at"`
	Verdict risk.Verdict  `json:"verdict"`
	// Action names the intent submitted for the verdict, if any
	Action string `json:"action,omitempty"`
	// Error is set when the account could not be evaluated or acted on
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// RoundReport summarizes one crank sweep
type RoundReport struct {
	ID         uuid.UUID       `json:"id"`
	Seq        uint64          `json:"seq"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Accounts   int             `json:"accounts"`
	Failed     int             `json:"failed"`
	Intents    int             `json:"intents"`
	Counts     map[string]int  `json:"counts"` // by verdict status
	Verdicts   []VerdictRecord `json:"verdicts"`
}

// Journal is where the crank records rounds
type Journal interface {
	SaveRound(r RoundReport) error
	LatestRound() (RoundReport, bool, error)
	LoadVerdict(addr crypto.Pubkey) (VerdictRecord, bool, error)
}
