package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// ==============================
// REST Response Types
// ==============================

// AccountHealth is the last verdict the crank recorded for an account.
// Decimal figures are native units as strings.
type AccountHealth struct {
	Address          crypto.Pubkey `json:"address"`
	Status           risk.Status   `json:"status"`
	Equity           string        `json:"equity"`
	InitRequirement  string        `json:"initRequirement"`
	MaintRequirement string        `json:"maintRequirement"`
	FreeCollateral   string        `json:"freeCollateral"`
	// MarginRatio is equity over the maintenance requirement, 4 places;
	// empty when nothing is required
	MarginRatio    string    `json:"marginRatio,omitempty"`
	RebalanceSlots []int     `json:"rebalanceSlots,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Action         string    `json:"action,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	Round          uuid.UUID `json:"round"`
	At             time.Time `json:"at"`
}

// RoundSummary is a round report without per-account verdicts
type RoundSummary struct {
	ID         uuid.UUID      `json:"id"`
	Seq        uint64         `json:"seq"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Accounts   int            `json:"accounts"`
	Failed     int            `json:"failed"`
	Intents    int            `json:"intents"`
	Counts     map[string]int `json:"counts"`
}

type PendingIntents struct {
	Intents []intent.Intent `json:"intents"`
}

// ObserveRequest carries raw venue accounts, hex encoded, keyed by the
// adapter's role names
type ObserveRequest struct {
	Accounts map[string]string `json:"accounts"`
}

type ObserveResponse struct {
	Venue          string                  `json:"venue"`
	Observation    observation.Observation `json:"observation"`
	VenueShortfall uint64                  `json:"venueShortfall"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest subscribes to "rounds" or "health:{address}"
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type RoundUpdate struct {
	Type string `json:"type"` // "round"
	RoundSummary
}

type HealthUpdate struct {
	Type string `json:"type"` // "health"
	AccountHealth
}
