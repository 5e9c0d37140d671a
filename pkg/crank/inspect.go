package crank

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/uhyunpark/hypermargin/pkg/app/core/account"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/chain"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// Inspection is a single account evaluated outside of a round
type Inspection struct {
	Account *account.MarginAccount          `json:"account"`
	Venues  map[int]observation.Observation `json:"venues"`
	Verdict risk.Verdict                    `json:"verdict"`
}

// Inspect fetches and evaluates addr the way a round would, without
// acting on the verdict
func Inspect(ctx context.Context, fetcher chain.Fetcher, venues *utp.Registry, g *group.MarginGroup, addr crypto.Pubkey) (Inspection, error) {
	c := &Crank{fetcher: fetcher, venues: venues, limiter: rate.NewLimiter(rate.Inf, 1)}
	raws, err := fetcher.GetAccounts(ctx, []crypto.Pubkey{addr})
	if err != nil {
		return Inspection{}, fmt.Errorf("fetch %s: %w", addr, err)
	}
	s := &sweep{addr: addr}
	if err := c.evaluate(ctx, g, s, raws[0]); err != nil {
		return Inspection{}, err
	}
	out := Inspection{Account: s.account, Venues: make(map[int]observation.Observation), Verdict: s.verdict}
	for _, slot := range s.account.ActiveSlots() {
		out.Venues[slot] = s.obs[slot]
	}
	return out, nil
}
