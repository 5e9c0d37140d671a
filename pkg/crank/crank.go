// Package crank sweeps a watch list of margin accounts on a fixed
// interval, evaluates each one and submits the intent its verdict calls
// for.
package crank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/hypermargin/pkg/app/core/account"
	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/group"
	"github.com/uhyunpark/hypermargin/pkg/app/core/intent"
	"github.com/uhyunpark/hypermargin/pkg/app/core/observation"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/chain"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
	"github.com/uhyunpark/hypermargin/pkg/storage"
	"github.com/uhyunpark/hypermargin/pkg/util"
)

// Config tunes one crank over one margin group
type Config struct {
	Group crypto.Pubkey
	// Liquidator is the crank's own margin account. Zero means observe
	// only: verdicts are recorded and nothing is submitted.
	Liquidator  crypto.Pubkey
	Watch       []crypto.Pubkey
	Interval    time.Duration
	Concurrency int
	RatePerSec  float64
	RateBurst   int
	// AccrueAfter is how stale the bank may get before the crank submits
	// an interest accrual; 0 disables it
	AccrueAfter time.Duration
}

// Crank periodically evaluates the watched accounts of a group and submits
// the intents their verdicts call for.
type Crank struct {
	cfg       Config
	fetcher   chain.Fetcher
	submitter chain.Submitter
	venues    *utp.Registry
	limiter   *rate.Limiter
	clock     util.Clock
	seq       uint64

	Logger  *zap.SugaredLogger
	Journal storage.Journal
	Metrics *Metrics
	// OnRound is called with every saved round report
	OnRound func(storage.RoundReport)
}

// New builds a crank with a no-op logger, an in-memory journal and its own
// metrics; callers replace the exported fields before Run.
func New(cfg Config, fetcher chain.Fetcher, submitter chain.Submitter, venues *utp.Registry, clock util.Clock) *Crank {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Crank{
		cfg:       cfg,
		fetcher:   fetcher,
		submitter: submitter,
		venues:    venues,
		limiter:   rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		clock:     clock,
		Logger:    zap.NewNop().Sugar(),
		Journal:   storage.NewInMemoryJournal(),
		Metrics:   NewMetrics(),
	}
}

// SetSeq continues round numbering after a restart
func (c *Crank) SetSeq(seq uint64) { c.seq = seq }

func (c *Crank) observeOnly() bool { return c.cfg.Liquidator.IsZero() }

// Run sweeps until ctx is cancelled. A failed round is logged and the next
// one runs on schedule.
func (c *Crank) Run(ctx context.Context) error {
	c.Logger.Infow("crank_starting",
		"group", c.cfg.Group,
		"watched", len(c.cfg.Watch),
		"interval_ms", c.cfg.Interval.Milliseconds(),
		"observe_only", c.observeOnly())
	for {
		if _, err := c.RunRound(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Errorw("round_failed", "kind", apperrors.KindOf(err), "err", err)
		}
		select {
		case <-ctx.Done():
			c.Logger.Infow("crank_stopping", "last_round", c.seq)
			return nil
		case <-c.clock.After(c.cfg.Interval):
		}
	}
}

// sweep is one account's state for the round
type sweep struct {
	addr    crypto.Pubkey
	account *account.MarginAccount
	obs     observation.Set
	verdict risk.Verdict
	evalErr error
}

// RunRound fetches the group and every watched account fresh, evaluates
// them concurrently, then acts on the verdicts one by one.
func (c *Crank) RunRound(ctx context.Context) (storage.RoundReport, error) {
	started := c.clock.Now()
	report := storage.RoundReport{
		ID:        uuid.New(),
		Seq:       c.seq + 1,
		StartedAt: started,
		Accounts:  len(c.cfg.Watch),
		Counts:    make(map[string]int),
	}

	g, err := c.loadGroup(ctx)
	if err != nil {
		return report, err
	}
	if c.accrue(ctx, g) {
		report.Intents++
	}

	sweeps, err := c.sweep(ctx, g)
	if err != nil {
		return report, err
	}

	var liquidator *account.MarginAccount
	var liquidatorErr error
	if !c.observeOnly() {
		if err := c.limiter.Wait(ctx); err != nil {
			return report, err
		}
		liquidator, liquidatorErr = chain.LoadAccount(ctx, c.fetcher, c.cfg.Liquidator)
		if liquidatorErr != nil {
			c.Logger.Warnw("liquidator_unavailable", "account", c.cfg.Liquidator, "err", liquidatorErr)
		}
	}

	for _, s := range sweeps {
		rec := storage.VerdictRecord{Account: s.addr, Round: report.ID, At: started, Verdict: s.verdict}
		err := s.evalErr
		if err == nil {
			report.Counts[s.verdict.Status.String()]++
			c.Metrics.Verdicts.WithLabelValues(s.verdict.Status.String()).Inc()
			rec.Action, err = c.act(ctx, g, liquidator, liquidatorErr, s)
			if rec.Action != "" && err == nil {
				report.Intents++
			}
		}
		if err != nil {
			report.Failed++
			rec.Error, rec.ErrorKind = err.Error(), apperrors.KindOf(err)
			c.Metrics.AccountErrors.WithLabelValues(rec.ErrorKind).Inc()
			c.Logger.Warnw("account_failed", "account", s.addr, "status", s.verdict.Status, "kind", rec.ErrorKind, "err", err)
		} else if s.verdict.Status != risk.Healthy {
			c.Logger.Infow("account_verdict",
				"account", s.addr,
				"status", s.verdict.Status,
				"equity", s.verdict.Equity,
				"maint_requirement", s.verdict.MaintRequirement,
				"action", rec.Action,
				"reason", s.verdict.Reason)
		}
		report.Verdicts = append(report.Verdicts, rec)
	}

	report.FinishedAt = c.clock.Now()
	if err := c.Journal.SaveRound(report); err != nil {
		return report, fmt.Errorf("save round %d: %w", report.Seq, err)
	}
	c.seq = report.Seq

	c.Metrics.Rounds.Inc()
	c.Metrics.Watched.Set(float64(len(c.cfg.Watch)))
	c.Metrics.RoundDuration.Observe(report.FinishedAt.Sub(started).Seconds())
	c.Logger.Infow("round_done",
		"seq", report.Seq,
		"accounts", report.Accounts,
		"failed", report.Failed,
		"intents", report.Intents,
		"duration_ms", report.FinishedAt.Sub(started).Milliseconds())
	if c.OnRound != nil {
		c.OnRound(report)
	}
	return report, nil
}

func (c *Crank) loadGroup(ctx context.Context) (*group.MarginGroup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	g, err := chain.LoadGroup(ctx, c.fetcher, c.cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	return g, nil
}

// accrue submits an interest accrual when the bank is stale and reports
// whether one was accepted. The accrued group is used for the rest of the
// round only if the submission went through.
func (c *Crank) accrue(ctx context.Context, g *group.MarginGroup) bool {
	if c.observeOnly() || c.cfg.AccrueAfter <= 0 {
		return false
	}
	now := c.clock.Now().Unix()
	if time.Duration(now-g.Bank.LastUpdate)*time.Second < c.cfg.AccrueAfter {
		return false
	}
	snapshot := *g
	in, err := g.AccrueInterest(now)
	if err == nil {
		err = c.submit(ctx, in)
	}
	if err != nil {
		*g = snapshot
		c.Logger.Warnw("accrue_failed", "kind", apperrors.KindOf(err), "err", err)
		return false
	}
	c.Logger.Infow("interest_accrued", "deposit_acc", g.Bank.DepositAccumulator, "borrow_acc", g.Bank.BorrowAccumulator)
	return true
}

func (c *Crank) sweep(ctx context.Context, g *group.MarginGroup) ([]*sweep, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raws, err := c.fetcher.GetAccounts(ctx, c.cfg.Watch)
	if err != nil {
		return nil, fmt.Errorf("fetch watched accounts: %w", err)
	}
	if len(raws) != len(c.cfg.Watch) {
		return nil, fmt.Errorf("fetched %d of %d watched accounts", len(raws), len(c.cfg.Watch))
	}

	out := make([]*sweep, len(c.cfg.Watch))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.Concurrency)
	for i, addr := range c.cfg.Watch {
		s := &sweep{addr: addr}
		out[i] = s
		raw := raws[i]
		eg.Go(func() error {
			// per-account failures stay on the sweep
			s.evalErr = c.evaluate(egctx, g, s, raw)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Crank) evaluate(ctx context.Context, g *group.MarginGroup, s *sweep, raw []byte) error {
	if raw == nil {
		return fmt.Errorf("%s: %w", s.addr, apperrors.ErrAccountNotFound)
	}
	a, err := account.Decode(s.addr, raw)
	if err != nil {
		return err
	}
	if a.Group != g.Address {
		return fmt.Errorf("account in group %s: %w", a.Group.Short(), apperrors.ErrInvalidAddress)
	}
	s.account = a

	notes, err := c.observe(ctx, a, &s.obs)
	if err != nil {
		return err
	}
	v, err := risk.Evaluate(a, g, &s.obs)
	if err != nil {
		return err
	}
	if v.Status == risk.Indeterminate && len(notes) > 0 {
		v.Reason = strings.Join(notes, "; ")
	}
	s.verdict = v
	return nil
}

// observe fills obs for every active slot with one fetch. Slots whose venue
// data cannot be read stay invalid; the returned notes say why.
func (c *Crank) observe(ctx context.Context, a *account.MarginAccount, obs *observation.Set) ([]string, error) {
	type pending struct {
		slot    int
		adapter utp.Adapter
		off     int
	}
	var (
		keys  []crypto.Pubkey
		slots []pending
		notes []string
	)
	for _, slot := range a.ActiveSlots() {
		cfg := a.UtpConfig[slot]
		adapter, err := c.venues.Get(cfg.Kind)
		if err != nil {
			notes = append(notes, fmt.Sprintf("slot %d: %v", slot, err))
			continue
		}
		slots = append(slots, pending{slot: slot, adapter: adapter, off: len(keys)})
		keys = append(keys, adapter.Accounts(cfg)...)
	}
	if len(keys) == 0 {
		return notes, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raws, err := c.fetcher.GetAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch venue accounts: %w", err)
	}
	if len(raws) != len(keys) {
		return nil, fmt.Errorf("fetched %d of %d venue accounts", len(raws), len(keys))
	}
	for _, p := range slots {
		roles := p.adapter.Roles()
		raw := make(utp.RawAccounts, len(roles))
		for j, role := range roles {
			raw[role] = raws[p.off+j]
		}
		o, err := p.adapter.Observe(raw)
		if err != nil {
			notes = append(notes, fmt.Sprintf("slot %d: %v", p.slot, err))
			continue
		}
		obs[p.slot] = o
	}
	return notes, nil
}

// act builds and submits the intent a verdict calls for. It returns the
// intent kind, empty when there is nothing to do.
func (c *Crank) act(ctx context.Context, g *group.MarginGroup, liquidator *account.MarginAccount, liquidatorErr error, s *sweep) (string, error) {
	if c.observeOnly() {
		return "", nil
	}
	a := s.account
	switch s.verdict.Status {
	case risk.Liquidatable:
		if liquidatorErr != nil {
			return "", fmt.Errorf("liquidator: %w", liquidatorErr)
		}
		deposit, borrow, err := risk.NativeBalances(liquidator, g)
		if err != nil {
			return "", err
		}
		free, err := deposit.Sub(borrow)
		if err != nil {
			return "", err
		}
		available, err := fixed.Max(free, fixed.Zero).Uint64()
		if err != nil {
			return "", err
		}
		slot, err := risk.SelectLiquidationTarget(a, &s.obs, available)
		if err != nil {
			return "", err
		}
		return c.apply(ctx, g, []*account.MarginAccount{liquidator, a}, func() (intent.Intent, error) {
			return liquidator.Liquidate(g, a, slot, &s.obs)
		})

	case risk.Bankrupt:
		return c.apply(ctx, g, []*account.MarginAccount{a}, func() (intent.Intent, error) {
			out, in, err := a.HandleBankruptcy(g, &s.obs)
			if err == nil {
				c.Logger.Infow("bankruptcy",
					"account", a.Address,
					"shortfall", out.Shortfall,
					"covered", out.Covered,
					"socialized", out.Socialized)
			}
			return in, err
		})

	case risk.RebalanceNeeded:
		// a paused group still allows solvency actions, not rebalancing
		if g.Allow(group.ActionUser) != nil {
			return "", nil
		}
		// one slot per round; the intent bumps the account version
		slot := s.verdict.RebalanceSlots[0]
		adapter, err := c.venues.Get(a.UtpConfig[slot].Kind)
		if err != nil {
			return "", err
		}
		bound, err := risk.MaxRebalanceDepositAmount(a, g, &s.obs, slot)
		if err != nil {
			return "", err
		}
		amount := min(bound, risk.VenueShortfall(s.obs[slot]))
		if amount == 0 {
			return "", nil
		}
		return c.apply(ctx, g, []*account.MarginAccount{a}, func() (intent.Intent, error) {
			return a.UtpDeposit(g, adapter, slot, amount, &s.obs)
		})
	}
	return "", nil
}

// apply runs build and submits its intent. If the submission fails the
// in-memory accounts and bank are put back as they were.
func (c *Crank) apply(ctx context.Context, g *group.MarginGroup, touched []*account.MarginAccount, build func() (intent.Intent, error)) (string, error) {
	snapshot := make([]account.MarginAccount, len(touched))
	for i, a := range touched {
		snapshot[i] = *a
	}
	bank := g.Bank

	in, err := build()
	if err != nil {
		return "", err
	}
	if err := c.submit(ctx, in); err != nil {
		for i, a := range touched {
			*a = snapshot[i]
		}
		g.Bank = bank
		return in.Kind(), err
	}
	return in.Kind(), nil
}

func (c *Crank) submit(ctx context.Context, in intent.Intent) error {
	if err := c.submitter.Submit(ctx, in); err != nil {
		c.Metrics.Intents.WithLabelValues(in.Kind(), "error").Inc()
		return fmt.Errorf("submit %s intent %s: %w", in.Kind(), in.ID, err)
	}
	c.Metrics.Intents.WithLabelValues(in.Kind(), "ok").Inc()
	c.Logger.Infow("intent_submitted", "id", in.ID, "kind", in.Kind(), "ops", len(in.Ops))
	return nil
}
