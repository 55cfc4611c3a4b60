// Package settlement crystallizes a PendingSettlement into realized PnL
// once both venues have posted their post-close outcome for an interval.
// It generalizes the teacher's pollSettlement (poll Kalshi's GetMarket
// every 10s until Result is populated, then ComputePnL) from a single
// venue into a two-venue resolution that can disagree — a box's two legs
// settle independently, so the resolver must handle the "dead zone" case
// spec.md §4.L names: the venues' oracles straddling the strike and
// resolving the box's two legs to different sides.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
)

// ErrNotSettled is returned by a VenueResolver when the venue has not yet
// posted a result for the interval — the caller should retry on the next
// Tick, exactly like the teacher's "Result is empty until Kalshi settles".
var ErrNotSettled = errors.New("settlement: result not yet available")

// Outcome is one venue's post-close resolution for an interval.
type Outcome struct {
	Side string // "yes" or "no"
}

// VenueResolver fetches the settled outcome for one venue's market in an
// interval, returning ErrNotSettled if the venue hasn't posted a result.
type VenueResolver interface {
	ResolveOutcome(ctx context.Context, ivl interval.Key) (Outcome, error)
}

// Pending is the record spec.md §3 calls PendingSettlement: held from the
// moment a box completes until the interval closes and both venues'
// outcomes are known.
type Pending struct {
	ExecutionID string
	Interval    interval.Key
	SettlesAt   time.Time
	ExpectedPnL decimal.Decimal
	ActualCost  decimal.Decimal
	Qty         decimal.Decimal
	YesVenue    quote.Venue
	NoVenue     quote.Venue
	CompletedAt time.Time
}

// Result is what a Resolver reports once a Pending settlement resolves.
type Result struct {
	Pending      Pending
	RealizedPnL  decimal.Decimal
	OraclesAgree bool
	DeadZoneHit  bool
}

// Config bundles the resolver's polling cadence.
type Config struct {
	PollInterval time.Duration // default 10s, per the teacher
	GiveUpAfter  time.Duration // default 15m, per the teacher's bailout
}

// Resolver holds every in-flight PendingSettlement and resolves them on
// Tick, the way the teacher's per-market pollSettlement did for one.
type Resolver struct {
	cfg        Config
	resolveP   VenueResolver
	resolveK   VenueResolver
	onResolved func(Result)
	logger     *slog.Logger

	mu            sync.Mutex
	pending       []Pending
	lastPollAt    map[string]time.Time
}

// New creates a Resolver. onResolved is invoked synchronously from Tick
// for every settlement that resolves, so the caller can feed realized PnL
// into internal/risk's daily-loss accounting. A settlement dropped after
// GiveUpAfter is only logged; onResolved is not called for it.
func New(cfg Config, resolveP, resolveK VenueResolver, onResolved func(Result), logger *slog.Logger) *Resolver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = 15 * time.Minute
	}
	return &Resolver{
		cfg:        cfg,
		resolveP:   resolveP,
		resolveK:   resolveK,
		onResolved: onResolved,
		logger:     logger.With("component", "settlement"),
		lastPollAt: make(map[string]time.Time),
	}
}

// Add enqueues a freshly-completed box for later settlement resolution.
func (r *Resolver) Add(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

// PendingCount returns how many settlements are currently held, for
// journaling/diagnostics.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Tick attempts to resolve every pending settlement whose SettlesAt has
// passed, rate-limited per execution ID to cfg.PollInterval, the way the
// teacher's LastSettlementPoll throttles GetMarket calls.
func (r *Resolver) Tick(ctx context.Context, now time.Time) {
	r.mu.Lock()
	due := make([]Pending, 0, len(r.pending))
	remaining := r.pending[:0]
	for _, p := range r.pending {
		if now.Before(p.SettlesAt) {
			remaining = append(remaining, p)
			continue
		}
		last := r.lastPollAt[p.ExecutionID]
		if now.Sub(last) < r.cfg.PollInterval {
			remaining = append(remaining, p)
			continue
		}
		r.lastPollAt[p.ExecutionID] = now
		due = append(due, p)
	}
	r.pending = remaining
	r.mu.Unlock()

	for _, p := range due {
		r.resolveOne(ctx, now, p)
	}
}

func (r *Resolver) resolveOne(ctx context.Context, now time.Time, p Pending) {
	yesOutcome, errYes := r.resolveFor(ctx, p.YesVenue, p.Interval)
	noOutcome, errNo := r.resolveFor(ctx, p.NoVenue, p.Interval)

	if errors.Is(errYes, ErrNotSettled) || errors.Is(errNo, ErrNotSettled) {
		if now.Sub(p.SettlesAt) > r.cfg.GiveUpAfter {
			r.logger.Error("settlement timeout — gave up polling", "execution_id", p.ExecutionID, "interval", p.Interval)
			return
		}
		r.requeue(p)
		return
	}
	if errYes != nil || errNo != nil {
		r.logger.Warn("settlement poll failed", "execution_id", p.ExecutionID, "err_yes", errYes, "err_no", errNo)
		r.requeue(p)
		return
	}

	yesLegWon := yesOutcome.Side == "yes"
	noLegWon := noOutcome.Side == "no"
	oraclesAgree := yesOutcome.Side == noOutcome.Side
	deadZoneHit := !oraclesAgree

	payoff := decimal.Zero
	if yesLegWon {
		payoff = payoff.Add(p.Qty)
	}
	if noLegWon {
		payoff = payoff.Add(p.Qty)
	}
	realized := payoff.Sub(p.ActualCost)

	result := Result{
		Pending:      p,
		RealizedPnL:  realized,
		OraclesAgree: oraclesAgree,
		DeadZoneHit:  deadZoneHit,
	}

	r.logger.Info("settlement resolved",
		"execution_id", p.ExecutionID,
		"interval", p.Interval,
		"realized_pnl", realized,
		"oracles_agree", oraclesAgree,
		"dead_zone_hit", deadZoneHit,
	)

	if deadZoneHit {
		r.logger.Warn("dead zone hit: venue oracles disagreed on outcome", "execution_id", p.ExecutionID, "yes_venue_result", yesOutcome.Side, "no_venue_result", noOutcome.Side)
	}

	if r.onResolved != nil {
		r.onResolved(result)
	}
}

func (r *Resolver) requeue(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

func (r *Resolver) resolveFor(ctx context.Context, venue quote.Venue, ivl interval.Key) (Outcome, error) {
	switch venue {
	case quote.VenueP:
		if r.resolveP == nil {
			return Outcome{}, ErrNotSettled
		}
		return r.resolveP.ResolveOutcome(ctx, ivl)
	case quote.VenueK:
		if r.resolveK == nil {
			return Outcome{}, ErrNotSettled
		}
		return r.resolveK.ResolveOutcome(ctx, ivl)
	default:
		return Outcome{}, ErrNotSettled
	}
}
