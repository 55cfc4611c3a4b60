// Package coordinator drives the interval lifecycle: discovery, quote
// subscription, opportunity evaluation, and rollover, the way the
// teacher's Engine.Run/tick does for a single venue — generalized here to
// run discovery and subscription across two venues and hand opportunities
// to internal/execution instead of placing a single-venue limit order
// directly.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/edge"
	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/journal"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/reconcile"
	"github.com/sdibella/boxarb/internal/risk"
	"github.com/sdibella/boxarb/internal/settlement"
	"github.com/sdibella/boxarb/internal/volatility"
)

// DiscovererP finds venue P's market for the given interval, the way the
// teacher's discoverMarkets polls GetMarkets for the current series.
type DiscovererP interface {
	DiscoverNext(ctx context.Context, ivl interval.Key) (mapping.VenueP, error)
}

// DiscovererK finds venue K's market for the given interval.
type DiscovererK interface {
	DiscoverNext(ctx context.Context, ivl interval.Key) (mapping.VenueK, error)
}

// Subscriber drives a venue's orderbook websocket subscription, mirroring
// the teacher's ws.Subscribe([]string) call made right after discovery.
type Subscriber interface {
	Subscribe(ids []string) error
}

// Settler receives a freshly-completed box so its PnL can be crystallized
// once both venues settle. Optional: a Coordinator built with a nil
// Settler simply never enqueues settlements (useful in tests that don't
// care about post-close resolution).
type Settler interface {
	Add(p settlement.Pending)
}

// Metrics is the subset of *metrics.Metrics the coordinator updates.
// Optional, like Settler — a nil Metrics just skips every Inc/Set call.
type Metrics interface {
	IncOpportunity(orientation string)
	IncExecution(status string)
	IncLegFill(venue, leg, side string)
	SetRealizedPnL(usd float64)
	IncKillSwitchTrip()
	IncCooldownEntered()
}

// Journal receives structured audit events for every leg fill and
// execution outcome. Optional, like Settler/Metrics — a nil Journal just
// skips every Log call.
type Journal interface {
	Log(event any) error
}

// Config bundles the coordinator's tick cadences.
type Config struct {
	DiscoveryInterval     time.Duration // default 30s, per teacher
	PrefetchWindow        time.Duration // begin next-interval discovery this far before rollover
	ReconcileInterval     time.Duration // default 60s
	RefTolerance          float64       // mapping.Verified relative tolerance
	DailyLossResetAt      time.Duration // time-of-day UTC offset daily PnL resets (informational only here)
	DryRun                bool          // tagged onto every journaled event
}

// Coordinator owns the 1-second tick loop and wires every other component
// together for one trading process.
type Coordinator struct {
	cfg Config

	mappings   *mapping.Store
	quotes     *quote.Aggregator
	guard      *risk.Guard
	tracker    *position.Tracker
	execEngine *execution.Engine
	reconciler *reconcile.Reconciler
	volManager *volatility.Manager

	discoverP DiscovererP
	discoverK DiscovererK
	subP      Subscriber
	subK      Subscriber
	settler   Settler
	metrics   Metrics
	journal   Journal

	edgeParams edge.Params
	logger     *slog.Logger

	dailyNotionalCap decimal.Decimal

	mu               sync.Mutex
	currentInterval  interval.Key
	lastDiscovery    time.Time
	lastReconcile    time.Time
	lastDailyReset   string // YYYY-MM-DD (UTC) of the last daily reset
	dailyRealizedPnL decimal.Decimal
	subscribedP      map[string]bool
	subscribedK      map[string]bool
}

// New creates a Coordinator. Venue-specific discovery/subscription and the
// already-wired execution/reconcile/volatility components are all supplied
// by the caller, keeping this package free of venue-client imports.
func New(
	cfg Config,
	mappings *mapping.Store,
	quotes *quote.Aggregator,
	guard *risk.Guard,
	tracker *position.Tracker,
	execEngine *execution.Engine,
	reconciler *reconcile.Reconciler,
	volManager *volatility.Manager,
	discoverP DiscovererP,
	discoverK DiscovererK,
	subP, subK Subscriber,
	edgeParams edge.Params,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:              cfg,
		mappings:         mappings,
		quotes:           quotes,
		guard:            guard,
		tracker:          tracker,
		execEngine:       execEngine,
		reconciler:       reconciler,
		volManager:       volManager,
		discoverP:        discoverP,
		discoverK:        discoverK,
		subP:             subP,
		subK:             subK,
		edgeParams:       edgeParams,
		dailyNotionalCap: edgeParams.RemainingNotional,
		lastDailyReset:   time.Now().UTC().Format("2006-01-02"),
		logger:           logger.With("component", "coordinator"),
		subscribedP:      make(map[string]bool),
		subscribedK:      make(map[string]bool),
	}
	execEngine.SetRemainingNotional(edgeParams.RemainingNotional)
	return c
}

// SetSettler wires in the settlement resolver after construction, the way
// the teacher lets the strategy engine's journal be attached post-New.
// Left unset, completed boxes are simply never enqueued for resolution.
func (c *Coordinator) SetSettler(s Settler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settler = s
}

// SetMetrics wires in the Prometheus counters/gauges after construction.
func (c *Coordinator) SetMetrics(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// SetJournal wires in the event journal after construction. Left unset,
// leg fills and execution outcomes are simply never journaled.
func (c *Coordinator) SetJournal(j Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
}

// Run starts the coordinator's main loop with a 1-second ticker, the same
// cadence the teacher's Engine.Run uses.
func (c *Coordinator) Run(ctx context.Context) error {
	c.handleRollover(interval.Current(time.Now()))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	c.logger.Info("coordinator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	now := time.Now()
	cur := interval.Current(now)

	c.resetDailyIfNeeded(now)

	c.mu.Lock()
	rolled := cur != c.currentInterval
	c.mu.Unlock()
	if rolled {
		c.handleRollover(cur)
	}

	c.mu.Lock()
	shouldDiscover := time.Since(c.lastDiscovery) > c.cfg.DiscoveryInterval
	c.mu.Unlock()
	if shouldDiscover || interval.ShouldPrefetch(now, c.cfg.PrefetchWindow) {
		c.discover(ctx, now)
		c.mu.Lock()
		c.lastDiscovery = now
		c.mu.Unlock()
	}

	c.processInterval(ctx, now, cur)

	c.mu.Lock()
	shouldReconcile := time.Since(c.lastReconcile) > c.cfg.ReconcileInterval
	c.mu.Unlock()
	if shouldReconcile {
		c.runReconcile(ctx, now, cur)
		c.mu.Lock()
		c.lastReconcile = now
		c.mu.Unlock()
	}

	c.tickVolatility(ctx, now, cur)
}

// handleRollover resets per-interval state the way the teacher's
// cleanupMarket does when a market settles, generalized to the whole
// engine's notion of "current interval" instead of one ticker.
func (c *Coordinator) handleRollover(next interval.Key) {
	c.mu.Lock()
	prev := c.currentInterval
	c.currentInterval = next
	c.mu.Unlock()

	c.volManager.Reset()
	c.logger.Info("interval rollover", "previous", prev, "current", next)
}

// resetDailyIfNeeded restores the daily notional headroom and realized PnL
// counter at UTC-day boundaries. Without this, edge.Params.RemainingNotional
// only ever drains — capQty returns zero forever once the daily cap is
// exhausted — and the engine would never trade again after its first day.
func (c *Coordinator) resetDailyIfNeeded(now time.Time) {
	today := now.UTC().Format("2006-01-02")

	c.mu.Lock()
	if c.lastDailyReset == today {
		c.mu.Unlock()
		return
	}
	c.lastDailyReset = today
	c.dailyRealizedPnL = decimal.Zero
	c.mu.Unlock()

	c.edgeParams.RemainingNotional = c.dailyNotionalCap
	c.execEngine.SetRemainingNotional(c.dailyNotionalCap)
	c.logger.Info("daily notional cap and realized PnL reset", "cap", c.dailyNotionalCap)
}

// discover polls both venues for the current and (near rollover) next
// interval's market identifiers, merging results into the mapping store
// and subscribing each venue's orderbook feed exactly once per market, the
// way the teacher's discoverMarkets subscribes right after discovery.
func (c *Coordinator) discover(ctx context.Context, now time.Time) {
	targets := []interval.Key{interval.Current(now)}
	if interval.ShouldPrefetch(now, c.cfg.PrefetchWindow) {
		targets = append(targets, interval.Next(now))
	}

	for _, ivl := range targets {
		if c.discoverP != nil {
			vp, err := c.discoverP.DiscoverNext(ctx, ivl)
			if err != nil {
				c.logger.Warn("venue P discovery failed", "interval", ivl, "err", err)
			} else if vp.UpTokenID != "" || vp.DownTokenID != "" {
				c.mappings.SetP(ivl, vp, now)
				c.subscribeOnceP(vp)
			}
		}
		if c.discoverK != nil {
			vk, err := c.discoverK.DiscoverNext(ctx, ivl)
			if err != nil {
				c.logger.Warn("venue K discovery failed", "interval", ivl, "err", err)
			} else if vk.MarketTicker != "" {
				c.mappings.SetK(ivl, vk, now)
				c.subscribeOnceK(vk)
			}
		}
	}
}

func (c *Coordinator) subscribeOnceP(vp mapping.VenueP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, 2)
	for _, id := range []string{vp.UpTokenID, vp.DownTokenID} {
		if id != "" && !c.subscribedP[id] {
			ids = append(ids, id)
			c.subscribedP[id] = true
		}
	}
	if len(ids) == 0 || c.subP == nil {
		return
	}
	if err := c.subP.Subscribe(ids); err != nil {
		c.logger.Warn("venue P subscribe failed", "tokens", ids, "err", err)
	}
}

func (c *Coordinator) subscribeOnceK(vk mapping.VenueK) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vk.MarketTicker == "" || c.subscribedK[vk.MarketTicker] {
		return
	}
	c.subscribedK[vk.MarketTicker] = true
	if c.subK == nil {
		return
	}
	if err := c.subK.Subscribe([]string{vk.MarketTicker}); err != nil {
		c.logger.Warn("venue K subscribe failed", "ticker", vk.MarketTicker, "err", err)
	}
}

// processInterval evaluates the current interval's quotes for an
// opportunity and, if the risk guard allows it, hands it to execution.
func (c *Coordinator) processInterval(ctx context.Context, now time.Time, cur interval.Key) {
	m, ok := c.mappings.Current(now)
	if !ok || !m.Verified(c.cfg.RefTolerance) {
		return
	}

	qP, okP := c.quotes.CurrentP()
	qK, okK := c.quotes.CurrentK()
	if !okP || !okK || !qP.Valid() || !qK.Valid() {
		return
	}

	if c.volManager.ShouldHaltTrading(interval.MsUntilRollover(now)) {
		return
	}

	opp := edge.Evaluate(cur, qP, qK, c.edgeParams)
	if opp == nil {
		return
	}
	if c.metrics != nil {
		c.metrics.IncOpportunity(string(opp.Orientation))
	}

	book := c.tracker.BookFor(cur)
	quoteAge := now.Sub(qP.TsLocal)
	if age := now.Sub(qK.TsLocal); age > quoteAge {
		quoteAge = age
	}

	candidate := risk.Candidate{
		EdgeNet:          opp.EdgeNet,
		LegYESSize:       opp.LegYES.Size,
		LegNOSize:        opp.LegNO.Size,
		Notional:         opp.Cost.Mul(opp.Qty),
		OpenOrdersP:      c.tracker.OpenOrderCount(quote.VenueP),
		OpenOrdersK:      c.tracker.OpenOrderCount(quote.VenueK),
		MsUntilRollover:  interval.MsUntilRollover(now),
		QuoteAge:         quoteAge,
		SumYES:           book.YES.Qty,
		SumNO:            book.NO.Qty,
		DailyRealizedPnL: c.dailyRealizedPnL,
		Now:              now,
	}
	decision := c.guard.Evaluate(candidate)
	if !decision.Allow {
		c.logger.Debug("opportunity rejected", "reason", decision.Reason)
		return
	}

	result := c.execEngine.Execute(ctx, execution.Context{
		Opportunity: opp,
		QuoteP:      qP,
		QuoteK:      qK,
		Mapping:     m,
	})
	c.applyExecutionResult(cur, result)
}

// applyExecutionResult updates global risk/settlement/metrics/journal
// state from a completed execution attempt. Position-tracker bookkeeping
// itself happens inside internal/execution as each fill is obtained
// (entries and unwind/trim reductions alike), not here — this function
// only reads back the already-updated Record to report on it.
func (c *Coordinator) applyExecutionResult(ivl interval.Key, result execution.Result) {
	c.mu.Lock()
	settler := c.settler
	jr := c.journal
	c.mu.Unlock()

	if result.Record.LegAFill != nil && result.Record.LegBFill != nil {
		consumed := result.Record.LegAFill.Price.Add(result.Record.LegBFill.Price).Mul(result.Record.LegAFill.Qty)
		c.edgeParams.RemainingNotional = c.edgeParams.RemainingNotional.Sub(consumed)
		c.execEngine.SetRemainingNotional(c.edgeParams.RemainingNotional)

		if settler != nil {
			yesVenue, noVenue := quote.VenueP, quote.VenueK
			if sideFromRecord(result.Record, true) == "no" {
				yesVenue, noVenue = quote.VenueK, quote.VenueP
			}
			settler.Add(settlement.Pending{
				ExecutionID: result.Record.ID,
				Interval:    ivl,
				SettlesAt:   ivl.End,
				ExpectedPnL: result.Record.RealizedPnL,
				ActualCost:  consumed,
				Qty:         result.Record.LegAFill.Qty,
				YesVenue:    yesVenue,
				NoVenue:     noVenue,
				CompletedAt: result.Record.EndTs,
			})
		}
	}
	if result.Record.LegAFill != nil {
		if c.metrics != nil {
			c.metrics.IncLegFill("P", "a", sideFromRecord(result.Record, true))
		}
		if jr != nil {
			_ = jr.Log(journal.NewLegFill(result.Record.ID, ivl, "a", quote.VenueP, sideFromRecord(result.Record, true), *result.Record.LegAFill, c.cfg.DryRun))
		}
	}
	if result.Record.LegBFill != nil {
		if c.metrics != nil {
			c.metrics.IncLegFill("K", "b", sideFromRecord(result.Record, false))
		}
		if jr != nil {
			_ = jr.Log(journal.NewLegFill(result.Record.ID, ivl, "b", quote.VenueK, sideFromRecord(result.Record, false), *result.Record.LegBFill, c.cfg.DryRun))
		}
	}
	if jr != nil {
		_ = jr.Log(journal.NewExecutionOutcome(result.Record, c.cfg.DryRun))
	}

	c.mu.Lock()
	c.dailyRealizedPnL = c.dailyRealizedPnL.Add(result.Record.RealizedPnL)
	pnl := c.dailyRealizedPnL
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncExecution(string(result.Record.Status))
		pnlFloat, _ := pnl.Float64()
		c.metrics.SetRealizedPnL(pnlFloat)
	}

	if result.ShouldTriggerKillSwitch {
		c.guard.Kill("execution failure: " + safeErrString(result.Err))
		if c.metrics != nil {
			c.metrics.IncKillSwitchTrip()
		}
	} else if result.ShouldEnterCooldown {
		c.guard.BeginCooldown()
		if c.metrics != nil {
			c.metrics.IncCooldownEntered()
		}
	}

	c.reconciler.NoteExecutionEnd(time.Now())
}

func sideFromRecord(rec execution.ExecutionRecord, legA bool) string {
	if rec.Opportunity == nil {
		return ""
	}
	isPFirst := rec.Opportunity.Orientation == edge.YesFromP_NoFromK
	if legA == isPFirst {
		return "yes"
	}
	return "no"
}

func safeErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Coordinator) runReconcile(ctx context.Context, now time.Time, cur interval.Key) {
	m, ok := c.mappings.Current(now)
	if !ok {
		return
	}
	qP, _ := c.quotes.CurrentP()
	qK, _ := c.quotes.CurrentK()

	fee := c.edgeParams.Slippage.BufferPerLeg
	c.reconciler.Tick(ctx, m, now, qK.NoAsk.Price, qP.NoBid.Price, fee, interval.MsUntilRollover(now))
}

// tickVolatility feeds the exit manager one underlying-price observation
// per second, using the verified cross-venue reference price as the proxy
// for the BRTI tick file the teacher reads from.
func (c *Coordinator) tickVolatility(ctx context.Context, now time.Time, cur interval.Key) {
	m, ok := c.mappings.Current(now)
	if !ok || m.P.ReferencePrice <= 0 {
		return
	}

	book, hasBook := c.tracker.Get(cur)
	hasPositions := hasBook && (book.YES.Qty.IsPositive() || book.NO.Qty.IsPositive())

	refPrice := decimal.NewFromFloat(m.P.ReferencePrice)
	msUntilRollover := interval.MsUntilRollover(now)

	c.volManager.SetInterval(cur)
	c.volManager.OnTick(ctx, refPrice, msUntilRollover, hasPositions, func() []volatility.SellTarget {
		return c.buildSellTargets(cur, now)
	})
}

// buildSellTargets turns the current book's two legs into volatility.SellTarget
// candidates carrying their unrealized profitability, unsorted; beginSellingFirst
// ranks them before picking which leg to liquidate first.
func (c *Coordinator) buildSellTargets(ivl interval.Key, now time.Time) []volatility.SellTarget {
	book, ok := c.tracker.Get(ivl)
	if !ok {
		return nil
	}
	qP, _ := c.quotes.CurrentP()
	qK, _ := c.quotes.CurrentK()

	targets := make([]volatility.SellTarget, 0, 2)
	if book.YES.Qty.IsPositive() {
		targets = append(targets, sellTargetFor("yes", book.YES, bidFor(book.YES.Venue, "yes", qP, qK)))
	}
	if book.NO.Qty.IsPositive() {
		targets = append(targets, sellTargetFor("no", book.NO, bidFor(book.NO.Venue, "no", qP, qK)))
	}
	return targets
}

// bidFor reads the resting bid for side on whichever venue actually holds
// the leg, since leg A is always venue P and leg B always venue K but the
// yes/no side assignment flips with an opportunity's Orientation.
func bidFor(venue quote.Venue, side string, qP, qK quote.NormalizedQuote) decimal.Decimal {
	q := qP
	if venue == quote.VenueK {
		q = qK
	}
	if side == "yes" {
		return q.YesBid.Price
	}
	return q.NoBid.Price
}

func sellTargetFor(side string, leg position.Leg, bid decimal.Decimal) volatility.SellTarget {
	profitability := bid.Sub(leg.VWAPPrice)
	return volatility.SellTarget{
		Venue:         string(leg.Venue),
		Side:          side,
		Qty:           leg.Qty,
		EntryVWAP:     leg.VWAPPrice,
		CurrentBid:    bid,
		Profitability: profitability,
	}
}
