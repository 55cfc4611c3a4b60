// Package reconcile runs a periodic tick that reconciles the local
// position tracker against venue-reported truth and plans corrective
// action on mismatch. It generalizes the teacher's sequential
// reconcilePositions (one GetPositions call, one GetFills call, against a
// single venue) into a two-venue reconciliation that fetches both venues
// concurrently with golang.org/x/sync/errgroup, since there is no ordering
// dependency between the two reads.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/risk"
)

// VenuePositions is what each venue reports for one interval's box.
type VenuePositions struct {
	YesQty decimal.Decimal
	NoQty  decimal.Decimal
}

// CorrectiveAction is what the reconciler decided to do about an
// imbalance, for logging/execution handoff.
type CorrectiveAction struct {
	Kind        string // "complete" or "unwind"
	Side        string // side to buy (complete) or sell (unwind)
	Qty         decimal.Decimal
	ExpectedPnL decimal.Decimal
}

// toleranceK and toleranceP are the venue-specific mismatch tolerances
// from spec.md §4.I: integer contracts on K, fractional tokens on P.
var (
	toleranceK = decimal.Zero
	toleranceP = decimal.NewFromFloat(0.01)
)

// largeMismatch is the |diff| >= 1.0 threshold logged as a warning.
var largeMismatch = decimal.NewFromInt(1)

// balanceTolerance is the fee-rounding tolerance: a box whose imbalance is
// below it is considered balanced (spec.md Testable Property 3).
var balanceTolerance = decimal.NewFromInt(1)

// Config bundles the reconciler's tunables.
type Config struct {
	TickInterval       time.Duration
	PostExecutionGrace time.Duration
	MinMsUntilRollover int64
}

// Gate lets the reconciler ask the coordinator whether a volatility exit
// is currently active, without importing internal/volatility directly
// (avoids the cyclic-singleton pattern spec.md §9 flags for redesign).
type Gate interface {
	VolatilityExitActive() bool
}

// CorrectiveExecutor submits the IOC corrective order under the shared
// busy lock and reports whether it filled.
type CorrectiveExecutor interface {
	ExecuteCorrective(ctx context.Context, ivl mapping.Mapping, action CorrectiveAction) (filled bool, err error)
}

// Reconciler runs the periodic tick.
type Reconciler struct {
	cfg      Config
	guard    *risk.Guard
	tracker  *position.Tracker
	gate     Gate
	executor CorrectiveExecutor
	logger   *slog.Logger

	readP func(ctx context.Context) (VenuePositions, error)
	readK func(ctx context.Context) (VenuePositions, error)

	lastExecutionEnd time.Time
}

// New creates a Reconciler. readP/readK perform the actual venue position
// fetch (the concrete venuep/venuek clients are wired in at the call
// site, keeping this package free of venue-specific imports).
func New(cfg Config, guard *risk.Guard, tracker *position.Tracker, gate Gate, executor CorrectiveExecutor, readP, readK func(ctx context.Context) (VenuePositions, error), logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		guard:    guard,
		tracker:  tracker,
		gate:     gate,
		executor: executor,
		readP:    readP,
		readK:    readK,
		logger:   logger.With("component", "reconcile"),
	}
}

// NoteExecutionEnd records when the last execution finished, so Tick can
// skip the post-execution grace period while on-chain balances settle.
func (r *Reconciler) NoteExecutionEnd(at time.Time) {
	r.lastExecutionEnd = at
}

// Tick runs one reconciliation pass. currentMapping may be the zero value
// if no mapping exists yet, in which case Tick is a no-op per step 1.
func (r *Reconciler) Tick(ctx context.Context, currentMapping mapping.Mapping, now time.Time, askMissingSide, bidExcessSide, fee decimal.Decimal, msUntilRollover int64) {
	if !currentMapping.Complete() {
		return
	}
	if r.gate != nil && r.gate.VolatilityExitActive() {
		return
	}
	if now.Sub(r.lastExecutionEnd) < r.cfg.PostExecutionGrace {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	var posP, posK VenuePositions
	g.Go(func() error {
		p, err := r.readP(gctx)
		if err != nil {
			return err
		}
		posP = p
		return nil
	})
	g.Go(func() error {
		k, err := r.readK(gctx)
		if err != nil {
			return err
		}
		posK = k
		return nil
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("reconcile tick: venue read failed", "err", err)
		return
	}

	book := r.tracker.BookFor(currentMapping.Interval)

	r.overrideIfMismatched(book, quote.VenueP, posP, toleranceP)
	r.overrideIfMismatched(book, quote.VenueK, posK, toleranceK)

	if book.Balance().LessThan(balanceTolerance) {
		return
	}

	action := PlanCorrective(book, askMissingSide, bidExcessSide, fee, msUntilRollover, r.cfg.MinMsUntilRollover)

	if action.Kind == "complete" && r.guard.IsKillSwitchActive() {
		// Kill switch blocks completing (buys) but never blocks unwinding.
		return
	}
	if !r.guard.TryAcquire() {
		return // retry next tick
	}
	defer r.guard.Release()

	if r.executor == nil {
		return
	}
	filled, err := r.executor.ExecuteCorrective(ctx, mapping.Mapping{Interval: currentMapping.Interval}, action)
	if err != nil {
		r.logger.Warn("corrective order failed", "action", action.Kind, "err", err)
		return
	}
	if filled {
		r.guard.BeginCooldown()
	}
}

// overrideIfMismatched applies one venue's report to the book whenever it
// differs from the tracker by more than tol (spec.md §4.I step 3). A leg is
// overridden only if it is held on that venue, or is empty and the venue
// reports a position on it; legs held on the other venue are left alone.
func (r *Reconciler) overrideIfMismatched(book *position.Book, venue quote.Venue, reported VenuePositions, tol decimal.Decimal) {
	diffYes := book.YES.Qty.Sub(reported.YesQty).Abs()
	diffNo := book.NO.Qty.Sub(reported.NoQty).Abs()

	if diffYes.GreaterThan(tol) && (book.YES.Venue == venue || book.YES.Venue == "" && reported.YesQty.IsPositive()) {
		if diffYes.GreaterThanOrEqual(largeMismatch) {
			r.logger.Warn("large position mismatch on YES leg", "diff", diffYes)
		}
		book.YES.Qty = reported.YesQty
		book.YES.Venue = venue
	}
	if diffNo.GreaterThan(tol) && (book.NO.Venue == venue || book.NO.Venue == "" && reported.NoQty.IsPositive()) {
		if diffNo.GreaterThanOrEqual(largeMismatch) {
			r.logger.Warn("large position mismatch on NO leg", "diff", diffNo)
		}
		book.NO.Qty = reported.NoQty
		book.NO.Venue = venue
	}
}

// PlanCorrective decides complete-vs-unwind for an unbalanced book,
// discounting complete's expected PnL as settlement approaches (DESIGN.md
// Open Question #2) before comparing to unwind's recovery.
func PlanCorrective(book *position.Book, askMissingSide, bidExcessSide decimal.Decimal, fee decimal.Decimal, msUntilRollover, minMsUntilRollover int64) CorrectiveAction {
	imbalance := book.YES.Qty.Sub(book.NO.Qty)
	qty := imbalance.Abs()

	var missingSide, excessSide string
	if imbalance.IsPositive() {
		missingSide, excessSide = "no", "yes"
	} else {
		missingSide, excessSide = "yes", "no"
	}

	completePnL := decimal.NewFromInt(1).Sub(askMissingSide).Mul(qty).Sub(fee)
	completePnL = completePnL.Mul(settlementDiscount(msUntilRollover, minMsUntilRollover))

	unwindRecovery := bidExcessSide.Mul(qty).Sub(fee)

	if completePnL.GreaterThan(unwindRecovery) {
		return CorrectiveAction{Kind: "complete", Side: missingSide, Qty: qty, ExpectedPnL: completePnL}
	}
	return CorrectiveAction{Kind: "unwind", Side: excessSide, Qty: qty, ExpectedPnL: unwindRecovery}
}

// settlementDiscount linearly decays from 1.0 to 0.5 over the last
// minMsUntilRollover window before close (DESIGN.md Open Question #2).
func settlementDiscount(msUntilRollover, minMsUntilRollover int64) decimal.Decimal {
	if minMsUntilRollover <= 0 || msUntilRollover >= minMsUntilRollover {
		return decimal.NewFromInt(1)
	}
	if msUntilRollover <= 0 {
		return decimal.NewFromFloat(0.5)
	}
	frac := decimal.NewFromInt(msUntilRollover).Div(decimal.NewFromInt(minMsUntilRollover))
	return decimal.NewFromFloat(0.5).Add(decimal.NewFromFloat(0.5).Mul(frac))
}
