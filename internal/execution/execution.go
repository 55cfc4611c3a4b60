// Package execution implements the two-phase sequential leg submission
// that is the core of a box trade: leg A (venue P, IOC) then leg B (venue
// K, FOK), with timeout-then-verify on leg B and unwind-on-failure. It
// generalizes the teacher's placeOrder/checkOrderStatus single-venue order
// lifecycle (internal/strategy/strategy.go) into the two-venue, two-phase
// state machine spec.md §4.H requires — this is the one place the design
// forbids guessing, so the phase ordering, failure table, and state names
// below follow spec.md §4.H exactly.
package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/edge"
	"github.com/sdibella/boxarb/internal/errs"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/planner"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/risk"
)

// Status is one of the monotonic states an ExecutionRecord passes through.
type Status string

const (
	StatusPending        Status = "pending"
	StatusLegASubmitting Status = "leg_a_submitting"
	StatusLegAFailed     Status = "leg_a_failed"
	StatusLegBSubmitting Status = "leg_b_submitting"
	StatusSuccess        Status = "success"
	StatusUnwinding      Status = "unwinding"
	StatusUnwound        Status = "unwound"
	StatusAborted        Status = "aborted"
)

// Fill is what a venue client returns for a filled (or partially filled)
// order.
type Fill struct {
	OrderID string
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Fee     decimal.Decimal
	At      time.Time
}

// OrderState is the result of a cancel-then-verify status check.
type OrderState struct {
	Filled bool
	Fill   Fill
}

// VenueA is the port to venue P (IOC-capable, partial fills, on-chain).
type VenueA interface {
	SubmitIOC(ctx context.Context, leg planner.LegAParams) (Fill, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
	SellAtBid(ctx context.Context, side string, qty decimal.Decimal) (Fill, error)
}

// VenueB is the port to venue K (FOK, off-chain, faster).
type VenueB interface {
	SubmitFOK(ctx context.Context, leg planner.LegBParams) (Fill, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
}

// ExecutionRecord is the append-mostly record of one attempt.
type ExecutionRecord struct {
	ID          string
	Opportunity *edge.Opportunity
	Status      Status
	LegAFill    *Fill
	LegBFill    *Fill
	UnwindFill  *Fill
	StartTs     time.Time
	EndTs       time.Time
	RealizedPnL decimal.Decimal
}

// Context bundles everything one execute call needs.
type Context struct {
	Opportunity *edge.Opportunity
	QuoteP      quote.NormalizedQuote
	QuoteK      quote.NormalizedQuote
	Mapping     mapping.Mapping
	DryRun      bool
}

// Result is consumed by the coordinator to update global risk state.
type Result struct {
	Success                bool
	Record                 ExecutionRecord
	ShouldEnterCooldown     bool
	ShouldTriggerKillSwitch bool
	Err                     error
}

// Config holds the timeouts and floors the engine needs.
type Config struct {
	LegOrderTimeout     time.Duration
	MinPartialFillQty   decimal.Decimal
	UnwindRetries       int
	UnwindRetryDelay    time.Duration
	MinQtyP             func(price decimal.Decimal) decimal.Decimal
}

// Engine runs executions one at a time under Guard's busy lock, per
// spec.md §5's single-serialization-point model.
type Engine struct {
	cfg      Config
	guard    *risk.Guard
	tracker  *position.Tracker
	venueA   VenueA
	venueB   VenueB
	logger   *slog.Logger

	mu                sync.Mutex
	remainingNotional decimal.Decimal
	totalNotionalOpen decimal.Decimal
}

// New creates an Engine.
func New(cfg Config, guard *risk.Guard, tracker *position.Tracker, venueA VenueA, venueB VenueB, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		guard:   guard,
		tracker: tracker,
		venueA:  venueA,
		venueB:  venueB,
		logger:  logger.With("component", "execution"),
	}
}

// SetRemainingNotional updates the headroom pre-flight caps qty against.
func (e *Engine) SetRemainingNotional(n decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remainingNotional = n
}

// Execute runs the full pre-flight plus phase A/B state machine.
func (e *Engine) Execute(ctx context.Context, ec Context) Result {
	rec := ExecutionRecord{
		ID:          ec.Opportunity.Reason + "-" + ec.Opportunity.Interval.String(),
		Opportunity: ec.Opportunity,
		Status:      StatusPending,
		StartTs:     time.Now(),
	}

	if !ec.Mapping.Complete() {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, errPreconditionMappingIncomplete)}
	}
	if e.guard.IsKillSwitchActive() {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, errPreconditionKillSwitch)}
	}
	if e.guard.IsInCooldown() {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, errPreconditionCooldown)}
	}

	if !e.guard.TryAcquire() {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, errPreconditionDeferred)}
	}
	defer e.guard.Release()

	qty := e.cappedQty(ec.Opportunity)
	if qty.LessThanOrEqual(decimal.Zero) {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, errPreconditionInsufficientNotional)}
	}

	legA, legB, err := planner.Plan(ec.Opportunity, ec.Mapping)
	if err != nil {
		rec.Status = StatusAborted
		return Result{Record: rec, Err: errs.Wrap(errs.KindPrecondition, err)}
	}
	legA.Size = qty
	legB.Size = qty

	if ec.DryRun {
		return e.executeDryRun(rec, ec.Opportunity, legA, legB)
	}

	return e.executeLive(ctx, rec, ec.Opportunity, legA, legB)
}

func (e *Engine) cappedQty(opp *edge.Opportunity) decimal.Decimal {
	e.mu.Lock()
	headroom := e.remainingNotional
	e.mu.Unlock()

	qty := opp.Qty
	if opp.Cost.IsPositive() && headroom.IsPositive() {
		fromHeadroom := headroom.Div(opp.Cost)
		if fromHeadroom.LessThan(qty) {
			qty = fromHeadroom
		}
	}
	if e.cfg.MinQtyP != nil {
		floor := e.cfg.MinQtyP(opp.Cost)
		if qty.LessThan(floor) {
			return decimal.Zero
		}
	}
	return qty
}

func (e *Engine) executeDryRun(rec ExecutionRecord, opp *edge.Opportunity, legA planner.LegAParams, legB planner.LegBParams) Result {
	now := time.Now()
	fillA := Fill{OrderID: "dryrun-a", Price: legA.Price, Qty: legA.Size, At: now}
	fillB := Fill{OrderID: "dryrun-b", Price: legB.Price, Qty: legB.Size, At: now}
	rec.LegAFill = &fillA
	rec.LegBFill = &fillB
	rec.Status = StatusSuccess
	rec.EndTs = now
	rec.RealizedPnL = computeExpectedPnL(fillA, fillB)
	return Result{Success: true, Record: rec}
}

// executeLive implements phases A and B of spec.md §4.H. It is also the
// only place position.Tracker is written to for live trading: every fill
// this function obtains (entry or reduction) is recorded against ivl
// before Execute returns, so the tracker reflects the net position change
// immediately rather than on some later, possibly-skipped coordinator pass.
func (e *Engine) executeLive(ctx context.Context, rec ExecutionRecord, opp *edge.Opportunity, legA planner.LegAParams, legB planner.LegBParams) Result {
	ivl := opp.Interval
	rec.Status = StatusLegASubmitting

	e.tracker.OpenOrder(position.OpenOrder{OrderID: legA.ClientOrderID, Venue: quote.VenueP})
	actx, cancel := context.WithTimeout(ctx, e.cfg.LegOrderTimeout)
	fillA, errA := e.venueA.SubmitIOC(actx, legA)
	cancel()
	e.tracker.RemoveOpenOrder(legA.ClientOrderID)

	if errA != nil {
		rec.Status = StatusLegAFailed
		rec.EndTs = time.Now()
		kind := errs.Classify(errA)
		permanent := kind == errs.KindPermanent
		return Result{
			Record:                  rec,
			ShouldEnterCooldown:     permanent,
			ShouldTriggerKillSwitch: permanent,
			Err:                     errA,
		}
	}

	rec.LegAFill = &fillA
	e.recordEntry(ivl, quote.VenueP, legA.Side, fillA)

	qA := fillA.Qty
	if qA.LessThan(e.cfg.MinPartialFillQty) {
		// Dust fill: abandon leg B, unwind immediately.
		unwindFill, unwErr := e.unwind(ctx, ivl, legA.Side, qA)
		rec.UnwindFill = unwindFill
		rec.Status = StatusUnwound
		rec.EndTs = time.Now()
		return Result{
			Record:              rec,
			ShouldEnterCooldown: true,
			Err:                 unwErr,
		}
	}

	legB.Size = qA
	rec.Status = StatusLegBSubmitting

	e.tracker.OpenOrder(position.OpenOrder{OrderID: legB.ClientOrderID, Venue: quote.VenueK})
	bctx, bcancel := context.WithTimeout(ctx, e.cfg.LegOrderTimeout)
	fillB, errB := e.venueB.SubmitFOK(bctx, legB)
	bcancel()
	e.tracker.RemoveOpenOrder(legB.ClientOrderID)

	if errB != nil {
		// Timeout case: cancel-then-verify before declaring failure.
		state, verifyErr := e.cancelThenVerify(ctx, legB, errB)
		if verifyErr == nil && state.Filled {
			fillB = state.Fill
		} else {
			return e.failLegB(rec, ivl, legA, fillA, errB)
		}
	}

	rec.LegBFill = &fillB
	e.recordEntry(ivl, quote.VenueK, legB.Side, fillB)
	rec.Status = StatusSuccess
	rec.EndTs = time.Now()
	rec.RealizedPnL = computeExpectedPnL(fillA, fillB)

	if fillA.Qty.GreaterThan(fillB.Qty) {
		go e.trimExcess(context.Background(), ivl, legA.Side, fillA.Qty.Sub(fillB.Qty))
	}

	return Result{Success: true, Record: rec}
}

// recordEntry applies a freshly-obtained leg fill to the tracker's VWAP
// cost basis.
func (e *Engine) recordEntry(ivl interval.Key, venue quote.Venue, side string, fill Fill) {
	e.tracker.Record(ivl, position.Fill{
		Venue:     venue,
		Side:      side,
		Price:     fill.Price,
		Qty:       fill.Qty,
		Fee:       fill.Fee,
		Timestamp: fill.At,
		OrderID:   fill.OrderID,
	})
}

// cancelThenVerify attempts to cancel a timed-out leg B order, then checks
// whether the venue actually filled it before our local timeout expired —
// the pattern spec.md §9 calls essential to avoid leaking exposure.
func (e *Engine) cancelThenVerify(ctx context.Context, legB planner.LegBParams, submitErr error) (OrderState, error) {
	_ = e.venueB.Cancel(ctx, legB.ClientOrderID)
	return e.venueB.GetOrderStatus(ctx, legB.ClientOrderID)
}

func (e *Engine) failLegB(rec ExecutionRecord, ivl interval.Key, legA planner.LegAParams, fillA Fill, errB error) Result {
	rec.Status = StatusUnwinding
	unwindFill, unwErr := e.unwind(context.Background(), ivl, legA.Side, fillA.Qty)
	rec.UnwindFill = unwindFill
	rec.EndTs = time.Now()

	if unwindFill != nil {
		rec.Status = StatusUnwound
		rec.RealizedPnL = fillA.Price.Sub(unwindFill.Price).Mul(fillA.Qty).Neg()
	}

	kind := errs.Classify(errB)
	killSwitch := unwErr != nil || kind == errs.KindPermanent
	return Result{
		Record:                  rec,
		ShouldEnterCooldown:     true,
		ShouldTriggerKillSwitch: killSwitch,
		Err:                     errB,
	}
}

// unwind sells the filled leg-A position at the current bid, retrying
// transient failures up to cfg.UnwindRetries times. A successful sell
// reduces the tracker's position at its pool-average cost immediately —
// Testable Property 4 requires the position to change by q_A - q_unwind
// by the time Execute returns, not on some later coordinator pass.
func (e *Engine) unwind(ctx context.Context, ivl interval.Key, side string, qty decimal.Decimal) (*Fill, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.UnwindRetries; attempt++ {
		fill, err := e.venueA.SellAtBid(ctx, side, qty)
		if err == nil {
			e.tracker.RecordUnwind(ivl, position.Fill{
				Venue:     quote.VenueP,
				Side:      side,
				Price:     fill.Price,
				Qty:       fill.Qty,
				Fee:       fill.Fee,
				Timestamp: fill.At,
				OrderID:   fill.OrderID,
			})
			return &fill, nil
		}
		lastErr = err
		if errs.Classify(err) != errs.KindTransient {
			break
		}
		time.Sleep(e.cfg.UnwindRetryDelay)
	}
	e.logger.Error("unwind failed after retries", "side", side, "qty", qty, "err", lastErr)
	return nil, lastErr
}

// trimExcess asynchronously sells venue P's over-fill; its outcome does
// not gate execution completion, per spec.md §4.H. Brackets itself with a
// synthetic, Trim-tagged OpenOrder (never sent to any venue API, just
// tracker bookkeeping) so it's excluded from OpenOrderCount's cap while
// still visible for diagnostics, and reduces the tracker on success since
// this is the one unwind path applyExecutionResult can never observe.
func (e *Engine) trimExcess(ctx context.Context, ivl interval.Key, side string, qty decimal.Decimal) {
	orderID := uuid.NewString()
	e.tracker.OpenOrder(position.OpenOrder{OrderID: orderID, Venue: quote.VenueP, Trim: true})
	defer e.tracker.RemoveOpenOrder(orderID)

	fill, err := e.venueA.SellAtBid(ctx, side, qty)
	if err != nil {
		e.logger.Warn("trim sell failed", "side", side, "qty", qty, "err", err)
		return
	}
	e.tracker.RecordUnwind(ivl, position.Fill{
		Venue:     quote.VenueP,
		Side:      side,
		Price:     fill.Price,
		Qty:       fill.Qty,
		Fee:       fill.Fee,
		Timestamp: fill.At,
		OrderID:   fill.OrderID,
	})
}

func computeExpectedPnL(fillA, fillB Fill) decimal.Decimal {
	qFilled := fillA.Qty
	if fillB.Qty.LessThan(qFilled) {
		qFilled = fillB.Qty
	}
	cost := fillA.Price.Mul(fillA.Qty).Add(fillB.Price.Mul(fillB.Qty))
	fees := fillA.Fee.Add(fillB.Fee)
	return decimal.NewFromInt(1).Mul(qFilled).Sub(cost).Sub(fees)
}
