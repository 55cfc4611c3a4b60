// Package volatility implements the late-interval oscillation-triggered
// liquidation state machine. It generalizes the teacher's VolFilter — a
// rolling-stddev binary allow/block gate read from a BRTI tick file
// (internal/strategy/volatility.go) — from a simple threshold gate into
// the full crossing-count/range-threshold trigger and two-phase sell-down
// spec.md §4.J requires. The teacher's priceSample ring and StdDev become
// this package's reference-price/crossing-count bookkeeping; price safety
// is now a trigger condition instead of the only behavior.
package volatility

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/errs"
	"github.com/sdibella/boxarb/internal/interval"
)

// State is one of the five states in the exit manager's lifecycle.
type State string

const (
	StateIdle           State = "IDLE"
	StateMonitoring      State = "MONITORING"
	StateSellingFirst    State = "SELLING_FIRST"
	StateSellingSecond   State = "SELLING_SECOND"
	StateDone            State = "DONE"
)

// Config bundles the manager's tunables.
type Config struct {
	ActiveWindow          time.Duration // e.g. 7.5 minutes before rollover
	CrossingsToTrigger    int           // default 2
	RangeThresholdUSD     decimal.Decimal
	FailedTriggerCooldown time.Duration
	SecondLegTimeout      time.Duration
	SecondLegMinProfit    decimal.Decimal
	HaltWindow            time.Duration // e.g. 1 minute before rollover
}

// SellTarget is one candidate leg to liquidate.
type SellTarget struct {
	Venue         string
	Side          string
	Qty           decimal.Decimal
	MarketID      string
	EntryVWAP     decimal.Decimal
	CurrentBid    decimal.Decimal
	Profitability decimal.Decimal
	Failed        bool
}

// Seller is the port to a venue's "sell the filled leg at the best bid"
// operation, implemented in cmd/bot by a dispatcher over the venue
// adapters' SellAtBid.
type Seller interface {
	SellAtBid(ctx context.Context, venue, side string, qty decimal.Decimal) (price decimal.Decimal, err error)
}

// SellCompletion describes one attempted sell-down leg, successful or
// not, so a caller can journal it without this package importing
// internal/journal directly.
type SellCompletion struct {
	Interval interval.Key
	Stage    string // "first" or "second"
	Venue    string
	Side     string
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Err      error
}

// Manager runs the oscillation state machine for one interval.
type Manager struct {
	cfg    Config
	seller Seller
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	currentInterval  interval.Key
	referencePrice   decimal.Decimal
	minPrice         decimal.Decimal
	maxPrice         decimal.Decimal
	crossings        int
	lastSide         int // -1 below reference, +1 above, 0 unset
	failedTrigger    bool
	cooldownUntil    time.Time
	failedPairs      map[string]bool
	firstTarget      *SellTarget
	secondTarget     *SellTarget
	secondDeadline   time.Time
	onSellComplete   func(SellCompletion)
}

// New creates a Manager in the IDLE state.
func New(cfg Config, seller Seller, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		seller:      seller,
		logger:      logger.With("component", "volatility"),
		state:       StateIdle,
		failedPairs: make(map[string]bool),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetOnSellComplete wires a callback invoked after every sell-down
// attempt (success or failure), letting the caller append a journal
// event without this package depending on internal/journal.
func (m *Manager) SetOnSellComplete(fn func(SellCompletion)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSellComplete = fn
}

// SetInterval records which interval's positions this manager is
// currently watching, for SellCompletion events — the coordinator calls
// this once per tick alongside OnTick.
func (m *Manager) SetInterval(ivl interval.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentInterval = ivl
}

// Reset returns the manager to IDLE, clearing all per-interval bookkeeping,
// called at interval rollover (spec.md §4.J: "DONE → IDLE").
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.referencePrice = decimal.Zero
	m.minPrice = decimal.Zero
	m.maxPrice = decimal.Zero
	m.crossings = 0
	m.lastSide = 0
	m.failedTrigger = false
	m.failedPairs = make(map[string]bool)
	m.firstTarget = nil
	m.secondTarget = nil
}

// VolatilityExitActive implements reconcile.Gate: true while the manager is
// in MONITORING, SELLING_FIRST or SELLING_SECOND (false in IDLE and DONE),
// so the reconciler defers to the liquidation.
func (m *Manager) VolatilityExitActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle && m.state != StateDone
}

// ShouldHaltTrading is a read-only gate on new executions: true once the
// trigger conditions are met and the interval is within HaltWindow.
func (m *Manager) ShouldHaltTrading(msUntilRollover int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	triggered := m.crossings >= m.cfg.CrossingsToTrigger && m.maxPrice.Sub(m.minPrice).GreaterThanOrEqual(m.cfg.RangeThresholdUSD)
	if m.state == StateIdle || !triggered {
		return false
	}
	return time.Duration(msUntilRollover)*time.Millisecond <= m.cfg.HaltWindow
}

// OnTick feeds one underlying-price observation and any currently open
// positions, advancing the state machine per spec.md §4.J.
func (m *Manager) OnTick(ctx context.Context, price decimal.Decimal, msUntilRollover int64, hasPositions bool, buildTargets func() []SellTarget) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateIdle:
		m.tryEnterMonitoring(price, msUntilRollover, hasPositions)
	case StateMonitoring:
		m.updateAndCheckTrigger(price, buildTargets)
	case StateSellingFirst:
		m.runSellingFirst(ctx)
	case StateSellingSecond:
		m.runSellingSecond(ctx)
	}
}

func (m *Manager) tryEnterMonitoring(price decimal.Decimal, msUntilRollover int64, hasPositions bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !hasPositions {
		return
	}
	if time.Duration(msUntilRollover)*time.Millisecond > m.cfg.ActiveWindow {
		return
	}
	if time.Now().Before(m.cooldownUntil) {
		return
	}
	m.referencePrice = price
	m.minPrice = price
	m.maxPrice = price
	m.crossings = 0
	m.lastSide = 0
	m.state = StateMonitoring
}

func (m *Manager) updateAndCheckTrigger(price decimal.Decimal, buildTargets func() []SellTarget) {
	m.mu.Lock()
	if price.LessThan(m.minPrice) {
		m.minPrice = price
	}
	if price.GreaterThan(m.maxPrice) {
		m.maxPrice = price
	}

	side := 0
	if price.GreaterThan(m.referencePrice) {
		side = 1
	} else if price.LessThan(m.referencePrice) {
		side = -1
	}
	if side != 0 && m.lastSide != 0 && side != m.lastSide {
		m.crossings++
	}
	if side != 0 {
		m.lastSide = side
	}

	inCooldown := time.Now().Before(m.cooldownUntil)
	triggered := !inCooldown && m.crossings >= m.cfg.CrossingsToTrigger && m.maxPrice.Sub(m.minPrice).GreaterThanOrEqual(m.cfg.RangeThresholdUSD)
	m.mu.Unlock()

	if !triggered {
		return
	}

	targets := buildTargets()
	m.beginSellingFirst(targets)
}

func (m *Manager) beginSellingFirst(targets []SellTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := make([]SellTarget, 0, len(targets))
	for _, t := range targets {
		if !m.failedPairs[t.Venue+":"+t.Side] {
			available = append(available, t)
		}
	}
	sortByProfitabilityDesc(available)

	if len(available) == 0 {
		m.enterFailedCooldownLocked()
		return
	}

	first := available[0]
	m.firstTarget = &first
	if len(available) > 1 {
		second := available[1]
		m.secondTarget = &second
	}
	m.state = StateSellingFirst
}

func (m *Manager) runSellingFirst(ctx context.Context) {
	m.mu.Lock()
	target := m.firstTarget
	m.mu.Unlock()
	if target == nil {
		m.mu.Lock()
		m.enterFailedCooldownLocked()
		m.mu.Unlock()
		return
	}

	price, err := m.seller.SellAtBid(ctx, target.Venue, target.Side, target.Qty)
	m.notifySellComplete("first", *target, price, err)
	if err != nil {
		m.handleSellFailure(*target, err)
		m.mu.Lock()
		m.firstTarget = nil
		// Promote the second target, if any, to first.
		if m.secondTarget != nil {
			next := *m.secondTarget
			m.firstTarget = &next
			m.secondTarget = nil
		} else {
			m.enterFailedCooldownLocked()
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.firstTarget = nil
	m.secondDeadline = time.Now().Add(m.cfg.SecondLegTimeout)
	if m.secondTarget != nil {
		m.state = StateSellingSecond
	} else {
		m.state = StateDone
	}
	m.mu.Unlock()
}

// notifySellComplete invokes the onSellComplete hook, if set, with the
// current interval — never called while m.mu is held.
func (m *Manager) notifySellComplete(stage string, t SellTarget, price decimal.Decimal, err error) {
	m.mu.Lock()
	fn := m.onSellComplete
	ivl := m.currentInterval
	m.mu.Unlock()
	if fn == nil {
		return
	}
	fn(SellCompletion{Interval: ivl, Stage: stage, Venue: t.Venue, Side: t.Side, Price: price, Qty: t.Qty, Err: err})
}

func (m *Manager) runSellingSecond(ctx context.Context) {
	m.mu.Lock()
	target := m.secondTarget
	deadline := m.secondDeadline
	m.mu.Unlock()
	if target == nil {
		m.mu.Lock()
		m.state = StateDone
		m.mu.Unlock()
		return
	}

	crossedThreshold := target.Profitability.GreaterThanOrEqual(m.cfg.SecondLegMinProfit)
	timedOut := time.Now().After(deadline)
	if !crossedThreshold && !timedOut {
		return
	}

	price, err := m.seller.SellAtBid(ctx, target.Venue, target.Side, target.Qty)
	m.notifySellComplete("second", *target, price, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.handleSellFailureLocked(*target, err)
	}
	m.secondTarget = nil
	m.state = StateDone
}

func (m *Manager) handleSellFailure(t SellTarget, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleSellFailureLocked(t, err)
}

// handleSellFailureLocked classifies a venue error: permanent failures
// retire the (venue, side) pair for the rest of the interval; any other
// failure leaves the pair eligible for a later trigger. A failed sell is
// not retried here, and the Seller port takes no price, so no re-attempt
// at a worse price is made.
func (m *Manager) handleSellFailureLocked(t SellTarget, err error) {
	if errs.Classify(err) == errs.KindPermanent {
		m.failedPairs[t.Venue+":"+t.Side] = true
	}
	m.logger.Warn("volatility sell failed", "venue", t.Venue, "side", t.Side, "err", err)
}

func (m *Manager) enterFailedCooldownLocked() {
	m.failedTrigger = true
	m.cooldownUntil = time.Now().Add(m.cfg.FailedTriggerCooldown)
	m.state = StateMonitoring
}

func sortByProfitabilityDesc(targets []SellTarget) {
	for i := 1; i < len(targets); i++ {
		for j := i; j > 0 && targets[j].Profitability.GreaterThan(targets[j-1].Profitability); j-- {
			targets[j], targets[j-1] = targets[j-1], targets[j]
		}
	}
}
