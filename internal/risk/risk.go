// Package risk evaluates every candidate trade against a fixed order of
// guards before it reaches internal/execution, and owns the busy lock that
// serializes trade attempts. It generalizes 0xtitan6-polymarket-mm's
// risk.Manager — a per-market/global exposure cap with a rapid-price-
// movement kill switch for a market-making portfolio — into the guard set
// a box-arbitrage engine needs: edge floor, size floor, cooldown, kill
// switch, daily-loss cap, notional cap, per-venue open-order bound,
// rollover proximity, quote staleness, and position-balance.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config bundles the guard thresholds. Zero-value fields disable the
// corresponding check (a cap of zero never rejects on a decimal.Decimal
// comparison; explicit flags are used for the boolean-style checks below).
// MaxPositionImbalance is the exception: zero falls back to
// DefaultMaxPositionImbalance.
type Config struct {
	MinEdgeNet        decimal.Decimal
	MinLegSize        decimal.Decimal
	Cooldown          time.Duration
	CooldownAfterKill time.Duration
	MaxDailyLoss      decimal.Decimal
	MaxNotional       decimal.Decimal
	MaxOpenOrdersP    int
	MaxOpenOrdersK    int
	MinMsUntilRollover int64
	MaxQuoteAge       time.Duration
	MaxPositionImbalance decimal.Decimal // Testable Property: |sum_yes - sum_no| > 1.0 rejects
}

// DefaultMaxPositionImbalance is spec.md's box-balance threshold.
var DefaultMaxPositionImbalance = decimal.NewFromInt(1)

// Candidate is everything a Guard needs to evaluate one trade attempt.
type Candidate struct {
	EdgeNet           decimal.Decimal
	LegYESSize        decimal.Decimal
	LegNOSize         decimal.Decimal
	Notional          decimal.Decimal
	OpenOrdersP       int
	OpenOrdersK       int
	MsUntilRollover   int64
	QuoteAge          time.Duration
	SumYES            decimal.Decimal
	SumNO             decimal.Decimal
	DailyRealizedPnL  decimal.Decimal
	DailyUnrealizedPnL decimal.Decimal
	TotalNotionalOpen decimal.Decimal
	Now               time.Time
}

// Decision is the Guard's verdict: Allow is false whenever any check
// rejects, and Reason names the first one that did (guards short-circuit
// in the fixed order spec.md §4.F requires).
type Decision struct {
	Allow  bool
	Reason string
}

// KillSignal mirrors the teacher's KillSignal shape but without a
// per-market scope: this engine's guard set is global, one interval at a
// time, per spec.md §5's single-serialization-point design.
type KillSignal struct {
	Reason string
	At     time.Time
}

// Guard is the mutex-guarded risk state plus the busy lock. Config is
// read-only after construction; everything else is protected by mu.
type Guard struct {
	cfg    Config
	logger *slog.Logger

	mu                sync.Mutex
	killActive        bool
	killUntil         time.Time
	cooldownUntil     time.Time
	busy              bool
	killCh            chan KillSignal
}

// New creates a Guard.
func New(cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
		killCh: make(chan KillSignal, 4),
	}
}

// TryAcquire is the busy lock: non-blocking, returns false if a trade
// attempt is already in flight. Exactly one caller may hold it at a time,
// per spec.md §5's cooperative-single-thread execution model.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// Release frees the busy lock. Safe to call even if not held.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
}

// IsBusy reports whether a trade attempt currently holds the busy lock.
func (g *Guard) IsBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// IsKillSwitchActive reports whether the kill switch is currently engaged,
// clearing it in place if the cooldown has expired.
func (g *Guard) IsKillSwitchActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitchActiveLocked()
}

func (g *Guard) killSwitchActiveLocked() bool {
	if !g.killActive {
		return false
	}
	if time.Now().After(g.killUntil) {
		g.killActive = false
		g.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// Kill engages the kill switch for CooldownAfterKill and emits a
// KillSignal (draining a stale pending signal first, so the latest reason
// always reaches the consumer, per the teacher's emitKill).
func (g *Guard) Kill(reason string) {
	g.mu.Lock()
	now := time.Now()
	g.killActive = true
	g.killUntil = now.Add(g.cfg.CooldownAfterKill)
	g.mu.Unlock()

	g.logger.Error("kill switch engaged", "reason", reason, "cooldown_until", g.killUntil)

	sig := KillSignal{Reason: reason, At: now}
	select {
	case g.killCh <- sig:
	default:
		select {
		case <-g.killCh:
		default:
		}
		select {
		case g.killCh <- sig:
		default:
		}
	}
}

// KillCh returns the channel of emitted kill signals.
func (g *Guard) KillCh() <-chan KillSignal { return g.killCh }

// BeginCooldown starts the ordinary post-trade cooldown window (distinct
// from the longer kill-switch cooldown).
func (g *Guard) BeginCooldown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldownUntil = time.Now().Add(g.cfg.Cooldown)
}

func (g *Guard) inCooldownLocked() bool {
	return time.Now().Before(g.cooldownUntil)
}

// IsInCooldown reports whether a new execution is currently suppressed by
// the ordinary post-trade cooldown window.
func (g *Guard) IsInCooldown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCooldownLocked()
}

// CheckPositionBalance rejects whenever the box is imbalanced beyond the
// configured threshold (default 1.0 contract), per spec.md §4.F's
// Testable Property: |sum_yes - sum_no| > 1.0.
func (g *Guard) CheckPositionBalance(sumYES, sumNO decimal.Decimal) bool {
	threshold := g.cfg.MaxPositionImbalance
	if threshold.IsZero() {
		threshold = DefaultMaxPositionImbalance
	}
	return sumYES.Sub(sumNO).Abs().LessThanOrEqual(threshold)
}

// Evaluate runs every guard in spec.md §4.F's fixed order and returns the
// first rejection, or Allow=true if the candidate clears all of them.
func (g *Guard) Evaluate(c Candidate) Decision {
	if c.EdgeNet.LessThan(g.cfg.MinEdgeNet) {
		return Decision{Reason: "edge below floor"}
	}
	if c.LegYESSize.LessThan(g.cfg.MinLegSize) || c.LegNOSize.LessThan(g.cfg.MinLegSize) {
		return Decision{Reason: "leg size below floor"}
	}

	g.mu.Lock()
	inCooldown := g.inCooldownLocked()
	killed := g.killSwitchActiveLocked()
	g.mu.Unlock()

	if inCooldown {
		return Decision{Reason: "in cooldown"}
	}
	if killed {
		return Decision{Reason: "kill switch active"}
	}

	dailyPnL := c.DailyRealizedPnL.Add(c.DailyUnrealizedPnL)
	if g.cfg.MaxDailyLoss.IsPositive() && dailyPnL.LessThan(g.cfg.MaxDailyLoss.Neg()) {
		return Decision{Reason: "max daily loss breached"}
	}

	if g.cfg.MaxNotional.IsPositive() && c.TotalNotionalOpen.Add(c.Notional).GreaterThan(g.cfg.MaxNotional) {
		return Decision{Reason: "notional cap breached"}
	}

	if g.cfg.MaxOpenOrdersP > 0 && c.OpenOrdersP >= g.cfg.MaxOpenOrdersP {
		return Decision{Reason: "venue P open-order bound reached"}
	}
	if g.cfg.MaxOpenOrdersK > 0 && c.OpenOrdersK >= g.cfg.MaxOpenOrdersK {
		return Decision{Reason: "venue K open-order bound reached"}
	}

	if g.cfg.MinMsUntilRollover > 0 && c.MsUntilRollover < g.cfg.MinMsUntilRollover {
		return Decision{Reason: "too close to rollover"}
	}

	if g.cfg.MaxQuoteAge > 0 && c.QuoteAge > g.cfg.MaxQuoteAge {
		return Decision{Reason: "quote stale"}
	}

	if !g.CheckPositionBalance(c.SumYES, c.SumNO) {
		return Decision{Reason: "position imbalance exceeds threshold"}
	}

	return Decision{Allow: true}
}
