package dashboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/journal"
)

// Analyzer aggregates journal events into dashboard views.
type Analyzer struct {
	executions map[string]*executionAggregator
	order      []string // execution IDs in first-seen order, for stable iteration

	hasSession bool

	equityCurve []EquityPoint
	cumPnL      decimal.Decimal
}

// executionAggregator accumulates leg fills, outcome, and settlement for
// one box-trade attempt.
type executionAggregator struct {
	executionID string
	interval    string
	reason      string
	time        string
	qty         decimal.Decimal
	fees        decimal.Decimal
	status      string
	settled     bool
	won         bool
	pnl         decimal.Decimal
	yesVenue    string
	noVenue     string
	deadZoneHit bool
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		executions: make(map[string]*executionAggregator),
	}
}

func (a *Analyzer) aggregatorFor(id string) *executionAggregator {
	agg, ok := a.executions[id]
	if !ok {
		agg = &executionAggregator{executionID: id}
		a.executions[id] = agg
		a.order = append(a.order, id)
	}
	return agg
}

// ProcessEvents processes a slice of parsed journal Events and aggregates
// them into per-execution state and the cumulative equity curve.
func (a *Analyzer) ProcessEvents(events []Event) {
	for _, e := range events {
		switch e.Type {
		case "session_start":
			a.processSessionStart(e.SessionStart)
		case "leg_fill":
			a.processLegFill(e.LegFill)
		case "execution_outcome":
			a.processOutcome(e.ExecutionOutcome)
		case "settlement":
			a.processSettlement(e.Settlement)
		}
	}
}

func (a *Analyzer) processSessionStart(s *journal.SessionStart) {
	if s == nil || a.hasSession {
		return
	}
	a.hasSession = true
	t, err := time.Parse(time.RFC3339Nano, s.Time)
	if err != nil {
		t = time.Now()
	}
	a.equityCurve = append(a.equityCurve, EquityPoint{Time: t, CumulativePnL: 0})
}

func (a *Analyzer) processLegFill(f *journal.LegFill) {
	if f == nil {
		return
	}
	agg := a.aggregatorFor(f.ExecutionID)
	agg.interval = f.Interval
	agg.time = f.Time
	if fee, err := decimal.NewFromString(f.Fee); err == nil {
		agg.fees = agg.fees.Add(fee)
	}
	if qty, err := decimal.NewFromString(f.Qty); err == nil && qty.GreaterThan(agg.qty) {
		agg.qty = qty
	}
}

func (a *Analyzer) processOutcome(o *journal.ExecutionOutcome) {
	if o == nil {
		return
	}
	agg := a.aggregatorFor(o.ExecutionID)
	agg.status = o.Status
	agg.reason = o.Reason
	if agg.interval == "" {
		agg.interval = o.Interval
	}
	agg.time = o.Time
}

func (a *Analyzer) processSettlement(s *journal.Settlement) {
	if s == nil {
		return
	}
	agg := a.aggregatorFor(s.ExecutionID)
	agg.settled = true
	agg.yesVenue = s.YesVenue
	agg.noVenue = s.NoVenue
	agg.deadZoneHit = s.DeadZoneHit

	pnl, err := decimal.NewFromString(s.RealizedPnL)
	if err == nil {
		agg.pnl = pnl
		agg.won = pnl.IsPositive()
		a.cumPnL = a.cumPnL.Add(pnl)
	}

	t, err := time.Parse(time.RFC3339Nano, s.Time)
	if err != nil {
		t = time.Now()
	}
	pnlF, _ := a.cumPnL.Float64()
	a.equityCurve = append(a.equityCurve, EquityPoint{Time: t, CumulativePnL: pnlF})
}

// GetExecutions returns all aggregated executions as ExecutionView objects,
// in first-seen order.
func (a *Analyzer) GetExecutions() []ExecutionView {
	out := make([]ExecutionView, 0, len(a.order))
	for _, id := range a.order {
		agg := a.executions[id]
		result := "open"
		if agg.settled {
			if agg.won {
				result = "win"
			} else {
				result = "loss"
			}
		}
		qty, _ := agg.qty.Float64()
		fees, _ := agg.fees.Float64()
		pnl, _ := agg.pnl.Float64()
		out = append(out, ExecutionView{
			Time:        agg.time,
			ExecutionID: agg.executionID,
			Interval:    agg.interval,
			Status:      agg.status,
			Reason:      agg.reason,
			Qty:         qty,
			Result:      result,
			PnL:         pnl,
			Fees:        fees,
			YesVenue:    agg.yesVenue,
			NoVenue:     agg.noVenue,
			DeadZoneHit: agg.deadZoneHit,
		})
	}
	return out
}

// ComputeSummary returns summary statistics across every settled execution.
func (a *Analyzer) ComputeSummary() Summary {
	var totalFees decimal.Decimal
	var winCount, lossCount, unwoundCount, deadZoneCount int

	for _, id := range a.order {
		agg := a.executions[id]
		totalFees = totalFees.Add(agg.fees)
		if agg.status == "unwound" {
			unwoundCount++
		}
		if !agg.settled {
			continue
		}
		if agg.deadZoneHit {
			deadZoneCount++
		}
		if agg.won {
			winCount++
		} else {
			lossCount++
		}
	}

	total := winCount + lossCount
	winRate := 0.0
	if total > 0 {
		winRate = float64(winCount) / float64(total)
	}

	peak := 0.0
	for _, ep := range a.equityCurve {
		if ep.CumulativePnL > peak {
			peak = ep.CumulativePnL
		}
	}
	cur, _ := a.cumPnL.Float64()
	currentDrawdown := 0.0
	if peak > 0 {
		currentDrawdown = (peak - cur) / peak * 100
	}

	maxDrawdown := 0.0
	runningPeak := 0.0
	for _, ep := range a.equityCurve {
		if ep.CumulativePnL > runningPeak {
			runningPeak = ep.CumulativePnL
		}
		if runningPeak > 0 {
			dd := (runningPeak - ep.CumulativePnL) / runningPeak * 100
			if dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	streak := 0
	for i := len(a.order) - 1; i >= 0; i-- {
		agg := a.executions[a.order[i]]
		if !agg.settled {
			continue
		}
		if agg.won {
			if streak < 0 {
				break
			}
			streak++
		} else {
			if streak > 0 {
				break
			}
			streak--
		}
	}

	feesF, _ := totalFees.Float64()
	return Summary{
		CumulativePnL:   cur,
		WinCount:        winCount,
		LossCount:       lossCount,
		WinRate:         winRate,
		TotalFees:       feesF,
		CurrentDrawdown: currentDrawdown,
		MaxDrawdown:     maxDrawdown,
		TotalExecutions: len(a.order),
		UnwoundCount:    unwoundCount,
		DeadZoneCount:   deadZoneCount,
		Streak:          streak,
	}
}

// ComputePerformance returns performance breakdown by yes/no venue pairing.
func (a *Analyzer) ComputePerformance() PerformanceBreakdown {
	byPair := make(map[string]VenuePairStats)
	var totalWinPnL, totalLossPnL, totalFees float64
	var winCount, lossCount int

	for _, id := range a.order {
		agg := a.executions[id]
		if !agg.settled {
			continue
		}
		pnl, _ := agg.pnl.Float64()
		fees, _ := agg.fees.Float64()
		totalFees += fees

		key := agg.yesVenue + "_yes_" + agg.noVenue + "_no"
		stats := byPair[key]
		stats.Executions++
		if agg.won {
			stats.Wins++
			totalWinPnL += pnl
			winCount++
		} else {
			totalLossPnL += pnl
			lossCount++
		}
		stats.TotalPnL += pnl
		byPair[key] = stats
	}

	for key, stats := range byPair {
		if stats.Executions > 0 {
			stats.WinRate = float64(stats.Wins) / float64(stats.Executions)
			stats.AvgPnL = stats.TotalPnL / float64(stats.Executions)
			byPair[key] = stats
		}
	}

	avgWin := 0.0
	if winCount > 0 {
		avgWin = totalWinPnL / float64(winCount)
	}
	avgLoss := 0.0
	if lossCount > 0 {
		avgLoss = totalLossPnL / float64(lossCount)
	}
	total := winCount + lossCount
	expectancy := 0.0
	if total > 0 {
		wr := float64(winCount) / float64(total)
		expectancy = avgWin*wr + avgLoss*(1-wr)
	}

	return PerformanceBreakdown{
		ByVenuePair: byPair,
		AvgWin:      avgWin,
		AvgLoss:     avgLoss,
		Expectancy:  expectancy,
		TotalFees:   totalFees,
	}
}

// GetEquityCurve returns the equity curve, sampled to 1000 points if longer.
func (a *Analyzer) GetEquityCurve() []EquityPoint {
	if len(a.equityCurve) <= 1000 {
		return a.equityCurve
	}

	sampled := make([]EquityPoint, 1000)
	step := float64(len(a.equityCurve)-1) / 999.0
	for i := 0; i < 1000; i++ {
		idx := int(float64(i) * step)
		sampled[i] = a.equityCurve[idx]
	}
	return sampled
}
