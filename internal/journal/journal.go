// Package journal is an append-only JSONL event log for one run of the
// engine, generalizing the teacher's single-venue session_start/trade/
// settlement events into the two-venue, two-leg shape this module trades:
// each box trade produces one leg fill per venue plus an execution-outcome
// event, and each interval produces one settlement event once both
// venues' oracles have resolved.
package journal

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/settlement"
)

// Journal is an append-only JSONL writer for engine events.
type Journal struct {
	f  *os.File
	mu sync.Mutex
}

// New opens (or creates) the journal file in append mode.
func New(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f}, nil
}

// Log marshals event to JSON and appends it as a single line.
func (j *Journal) Log(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.f.Write(data); err != nil {
		return err
	}
	return j.f.Sync()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Event types.

type SessionStart struct {
	Type     string `json:"type"`
	Time     string `json:"time"`
	DryRun   bool   `json:"dry_run"`
	Env      string `json:"env"`
	BalanceP string `json:"balance_p"` // USDC balance, decimal string
	BalanceK int64  `json:"balance_k_cents"`
}

func NewSessionStart(env string, dryRun bool, balanceP decimal.Decimal, balanceKCents int64) SessionStart {
	return SessionStart{
		Type:     "session_start",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		DryRun:   dryRun,
		Env:      env,
		BalanceP: balanceP.String(),
		BalanceK: balanceKCents,
	}
}

// LegFill records one venue's fill within a box execution attempt.
type LegFill struct {
	Type        string `json:"type"`
	Time        string `json:"time"`
	ExecutionID string `json:"execution_id"`
	Interval    string `json:"interval"`
	Leg         string `json:"leg"` // "a" or "b"
	Venue       string `json:"venue"`
	Side        string `json:"side"` // "yes" or "no"
	OrderID     string `json:"order_id"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	Fee         string `json:"fee"`
	DryRun      bool   `json:"dry_run"`
}

func NewLegFill(executionID string, ivl interval.Key, leg string, venue quote.Venue, side string, fill execution.Fill, dryRun bool) LegFill {
	return LegFill{
		Type:        "leg_fill",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID: executionID,
		Interval:    ivl.String(),
		Leg:         leg,
		Venue:       string(venue),
		Side:        side,
		OrderID:     fill.OrderID,
		Price:       fill.Price.String(),
		Qty:         fill.Qty.String(),
		Fee:         fill.Fee.String(),
		DryRun:      dryRun,
	}
}

// ExecutionOutcome records the terminal state of one box execution
// attempt: success, unwound, or aborted.
type ExecutionOutcome struct {
	Type            string `json:"type"`
	Time            string `json:"time"`
	ExecutionID     string `json:"execution_id"`
	Interval        string `json:"interval"`
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	ExpectedEdgeNet string `json:"expected_edge_net"`
	RealizedPnL     string `json:"realized_pnl"`
	UnwoundOrderID  string `json:"unwound_order_id,omitempty"`
	DryRun          bool   `json:"dry_run"`
}

func NewExecutionOutcome(rec execution.ExecutionRecord, dryRun bool) ExecutionOutcome {
	evt := ExecutionOutcome{
		Type:        "execution_outcome",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID: rec.ID,
		Status:      string(rec.Status),
		RealizedPnL: rec.RealizedPnL.String(),
		DryRun:      dryRun,
	}
	if rec.Opportunity != nil {
		evt.Interval = rec.Opportunity.Interval.String()
		evt.Reason = rec.Opportunity.Reason
		evt.ExpectedEdgeNet = rec.Opportunity.EdgeNet.String()
	}
	if rec.UnwindFill != nil {
		evt.UnwoundOrderID = rec.UnwindFill.OrderID
	}
	return evt
}

// Settlement records the crystallized realized PnL once both venues'
// legs of a box have resolved.
type Settlement struct {
	Type         string `json:"type"`
	Time         string `json:"time"`
	ExecutionID  string `json:"execution_id"`
	Interval     string `json:"interval"`
	RealizedPnL  string `json:"realized_pnl"`
	OraclesAgree bool   `json:"oracles_agree"`
	DeadZoneHit  bool   `json:"dead_zone_hit"`
	YesVenue     string `json:"yes_venue"`
	NoVenue      string `json:"no_venue"`
	Qty          string `json:"qty"`
}

func NewSettlement(res settlement.Result) Settlement {
	return Settlement{
		Type:         "settlement",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID:  res.Pending.ExecutionID,
		Interval:     res.Pending.Interval.String(),
		RealizedPnL:  res.RealizedPnL.String(),
		OraclesAgree: res.OraclesAgree,
		DeadZoneHit:  res.DeadZoneHit,
		YesVenue:     string(res.Pending.YesVenue),
		NoVenue:      string(res.Pending.NoVenue),
		Qty:          res.Pending.Qty.String(),
	}
}

// ReconcileAction records a corrective action the reconciler took (or
// planned) against a detected position imbalance.
type ReconcileAction struct {
	Type        string `json:"type"`
	Time        string `json:"time"`
	Interval    string `json:"interval"`
	Action      string `json:"action"` // "complete" or "unwind"
	Side        string `json:"side"`
	Qty         string `json:"qty"`
	CompletePnL string `json:"complete_pnl"`
	UnwindPnL   string `json:"unwind_pnl"`
	DryRun      bool   `json:"dry_run"`
}

func NewReconcileAction(ivl interval.Key, action, side string, qty, completePnL, unwindPnL decimal.Decimal, dryRun bool) ReconcileAction {
	return ReconcileAction{
		Type:        "reconcile_action",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Interval:    ivl.String(),
		Action:      action,
		Side:        side,
		Qty:         qty.String(),
		CompletePnL: completePnL.String(),
		UnwindPnL:   unwindPnL.String(),
		DryRun:      dryRun,
	}
}

// VolatilityExit records the volatility manager taking a sell-down action.
type VolatilityExit struct {
	Type     string `json:"type"`
	Time     string `json:"time"`
	Interval string `json:"interval"`
	Stage    string `json:"stage"` // "first" or "second"
	Side     string `json:"side"`
	OrderID  string `json:"order_id"`
	Price    string `json:"price"`
	Qty      string `json:"qty"`
	DryRun   bool   `json:"dry_run"`
}

func NewVolatilityExit(ivl interval.Key, stage, side string, fill execution.Fill, dryRun bool) VolatilityExit {
	return VolatilityExit{
		Type:     "volatility_exit",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Interval: ivl.String(),
		Stage:    stage,
		Side:     side,
		OrderID:  fill.OrderID,
		Price:    fill.Price.String(),
		Qty:      fill.Qty.String(),
		DryRun:   dryRun,
	}
}
