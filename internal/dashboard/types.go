package dashboard

import "time"

// View models for API responses.

type Summary struct {
	CumulativePnL   float64 `json:"cumulative_pnl"`
	WinCount        int     `json:"win_count"`
	LossCount       int     `json:"loss_count"`
	WinRate         float64 `json:"win_rate"`
	TotalFees       float64 `json:"total_fees"`
	CurrentDrawdown float64 `json:"current_drawdown_pct"`
	MaxDrawdown     float64 `json:"max_drawdown_pct"`
	TotalExecutions int     `json:"total_executions"`
	UnwoundCount    int     `json:"unwound_count"`
	DeadZoneCount   int     `json:"dead_zone_count"`
	Streak          int     `json:"streak"` // positive=wins, negative=losses
	LastUpdated     string  `json:"last_updated"`
}

// ExecutionView is one box-trade attempt, aggregated from its leg fills,
// outcome, and (once resolved) settlement.
type ExecutionView struct {
	Time        string  `json:"time"`
	ExecutionID string  `json:"execution_id"`
	Interval    string  `json:"interval"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason"`
	Qty         float64 `json:"qty"`
	Result      string  `json:"result"` // "win"/"loss"/"open"
	PnL         float64 `json:"pnl"`
	Fees        float64 `json:"fees"`
	YesVenue    string  `json:"yes_venue"`
	NoVenue     string  `json:"no_venue"`
	DeadZoneHit bool    `json:"dead_zone_hit"`
}

type EquityPoint struct {
	Time          time.Time `json:"time"`
	CumulativePnL float64   `json:"cumulative_pnl"`
}

type VenuePairStats struct {
	Executions int     `json:"executions"`
	Wins       int     `json:"wins"`
	WinRate    float64 `json:"win_rate"`
	AvgPnL     float64 `json:"avg_pnl"`
	TotalPnL   float64 `json:"total_pnl"`
}

type PerformanceBreakdown struct {
	ByVenuePair map[string]VenuePairStats `json:"by_venue_pair"`
	AvgWin      float64                   `json:"avg_win"`
	AvgLoss     float64                   `json:"avg_loss"`
	Expectancy  float64                   `json:"expectancy"`
	TotalFees   float64                   `json:"total_fees"`
}

// SessionInfo describes one journal file for the session selector.
type SessionInfo struct {
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"start_time"`
	Display   string    `json:"display"` // Human-readable like "Feb 10, 2:15 PM"
}
