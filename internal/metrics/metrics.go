// Package metrics exposes the engine's Prometheus counters/gauges,
// grounded in chidi150c-coinbase's metrics.go (same counter/gauge/labeled-
// vec shapes, same Inc/Set-style helper methods). Unlike that teacher
// file, this is a library package rather than package main: metrics are
// registered on a Registry owned by a *Metrics value instead of package-
// level vars plus an init() against the default registry, so multiple
// engine instances (or tests) never collide on double-registration. There
// is no HTTP exporter here — an operator wires Registry() into their own
// promhttp.Handler if they want one; scraping is outside this module's
// concerns.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	legFills          *prometheus.CounterVec // venue, leg, side
	executions        *prometheus.CounterVec // status
	opportunities     *prometheus.CounterVec // orientation
	settlements       *prometheus.CounterVec // result (win|loss)
	deadZoneHits      prometheus.Counter
	realizedPnL       prometheus.Gauge
	reconcileActions  *prometheus.CounterVec // action (complete|unwind)
	volatilityExits   *prometheus.CounterVec // stage (first|second)
	killSwitchTrips   prometheus.Counter
	cooldownsEntered  prometheus.Counter
	settlementPollLag prometheus.Gauge // seconds since a pending settlement's SettlesAt
}

// New creates a Metrics value with a private registry and registers every
// collector against it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		legFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_leg_fills_total",
			Help: "Leg fills by venue, leg (a|b), and side (yes|no).",
		}, []string{"venue", "leg", "side"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_executions_total",
			Help: "Box execution attempts by terminal status.",
		}, []string{"status"}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_opportunities_total",
			Help: "Arbitrage opportunities detected by orientation.",
		}, []string{"orientation"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_settlements_total",
			Help: "Settlements by result (win|loss).",
		}, []string{"result"}),
		deadZoneHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxarb_dead_zone_hits_total",
			Help: "Settlements where the two venues' oracles disagreed on outcome.",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boxarb_realized_pnl_usd",
			Help: "Cumulative realized PnL in USD.",
		}),
		reconcileActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_reconcile_actions_total",
			Help: "Corrective actions taken by the position reconciler.",
		}, []string{"action"}),
		volatilityExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxarb_volatility_exits_total",
			Help: "Proactive sell-down actions taken by the volatility exit manager.",
		}, []string{"stage"}),
		killSwitchTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxarb_kill_switch_trips_total",
			Help: "Number of times the kill switch has activated.",
		}),
		cooldownsEntered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxarb_cooldowns_entered_total",
			Help: "Number of times the guard has entered a cooldown period.",
		}),
		settlementPollLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boxarb_settlement_poll_lag_seconds",
			Help: "Seconds since the oldest pending settlement's interval closed.",
		}),
	}

	m.registry.MustRegister(
		m.legFills, m.executions, m.opportunities, m.settlements,
		m.deadZoneHits, m.realizedPnL, m.reconcileActions, m.volatilityExits,
		m.killSwitchTrips, m.cooldownsEntered, m.settlementPollLag,
	)
	return m
}

// Registry exposes the underlying registry for an operator who wants to
// serve it over promhttp.Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncLegFill(venue, leg, side string) { m.legFills.WithLabelValues(venue, leg, side).Inc() }
func (m *Metrics) IncExecution(status string)         { m.executions.WithLabelValues(status).Inc() }
func (m *Metrics) IncOpportunity(orientation string)  { m.opportunities.WithLabelValues(orientation).Inc() }

func (m *Metrics) IncSettlement(won bool) {
	if won {
		m.settlements.WithLabelValues("win").Inc()
	} else {
		m.settlements.WithLabelValues("loss").Inc()
	}
}

func (m *Metrics) IncDeadZoneHit()          { m.deadZoneHits.Inc() }
func (m *Metrics) SetRealizedPnL(usd float64) { m.realizedPnL.Set(usd) }
func (m *Metrics) IncReconcileAction(action string) {
	m.reconcileActions.WithLabelValues(action).Inc()
}
func (m *Metrics) IncVolatilityExit(stage string) { m.volatilityExits.WithLabelValues(stage).Inc() }
func (m *Metrics) IncKillSwitchTrip()             { m.killSwitchTrips.Inc() }
func (m *Metrics) IncCooldownEntered()            { m.cooldownsEntered.Inc() }
func (m *Metrics) SetSettlementPollLag(seconds float64) { m.settlementPollLag.Set(seconds) }
