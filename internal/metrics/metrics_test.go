package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncLegFillIncrementsLabeledCounter(t *testing.T) {
	m := New()
	m.IncLegFill("P", "a", "yes")
	m.IncLegFill("P", "a", "yes")
	m.IncLegFill("K", "b", "no")

	got := testutil.ToFloat64(m.legFills.WithLabelValues("P", "a", "yes"))
	if got != 2 {
		t.Errorf("legFills[P,a,yes] = %v, want 2", got)
	}
}

func TestIncSettlementSplitsWinLoss(t *testing.T) {
	m := New()
	m.IncSettlement(true)
	m.IncSettlement(false)
	m.IncSettlement(true)

	if got := testutil.ToFloat64(m.settlements.WithLabelValues("win")); got != 2 {
		t.Errorf("settlements[win] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("loss")); got != 1 {
		t.Errorf("settlements[loss] = %v, want 1", got)
	}
}

func TestSetRealizedPnLOverwritesGauge(t *testing.T) {
	m := New()
	m.SetRealizedPnL(12.5)
	m.SetRealizedPnL(7.25)

	if got := testutil.ToFloat64(m.realizedPnL); got != 7.25 {
		t.Errorf("realizedPnL = %v, want 7.25", got)
	}
}

func TestTwoInstancesDoNotCollideOnRegistration(t *testing.T) {
	a := New()
	b := New()
	a.IncKillSwitchTrip()
	b.IncKillSwitchTrip()
	b.IncKillSwitchTrip()

	if got := testutil.ToFloat64(a.killSwitchTrips); got != 1 {
		t.Errorf("a.killSwitchTrips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.killSwitchTrips); got != 2 {
		t.Errorf("b.killSwitchTrips = %v, want 2", got)
	}
}
