package volatility

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/boxarb/internal/errs"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeSeller struct {
	err      error
	sellLog  []string
}

func (f *fakeSeller) SellAtBid(ctx context.Context, venue, side string, qty decimal.Decimal) (decimal.Decimal, error) {
	f.sellLog = append(f.sellLog, venue+":"+side)
	return dec("0.50"), f.err
}

func testConfig() Config {
	return Config{
		ActiveWindow:          7*time.Minute + 30*time.Second,
		CrossingsToTrigger:    2,
		RangeThresholdUSD:     dec("100"),
		FailedTriggerCooldown: 10 * time.Millisecond,
		SecondLegTimeout:      20 * time.Millisecond,
		SecondLegMinProfit:    dec("0.05"),
		HaltWindow:            time.Minute,
	}
}

func twoTargets() []SellTarget {
	return []SellTarget{
		{Venue: "K", Side: "no", Qty: dec("10"), EntryVWAP: dec("0.40"), CurrentBid: dec("0.55"), Profitability: dec("0.15")},
		{Venue: "P", Side: "yes", Qty: dec("10"), EntryVWAP: dec("0.40"), CurrentBid: dec("0.45"), Profitability: dec("0.05")},
	}
}

func TestEntersMonitoringOnlyWithPositionsInWindow(t *testing.T) {
	m := New(testConfig(), &fakeSeller{}, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 20*60*1000, true, nil)
	assert.Equal(t, StateIdle, m.State(), "outside active window should stay IDLE")

	m.OnTick(context.Background(), dec("100000"), 5*60*1000, false, nil)
	assert.Equal(t, StateIdle, m.State(), "no positions should stay IDLE")

	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)
	assert.Equal(t, StateMonitoring, m.State())
}

func TestTriggersOnCrossingsAndRange(t *testing.T) {
	m := New(testConfig(), &fakeSeller{}, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)
	require.Equal(t, StateMonitoring, m.State())

	build := func() []SellTarget { return twoTargets() }

	m.OnTick(context.Background(), dec("100060"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("99940"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)

	assert.Equal(t, StateSellingFirst, m.State())
}

func TestSellingFirstPicksMostProfitableTarget(t *testing.T) {
	seller := &fakeSeller{}
	m := New(testConfig(), seller, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)

	build := func() []SellTarget { return twoTargets() }
	m.OnTick(context.Background(), dec("100060"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("99940"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)
	require.Equal(t, StateSellingFirst, m.State())

	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)

	require.Len(t, seller.sellLog, 1)
	assert.Equal(t, "K:no", seller.sellLog[0], "expected the more profitable target (K:no) sold first")
	assert.Equal(t, StateSellingSecond, m.State())
}

func TestAllTargetsFailPermanentlyReturnsToMonitoring(t *testing.T) {
	seller := &fakeSeller{err: errs.Wrap(errs.KindPermanent, errs.ErrInsufficientBalance)}
	m := New(testConfig(), seller, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)

	build := func() []SellTarget { return twoTargets() }
	m.OnTick(context.Background(), dec("100060"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("99940"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)
	require.Equal(t, StateSellingFirst, m.State())

	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build) // first sell fails, promotes second
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build) // second sell fails too

	assert.Equal(t, StateMonitoring, m.State())
	assert.Len(t, seller.sellLog, 2)
}

func TestSellingSecondTimesOutAndSells(t *testing.T) {
	seller := &fakeSeller{}
	m := New(testConfig(), seller, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)

	build := func() []SellTarget { return twoTargets() }
	m.OnTick(context.Background(), dec("100060"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("99940"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build) // sells first target
	require.Equal(t, StateSellingSecond, m.State())

	time.Sleep(30 * time.Millisecond)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, nil)

	assert.Equal(t, StateDone, m.State())
	assert.Len(t, seller.sellLog, 2)
}

func TestResetReturnsToIdle(t *testing.T) {
	m := New(testConfig(), &fakeSeller{}, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)
	require.Equal(t, StateMonitoring, m.State())

	m.Reset()
	assert.Equal(t, StateIdle, m.State())
}

func TestVolatilityExitActiveReflectsState(t *testing.T) {
	m := New(testConfig(), &fakeSeller{}, slog.Default())
	assert.False(t, m.VolatilityExitActive())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)
	assert.True(t, m.VolatilityExitActive())
}

func TestShouldHaltTradingRequiresTriggerAndTightWindow(t *testing.T) {
	m := New(testConfig(), &fakeSeller{}, slog.Default())
	m.OnTick(context.Background(), dec("100000"), 5*60*1000, true, nil)
	assert.False(t, m.ShouldHaltTrading(5*60*1000), "monitoring alone should not halt trading outside the tight window")
	assert.False(t, m.ShouldHaltTrading(30*1000), "monitoring without a trigger should not halt trading within the halt window")

	build := func() []SellTarget { return twoTargets() }
	m.OnTick(context.Background(), dec("100060"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("99940"), 5*60*1000, true, build)
	m.OnTick(context.Background(), dec("100050"), 5*60*1000, true, build)
	require.Equal(t, StateSellingFirst, m.State())
	assert.False(t, m.ShouldHaltTrading(5*60*1000), "a trigger outside the tight window should not halt trading")
	assert.True(t, m.ShouldHaltTrading(30*1000), "a trigger within the halt window should halt trading")
}
