package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/risk"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testInterval() interval.Key {
	return interval.Current(time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC))
}

func completeMapping() mapping.Mapping {
	return mapping.Mapping{
		Interval: testInterval(),
		P:        mapping.VenueP{UpTokenID: "up", DownTokenID: "down"},
		K:        mapping.VenueK{MarketTicker: "KXBTC-1400"},
	}
}

type noopGate struct{ active bool }

func (g noopGate) VolatilityExitActive() bool { return g.active }

type recordingExecutor struct {
	called bool
	action CorrectiveAction
	filled bool
	err    error
}

func (e *recordingExecutor) ExecuteCorrective(ctx context.Context, ivl mapping.Mapping, action CorrectiveAction) (bool, error) {
	e.called = true
	e.action = action
	return e.filled, e.err
}

func TestPlanCorrectivePrefersComplete(t *testing.T) {
	book := &position.Book{Interval: testInterval()}
	book.RecordFill(position.Fill{Venue: quote.VenueP, Side: "yes", Price: dec("0.45"), Qty: dec("1")})

	action := PlanCorrective(book, dec("0.50"), dec("0.45"), dec("0.01"), 600000, 30000)
	assert.Equal(t, "complete", action.Kind)
	assert.Equal(t, "no", action.Side)
}

func TestPlanCorrectivePrefersUnwindNearRollover(t *testing.T) {
	book := &position.Book{Interval: testInterval()}
	book.RecordFill(position.Fill{Venue: quote.VenueP, Side: "yes", Price: dec("0.45"), Qty: dec("1")})

	// Complete PnL heavily discounted this close to rollover; unwind wins.
	action := PlanCorrective(book, dec("0.50"), dec("0.49"), dec("0.01"), 1000, 30000)
	assert.Equal(t, "unwind", action.Kind)
	assert.Equal(t, "yes", action.Side)
}

func TestTickOverridesTrackerOnMismatch(t *testing.T) {
	guard := risk.New(risk.Config{CooldownAfterKill: time.Minute}, slog.Default())
	tracker := position.New()
	tracker.Record(testInterval(), position.Fill{Venue: quote.VenueP, Side: "yes", Price: dec("0.4"), Qty: dec("0")})

	readP := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("1"), NoQty: dec("0")}, nil
	}
	readK := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("0"), NoQty: dec("1")}, nil
	}

	r := New(Config{PostExecutionGrace: 0, MinMsUntilRollover: 30000}, guard, tracker, noopGate{}, nil, readP, readK, slog.Default())
	r.Tick(context.Background(), completeMapping(), time.Now(), dec("0.5"), dec("0.5"), dec("0.01"), 600000)

	book, ok := tracker.Get(testInterval())
	require.True(t, ok)
	assert.True(t, book.YES.Qty.Equal(dec("1")))
	assert.True(t, book.NO.Qty.Equal(dec("1")))
	assert.True(t, book.Balance().IsZero())
}

func TestTickSkipsDuringVolatilityExit(t *testing.T) {
	guard := risk.New(risk.Config{CooldownAfterKill: time.Minute}, slog.Default())
	tracker := position.New()
	called := false
	readP := func(ctx context.Context) (VenuePositions, error) { called = true; return VenuePositions{}, nil }
	readK := func(ctx context.Context) (VenuePositions, error) { return VenuePositions{}, nil }

	r := New(Config{}, guard, tracker, noopGate{active: true}, nil, readP, readK, slog.Default())
	r.Tick(context.Background(), completeMapping(), time.Now(), dec("0.5"), dec("0.5"), dec("0.01"), 600000)

	assert.False(t, called, "expected tick to skip venue reads while volatility exit active")
}

func TestTickExecutesCorrectiveActionOnImbalance(t *testing.T) {
	guard := risk.New(risk.Config{Cooldown: time.Minute, CooldownAfterKill: time.Minute}, slog.Default())
	tracker := position.New()

	readP := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("1"), NoQty: dec("0")}, nil
	}
	readK := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("0"), NoQty: dec("0")}, nil
	}
	exec := &recordingExecutor{filled: true}

	r := New(Config{MinMsUntilRollover: 30000}, guard, tracker, noopGate{}, exec, readP, readK, slog.Default())
	r.Tick(context.Background(), completeMapping(), time.Now(), dec("0.5"), dec("0.45"), dec("0.01"), 600000)

	require.True(t, exec.called)
	assert.Equal(t, "complete", exec.action.Kind)
	assert.True(t, guard.IsInCooldown())
}

func TestTickSkipsCompleteWhenKillSwitchActive(t *testing.T) {
	guard := risk.New(risk.Config{CooldownAfterKill: time.Minute}, slog.Default())
	guard.Kill("test")
	tracker := position.New()

	readP := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("1"), NoQty: dec("0")}, nil
	}
	readK := func(ctx context.Context) (VenuePositions, error) {
		return VenuePositions{YesQty: dec("0"), NoQty: dec("0")}, nil
	}
	exec := &recordingExecutor{filled: true}

	r := New(Config{MinMsUntilRollover: 30000}, guard, tracker, noopGate{}, exec, readP, readK, slog.Default())
	r.Tick(context.Background(), completeMapping(), time.Now(), dec("0.5"), dec("0.45"), dec("0.01"), 600000)

	assert.False(t, exec.called, "kill switch must block completing but Tick still overrides the tracker")
}
