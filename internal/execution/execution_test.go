package execution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/boxarb/internal/edge"
	"github.com/sdibella/boxarb/internal/errs"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/planner"
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

type fakeVenueA struct {
	submitFill Fill
	submitErr  error
	sellFill   Fill
	sellErr    error
	sellCalls  int
}

func (f *fakeVenueA) SubmitIOC(ctx context.Context, leg planner.LegAParams) (Fill, error) {
	return f.submitFill, f.submitErr
}
func (f *fakeVenueA) Cancel(ctx context.Context, orderID string) error { return nil }
func (f *fakeVenueA) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	return OrderState{}, nil
}
func (f *fakeVenueA) SellAtBid(ctx context.Context, side string, qty decimal.Decimal) (Fill, error) {
	f.sellCalls++
	return f.sellFill, f.sellErr
}

type fakeVenueB struct {
	submitFill   Fill
	submitErr    error
	statusState  OrderState
	statusErr    error
}

func (f *fakeVenueB) SubmitFOK(ctx context.Context, leg planner.LegBParams) (Fill, error) {
	return f.submitFill, f.submitErr
}
func (f *fakeVenueB) Cancel(ctx context.Context, orderID string) error { return nil }
func (f *fakeVenueB) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	return f.statusState, f.statusErr
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

func testOpportunity() *edge.Opportunity {
	return &edge.Opportunity{
		Interval:    testInterval(),
		Orientation: edge.YesFromP_NoFromK,
		LegYES:      edge.Leg{Venue: quote.VenueP, Side: "yes", Price: dec("0.46"), Size: dec("10")},
		LegNO:       edge.Leg{Venue: quote.VenueK, Side: "no", Price: dec("0.52"), Size: dec("10")},
		Cost:        dec("0.98"),
		EdgeGross:   dec("0.02"),
		EdgeNet:     dec("0.015"),
		Qty:         dec("10"),
	}
}

func newTestEngine(venueA VenueA, venueB VenueB) *Engine {
	e, _ := newTestEngineWithTracker(venueA, venueB)
	return e
}

func newTestEngineWithTracker(venueA VenueA, venueB VenueB) (*Engine, *position.Tracker) {
	cfg := Config{
		LegOrderTimeout:   time.Second,
		MinPartialFillQty: dec("1"),
		UnwindRetries:     1,
		UnwindRetryDelay:  time.Millisecond,
	}
	guard := risk.New(risk.Config{CooldownAfterKill: time.Minute}, slog.Default())
	tracker := position.New()
	e := New(cfg, guard, tracker, venueA, venueB, slog.Default())
	e.SetRemainingNotional(dec("1000"))
	return e, tracker
}

func TestExecuteDryRunSynthesizesFills(t *testing.T) {
	e := newTestEngine(&fakeVenueA{}, &fakeVenueB{})
	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
		DryRun:      true,
	})
	require.True(t, result.Success)
	assert.Equal(t, StatusSuccess, result.Record.Status)
	assert.NotNil(t, result.Record.LegAFill)
	assert.NotNil(t, result.Record.LegBFill)
}

func TestExecuteBothLegsFillSucceeds(t *testing.T) {
	venueA := &fakeVenueA{submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("10")}}
	venueB := &fakeVenueB{submitFill: Fill{OrderID: "b1", Price: dec("0.52"), Qty: dec("10")}}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.True(t, result.Success)
	assert.Equal(t, StatusSuccess, result.Record.Status)
	assert.False(t, result.ShouldEnterCooldown)
	assert.False(t, result.ShouldTriggerKillSwitch)
}

func TestExecuteLegAPermanentErrorTriggersKillSwitch(t *testing.T) {
	venueA := &fakeVenueA{submitErr: errs.Wrap(errs.KindPermanent, errs.ErrInsufficientBalance)}
	venueB := &fakeVenueB{}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.False(t, result.Success)
	assert.Equal(t, StatusLegAFailed, result.Record.Status)
	assert.True(t, result.ShouldEnterCooldown)
	assert.True(t, result.ShouldTriggerKillSwitch)
}

func TestExecuteLegATimeoutNoCooldownNoKillSwitch(t *testing.T) {
	venueA := &fakeVenueA{submitErr: errs.Wrap(errs.KindTransient, context.DeadlineExceeded)}
	venueB := &fakeVenueB{}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.False(t, result.Success)
	assert.Equal(t, StatusLegAFailed, result.Record.Status)
	assert.False(t, result.ShouldEnterCooldown)
	assert.False(t, result.ShouldTriggerKillSwitch)
}

func TestExecuteLegBFailureUnwindsLegA(t *testing.T) {
	venueA := &fakeVenueA{
		submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("10")},
		sellFill:   Fill{OrderID: "unwind1", Price: dec("0.44"), Qty: dec("10")},
	}
	venueB := &fakeVenueB{
		submitErr:   errs.Wrap(errs.KindTransient, context.DeadlineExceeded),
		statusState: OrderState{Filled: false},
	}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.False(t, result.Success)
	assert.Equal(t, StatusUnwound, result.Record.Status)
	assert.True(t, result.ShouldEnterCooldown)
	assert.Equal(t, 1, venueA.sellCalls)
	// Realized loss: (0.46 - 0.44) * 10 = 0.20, recorded as a negative PnL.
	assert.True(t, result.Record.RealizedPnL.Equal(dec("-0.2")))
}

func TestCancelThenVerifyRecoversSuccessOnLateFill(t *testing.T) {
	venueA := &fakeVenueA{submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("10")}}
	venueB := &fakeVenueB{
		submitErr: errs.Wrap(errs.KindTransient, context.DeadlineExceeded),
		statusState: OrderState{
			Filled: true,
			Fill:   Fill{OrderID: "b1", Price: dec("0.52"), Qty: dec("10")},
		},
	}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.True(t, result.Success)
	assert.Equal(t, StatusSuccess, result.Record.Status)
	assert.Equal(t, 0, venueA.sellCalls)
}

func TestExecuteDustFillAbandonsLegBAndUnwinds(t *testing.T) {
	venueA := &fakeVenueA{
		submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("0.5")},
		sellFill:   Fill{OrderID: "unwind1", Price: dec("0.44"), Qty: dec("0.5")},
	}
	venueB := &fakeVenueB{}
	e := newTestEngine(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})

	require.False(t, result.Success)
	assert.Equal(t, StatusUnwound, result.Record.Status)
	assert.Equal(t, 1, venueA.sellCalls)
}

func TestExecuteLegBFailureTrackerNetsToZeroAfterUnwind(t *testing.T) {
	venueA := &fakeVenueA{
		submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("10")},
		sellFill:   Fill{OrderID: "unwind1", Price: dec("0.44"), Qty: dec("10")},
	}
	venueB := &fakeVenueB{
		submitErr:   errs.Wrap(errs.KindTransient, context.DeadlineExceeded),
		statusState: OrderState{Filled: false},
	}
	e, tracker := newTestEngineWithTracker(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})
	require.False(t, result.Success)
	require.Equal(t, StatusUnwound, result.Record.Status)

	book, ok := tracker.Get(testInterval())
	require.True(t, ok)
	assert.True(t, book.YES.Qty.IsZero(), "expected leg A fully unwound, got qty %s", book.YES.Qty)
	assert.Equal(t, 0, tracker.OpenOrderCount(quote.VenueP))
}

func TestExecuteDustFillTrackerNetsToZeroAfterUnwind(t *testing.T) {
	venueA := &fakeVenueA{
		submitFill: Fill{OrderID: "a1", Price: dec("0.46"), Qty: dec("0.5")},
		sellFill:   Fill{OrderID: "unwind1", Price: dec("0.44"), Qty: dec("0.5")},
	}
	venueB := &fakeVenueB{}
	e, tracker := newTestEngineWithTracker(venueA, venueB)

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})
	require.False(t, result.Success)
	require.Equal(t, StatusUnwound, result.Record.Status)

	book, ok := tracker.Get(testInterval())
	require.True(t, ok)
	assert.True(t, book.YES.Qty.IsZero(), "expected leg A fully unwound, got qty %s", book.YES.Qty)
	assert.Equal(t, 0, tracker.OpenOrderCount(quote.VenueP))
}

func TestExecuteRejectsIncompleteMapping(t *testing.T) {
	e := newTestEngine(&fakeVenueA{}, &fakeVenueB{})
	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     mapping.Mapping{Interval: testInterval()},
	})
	require.False(t, result.Success)
	assert.Equal(t, StatusAborted, result.Record.Status)
	assert.Equal(t, errs.KindPrecondition, errs.Classify(result.Err))
}

func TestExecuteRejectsWhenBusyLockHeld(t *testing.T) {
	e := newTestEngine(&fakeVenueA{}, &fakeVenueB{})
	require.True(t, e.guard.TryAcquire())

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})
	require.False(t, result.Success)
	assert.Equal(t, StatusAborted, result.Record.Status)
}

func TestExecuteInsufficientNotionalHeadroom(t *testing.T) {
	e := newTestEngine(&fakeVenueA{}, &fakeVenueB{})
	e.cfg.MinQtyP = func(decimal.Decimal) decimal.Decimal { return dec("1000") }
	e.SetRemainingNotional(dec("1"))

	result := e.Execute(context.Background(), Context{
		Opportunity: testOpportunity(),
		Mapping:     completeMapping(),
	})
	require.False(t, result.Success)
	assert.Equal(t, StatusAborted, result.Record.Status)
}
