package settlement

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
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

type fixedResolver struct {
	outcome Outcome
	err     error
}

func (f fixedResolver) ResolveOutcome(ctx context.Context, ivl interval.Key) (Outcome, error) {
	return f.outcome, f.err
}

func testPending() Pending {
	return Pending{
		ExecutionID: "exec-1",
		Interval:    testInterval(),
		SettlesAt:   testInterval().End,
		ExpectedPnL: dec("0.48"),
		ActualCost:  dec("0.95"),
		Qty:         dec("1"),
		YesVenue:    quote.VenueP,
		NoVenue:     quote.VenueK,
	}
}

func TestResolvesBothWinAgreement(t *testing.T) {
	var got []Result
	r := New(Config{PollInterval: 0}, fixedResolver{outcome: Outcome{Side: "yes"}}, fixedResolver{outcome: Outcome{Side: "yes"}},
		func(res Result) { got = append(got, res) }, slog.Default())

	p := testPending()
	r.Add(p)
	r.Tick(context.Background(), p.SettlesAt.Add(time.Second))

	require.Len(t, got, 1)
	assert.True(t, got[0].OraclesAgree)
	assert.False(t, got[0].DeadZoneHit)
	// yes leg wins (yes resolved "yes"), no leg loses (resolved "yes" not "no") => payoff = qty = 1
	assert.True(t, got[0].RealizedPnL.Equal(dec("1").Sub(dec("0.95"))))
	assert.Equal(t, 0, r.PendingCount())
}

func TestDeadZoneHitWhenOraclesDisagree(t *testing.T) {
	var got []Result
	r := New(Config{PollInterval: 0},
		fixedResolver{outcome: Outcome{Side: "yes"}}, // venue P (yes leg) resolves yes -> yes leg wins
		fixedResolver{outcome: Outcome{Side: "yes"}}, // venue K (no leg) also resolves yes -> no leg loses
		func(res Result) { got = append(got, res) }, slog.Default())

	p := testPending()
	r.Add(p)
	r.Tick(context.Background(), p.SettlesAt.Add(time.Second))

	require.Len(t, got, 1)
	assert.True(t, got[0].OraclesAgree, "both venues reported the same side")

	// Now simulate true disagreement: P says no, K says yes (dead zone: the
	// venues resolve opposite ways and both legs of the box lose).
	got = nil
	r2 := New(Config{PollInterval: 0},
		fixedResolver{outcome: Outcome{Side: "no"}},
		fixedResolver{outcome: Outcome{Side: "yes"}},
		func(res Result) { got = append(got, res) }, slog.Default())
	r2.Add(p)
	r2.Tick(context.Background(), p.SettlesAt.Add(time.Second))

	require.Len(t, got, 1)
	assert.False(t, got[0].OraclesAgree)
	assert.True(t, got[0].DeadZoneHit)
	// yes leg loses (yes venue resolved "no"), no leg loses (no venue resolved "yes") => payoff 0
	assert.True(t, got[0].RealizedPnL.Equal(dec("0").Sub(dec("0.95"))))
}

func TestNotSettledRequeuesUntilGiveUp(t *testing.T) {
	var got []Result
	r := New(Config{PollInterval: 0, GiveUpAfter: time.Minute},
		fixedResolver{err: ErrNotSettled},
		fixedResolver{err: ErrNotSettled},
		func(res Result) { got = append(got, res) }, slog.Default())

	p := testPending()
	r.Add(p)

	r.Tick(context.Background(), p.SettlesAt.Add(time.Second))
	assert.Empty(t, got)
	assert.Equal(t, 1, r.PendingCount(), "still pending before give-up window elapses")

	r.Tick(context.Background(), p.SettlesAt.Add(2*time.Minute))
	assert.Empty(t, got, "no callback fires on give-up, only a logged error")
	assert.Equal(t, 0, r.PendingCount(), "dropped after give-up window")
}

func TestNotYetDueIsSkipped(t *testing.T) {
	var got []Result
	r := New(Config{PollInterval: 0}, fixedResolver{outcome: Outcome{Side: "yes"}}, fixedResolver{outcome: Outcome{Side: "no"}},
		func(res Result) { got = append(got, res) }, slog.Default())

	p := testPending()
	r.Add(p)
	r.Tick(context.Background(), p.SettlesAt.Add(-time.Second))

	assert.Empty(t, got)
	assert.Equal(t, 1, r.PendingCount())
}
