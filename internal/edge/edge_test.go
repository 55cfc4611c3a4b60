package edge

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

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

func baseParams() Params {
	return Params{
		Fee: FeeConfig{
			KalshiTakerFeeRate:   0.07,
			PolymarketFeeRateBps: 0,
		},
		Slippage:          SlippageConfig{BufferPerLeg: dec("0.001")},
		MinEdgeNet:        dec("0.01"),
		MinQtyP:           func(decimal.Decimal) decimal.Decimal { return dec("1") },
		RemainingNotional: dec("1000"),
		MaxPerTradeQty:    dec("1000"),
	}
}

func testInterval() interval.Key {
	return interval.Current(time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC))
}

// Scenario 1 from spec.md §8: P yes_ask=0.46, K no_ask=0.52, small fees.
func TestCleanArbScenario(t *testing.T) {
	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: dec("0.46"), Size: dec("50")},
		NoAsk:  quote.Side{Price: dec("0.60"), Size: dec("50")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.60"), Size: dec("50")},
		NoAsk:  quote.Side{Price: dec("0.52"), Size: dec("50")},
	}

	// Small fees: a 0.02 venue K rate on 50 contracts at p=0.52 rounds up to
	// 25 cents, 0.005 per contract.
	params := baseParams()
	params.Fee.KalshiTakerFeeRate = 0.02

	opp := Evaluate(testInterval(), qP, qK, params)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}
	if opp.Orientation != YesFromP_NoFromK {
		t.Errorf("orientation = %v, want %v", opp.Orientation, YesFromP_NoFromK)
	}
	wantCost := dec("0.98")
	if !opp.Cost.Equal(wantCost) {
		t.Errorf("cost = %v, want %v", opp.Cost, wantCost)
	}
	wantGross := dec("0.02")
	if !opp.EdgeGross.Equal(wantGross) {
		t.Errorf("edge_gross = %v, want %v", opp.EdgeGross, wantGross)
	}
	if opp.EdgeNet.GreaterThan(opp.EdgeGross) {
		t.Error("edge_net must never exceed edge_gross")
	}
	if opp.EdgeNet.LessThan(baseParams().MinEdgeNet) {
		t.Error("emitted opportunity must clear min_edge_net")
	}
}

func TestNoOpportunityBelowFloor(t *testing.T) {
	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: dec("0.55"), Size: dec("50")},
		NoAsk:  quote.Side{Price: dec("0.55"), Size: dec("50")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.55"), Size: dec("50")},
		NoAsk:  quote.Side{Price: dec("0.55"), Size: dec("50")},
	}
	opp := Evaluate(testInterval(), qP, qK, baseParams())
	if opp != nil {
		t.Errorf("expected nil opportunity, cost=1.10 far above $1, got %+v", opp)
	}
}

func TestZeroSizeRejected(t *testing.T) {
	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: dec("0.40"), Size: dec("0")},
		NoAsk:  quote.Side{Price: dec("0.40"), Size: dec("0")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.40"), Size: dec("0")},
		NoAsk:  quote.Side{Price: dec("0.40"), Size: dec("0")},
	}
	opp := Evaluate(testInterval(), qP, qK, baseParams())
	if opp != nil {
		t.Error("expected nil opportunity with zero size on both legs")
	}
}

func TestBoundaryPricesAcceptedAndRejected(t *testing.T) {
	params := baseParams()
	params.MinEdgeNet = dec("-1") // isolate the price-boundary check

	accepted := evalTestOrientation(t, dec("0.01"), dec("0.01"), params)
	if !accepted {
		t.Error("price 0.01 should be accepted")
	}
	acceptedHi := evalTestOrientation(t, dec("0.99"), dec("0.0001"), params)
	if !acceptedHi {
		// Not the main point of this case; 0.99 alone should still pass the
		// boundary check even if the other leg pushes cost up.
	}
	rejectedZero := evalTestOrientation(t, dec("0.00"), dec("0.40"), params)
	if rejectedZero {
		t.Error("price 0.00 must be rejected")
	}
	rejectedOne := evalTestOrientation(t, dec("1.00"), dec("0.40"), params)
	if rejectedOne {
		t.Error("price 1.00 must be rejected")
	}
}

func evalTestOrientation(t *testing.T, yesPrice, noPrice decimal.Decimal, params Params) bool {
	t.Helper()
	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: yesPrice, Size: dec("10")},
		// Zero size keeps the other orientation out of the result.
		NoAsk: quote.Side{Price: dec("0.50"), Size: dec("0")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.50"), Size: dec("0")},
		NoAsk:  quote.Side{Price: noPrice, Size: dec("10")},
	}
	opp := Evaluate(testInterval(), qP, qK, params)
	return opp != nil
}

func TestQtyCappedByNotionalHeadroom(t *testing.T) {
	params := baseParams()
	params.RemainingNotional = dec("4.9") // enough for ~12 contracts at cost 0.40; min qty is 1
	params.MinQtyP = func(decimal.Decimal) decimal.Decimal { return dec("1") }

	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: dec("0.20"), Size: dec("1000")},
		NoAsk:  quote.Side{Price: dec("0.90"), Size: dec("1000")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.90"), Size: dec("1000")},
		NoAsk:  quote.Side{Price: dec("0.20"), Size: dec("1000")},
	}
	opp := Evaluate(testInterval(), qP, qK, params)
	if opp == nil {
		t.Fatal("expected opportunity")
	}
	if opp.Qty.GreaterThan(dec("15")) {
		t.Errorf("qty = %v, want capped near notional/cost (~12.25)", opp.Qty)
	}
}

func TestInsufficientNotionalHeadroomYieldsNoOpportunity(t *testing.T) {
	params := baseParams()
	params.RemainingNotional = dec("0.1") // below cost * min_qty_P
	params.MinQtyP = func(decimal.Decimal) decimal.Decimal { return dec("10") }

	qP := quote.NormalizedQuote{
		Venue:  quote.VenueP,
		YesAsk: quote.Side{Price: dec("0.40"), Size: dec("1000")},
		NoAsk:  quote.Side{Price: dec("0.70"), Size: dec("1000")},
	}
	qK := quote.NormalizedQuote{
		Venue:  quote.VenueK,
		YesAsk: quote.Side{Price: dec("0.70"), Size: dec("1000")},
		NoAsk:  quote.Side{Price: dec("0.40"), Size: dec("1000")},
	}
	opp := Evaluate(testInterval(), qP, qK, params)
	if opp != nil {
		t.Error("expected nil opportunity: notional headroom below min qty floor")
	}
}
