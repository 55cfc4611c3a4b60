// Package edge computes gross/net arbitrage edge across both box
// orientations and caps executable quantity. It is a pure function over
// (quoteP, quoteK, feeCfg, slippageCfg) — no I/O, no state — generalizing
// the teacher's threshold-based Evaluate/TakerFee (internal/strategy/strategy.go)
// from a single-venue directional signal into the two-venue box-cost
// calculation spec.md §4.D requires.
package edge

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
)

// minLegPrice/maxLegPrice bound individual leg prices, per spec.md §4.D /
// §8 boundary behavior: 0.01 and 0.99 accepted, 0.00 and 1.00 rejected.
var (
	minLegPrice = decimal.NewFromFloat(0.01)
	maxLegPrice = decimal.NewFromFloat(0.99)
)

// FeeConfig configures the per-venue fee schedule.
type FeeConfig struct {
	// KalshiTakerFeeRate is the multiplier in the teacher's exact formula:
	// fee = ceil(rate * qty * p * (1-p) * 100) cents, generalized here to a
	// decimal-probability fraction of the $1 payout instead of cents.
	KalshiTakerFeeRate float64
	// PolymarketFeeRateBps is a flat basis-point fee per contract on the $1
	// payout (bps/10000 * qty, not scaled by price), per
	// 0xtitan6-polymarket-mm's FeeRateBps field on SignedOrder.
	PolymarketFeeRateBps int
}

// SlippageConfig reserves a fixed decimal buffer against net edge to absorb
// quote movement between observation and fill.
type SlippageConfig struct {
	BufferPerLeg decimal.Decimal
}

// Orientation names which venue supplies the YES leg.
type Orientation string

const (
	// YesFromP_NoFromK buys YES on venue P and NO on venue K.
	YesFromP_NoFromK Orientation = "yes_p_no_k"
	// YesFromK_NoFromP buys YES on venue K and NO on venue P.
	YesFromK_NoFromP Orientation = "yes_k_no_p"
)

// Leg is one half of a box trade.
type Leg struct {
	Venue quote.Venue
	Side  string // "yes" or "no"
	Price decimal.Decimal
	Size  decimal.Decimal // available size at Price, from the book
}

// Opportunity is the emitted arbitrage signal described in spec.md §3.
type Opportunity struct {
	Interval   interval.Key
	Orientation Orientation
	LegYES     Leg
	LegNO      Leg
	Cost       decimal.Decimal
	EdgeGross  decimal.Decimal
	EdgeNet    decimal.Decimal
	Qty        decimal.Decimal
	Reason     string
}

// Params bundles the thresholds and caps Evaluate needs.
type Params struct {
	Fee             FeeConfig
	Slippage        SlippageConfig
	MinEdgeNet      decimal.Decimal
	MinQtyP         func(price decimal.Decimal) decimal.Decimal // venue P's minimum-notional floor, a function of price
	RemainingNotional decimal.Decimal
	MaxPerTradeQty  decimal.Decimal
}

// feeEstimate returns the total fee (in the same $1-payout units as price)
// for a box of qty contracts at the given leg prices, combining both
// venues' fee schedules.
func feeEstimate(cfg FeeConfig, qtyFloat float64, priceK decimal.Decimal) decimal.Decimal {
	p, _ := priceK.Float64()
	kalshiFeeCents := math.Ceil(cfg.KalshiTakerFeeRate * qtyFloat * p * (1 - p) * 100.0)
	kalshiFee := decimal.NewFromFloat(kalshiFeeCents / 100.0)

	polyBps := decimal.NewFromInt(int64(cfg.PolymarketFeeRateBps)).Div(decimal.NewFromInt(10000))
	polyFee := polyBps.Mul(decimal.NewFromFloat(qtyFloat))

	return kalshiFee.Add(polyFee)
}

// evalOrientation computes cost/edge for one box orientation. Returns
// (opportunity, ok) where ok is false if the orientation fails a hard
// rejection (zero size, out-of-range price).
func evalOrientation(ivl interval.Key, orientation Orientation, legYES, legNO Leg, params Params) (Opportunity, bool) {
	if !legYES.Size.IsPositive() || !legNO.Size.IsPositive() {
		return Opportunity{}, false
	}
	if legYES.Price.LessThan(minLegPrice) || legYES.Price.GreaterThan(maxLegPrice) {
		return Opportunity{}, false
	}
	if legNO.Price.LessThan(minLegPrice) || legNO.Price.GreaterThan(maxLegPrice) {
		return Opportunity{}, false
	}

	cost := legYES.Price.Add(legNO.Price)
	edgeGross := decimal.NewFromInt(1).Sub(cost)

	// Determine which leg prices (for fee purposes) belong to venue K.
	var kalshiLegPrice decimal.Decimal
	if legYES.Venue == quote.VenueK {
		kalshiLegPrice = legYES.Price
	} else {
		kalshiLegPrice = legNO.Price
	}

	qty := capQty(legYES, legNO, cost, params)
	if !qty.IsPositive() {
		return Opportunity{}, false
	}
	qtyFloat, _ := qty.Float64()

	fee := feeEstimate(params.Fee, qtyFloat, kalshiLegPrice)
	slip := params.Slippage.BufferPerLeg.Mul(decimal.NewFromInt(2))
	// fee and slip are total-dollar amounts for qty contracts; normalize to
	// per-contract units to subtract from edge_net (which is per-contract).
	feePerContract := decimal.Zero
	slipPerContract := decimal.Zero
	if qty.IsPositive() {
		feePerContract = fee.Div(qty)
		slipPerContract = slip.Div(qty)
	}

	edgeNet := edgeGross.Sub(feePerContract).Sub(slipPerContract)

	if edgeNet.LessThan(params.MinEdgeNet) {
		return Opportunity{}, false
	}

	if params.MinQtyP != nil {
		floor := params.MinQtyP(legYES.Price)
		if orientation == YesFromK_NoFromP {
			floor = params.MinQtyP(legNO.Price)
		}
		if qty.LessThan(floor) {
			return Opportunity{}, false
		}
	}

	return Opportunity{
		Interval:    ivl,
		Orientation: orientation,
		LegYES:      legYES,
		LegNO:       legNO,
		Cost:        cost,
		EdgeGross:   edgeGross,
		EdgeNet:     edgeNet,
		Qty:         qty,
		Reason:      string(orientation),
	}, true
}

// capQty caps qty by: min(per-leg available size, remaining notional
// headroom / cost, configured max-per-trade).
func capQty(legYES, legNO Leg, cost decimal.Decimal, params Params) decimal.Decimal {
	qty := legYES.Size
	if legNO.Size.LessThan(qty) {
		qty = legNO.Size
	}

	if cost.IsPositive() && params.RemainingNotional.IsPositive() {
		headroomQty := params.RemainingNotional.Div(cost)
		if headroomQty.LessThan(qty) {
			qty = headroomQty
		}
	} else if params.RemainingNotional.Sign() <= 0 {
		return decimal.Zero
	}

	if params.MaxPerTradeQty.IsPositive() && params.MaxPerTradeQty.LessThan(qty) {
		qty = params.MaxPerTradeQty
	}

	return qty
}

// Evaluate considers both box orientations and returns the one with higher
// edge_net, or nil if neither clears the floor. Never returns an error —
// "no opportunity" is signaled by a nil Opportunity, per spec.md §4.D.
func Evaluate(ivl interval.Key, qP, qK quote.NormalizedQuote, params Params) *Opportunity {
	// Orientation 1: YES from P (buy at P's yes ask), NO from K (buy at K's no ask).
	o1, ok1 := evalOrientation(ivl, YesFromP_NoFromK,
		Leg{Venue: quote.VenueP, Side: "yes", Price: qP.YesAsk.Price, Size: qP.YesAsk.Size},
		Leg{Venue: quote.VenueK, Side: "no", Price: qK.NoAsk.Price, Size: qK.NoAsk.Size},
		params)

	// Orientation 2: YES from K, NO from P.
	o2, ok2 := evalOrientation(ivl, YesFromK_NoFromP,
		Leg{Venue: quote.VenueK, Side: "yes", Price: qK.YesAsk.Price, Size: qK.YesAsk.Size},
		Leg{Venue: quote.VenueP, Side: "no", Price: qP.NoAsk.Price, Size: qP.NoAsk.Size},
		params)

	switch {
	case ok1 && ok2:
		if o1.EdgeNet.GreaterThan(o2.EdgeNet) {
			return &o1
		}
		return &o2
	case ok1:
		return &o1
	case ok2:
		return &o2
	default:
		return nil
	}
}
