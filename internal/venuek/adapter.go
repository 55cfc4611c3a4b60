package venuek

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/planner"
	"github.com/sdibella/boxarb/internal/reconcile"
	"github.com/sdibella/boxarb/internal/settlement"
)

// Adapter wraps Client and WSClient to satisfy every port the rest of the
// module needs from venue K: execution.VenueB, coordinator.DiscovererK,
// coordinator.Subscriber, settlement.VenueResolver, and the reconcile read
// function. Keeping one struct behind all these small interfaces mirrors
// how the teacher's single kalshi.Client served every call site directly.
type Adapter struct {
	client *Client
	ws     *WSClient

	mu         sync.Mutex
	byInterval map[int64]string // interval.Key.Start.Unix() -> market ticker
	currentKey int64
}

// NewAdapter constructs an Adapter over an already-built Client and WSClient.
func NewAdapter(client *Client, ws *WSClient) *Adapter {
	return &Adapter{client: client, ws: ws, byInterval: make(map[int64]string)}
}

// SubmitFOK places a fill-or-kill order on venue K for leg B.
func (a *Adapter) SubmitFOK(ctx context.Context, leg planner.LegBParams) (execution.Fill, error) {
	priceCts := decimalToCents(leg.Price)
	req := OrderRequest{
		Ticker:        leg.MarketTicker,
		ClientOrderID: leg.ClientOrderID,
		Side:          leg.Side,
		Action:        "buy",
		Count:         leg.Size.IntPart(),
		Type:          "limit",
		TimeInForce:   "fill_or_kill",
	}
	if leg.Side == "yes" {
		req.YesPriceCts = &priceCts
	} else {
		req.NoPriceCts = &priceCts
	}

	order, err := a.client.CreateOrder(ctx, req)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuek: submit fok: %w", err)
	}
	if order.FilledCount == 0 {
		return execution.Fill{}, fmt.Errorf("venuek: fok order %s did not fill", order.OrderID)
	}
	return execution.Fill{
		OrderID: order.OrderID,
		Price:   leg.Price,
		Qty:     decimal.New(order.FilledCount, 0),
		At:      time.Now(),
	}, nil
}

// Cancel cancels a resting order.
func (a *Adapter) Cancel(ctx context.Context, orderID string) error {
	return a.client.CancelOrder(ctx, orderID)
}

// GetOrderStatus polls an order's fill state, used for cancel-then-verify.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (execution.OrderState, error) {
	order, err := a.client.GetOrder(ctx, orderID)
	if err != nil {
		return execution.OrderState{}, err
	}
	if order.FilledCount == 0 {
		return execution.OrderState{Filled: false}, nil
	}
	return execution.OrderState{
		Filled: true,
		Fill: execution.Fill{
			OrderID: order.OrderID,
			Qty:     decimal.New(order.FilledCount, 0),
			At:      time.Now(),
		},
	}, nil
}

// DiscoverNext resolves the venue K half of the mapping for ivl by listing
// open markets in the series and matching on close time.
func (a *Adapter) DiscoverNext(ctx context.Context, ivl interval.Key) (mapping.VenueK, error) {
	markets, err := a.client.GetMarkets(ctx, "open")
	if err != nil {
		return mapping.VenueK{}, fmt.Errorf("venuek: discover: %w", err)
	}
	for _, m := range markets {
		closeTime, err := time.Parse(time.RFC3339, m.CloseTime)
		if err != nil {
			continue
		}
		if closeTime.Equal(ivl.End) {
			key := ivl.Start.Unix()
			a.mu.Lock()
			a.byInterval[key] = m.Ticker
			a.currentKey = key
			a.mu.Unlock()

			return mapping.VenueK{
				EventTicker:    m.EventTicker,
				MarketTicker:   m.Ticker,
				SeriesTicker:   a.client.cfg.SeriesTicker,
				ReferencePrice: m.StrikePrice(),
			}, nil
		}
	}
	return mapping.VenueK{}, fmt.Errorf("venuek: no market found closing at %s", ivl.End)
}

// SellAtBid submits a marketable sell order against the current best bid
// for the given side on the most recently discovered interval's market,
// used by internal/volatility for proactive exits and by internal/reconcile
// for unwind corrective actions — the venue K counterpart to venuep's
// Adapter.SellAtBid.
func (a *Adapter) SellAtBid(ctx context.Context, side string, qty decimal.Decimal) (execution.Fill, error) {
	a.mu.Lock()
	ticker, ok := a.byInterval[a.currentKey]
	a.mu.Unlock()
	if !ok {
		return execution.Fill{}, fmt.Errorf("venuek: no discovered market for the current interval")
	}

	book, err := a.client.GetOrderbook(ctx, ticker)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuek: sell at bid: %w", err)
	}
	levels := book.Yes
	if side == "no" {
		levels = book.No
	}
	bidCts, _, ok := bestRESTLevel(levels)
	if !ok {
		return execution.Fill{}, fmt.Errorf("venuek: no bids available for %s side %s", ticker, side)
	}

	req := OrderRequest{
		Ticker:      ticker,
		Side:        side,
		Action:      "sell",
		Count:       qty.IntPart(),
		Type:        "limit",
		TimeInForce: "fill_or_kill",
	}
	if side == "yes" {
		req.YesPriceCts = &bidCts
	} else {
		req.NoPriceCts = &bidCts
	}

	order, err := a.client.CreateOrder(ctx, req)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuek: sell at bid: %w", err)
	}
	return execution.Fill{
		OrderID: order.OrderID,
		Price:   centsToDecimal(bidCts),
		Qty:     decimal.New(order.FilledCount, 0),
		At:      time.Now(),
	}, nil
}

// BuyAtAsk submits a marketable buy order against the current ask for the
// given side on the most recently discovered interval's market, used by
// internal/reconcile's corrective executor to complete a box when only one
// leg filled. Venue K has no separate ask book for a side; the ask is
// derived from the complementary side's best bid (yes_ask = 100 - no_bid),
// the same derivation WSClient.ToNormalized uses.
func (a *Adapter) BuyAtAsk(ctx context.Context, side string, qty decimal.Decimal) (execution.Fill, error) {
	a.mu.Lock()
	ticker, ok := a.byInterval[a.currentKey]
	a.mu.Unlock()
	if !ok {
		return execution.Fill{}, fmt.Errorf("venuek: no discovered market for the current interval")
	}

	book, err := a.client.GetOrderbook(ctx, ticker)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuek: buy at ask: %w", err)
	}
	oppositeLevels := book.No
	if side == "no" {
		oppositeLevels = book.Yes
	}
	oppositeBidCts, _, ok := bestRESTLevel(oppositeLevels)
	if !ok {
		return execution.Fill{}, fmt.Errorf("venuek: no opposite bid available to derive ask for %s side %s", ticker, side)
	}
	askCts := 100 - oppositeBidCts

	req := OrderRequest{
		Ticker:      ticker,
		Side:        side,
		Action:      "buy",
		Count:       qty.IntPart(),
		Type:        "limit",
		TimeInForce: "fill_or_kill",
	}
	if side == "yes" {
		req.YesPriceCts = &askCts
	} else {
		req.NoPriceCts = &askCts
	}

	order, err := a.client.CreateOrder(ctx, req)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuek: buy at ask: %w", err)
	}
	return execution.Fill{
		OrderID: order.OrderID,
		Price:   centsToDecimal(askCts),
		Qty:     decimal.New(order.FilledCount, 0),
		At:      time.Now(),
	}, nil
}

// bestRESTLevel returns the highest price_cents level with positive size
// from a REST orderbook snapshot's [price_cents, size] pairs.
func bestRESTLevel(levels [][2]int64) (priceCts, size int64, ok bool) {
	for _, lvl := range levels {
		if lvl[1] <= 0 {
			continue
		}
		if !ok || lvl[0] > priceCts {
			priceCts, size, ok = lvl[0], lvl[1], true
		}
	}
	return
}

// Subscribe adds market tickers to the websocket's tracked set.
func (a *Adapter) Subscribe(ids []string) error {
	return a.ws.Subscribe(ids)
}

// ResolveOutcome fetches the settled result for an interval's venue K
// market, translating venue K's "result" field into settlement.Outcome.
func (a *Adapter) ResolveOutcome(ctx context.Context, ivl interval.Key) (settlement.Outcome, error) {
	markets, err := a.client.GetMarkets(ctx, "settled")
	if err != nil {
		return settlement.Outcome{}, err
	}
	for _, m := range markets {
		closeTime, err := time.Parse(time.RFC3339, m.CloseTime)
		if err != nil {
			continue
		}
		if !closeTime.Equal(ivl.End) {
			continue
		}
		if m.Result == "" {
			return settlement.Outcome{}, settlement.ErrNotSettled
		}
		return settlement.Outcome{Side: m.Result}, nil
	}
	return settlement.Outcome{}, settlement.ErrNotSettled
}

// ReadPositions reports venue K's current yes/no position counts for the
// reconciler's venue-truth read, used as the readK func in reconcile.New.
func (a *Adapter) ReadPositions(ctx context.Context) (reconcile.VenuePositions, error) {
	positions, err := a.client.GetPositions(ctx)
	if err != nil {
		return reconcile.VenuePositions{}, err
	}
	var yes, no decimal.Decimal
	for _, p := range positions {
		if p.Position > 0 {
			yes = yes.Add(decimal.New(p.Position, 0))
		} else if p.Position < 0 {
			no = no.Add(decimal.New(-p.Position, 0))
		}
	}
	return reconcile.VenuePositions{YesQty: yes, NoQty: no}, nil
}
