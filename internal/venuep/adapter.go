package venuep

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
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

// discovered caches what DiscoverNext learned about one interval's venue
// P market, so the later ResolveOutcome/ReadPositions/SellAtBid calls
// (whose ports don't carry a mapping.Mapping) can still resolve the
// token IDs and slug without threading a mapping.Store through Adapter.
type discovered struct {
	upTokenID, downTokenID, slug string
}

// Adapter wraps Client and WSClient to satisfy every port the rest of the
// module needs from venue P: execution.VenueA, coordinator.DiscovererP,
// coordinator.Subscriber, settlement.VenueResolver, and the reconcile
// read function.
type Adapter struct {
	client *Client
	ws     *WSClient

	mu         sync.Mutex
	byInterval map[int64]discovered // keyed by interval.Key.Start.Unix()
	currentKey int64
}

// NewAdapter constructs an Adapter over an already-built Client and WSClient.
func NewAdapter(client *Client, ws *WSClient) *Adapter {
	return &Adapter{client: client, ws: ws, byInterval: make(map[int64]discovered)}
}

// SubmitIOC places an immediate-or-cancel order on venue P for leg A.
// Venue P has no native IOC order type in the CLOB API beyond FOK/GTC, so
// this submits a FOK-style aggressive limit ("FAK" — fill-and-kill) and
// treats any fill less than full size as the IOC partial-fill case
// execution.Engine's leg A path already handles.
func (a *Adapter) SubmitIOC(ctx context.Context, leg planner.LegAParams) (execution.Fill, error) {
	price, _ := leg.Price.Float64()
	size, _ := leg.Size.Float64()

	resp, err := a.client.PostOrder(ctx, leg.TokenID, "BUY", price, size, "FAK")
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuep: submit ioc: %w", err)
	}
	if !resp.Success {
		return execution.Fill{}, fmt.Errorf("venuep: ioc order rejected: %s", resp.ErrorMsg)
	}
	filled, err := decimal.NewFromString(resp.MatchedSize)
	if err != nil || filled.IsZero() {
		return execution.Fill{}, fmt.Errorf("venuep: ioc order %s did not fill", resp.OrderID)
	}
	return execution.Fill{
		OrderID: resp.OrderID,
		Price:   leg.Price,
		Qty:     filled,
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
	matched, err := decimal.NewFromString(order.SizeMatched)
	if err != nil || matched.IsZero() {
		return execution.OrderState{Filled: false}, nil
	}
	price, _ := decimal.NewFromString(order.Price)
	return execution.OrderState{
		Filled: true,
		Fill: execution.Fill{
			OrderID: order.ID,
			Price:   price,
			Qty:     matched,
			At:      time.Now(),
		},
	}, nil
}

// SellAtBid submits a marketable sell order against the current bid for
// the most recently discovered interval's token on the given side, used
// by internal/volatility for proactive exits and by internal/reconcile
// for unwind corrective actions.
func (a *Adapter) SellAtBid(ctx context.Context, side string, qty decimal.Decimal) (execution.Fill, error) {
	tokenID, err := a.currentTokenIDForSide(side)
	if err != nil {
		return execution.Fill{}, err
	}
	book, err := a.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuep: sell at bid: %w", err)
	}
	if len(book.Bids) == 0 {
		return execution.Fill{}, fmt.Errorf("venuep: no bids available for %s", tokenID)
	}
	bidPrice, err := strconv.ParseFloat(book.Bids[0].Price, 64)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuep: parsing bid price: %w", err)
	}
	size, _ := qty.Float64()

	resp, err := a.client.PostOrder(ctx, tokenID, "SELL", bidPrice, size, "FAK")
	if err != nil {
		return execution.Fill{}, err
	}
	filled, err := decimal.NewFromString(resp.MatchedSize)
	if err != nil {
		filled = decimal.Zero
	}
	return execution.Fill{OrderID: resp.OrderID, Price: decimal.NewFromFloat(bidPrice), Qty: filled, At: time.Now()}, nil
}

// BuyAtAsk submits a marketable buy order against the current ask for the
// most recently discovered interval's token on the given side, used by
// internal/reconcile's corrective executor to complete a box when only one
// leg filled.
func (a *Adapter) BuyAtAsk(ctx context.Context, side string, qty decimal.Decimal) (execution.Fill, error) {
	tokenID, err := a.currentTokenIDForSide(side)
	if err != nil {
		return execution.Fill{}, err
	}
	book, err := a.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuep: buy at ask: %w", err)
	}
	if len(book.Asks) == 0 {
		return execution.Fill{}, fmt.Errorf("venuep: no asks available for %s", tokenID)
	}
	askPrice, err := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("venuep: parsing ask price: %w", err)
	}
	size, _ := qty.Float64()

	resp, err := a.client.PostOrder(ctx, tokenID, "BUY", askPrice, size, "FAK")
	if err != nil {
		return execution.Fill{}, err
	}
	filled, err := decimal.NewFromString(resp.MatchedSize)
	if err != nil {
		filled = decimal.Zero
	}
	return execution.Fill{OrderID: resp.OrderID, Price: decimal.NewFromFloat(askPrice), Qty: filled, At: time.Now()}, nil
}

func (a *Adapter) currentTokenIDForSide(side string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.byInterval[a.currentKey]
	if !ok {
		return "", fmt.Errorf("venuep: no discovered market for the current interval")
	}
	if side == "yes" {
		return d.upTokenID, nil
	}
	return d.downTokenID, nil
}

var refPriceRe = regexp.MustCompile(`\$?([\d,]+(?:\.\d+)?)`)

// DiscoverNext resolves the venue P half of the mapping for ivl by
// listing Gamma markets under the configured slug prefix and matching on
// end date. It also caches the resolved token IDs and slug, since
// settlement.VenueResolver and the reconcile read function don't carry
// a mapping.Mapping through their call signatures.
func (a *Adapter) DiscoverNext(ctx context.Context, ivl interval.Key) (mapping.VenueP, error) {
	markets, err := a.client.GetMarkets(ctx, true)
	if err != nil {
		return mapping.VenueP{}, fmt.Errorf("venuep: discover: %w", err)
	}
	for _, m := range markets {
		endTime, err := time.Parse(time.RFC3339, m.EndDateISO)
		if err != nil || !endTime.Equal(ivl.End) {
			continue
		}
		var tokenIDs []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) != 2 {
			continue
		}

		key := ivl.Start.Unix()
		a.mu.Lock()
		a.byInterval[key] = discovered{upTokenID: tokenIDs[0], downTokenID: tokenIDs[1], slug: m.Slug}
		a.currentKey = key
		a.mu.Unlock()

		a.ws.TrackPair(tokenIDs[0], tokenIDs[1])

		return mapping.VenueP{
			UpTokenID:      tokenIDs[0],
			DownTokenID:    tokenIDs[1],
			Slug:           m.Slug,
			ReferencePrice: parseReferencePrice(m.Question),
		}, nil
	}
	return mapping.VenueP{}, fmt.Errorf("venuep: no market found closing at %s", ivl.End)
}

func parseReferencePrice(question string) float64 {
	match := refPriceRe.FindStringSubmatch(question)
	if len(match) < 2 {
		return 0
	}
	clean := strings.ReplaceAll(match[1], ",", "")
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return f
}

// Subscribe registers token IDs with the websocket client.
func (a *Adapter) Subscribe(ids []string) error {
	return a.ws.Subscribe(ids)
}

// ResolveOutcome fetches the settled outcome for an interval's venue P
// market, translating Gamma's outcomePrices array ("1" for the winning
// outcome) into settlement.Outcome. Up is treated as "yes".
func (a *Adapter) ResolveOutcome(ctx context.Context, ivl interval.Key) (settlement.Outcome, error) {
	a.mu.Lock()
	d, ok := a.byInterval[ivl.Start.Unix()]
	a.mu.Unlock()
	if !ok {
		return settlement.Outcome{}, settlement.ErrNotSettled
	}

	m, err := a.client.GetMarketBySlug(ctx, d.slug)
	if err != nil {
		return settlement.Outcome{}, err
	}
	if !m.Closed {
		return settlement.Outcome{}, settlement.ErrNotSettled
	}
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) != 2 {
		return settlement.Outcome{}, settlement.ErrNotSettled
	}
	if prices[0] == "1" {
		return settlement.Outcome{Side: "yes"}, nil
	}
	return settlement.Outcome{Side: "no"}, nil
}

// ReadPositions reports venue P's current yes/no position sizes for the
// most recently discovered interval, used as the readP func in
// reconcile.New. Positive PositionEntry.Size on the up token counts as
// yes, on the down token as no.
func (a *Adapter) ReadPositions(ctx context.Context) (reconcile.VenuePositions, error) {
	a.mu.Lock()
	d, ok := a.byInterval[a.currentKey]
	a.mu.Unlock()
	if !ok {
		return reconcile.VenuePositions{}, nil
	}

	positions, err := a.client.GetPositions(ctx)
	if err != nil {
		return reconcile.VenuePositions{}, err
	}
	var yes, no decimal.Decimal
	for _, p := range positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil {
			continue
		}
		switch p.TokenID {
		case d.upTokenID:
			yes = yes.Add(size)
		case d.downTokenID:
			no = no.Add(size)
		}
	}
	return reconcile.VenuePositions{YesQty: yes, NoQty: no}, nil
}
