package venuek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config bundles everything needed to construct a Client, mirroring the
// teacher's kalshi.Config plus the base URL split the teacher hardcodes.
type Config struct {
	BaseURL         string // e.g. "https://trading-api.kalshi.com"
	BasePathPrefix  string // e.g. "/trade-api/v2"
	SeriesTicker    string // e.g. "KXBTC" — used to discover the 15-minute series
	Credentials     Credentials
	HTTPTimeout     time.Duration
}

// Client is the REST client for venue K, following the teacher's plain
// net/http.Client wrapper rather than a third-party HTTP library — the
// teacher never reaches for one here, and this package keeps that texture.
type Client struct {
	cfg    Config
	http   *http.Client
	dryRun bool
}

// New constructs a Client. dryRun short-circuits every mutating call,
// exactly like 0xtitan6-polymarket-mm's exchange.Client dry-run flag.
func New(cfg Config, dryRun bool) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		dryRun: dryRun,
	}
}

// Market is the subset of venue K's market metadata this bot needs: the
// strike/reference price, close time, and settlement result.
type Market struct {
	Ticker          string `json:"ticker"`
	EventTicker     string `json:"event_ticker"`
	Title           string `json:"title"`
	StrikePriceCts  *int64 `json:"floor_strike"`
	Status          string `json:"status"`
	CloseTime       string `json:"close_time"`
	Result          string `json:"result"` // "yes", "no", or "" if not yet settled
	YesBidCts       int64  `json:"yes_bid"`
	YesAskCts       int64  `json:"yes_ask"`
	NoBidCts        int64  `json:"no_bid"`
	NoAskCts        int64  `json:"no_ask"`
}

var strikeRe = regexp.MustCompile(`(\d[\d,]*\.?\d*)`)

// StrikePrice returns the market's reference strike as a float, falling
// back to regex-parsing the title if floor_strike is absent — some venue
// K series encode the strike only in the human-readable title, same as
// the teacher's Market.StrikePrice().
func (m Market) StrikePrice() float64 {
	if m.StrikePriceCts != nil {
		return float64(*m.StrikePriceCts)
	}
	match := strikeRe.FindString(m.Title)
	if match == "" {
		return 0
	}
	var clean []byte
	for _, r := range match {
		if r != ',' {
			clean = append(clean, byte(r))
		}
	}
	f, err := strconv.ParseFloat(string(clean), 64)
	if err != nil {
		return 0
	}
	return f
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
}

type marketResponse struct {
	Market Market `json:"market"`
}

// GetMarkets lists the configured series' markets with the given status,
// used for interval discovery.
func (c *Client) GetMarkets(ctx context.Context, status string) ([]Market, error) {
	path := fmt.Sprintf("/markets?series_ticker=%s&status=%s", c.cfg.SeriesTicker, status)
	var out marketsResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Markets, nil
}

// GetMarket fetches a single market by ticker, used both for discovery
// verification and for post-close settlement polling.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	var out marketResponse
	if err := c.get(ctx, "/markets/"+ticker, &out); err != nil {
		return Market{}, err
	}
	return out.Market, nil
}

// Orderbook is the raw int-cents levels venue K returns. The adapter reads
// its best levels with bestRESTLevel.
type Orderbook struct {
	Yes [][2]int64 `json:"yes"` // [price_cents, size]
	No  [][2]int64 `json:"no"`
}

type orderbookResponse struct {
	Orderbook Orderbook `json:"orderbook"`
}

// GetOrderbook fetches the current top-of-book for a market via REST —
// used to seed state before the websocket connects.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (Orderbook, error) {
	var out orderbookResponse
	if err := c.get(ctx, "/markets/"+ticker+"/orderbook", &out); err != nil {
		return Orderbook{}, err
	}
	return out.Orderbook, nil
}

// Balance is venue K's account balance response, in integer cents.
type Balance struct {
	BalanceCts int64 `json:"balance"`
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var out Balance
	if err := c.get(ctx, "/portfolio/balance", &out); err != nil {
		return decimal.Zero, err
	}
	return centsToDecimal(out.BalanceCts), nil
}

// Position is venue K's reported resting position for one market.
type Position struct {
	Ticker   string `json:"ticker"`
	Position int64  `json:"position"` // positive = long yes, negative = long no
}

type positionsResponse struct {
	MarketPositions []Position `json:"market_positions"`
}

func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out positionsResponse
	if err := c.get(ctx, "/portfolio/positions", &out); err != nil {
		return nil, err
	}
	return out.MarketPositions, nil
}

// OrderRequest is the REST body for POST /portfolio/orders.
type OrderRequest struct {
	Ticker       string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side         string `json:"side"`  // "yes" or "no"
	Action       string `json:"action"` // "buy" or "sell"
	Count        int64  `json:"count"`
	Type         string `json:"type"`           // "market" or "limit"
	TimeInForce  string `json:"time_in_force"`  // "fill_or_kill", "immediate_or_cancel"
	YesPriceCts  *int64 `json:"yes_price,omitempty"`
	NoPriceCts   *int64 `json:"no_price,omitempty"`
}

// Order is venue K's response to an order submission.
type Order struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"` // "resting", "canceled", "executed"
	FilledCount    int64  `json:"filled_count"`
	RemainingCount int64  `json:"remaining_count"`
	YesPriceCts    int64  `json:"yes_price"`
	NoPriceCts     int64  `json:"no_price"`
}

type orderResponse struct {
	Order Order `json:"order"`
}

// CreateOrder submits a FOK order, dry-run short-circuiting to a
// synthetic fully-filled order the way 0xtitan6's exchange.Client does
// for its mutating endpoints.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if c.dryRun {
		return Order{OrderID: "dry-run-" + req.ClientOrderID, Status: "executed", FilledCount: req.Count}, nil
	}
	var out orderResponse
	if err := c.post(ctx, "/portfolio/orders", req, &out); err != nil {
		return Order{}, err
	}
	return out.Order, nil
}

// CancelOrder cancels a resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		return nil
	}
	return c.delete(ctx, "/portfolio/orders/"+orderID, nil)
}

// GetOrder fetches the current status of an order, used for cancel-then-
// verify after a timeout.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var out orderResponse
	if err := c.get(ctx, "/portfolio/orders/"+orderID, &out); err != nil {
		return Order{}, err
	}
	return out.Order, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	fullPath := c.cfg.BasePathPrefix + path
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("venuek: marshaling request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+fullPath, reader)
	if err != nil {
		return fmt.Errorf("venuek: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	headers, err := authHeaders(c.cfg.Credentials, method, fullPath)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("venuek: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("venuek: reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("venuek: %s %s returned %d: %s", method, fullPath, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("venuek: decoding response: %w", err)
	}
	return nil
}

// centsToDecimal converts venue K's integer-cent prices/balances into the
// decimal probability/dollar scale the rest of this module shares.
func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// decimalToCents converts a decimal dollar/probability value into venue
// K's integer-cent wire format, rounding to the nearest cent.
func decimalToCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.New(100, 0)).Round(0).IntPart()
}
