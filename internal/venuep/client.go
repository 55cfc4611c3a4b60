package venuep

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config bundles everything needed to construct a Client.
type Config struct {
	BaseURL     string // e.g. "https://clob.polymarket.com"
	GammaURL    string // e.g. "https://gamma-api.polymarket.com" — market discovery
	SlugPrefix  string // e.g. "btc-up-or-down" — narrows discovery to this series
	ChainID     int64
	HTTPTimeout time.Duration
}

// Client is the REST client for venue P, wrapping resty with automatic
// retry and per-category rate limiting, following 0xtitan6-polymarket-mm's
// exchange.Client exactly.
type Client struct {
	cfg     Config
	http    *resty.Client
	auth    *Auth
	limiter *RateLimiter
	dryRun  bool
}

// New constructs a Client. dryRun short-circuits every mutating call,
// returning synthetic order IDs instead of submitting to the exchange.
func New(cfg Config, auth *Auth, dryRun bool) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		cfg:     cfg,
		http:    c,
		auth:    auth,
		limiter: NewRateLimiter(),
		dryRun:  dryRun,
	}
}

// MarketInfo is the subset of the Gamma discovery API's market metadata
// this bot needs: the up/down token pair and the reference price
// encoded in the question/slug.
type MarketInfo struct {
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	EndDateISO  string `json:"endDate"`
	ClobTokenIDs string `json:"clobTokenIds"` // JSON-encoded ["up","down"]
}

// GetMarkets lists markets from the Gamma discovery API matching the
// configured slug prefix, used for interval discovery the same way
// GetMarket/GetMarkets works for venue K, just against a separate
// discovery host.
func (c *Client) GetMarkets(ctx context.Context, activeOnly bool) ([]MarketInfo, error) {
	var out []MarketInfo
	req := c.http.R().SetContext(ctx).SetQueryParam("slug_prefix", c.cfg.SlugPrefix).SetResult(&out)
	if activeOnly {
		req = req.SetQueryParam("active", "true")
	}
	resp, err := req.Get(c.cfg.GammaURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("venuep: get markets: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("venuep: get markets returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// BookLevel is a single bid or ask price level, returned as strings to
// preserve decimal precision exactly as the CLOB API emits them.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market  string      `json:"market"`
	AssetID string      `json:"asset_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
	Hash    string      `json:"hash"`
}

// GetMarketBySlug fetches a single market's current metadata including
// resolution status, for settlement polling.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (ResolvedMarket, error) {
	var out []ResolvedMarket
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("slug", slug).SetResult(&out).Get(c.cfg.GammaURL + "/markets")
	if err != nil {
		return ResolvedMarket{}, fmt.Errorf("venuep: get market by slug: %w", err)
	}
	if resp.IsError() {
		return ResolvedMarket{}, fmt.Errorf("venuep: get market by slug returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out) == 0 {
		return ResolvedMarket{}, fmt.Errorf("venuep: no market found for slug %q", slug)
	}
	return out[0], nil
}

// ResolvedMarket is the subset of Gamma market fields needed to determine
// the settled outcome: whether the market has closed, and which outcome
// ("Up"/"Down") paid out.
type ResolvedMarket struct {
	Slug          string `json:"slug"`
	Closed        bool   `json:"closed"`
	OutcomePrices string `json:"outcomePrices"` // JSON-encoded e.g. ["1","0"]
}

// GetOrderBook fetches the current order book for a token ID, rate
// limited against the Book bucket.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (BookResponse, error) {
	if err := c.limiter.Book.Wait(ctx); err != nil {
		return BookResponse{}, err
	}
	var out BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return BookResponse{}, fmt.Errorf("venuep: get order book: %w", err)
	}
	if resp.IsError() {
		return BookResponse{}, fmt.Errorf("venuep: get order book returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// SignedOrder is the on-chain order format the CLOB API expects.
type SignedOrder struct {
	Salt          string   `json:"salt"`
	Maker         string   `json:"maker"`
	Signer        string   `json:"signer"`
	Taker         string   `json:"taker"`
	TokenID       string   `json:"tokenId"`
	MakerAmount   *big.Int `json:"makerAmount"`
	TakerAmount   *big.Int `json:"takerAmount"`
	Side          string   `json:"side"`
	Expiration    string   `json:"expiration"`
	Nonce         string   `json:"nonce"`
	FeeRateBps    string   `json:"feeRateBps"`
	SignatureType int      `json:"signatureType"`
	Signature     string   `json:"signature"`
}

// OrderPayload is the REST request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"` // "FOK" or "FAK" (our IOC)
}

// OrderResponse is the REST response for an order submission.
type OrderResponse struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg"`
	OrderID     string `json:"orderID"`
	Status      string `json:"status"`
	MatchedSize string `json:"takingAmount"`
}

// buildOrderPayload signs a limit order client-side, following
// 0xtitan6-polymarket-mm's buildOrderPayload: the signer is the EOA, the
// maker is the funder (equal here since this module uses plain EOA
// signing), and the taker is the zero address for an open book order.
func (c *Client) buildOrderPayload(tokenID, side string, price, size float64, orderType string) (OrderPayload, error) {
	maker, taker := PriceToAmounts(side, price, size, 4)
	order := SignedOrder{
		Salt:          uuid.NewString(),
		Maker:         c.auth.Address().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   maker,
		TakerAmount:   taker,
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: 0,
	}
	return OrderPayload{Order: order, Owner: c.auth.creds.APIKey, OrderType: orderType}, nil
}

// PostOrder submits a single order, dry-run short-circuiting to a
// synthetic fully-matched response.
func (c *Client) PostOrder(ctx context.Context, tokenID, side string, price, size float64, orderType string) (OrderResponse, error) {
	if c.dryRun {
		return OrderResponse{Success: true, OrderID: "dry-run-" + uuid.NewString(), Status: "matched", MatchedSize: strconv.FormatFloat(size, 'f', -1, 64)}, nil
	}
	if err := c.limiter.Order.Wait(ctx); err != nil {
		return OrderResponse{}, err
	}

	payload, err := c.buildOrderPayload(tokenID, side, price, size, orderType)
	if err != nil {
		return OrderResponse{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("venuep: marshal order: %w", err)
	}

	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return OrderResponse{}, err
	}

	var out OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&out).
		Post("/order")
	if err != nil {
		return OrderResponse{}, fmt.Errorf("venuep: post order: %w", err)
	}
	if resp.IsError() {
		return OrderResponse{}, fmt.Errorf("venuep: post order returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// CancelResponse reports which order IDs were cancelled.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// CancelOrder cancels a single resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		return nil
	}
	if err := c.limiter.Cancel.Wait(ctx); err != nil {
		return err
	}
	body := map[string]string{"orderID": orderID}
	headers, err := c.auth.L2Headers("DELETE", "/order", "")
	if err != nil {
		return err
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(body).Delete("/order")
	if err != nil {
		return fmt.Errorf("venuep: cancel order: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("venuep: cancel order returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// OpenOrder is a live resting order on the book.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// GetOrder fetches a single order's current status, used for
// cancel-then-verify after a timeout.
func (c *Client) GetOrder(ctx context.Context, orderID string) (OpenOrder, error) {
	headers, err := c.auth.L2Headers("GET", "/order/"+orderID, "")
	if err != nil {
		return OpenOrder{}, err
	}
	var out OpenOrder
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&out).Get("/order/" + orderID)
	if err != nil {
		return OpenOrder{}, fmt.Errorf("venuep: get order: %w", err)
	}
	if resp.IsError() {
		return OpenOrder{}, fmt.Errorf("venuep: get order returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// Balance is the REST response from GET /balance-allowance.
type Balance struct {
	Balance string `json:"balance"` // USDC, 6-decimal string
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	headers, err := c.auth.L2Headers("GET", "/balance-allowance", "")
	if err != nil {
		return decimal.Zero, err
	}
	var out Balance
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&out).Get("/balance-allowance")
	if err != nil {
		return decimal.Zero, fmt.Errorf("venuep: get balance: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("venuep: get balance returned %d: %s", resp.StatusCode(), resp.String())
	}
	raw, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venuep: parsing balance: %w", err)
	}
	return raw.Div(decimal.New(1_000_000, 0)), nil
}

// PositionEntry is one token's reported on-chain position.
type PositionEntry struct {
	TokenID string `json:"asset"`
	Size    string `json:"size"`
}

func (c *Client) GetPositions(ctx context.Context) ([]PositionEntry, error) {
	headers, err := c.auth.L2Headers("GET", "/positions", "")
	if err != nil {
		return nil, err
	}
	var out []PositionEntry
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&out).Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("venuep: get positions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("venuep: get positions returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

// DeriveAPIKey performs the L1-authenticated handshake to obtain or
// rotate the L2 API key triplet, then installs it on auth.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return err
	}
	var out Credentials
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&out).Get("/auth/derive-api-key")
	if err != nil {
		return fmt.Errorf("venuep: derive api key: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("venuep: derive api key returned %d: %s", resp.StatusCode(), resp.String())
	}
	c.auth.SetCredentials(out)
	return nil
}
