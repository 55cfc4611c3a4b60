package venuek

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/quote"
)

// OrderbookState mirrors the teacher's kalshi.OrderbookState: a per-market
// side-keyed price level map maintained from a snapshot plus deltas. Prices
// stay in integer cents internally (venue K's wire format); ToNormalized
// converts to the shared decimal-probability quote shape on publish.
type OrderbookState struct {
	mu     sync.Mutex
	yes    map[int64]int64 // price_cents -> size
	no     map[int64]int64
	ticker string
}

func newOrderbookState(ticker string) *OrderbookState {
	return &OrderbookState{
		yes:    make(map[int64]int64),
		no:     make(map[int64]int64),
		ticker: ticker,
	}
}

func (s *OrderbookState) applySnapshot(yes, no [][2]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yes = make(map[int64]int64, len(yes))
	s.no = make(map[int64]int64, len(no))
	for _, lvl := range yes {
		s.yes[lvl[0]] = lvl[1]
	}
	for _, lvl := range no {
		s.no[lvl[0]] = lvl[1]
	}
}

func (s *OrderbookState) applyDelta(side string, priceCts, sizeDelta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.yes
	if side == "no" {
		book = s.no
	}
	newSize := book[priceCts] + sizeDelta
	if newSize <= 0 {
		delete(book, priceCts)
	} else {
		book[priceCts] = newSize
	}
}

// bestLevel returns the highest (or, with highest false, the lowest) price
// level with non-zero size, or (0, 0) if the side is empty — analogous to
// the teacher's BestYesBid.
func bestLevel(book map[int64]int64, highest bool) (int64, int64) {
	var bestPrice, bestSize int64
	found := false
	for price, size := range book {
		if size <= 0 {
			continue
		}
		if !found || (highest && price > bestPrice) || (!highest && price < bestPrice) {
			bestPrice, bestSize = price, size
			found = true
		}
	}
	return bestPrice, bestSize
}

// ToNormalized converts the current book into the shared quote shape.
// Venue K quotes yes/no directly (unlike venue P's up/down token framing),
// so YesBid/YesAsk/NoBid/NoAsk map straight across.
func (s *OrderbookState) ToNormalized(now time.Time) quote.NormalizedQuote {
	s.mu.Lock()
	defer s.mu.Unlock()

	yesBidP, yesBidS := bestLevel(s.yes, true)
	noBidP, noBidS := bestLevel(s.no, true)

	// venue K has no separate ask book for a side; the ask on one side is
	// derived from the complementary bid on the other side: yes_ask = 100 - no_bid.
	yesAskCts := int64(0)
	yesAskSize := int64(0)
	if noBidP > 0 {
		yesAskCts = 100 - noBidP
		yesAskSize = noBidS
	}
	noAskCts := int64(0)
	noAskSize := int64(0)
	if yesBidP > 0 {
		noAskCts = 100 - yesBidP
		noAskSize = yesBidS
	}

	return quote.NormalizedQuote{
		Venue:   quote.VenueK,
		YesBid:  quote.Side{Price: centsToDecimal(yesBidP), Size: decimal.New(yesBidS, 0)},
		YesAsk:  quote.Side{Price: centsToDecimal(yesAskCts), Size: decimal.New(yesAskSize, 0)},
		NoBid:   quote.Side{Price: centsToDecimal(noBidP), Size: decimal.New(noBidS, 0)},
		NoAsk:   quote.Side{Price: centsToDecimal(noAskCts), Size: decimal.New(noAskSize, 0)},
		TsLocal: now,
	}
}

type wsSnapshotMsg struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string     `json:"market_ticker"`
		Yes          [][2]int64 `json:"yes"`
		No           [][2]int64 `json:"no"`
	} `json:"msg"`
}

type wsDeltaMsg struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		Price        int64  `json:"price"`
		Delta        int64  `json:"delta"`
		Side         string `json:"side"`
	} `json:"msg"`
}

type wsSubscribeFrame struct {
	ID     int64    `json:"id"`
	Cmd    string   `json:"cmd"`
	Params struct {
		Channels      []string `json:"channels"`
		MarketTickers []string `json:"market_tickers"`
	} `json:"params"`
}

// WSClient streams orderbook snapshots and deltas from venue K, mirroring
// the teacher's kalshi.WSClient auto-reconnect loop.
type WSClient struct {
	url         string
	creds       Credentials
	onPublish   func(quote.NormalizedQuote)
	logger      *slog.Logger

	mu      sync.Mutex
	books   map[string]*OrderbookState
	tracked []string
}

// NewWSClient creates a WSClient. onPublish is invoked with a fresh
// normalized quote every time a market's book changes.
func NewWSClient(wsURL string, creds Credentials, onPublish func(quote.NormalizedQuote), logger *slog.Logger) *WSClient {
	return &WSClient{
		url:       wsURL,
		creds:     creds,
		onPublish: onPublish,
		logger:    logger.With("component", "venuek_ws"),
		books:     make(map[string]*OrderbookState),
	}
}

// Subscribe adds market tickers to the tracked set; the next (re)connect
// sends a subscribe frame for the full tracked list, matching the
// teacher's resubscribe-on-reconnect behavior.
func (w *WSClient) Subscribe(tickers []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]bool, len(w.tracked))
	for _, t := range w.tracked {
		seen[t] = true
	}
	for _, t := range tickers {
		if !seen[t] {
			w.tracked = append(w.tracked, t)
			seen[t] = true
		}
		if _, ok := w.books[t]; !ok {
			w.books[t] = newOrderbookState(t)
		}
	}
	return nil
}

// Run connects and reconnects with a fixed backoff until ctx is cancelled,
// the way the teacher's WSClient.Run/connect does.
func (w *WSClient) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.connect(ctx); err != nil {
			w.logger.Warn("websocket disconnected, reconnecting", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (w *WSClient) connect(ctx context.Context) error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("venuek: parsing ws url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("venuek: dial: %w", err)
	}
	defer conn.Close()

	if err := w.sendSubscribe(conn); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venuek: read: %w", err)
		}
		w.handleMessage(raw)
	}
}

func (w *WSClient) sendSubscribe(conn *websocket.Conn) error {
	w.mu.Lock()
	tickers := append([]string(nil), w.tracked...)
	w.mu.Unlock()
	if len(tickers) == 0 {
		return nil
	}
	frame := wsSubscribeFrame{ID: 1, Cmd: "subscribe"}
	frame.Params.Channels = []string{"orderbook_delta"}
	frame.Params.MarketTickers = tickers
	return conn.WriteJSON(frame)
}

func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		w.logger.Warn("venuek: malformed ws message", "err", err)
		return
	}

	switch envelope.Type {
	case "orderbook_snapshot":
		var msg wsSnapshotMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("venuek: malformed snapshot", "err", err)
			return
		}
		book := w.bookFor(msg.Msg.MarketTicker)
		book.applySnapshot(msg.Msg.Yes, msg.Msg.No)
		w.publish(book)
	case "orderbook_delta":
		var msg wsDeltaMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("venuek: malformed delta", "err", err)
			return
		}
		book := w.bookFor(msg.Msg.MarketTicker)
		book.applyDelta(msg.Msg.Side, msg.Msg.Price, msg.Msg.Delta)
		w.publish(book)
	}
}

func (w *WSClient) bookFor(ticker string) *OrderbookState {
	w.mu.Lock()
	defer w.mu.Unlock()
	book, ok := w.books[ticker]
	if !ok {
		book = newOrderbookState(ticker)
		w.books[ticker] = book
	}
	return book
}

func (w *WSClient) publish(book *OrderbookState) {
	if w.onPublish == nil {
		return
	}
	w.onPublish(book.ToNormalized(time.Now()))
}
