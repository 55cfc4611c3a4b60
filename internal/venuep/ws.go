package venuep

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/quote"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// bookLevel is a single price/size pair as the market channel emits it.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Buys      []bookLevel `json:"buys"`
	Sells     []bookLevel `json:"sells"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

type wsPriceChangeEvent struct {
	EventType    string          `json:"event_type"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

type wsSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// tokenBook holds the two-sided book for one token ID (up or down), the
// pair this module tracks per interval via mapping.VenueP.
type tokenBook struct {
	mu   sync.Mutex
	bids map[string]decimal.Decimal // price string -> size
	asks map[string]decimal.Decimal
}

func newTokenBook() *tokenBook {
	return &tokenBook{bids: make(map[string]decimal.Decimal), asks: make(map[string]decimal.Decimal)}
}

func (b *tokenBook) applySnapshot(buys, sells []bookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]decimal.Decimal, len(buys))
	b.asks = make(map[string]decimal.Decimal, len(sells))
	for _, lvl := range buys {
		if size, err := decimal.NewFromString(lvl.Size); err == nil {
			b.bids[lvl.Price] = size
		}
	}
	for _, lvl := range sells {
		if size, err := decimal.NewFromString(lvl.Size); err == nil {
			b.asks[lvl.Price] = size
		}
	}
}

func (b *tokenBook) applyChange(side, price, size string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book := b.bids
	if side == "SELL" {
		book = b.asks
	}
	sizeDec, err := decimal.NewFromString(size)
	if err != nil {
		return
	}
	if sizeDec.IsZero() {
		delete(book, price)
	} else {
		book[price] = sizeDec
	}
}

func (b *tokenBook) best(bids bool) (decimal.Decimal, decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book := b.asks
	if bids {
		book = b.bids
	}
	var bestPrice, bestSize decimal.Decimal
	found := false
	for priceStr, size := range book {
		price, err := decimal.NewFromString(priceStr)
		if err != nil || size.IsZero() {
			continue
		}
		better := !found || (bids && price.GreaterThan(bestPrice)) || (!bids && price.LessThan(bestPrice))
		if better {
			bestPrice, bestSize = price, size
			found = true
		}
	}
	return bestPrice, bestSize
}

// OrderbookState tracks both legs of a mapping (up/down token) and
// publishes normalized quotes whenever either side updates.
type OrderbookState struct {
	upTokenID, downTokenID string
	up, down               *tokenBook
}

func newOrderbookState(upTokenID, downTokenID string) *OrderbookState {
	return &OrderbookState{upTokenID: upTokenID, downTokenID: downTokenID, up: newTokenBook(), down: newTokenBook()}
}

// ToNormalized maps up-token bid/ask to YesBid/YesAsk and down-token
// bid/ask to NoBid/NoAsk, following the mapping.VenueP convention that
// "up" is the yes-equivalent side of the box.
func (s *OrderbookState) ToNormalized(now time.Time) quote.NormalizedQuote {
	yesBidP, yesBidS := s.up.best(true)
	yesAskP, yesAskS := s.up.best(false)
	noBidP, noBidS := s.down.best(true)
	noAskP, noAskS := s.down.best(false)

	return quote.NormalizedQuote{
		Venue:   quote.VenueP,
		YesBid:  quote.Side{Price: yesBidP, Size: yesBidS},
		YesAsk:  quote.Side{Price: yesAskP, Size: yesAskS},
		NoBid:   quote.Side{Price: noBidP, Size: noBidS},
		NoAsk:   quote.Side{Price: noAskP, Size: noAskS},
		TsLocal: now,
	}
}

// WSClient streams orderbook snapshots and deltas for venue P's market
// channel, following 0xtitan6-polymarket-mm's WSFeed auto-reconnect loop
// (exponential backoff to 30s, re-subscribe of all tracked token IDs).
type WSClient struct {
	url       string
	onPublish func(quote.NormalizedQuote)
	logger    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	books   map[string]*OrderbookState // keyed by interval pair "up|down"
	byToken map[string]*OrderbookState // keyed by individual token ID
	tracked map[string]bool
}

// NewWSClient creates a WSClient. onPublish is invoked with a fresh
// normalized quote every time a tracked pair's book changes.
func NewWSClient(wsURL string, onPublish func(quote.NormalizedQuote), logger *slog.Logger) *WSClient {
	return &WSClient{
		url:       wsURL,
		onPublish: onPublish,
		logger:    logger.With("component", "venuep_ws"),
		books:     make(map[string]*OrderbookState),
		byToken:   make(map[string]*OrderbookState),
		tracked:   make(map[string]bool),
	}
}

// TrackPair registers an up/down token pair so incoming book events for
// either token update the same OrderbookState and publish a joined quote.
func (w *WSClient) TrackPair(upTokenID, downTokenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := upTokenID + "|" + downTokenID
	if _, ok := w.books[key]; ok {
		return
	}
	state := newOrderbookState(upTokenID, downTokenID)
	w.books[key] = state
	w.byToken[upTokenID] = state
	w.byToken[downTokenID] = state
	w.tracked[upTokenID] = true
	w.tracked[downTokenID] = true
}

// Subscribe adds token IDs (one call per discovered interval's up/down
// pair); ids must already have been registered via TrackPair.
func (w *WSClient) Subscribe(ids []string) error {
	w.mu.Lock()
	conn := w.conn
	for _, id := range ids {
		w.tracked[id] = true
	}
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return w.writeJSON(wsSubscribeMsg{Type: "market", AssetIDs: ids})
}

// Run connects and maintains the connection with exponential backoff
// until ctx is cancelled.
func (w *WSClient) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := w.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("websocket disconnected, reconnecting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (w *WSClient) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("venuep: dial: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	ids := make([]string, 0, len(w.tracked))
	for id := range w.tracked {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		conn.Close()
		w.conn = nil
		w.mu.Unlock()
	}()

	if len(ids) > 0 {
		if err := w.writeJSON(wsSubscribeMsg{Type: "market", AssetIDs: ids}); err != nil {
			return fmt.Errorf("venuep: subscribe: %w", err)
		}
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venuep: read: %w", err)
		}
		w.handleMessage(raw)
	}
}

func (w *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				w.logger.Warn("ping failed", "err", err)
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			w.logger.Warn("venuep: malformed book event", "err", err)
			return
		}
		state := w.stateFor(evt.AssetID)
		if state == nil {
			return
		}
		book := state.up
		if evt.AssetID == state.downTokenID {
			book = state.down
		}
		book.applySnapshot(evt.Buys, evt.Sells)
		w.publish(state)
	case "price_change":
		var evt wsPriceChangeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			w.logger.Warn("venuep: malformed price_change event", "err", err)
			return
		}
		touched := make(map[*OrderbookState]bool)
		for _, change := range evt.PriceChanges {
			state := w.stateFor(change.AssetID)
			if state == nil {
				continue
			}
			book := state.up
			if change.AssetID == state.downTokenID {
				book = state.down
			}
			book.applyChange(change.Side, change.Price, change.Size)
			touched[state] = true
		}
		for state := range touched {
			w.publish(state)
		}
	}
}

func (w *WSClient) stateFor(tokenID string) *OrderbookState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.byToken[tokenID]
}

func (w *WSClient) publish(state *OrderbookState) {
	if w.onPublish == nil {
		return
	}
	w.onPublish(state.ToNormalized(time.Now()))
}

func (w *WSClient) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("venuep: websocket not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *WSClient) writeMessage(msgType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("venuep: websocket not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(msgType, data)
}
