// Package quote aggregates streaming top-of-book from both venues into a
// per-venue NormalizedQuote, publishing QuoteUpdate events on a channel per
// venue. It generalizes the teacher's OrderbookState
// (internal/kalshi/ws.go, int-cents only) into a decimal-probability
// representation shared by both a Kalshi-shaped and a Polymarket-shaped
// venue, using shopspring/decimal for the arithmetic the edge engine needs.
package quote

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies which of the two venues a quote came from.
type Venue string

const (
	VenueP Venue = "P"
	VenueK Venue = "K"
)

// Side is one side (at one price/size) of a NormalizedQuote.
type Side struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// NormalizedQuote is the per-venue top-of-book snapshot described in
// spec.md §3. Prices are decimal probabilities in [0, 1].
type NormalizedQuote struct {
	Venue      Venue
	YesBid     Side
	YesAsk     Side
	NoBid      Side
	NoAsk      Side
	TsExchange time.Time
	TsLocal    time.Time
}

// Valid reports whether at least one side has a positive size.
func (q NormalizedQuote) Valid() bool {
	return q.YesBid.Size.IsPositive() || q.YesAsk.Size.IsPositive() ||
		q.NoBid.Size.IsPositive() || q.NoAsk.Size.IsPositive()
}

// Crossed is a diagnostic (not automatically excluded): true if bid >= ask
// on either side.
func (q NormalizedQuote) Crossed() bool {
	yesCrossed := q.YesBid.Size.IsPositive() && q.YesAsk.Size.IsPositive() && q.YesBid.Price.GreaterThanOrEqual(q.YesAsk.Price)
	noCrossed := q.NoBid.Size.IsPositive() && q.NoAsk.Size.IsPositive() && q.NoBid.Price.GreaterThanOrEqual(q.NoAsk.Price)
	return yesCrossed || noCrossed
}

// Update is published on a venue's channel whenever its current quote
// changes.
type Update struct {
	Venue Venue
	Quote NormalizedQuote
}

// staleThreshold is the default window after which a venue subscription
// with no updates is considered stale and should be resubscribed, even
// though the connection is nominally open (spec.md §4.C).
const staleThreshold = 30 * time.Second

// Aggregator holds the current quote per venue and fans out updates.
// Consumers see at most one in-flight update per venue at a time but may
// be interleaved across venues (spec.md §4.C contract) since each venue has
// its own channel and its own mutex-guarded "current" slot.
type Aggregator struct {
	mu        sync.RWMutex
	currentP  *NormalizedQuote
	currentK  *NormalizedQuote
	updatesP  chan Update
	updatesK  chan Update
	staleWin  time.Duration
	resubP    func()
	resubK    func()
}

// New creates an Aggregator. resubP/resubK are called (from the watchdog
// goroutine, never inline) when a venue's subscription has gone stale and
// must be resubscribed.
func New(resubP, resubK func()) *Aggregator {
	return &Aggregator{
		updatesP: make(chan Update, 64),
		updatesK: make(chan Update, 64),
		staleWin: staleThreshold,
		resubP:   resubP,
		resubK:   resubK,
	}
}

// Publish normalizes and stores a venue's newest quote, then emits an
// Update on that venue's channel (non-blocking: a full channel drops the
// oldest pending update rather than stalling the venue's reader goroutine).
func (a *Aggregator) Publish(q NormalizedQuote) {
	q.TsLocal = time.Now()

	a.mu.Lock()
	switch q.Venue {
	case VenueP:
		a.currentP = &q
	case VenueK:
		a.currentK = &q
	}
	a.mu.Unlock()

	ch := a.channelFor(q.Venue)
	if ch == nil {
		return
	}
	select {
	case ch <- Update{Venue: q.Venue, Quote: q}:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- Update{Venue: q.Venue, Quote: q}:
		default:
		}
	}
}

func (a *Aggregator) channelFor(v Venue) chan Update {
	switch v {
	case VenueP:
		return a.updatesP
	case VenueK:
		return a.updatesK
	default:
		return nil
	}
}

// UpdatesP returns the channel of quote updates from venue P.
func (a *Aggregator) UpdatesP() <-chan Update { return a.updatesP }

// UpdatesK returns the channel of quote updates from venue K.
func (a *Aggregator) UpdatesK() <-chan Update { return a.updatesK }

// CurrentP returns the most recent venue-P quote, if any.
func (a *Aggregator) CurrentP() (NormalizedQuote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.currentP == nil {
		return NormalizedQuote{}, false
	}
	return *a.currentP, true
}

// CurrentK returns the most recent venue-K quote, if any.
func (a *Aggregator) CurrentK() (NormalizedQuote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.currentK == nil {
		return NormalizedQuote{}, false
	}
	return *a.currentK, true
}

// WatchStaleness runs until stopCh is closed, resubscribing a venue whose
// quote hasn't updated within staleWin. Call it as its own goroutine.
func (a *Aggregator) WatchStaleness(stopCh <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			a.mu.RLock()
			p := a.currentP
			k := a.currentK
			a.mu.RUnlock()

			if p != nil && now.Sub(p.TsLocal) > a.staleWin && a.resubP != nil {
				a.resubP()
			}
			if k != nil && now.Sub(k.TsLocal) > a.staleWin && a.resubK != nil {
				a.resubK()
			}
		}
	}
}
