// Package position tracks cost basis per interval/market across both
// venues. It generalizes the teacher's reconstructEntry/reconcilePositions
// (internal/strategy/strategy.go) — which rebuilds a weighted-average entry
// price for a single Kalshi ticker from its fills API — into a two-venue
// VWAP tracker with a bounded fill history ring buffer, used both for
// normal fill bookkeeping and for seeding state from venue truth on
// startup.
package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
)

// Fill is one executed trade on one venue, on one side (yes/no) of a box.
type Fill struct {
	Venue     quote.Venue
	Side      string // "yes" or "no"
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
	OrderID   string
}

// Leg is the running cost-basis for one side (yes or no) of one interval's
// box, accumulated across one or more fills.
type Leg struct {
	Venue     quote.Venue
	Qty       decimal.Decimal
	VWAPPrice decimal.Decimal
	TotalFees decimal.Decimal
}

// add merges a fill into the leg's VWAP cost basis.
func (l *Leg) add(f Fill) {
	if l.Qty.IsZero() {
		l.Venue = f.Venue
		l.Qty = f.Qty
		l.VWAPPrice = f.Price
		l.TotalFees = f.Fee
		return
	}
	totalCost := l.VWAPPrice.Mul(l.Qty).Add(f.Price.Mul(f.Qty))
	newQty := l.Qty.Add(f.Qty)
	if newQty.IsPositive() {
		l.VWAPPrice = totalCost.Div(newQty)
	}
	l.Qty = newQty
	l.TotalFees = l.TotalFees.Add(f.Fee)
}

// reduce retires qty at the leg's existing pool-average VWAP price, the
// way a sell-to-unwind or trim leaves cost basis on the remaining
// quantity unchanged. Clamps at zero instead of going negative, and
// zeroes VWAPPrice once the leg is fully closed out.
func (l *Leg) reduce(qty, fee decimal.Decimal) {
	if qty.GreaterThan(l.Qty) {
		qty = l.Qty
	}
	l.Qty = l.Qty.Sub(qty)
	l.TotalFees = l.TotalFees.Add(fee)
	if l.Qty.IsZero() {
		l.VWAPPrice = decimal.Zero
	}
}

const ringSize = 64

// ring is a fixed-capacity circular buffer of recent fills, oldest
// overwritten first, used for diagnostics and reconciliation audits
// without unbounded memory growth over a long-running process.
type ring struct {
	buf   [ringSize]Fill
	next  int
	count int
}

func (r *ring) push(f Fill) {
	r.buf[r.next] = f
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

func (r *ring) recent() []Fill {
	out := make([]Fill, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += ringSize
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%ringSize])
	}
	return out
}

// Book holds the open box position for one interval: a YES leg and a NO
// leg, each possibly on a different venue.
type Book struct {
	Interval interval.Key
	YES      Leg
	NO       Leg
	fills    ring
}

// Balance returns |qty_yes - qty_no|, the imbalance spec.md §4.E's guard
// checks against its configured cap.
func (b *Book) Balance() decimal.Decimal {
	return b.YES.Qty.Sub(b.NO.Qty).Abs()
}

// RecordFill merges a fill into the correct leg and appends it to the
// recent-fill ring buffer.
func (b *Book) RecordFill(f Fill) {
	switch f.Side {
	case "yes":
		b.YES.add(f)
	case "no":
		b.NO.add(f)
	}
	b.fills.push(f)
}

// RecordUnwind retires qty from the correct leg at its pool-average VWAP
// instead of blending it into the VWAP the way RecordFill's entry fills do,
// and still appends to the recent-fill ring for audit.
func (b *Book) RecordUnwind(f Fill) {
	switch f.Side {
	case "yes":
		b.YES.reduce(f.Qty, f.Fee)
	case "no":
		b.NO.reduce(f.Qty, f.Fee)
	}
	b.fills.push(f)
}

// RecentFills returns up to ringSize most recent fills, oldest first.
func (b *Book) RecentFills() []Fill {
	return b.fills.recent()
}

// CostBasis returns the total dollars committed to this box (both legs,
// excluding fees).
func (b *Book) CostBasis() decimal.Decimal {
	return b.YES.VWAPPrice.Mul(b.YES.Qty).Add(b.NO.VWAPPrice.Mul(b.NO.Qty))
}

// OpenOrder is a live order the tracker brackets around submission so the
// risk guard can bound how many orders are in flight per venue at once.
// Trim marks a trim-excess sell, which does not count against the bound
// (spec.md's open-order cap is about new exposure, not cleanup of an
// existing over-fill).
type OpenOrder struct {
	OrderID string
	Venue   quote.Venue
	Trim    bool
}

// PositionEntry is one interval's net position on one leg, as reported by
// Tracker.Positions.
type PositionEntry struct {
	Interval  interval.Key
	Side      string
	Venue     quote.Venue
	Qty       decimal.Decimal
	VWAPPrice decimal.Decimal
}

// PositionSnapshot is a point-in-time read of every open leg the tracker
// currently holds, across all intervals.
type PositionSnapshot struct {
	Entries []PositionEntry
}

// Tracker holds one Book per interval and the last interval a fill was
// recorded against, mirroring the teacher's single in-memory markets map
// but keyed by interval instead of ticker.
type Tracker struct {
	books        map[int64]*Book
	lastMarketID interval.Key

	ordersMu   sync.Mutex
	openOrders map[string]OpenOrder
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		books:      make(map[int64]*Book),
		openOrders: make(map[string]OpenOrder),
	}
}

func (t *Tracker) keyOf(ivl interval.Key) int64 {
	return ivl.Start.Unix()
}

// BookFor returns (creating if necessary) the Book for an interval.
func (t *Tracker) BookFor(ivl interval.Key) *Book {
	k := t.keyOf(ivl)
	b, ok := t.books[k]
	if !ok {
		b = &Book{Interval: ivl}
		t.books[k] = b
	}
	return b
}

// Record applies a fill to its interval's book and remembers the interval
// as the most recently touched market.
func (t *Tracker) Record(ivl interval.Key, f Fill) {
	t.BookFor(ivl).RecordFill(f)
	t.lastMarketID = ivl
}

// RecordUnwind applies a reduction fill (an unwind or a trim sell) to its
// interval's book at the leg's pool-average cost, per Book.RecordUnwind.
func (t *Tracker) RecordUnwind(ivl interval.Key, f Fill) {
	t.BookFor(ivl).RecordUnwind(f)
	t.lastMarketID = ivl
}

// LastMarketID returns the interval most recently touched by a fill, the
// zero Key if none yet.
func (t *Tracker) LastMarketID() interval.Key {
	return t.lastMarketID
}

// Positions snapshots every currently-held leg across all tracked
// intervals, for the reconciler and the dashboard.
func (t *Tracker) Positions() PositionSnapshot {
	var snap PositionSnapshot
	for _, b := range t.books {
		if b.YES.Qty.IsPositive() {
			snap.Entries = append(snap.Entries, PositionEntry{
				Interval: b.Interval, Side: "yes", Venue: b.YES.Venue,
				Qty: b.YES.Qty, VWAPPrice: b.YES.VWAPPrice,
			})
		}
		if b.NO.Qty.IsPositive() {
			snap.Entries = append(snap.Entries, PositionEntry{
				Interval: b.Interval, Side: "no", Venue: b.NO.Venue,
				Qty: b.NO.Qty, VWAPPrice: b.NO.VWAPPrice,
			})
		}
	}
	return snap
}

// OpenOrder records a live order as in-flight, for OpenOrderCount's
// per-venue bound.
func (t *Tracker) OpenOrder(o OpenOrder) {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()
	t.openOrders[o.OrderID] = o
}

// RemoveOpenOrder retires an order once it's terminal (filled, canceled,
// or rejected).
func (t *Tracker) RemoveOpenOrder(orderID string) {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()
	delete(t.openOrders, orderID)
}

// OpenOrderCount returns the number of live, non-trim orders resting on
// venue, the figure risk.Candidate.OpenOrdersP/K is sourced from.
func (t *Tracker) OpenOrderCount(venue quote.Venue) int {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()
	n := 0
	for _, o := range t.openOrders {
		if o.Venue == venue && !o.Trim {
			n++
		}
	}
	return n
}

// Get returns the Book for an interval without creating one.
func (t *Tracker) Get(ivl interval.Key) (*Book, bool) {
	b, ok := t.books[t.keyOf(ivl)]
	return b, ok
}

// Forget drops a closed-out interval's book, bounding memory growth the
// way the teacher's cleanupMarket drops a ticker from its markets map.
func (t *Tracker) Forget(ivl interval.Key) {
	delete(t.books, t.keyOf(ivl))
}

// VenueFill is the venue-reported shape SeedFromVenueFills reconstructs
// positions from — a deliberately narrow view so either venue's fills API
// response can be adapted into it at the call site.
type VenueFill struct {
	Venue   quote.Venue
	Side    string
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Fee     decimal.Decimal
	At      time.Time
	OrderID string
}

// SeedFromVenueFills rebuilds a Book's VWAP cost basis from a venue's raw
// fills, generalizing the teacher's reconstructEntry (weighted-average
// entry price from the Kalshi fills endpoint) to both venues so the
// process can resume after a restart without re-entering positions it
// already holds.
func (t *Tracker) SeedFromVenueFills(ivl interval.Key, fills []VenueFill) {
	b := t.BookFor(ivl)
	for _, vf := range fills {
		if !vf.Qty.IsPositive() {
			continue
		}
		b.RecordFill(Fill{
			Venue:     vf.Venue,
			Side:      vf.Side,
			Price:     vf.Price,
			Qty:       vf.Qty,
			Fee:       vf.Fee,
			Timestamp: vf.At,
			OrderID:   vf.OrderID,
		})
	}
	t.lastMarketID = ivl
}
