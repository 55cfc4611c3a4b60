// Package mapping stores, per interval, the pair of venue-specific market
// identifiers that collectively name the same 15-minute window across both
// venues. It generalizes the teacher's single-venue
// map[string]*MarketState (internal/strategy/strategy.go) into a
// venue-pair record keyed by interval instead of by one venue's ticker.
package mapping

import (
	"sync"
	"time"

	"github.com/sdibella/boxarb/internal/interval"
)

// VenueP is the Polymarket-shaped half of a mapping.
type VenueP struct {
	UpTokenID      string
	DownTokenID    string
	Slug           string
	ReferencePrice float64 // 0 means not yet known
}

// VenueK is the Kalshi-shaped half of a mapping.
type VenueK struct {
	EventTicker    string
	MarketTicker   string
	SeriesTicker   string
	ReferencePrice float64
}

func (v VenueP) present() bool { return v.UpTokenID != "" && v.DownTokenID != "" }
func (v VenueK) present() bool { return v.MarketTicker != "" }

// Mapping is the per-interval record described in spec.md §3. Either venue
// half may be absent until discovery completes.
type Mapping struct {
	Interval    interval.Key
	P           VenueP
	K           VenueK
	DiscoveredAt time.Time
}

// Complete reports whether both venue halves are present.
func (m Mapping) Complete() bool { return m.P.present() && m.K.present() }

// Verified reports whether the mapping is complete AND, if both reference
// prices are parseable (non-zero), they agree within tol (a relative
// tolerance, e.g. 0.005 for 0.5%). See DESIGN.md Open Question #1.
func (m Mapping) Verified(tol float64) bool {
	if !m.Complete() {
		return false
	}
	if m.P.ReferencePrice <= 0 || m.K.ReferencePrice <= 0 {
		// Can't cross-check — treat completeness alone as verified.
		return true
	}
	hi := m.P.ReferencePrice
	lo := m.K.ReferencePrice
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi == 0 {
		return true
	}
	diff := (hi - lo) / hi
	return diff <= tol
}

// Store is keyed by interval.Key.Start (unix seconds), since an interval's
// Start uniquely determines the whole Key. Writers are discovery tasks that
// rarely race (per spec.md §4.B), so a plain mutex is sufficient.
type Store struct {
	mu          sync.Mutex
	byStart     map[int64]*Mapping
	maxRetained int
}

// New creates a Store that auto-prunes beyond maxRetained entries on every
// write (default 10 if maxRetained <= 0).
func New(maxRetained int) *Store {
	if maxRetained <= 0 {
		maxRetained = 10
	}
	return &Store{
		byStart:     make(map[int64]*Mapping),
		maxRetained: maxRetained,
	}
}

func (s *Store) getOrCreate(key interval.Key, now time.Time) *Mapping {
	m, ok := s.byStart[key.Start.Unix()]
	if !ok {
		m = &Mapping{Interval: key, DiscoveredAt: now}
		s.byStart[key.Start.Unix()] = m
	}
	return m
}

// SetP merges the venue-P half into the mapping for key, creating the
// mapping if absent. Merge, not overwrite: a zero-value field in v never
// clobbers a previously-set value.
func (s *Store) SetP(key interval.Key, v VenueP, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrCreate(key, now)
	mergeP(&m.P, v)
	s.pruneLocked()
}

// SetK merges the venue-K half into the mapping for key, creating the
// mapping if absent.
func (s *Store) SetK(key interval.Key, v VenueK, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrCreate(key, now)
	mergeK(&m.K, v)
	s.pruneLocked()
}

func mergeP(dst *VenueP, src VenueP) {
	if src.UpTokenID != "" {
		dst.UpTokenID = src.UpTokenID
	}
	if src.DownTokenID != "" {
		dst.DownTokenID = src.DownTokenID
	}
	if src.Slug != "" {
		dst.Slug = src.Slug
	}
	if src.ReferencePrice > 0 {
		dst.ReferencePrice = src.ReferencePrice
	}
}

func mergeK(dst *VenueK, src VenueK) {
	if src.EventTicker != "" {
		dst.EventTicker = src.EventTicker
	}
	if src.MarketTicker != "" {
		dst.MarketTicker = src.MarketTicker
	}
	if src.SeriesTicker != "" {
		dst.SeriesTicker = src.SeriesTicker
	}
	if src.ReferencePrice > 0 {
		dst.ReferencePrice = src.ReferencePrice
	}
}

// Get returns a copy of the mapping for key, or false if none exists.
func (s *Store) Get(key interval.Key) (Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byStart[key.Start.Unix()]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// Current returns the mapping for the interval enclosing now, if any.
func (s *Store) Current(now time.Time) (Mapping, bool) {
	return s.Get(interval.Current(now))
}

// Next returns the mapping for the interval following the one enclosing
// now, if any.
func (s *Store) Next(now time.Time) (Mapping, bool) {
	return s.Get(interval.Next(now))
}

// Prune removes mappings whose DiscoveredAt is older than olderThan.
func (s *Store) Prune(olderThan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.byStart {
		if m.DiscoveredAt.Before(olderThan) {
			delete(s.byStart, k)
		}
	}
}

// pruneLocked enforces maxRetained by evicting the oldest entries. Must be
// called with s.mu held.
func (s *Store) pruneLocked() {
	if len(s.byStart) <= s.maxRetained {
		return
	}
	// Once over maxRetained, first drop everything past the one-hour bound.
	cutoff := time.Now().Add(-time.Hour)
	for k, m := range s.byStart {
		if m.DiscoveredAt.Before(cutoff) {
			delete(s.byStart, k)
		}
	}
	for len(s.byStart) > s.maxRetained {
		var oldestKey int64
		var oldestTime time.Time
		first := true
		for k, m := range s.byStart {
			if first || m.DiscoveredAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = m.DiscoveredAt
				first = false
			}
		}
		delete(s.byStart, oldestKey)
	}
}
