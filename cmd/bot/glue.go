package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/journal"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/reconcile"
	"github.com/sdibella/boxarb/internal/venuek"
	"github.com/sdibella/boxarb/internal/venuep"
)

// seller dispatches volatility.Seller's venue-tagged sell to whichever
// adapter actually holds the position, since neither adapter knows about
// the other and volatility.Manager is built venue-agnostically.
type seller struct {
	p *venuep.Adapter
	k *venuek.Adapter
}

func (s *seller) SellAtBid(ctx context.Context, venue, side string, qty decimal.Decimal) (decimal.Decimal, error) {
	switch quote.Venue(venue) {
	case quote.VenueP:
		fill, err := s.p.SellAtBid(ctx, side, qty)
		return fill.Price, err
	case quote.VenueK:
		fill, err := s.k.SellAtBid(ctx, side, qty)
		return fill.Price, err
	default:
		return decimal.Zero, fmt.Errorf("glue: unknown venue %q", venue)
	}
}

// correctiveExecutor implements reconcile.CorrectiveExecutor. A
// CorrectiveAction only names a side, not a venue, so this consults the
// position tracker's current book to learn which venue is already holding
// each leg — "complete" buys the missing side on whichever venue the
// excess leg is *not* on, "unwind" sells the excess leg on the venue that
// holds it.
type correctiveExecutor struct {
	p       *venuep.Adapter
	k       *venuek.Adapter
	tracker *position.Tracker
	metrics interface{ IncReconcileAction(action string) }
	journal interface{ Log(event any) error }
	dryRun  bool
}

func (c *correctiveExecutor) ExecuteCorrective(ctx context.Context, ivl mapping.Mapping, action reconcile.CorrectiveAction) (bool, error) {
	book, ok := c.tracker.Get(ivl.Interval)
	if !ok {
		return false, fmt.Errorf("glue: no book for interval %s", ivl.Interval)
	}

	var filled bool
	var err error
	switch action.Kind {
	case "unwind":
		leg := legForSide(book, action.Side)
		var fill execution.Fill
		fill, err = c.sellOn(ctx, leg.Venue, action.Side, action.Qty)
		filled = err == nil && fill.Qty.IsPositive()
	case "complete":
		venue := otherVenue(legForSide(book, oppositeSide(action.Side)).Venue)
		var fill execution.Fill
		fill, err = c.buyOn(ctx, venue, action.Side, action.Qty)
		filled = err == nil && fill.Qty.IsPositive()
	default:
		return false, fmt.Errorf("glue: unknown corrective action kind %q", action.Kind)
	}
	if filled {
		if c.metrics != nil {
			c.metrics.IncReconcileAction(action.Kind)
		}
		if c.journal != nil {
			var completePnL, unwindPnL decimal.Decimal
			if action.Kind == "complete" {
				completePnL = action.ExpectedPnL
			} else {
				unwindPnL = action.ExpectedPnL
			}
			_ = c.journal.Log(journal.NewReconcileAction(ivl.Interval, action.Kind, action.Side, action.Qty, completePnL, unwindPnL, c.dryRun))
		}
	}
	return filled, err
}

func legForSide(book *position.Book, side string) position.Leg {
	if side == "yes" {
		return book.YES
	}
	return book.NO
}

func oppositeSide(side string) string {
	if side == "yes" {
		return "no"
	}
	return "yes"
}

// otherVenue returns the venue that is not held, defaulting to venue P
// when neither leg has filled yet (the missing-side venue can't be
// inferred from an empty book, but that shouldn't reach a "complete"
// action in practice since completion requires one leg already filled).
func otherVenue(held quote.Venue) quote.Venue {
	if held == quote.VenueP {
		return quote.VenueK
	}
	return quote.VenueP
}

func (c *correctiveExecutor) sellOn(ctx context.Context, venue quote.Venue, side string, qty decimal.Decimal) (execution.Fill, error) {
	if venue == quote.VenueP {
		return c.p.SellAtBid(ctx, side, qty)
	}
	return c.k.SellAtBid(ctx, side, qty)
}

func (c *correctiveExecutor) buyOn(ctx context.Context, venue quote.Venue, side string, qty decimal.Decimal) (execution.Fill, error) {
	if venue == quote.VenueP {
		return c.p.BuyAtAsk(ctx, side, qty)
	}
	return c.k.BuyAtAsk(ctx, side, qty)
}
