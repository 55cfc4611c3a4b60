// Package planner turns an edge.Opportunity plus a mapping.Mapping into
// the concrete per-venue order parameters internal/execution submits. Leg
// A is always venue P (IOC) and leg B is always venue K (FOK), per the
// load-bearing ordering rationale: venue P can be cancelled cleanly within
// its matching window, venue K cannot, so the reversible leg always goes
// first. client_order_id is generated with google/uuid, following the
// correlation-id convention the sniperterminal and coinbase pack members
// use for tracing a single decision across retries and logs.
package planner

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/edge"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/quote"
)

// LegAParams is the IOC order submitted to venue P.
type LegAParams struct {
	ClientOrderID string
	TokenID       string
	Side          string // "yes" or "no"
	Price         decimal.Decimal
	Size          decimal.Decimal
}

// LegBParams is the FOK order submitted to venue K.
type LegBParams struct {
	ClientOrderID string
	MarketTicker  string
	Side          string // "yes" or "no"
	Price         decimal.Decimal
	Size          decimal.Decimal
}

// Plan derives leg A (venue P) and leg B (venue K) order parameters from
// an opportunity and the interval's venue mapping. Returns an error if the
// mapping is missing the token/ticker the opportunity's orientation needs.
func Plan(opp *edge.Opportunity, m mapping.Mapping) (LegAParams, LegBParams, error) {
	if opp == nil {
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: nil opportunity")
	}
	if !m.Complete() {
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: incomplete mapping for interval %s", opp.Interval)
	}

	var pLeg, kLeg edge.Leg
	switch opp.Orientation {
	case edge.YesFromP_NoFromK:
		pLeg, kLeg = opp.LegYES, opp.LegNO
	case edge.YesFromK_NoFromP:
		pLeg, kLeg = opp.LegNO, opp.LegYES
	default:
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: unknown orientation %q", opp.Orientation)
	}
	if pLeg.Venue != quote.VenueP || kLeg.Venue != quote.VenueK {
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: leg/venue mismatch for orientation %q", opp.Orientation)
	}

	tokenID := m.P.UpTokenID
	if pLeg.Side == "no" {
		tokenID = m.P.DownTokenID
	}
	if tokenID == "" {
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: missing venue P token id for side %q", pLeg.Side)
	}
	if m.K.MarketTicker == "" {
		return LegAParams{}, LegBParams{}, fmt.Errorf("planner: missing venue K market ticker")
	}

	corrID := uuid.NewString()

	legA := LegAParams{
		ClientOrderID: corrID,
		TokenID:       tokenID,
		Side:          pLeg.Side,
		Price:         pLeg.Price,
		Size:          opp.Qty,
	}
	legB := LegBParams{
		ClientOrderID: corrID,
		MarketTicker:  m.K.MarketTicker,
		Side:          kLeg.Side,
		Price:         kLeg.Price,
		Size:          opp.Qty,
	}
	return legA, legB, nil
}
