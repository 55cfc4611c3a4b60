package venuek

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func fixedTestTime() time.Time {
	return time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
}

func TestCentsToDecimalRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 45, 100, 999}
	for _, cents := range cases {
		d := centsToDecimal(cents)
		back := decimalToCents(d)
		if back != cents {
			t.Errorf("centsToDecimal(%d) -> %s -> decimalToCents = %d, want %d", cents, d, back, cents)
		}
	}
}

func TestCentsToDecimalScale(t *testing.T) {
	got := centsToDecimal(45)
	want := decimal.NewFromFloat(0.45)
	if !got.Equal(want) {
		t.Errorf("centsToDecimal(45) = %s, want %s", got, want)
	}
}

func TestOrderbookStateSnapshotAndDelta(t *testing.T) {
	book := newOrderbookState("KXBTC-1400")
	book.applySnapshot([][2]int64{{45, 100}, {44, 50}}, [][2]int64{{53, 80}})

	yesBidP, yesBidS := bestLevel(book.yes, true)
	if yesBidP != 45 || yesBidS != 100 {
		t.Fatalf("best yes bid = (%d, %d), want (45, 100)", yesBidP, yesBidS)
	}

	book.applyDelta("yes", 46, 20)
	yesBidP, yesBidS = bestLevel(book.yes, true)
	if yesBidP != 46 || yesBidS != 20 {
		t.Fatalf("after delta best yes bid = (%d, %d), want (46, 20)", yesBidP, yesBidS)
	}

	book.applyDelta("yes", 46, -20)
	yesBidP, _ = bestLevel(book.yes, true)
	if yesBidP != 45 {
		t.Fatalf("after removing delta level best yes bid = %d, want 45", yesBidP)
	}
}

func TestToNormalizedDerivesComplementaryAsks(t *testing.T) {
	book := newOrderbookState("KXBTC-1400")
	book.applySnapshot([][2]int64{{44, 100}}, [][2]int64{{53, 80}})

	q := book.ToNormalized(fixedTestTime())

	if !q.YesBid.Price.Equal(decimal.NewFromFloat(0.44)) {
		t.Errorf("YesBid.Price = %s, want 0.44", q.YesBid.Price)
	}
	if !q.NoBid.Price.Equal(decimal.NewFromFloat(0.53)) {
		t.Errorf("NoBid.Price = %s, want 0.53", q.NoBid.Price)
	}
	// no_ask = 100 - yes_bid = 56
	if !q.NoAsk.Price.Equal(decimal.NewFromFloat(0.56)) {
		t.Errorf("NoAsk.Price = %s, want 0.56", q.NoAsk.Price)
	}
	// yes_ask = 100 - no_bid = 47
	if !q.YesAsk.Price.Equal(decimal.NewFromFloat(0.47)) {
		t.Errorf("YesAsk.Price = %s, want 0.47", q.YesAsk.Price)
	}
}

func TestStrikePriceFallsBackToTitleRegex(t *testing.T) {
	m := Market{Title: "Will BTC be above 100,250.50 at 2:00pm ET?"}
	got := m.StrikePrice()
	want := 100250.50
	if got != want {
		t.Errorf("StrikePrice() = %v, want %v", got, want)
	}
}
