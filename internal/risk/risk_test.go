package risk

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testGuard() *Guard {
	cfg := Config{
		MinEdgeNet:           dec("0.01"),
		MinLegSize:           dec("1"),
		Cooldown:             10 * time.Millisecond,
		CooldownAfterKill:    50 * time.Millisecond,
		MaxDailyLoss:         dec("100"),
		MaxNotional:          dec("1000"),
		MaxOpenOrdersP:       2,
		MaxOpenOrdersK:       2,
		MinMsUntilRollover:   5000,
		MaxQuoteAge:          time.Second,
		MaxPositionImbalance: dec("1"),
	}
	return New(cfg, slog.Default())
}

func validCandidate() Candidate {
	return Candidate{
		EdgeNet:         dec("0.02"),
		LegYESSize:      dec("10"),
		LegNOSize:       dec("10"),
		Notional:        dec("10"),
		OpenOrdersP:     0,
		OpenOrdersK:     0,
		MsUntilRollover: 60000,
		QuoteAge:        0,
		SumYES:          dec("5"),
		SumNO:           dec("5"),
	}
}

func TestEvaluateAllowsCleanCandidate(t *testing.T) {
	g := testGuard()
	d := g.Evaluate(validCandidate())
	if !d.Allow {
		t.Errorf("expected allow, got reject: %s", d.Reason)
	}
}

func TestEvaluateRejectsBelowEdgeFloor(t *testing.T) {
	g := testGuard()
	c := validCandidate()
	c.EdgeNet = dec("0.001")
	d := g.Evaluate(c)
	if d.Allow {
		t.Error("expected rejection for edge below floor")
	}
}

func TestEvaluateRejectsOnPositionImbalance(t *testing.T) {
	g := testGuard()
	c := validCandidate()
	c.SumYES = dec("10")
	c.SumNO = dec("5") // imbalance of 5 > threshold of 1
	d := g.Evaluate(c)
	if d.Allow {
		t.Error("expected rejection for position imbalance")
	}
}

func TestCheckPositionBalanceBoundary(t *testing.T) {
	g := testGuard()
	if !g.CheckPositionBalance(dec("5"), dec("4")) {
		t.Error("imbalance of exactly 1.0 should pass (not strictly greater)")
	}
	if g.CheckPositionBalance(dec("5"), dec("3.9")) {
		t.Error("imbalance of 1.1 should reject")
	}
}

func TestBusyLockNonBlocking(t *testing.T) {
	g := testGuard()
	if !g.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if g.TryAcquire() {
		t.Error("expected second acquire to fail while busy")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Error("expected acquire to succeed after release")
	}
}

func TestKillSwitchBlocksEvaluateUntilCooldownExpires(t *testing.T) {
	g := testGuard()
	g.Kill("test kill")

	if !g.IsKillSwitchActive() {
		t.Fatal("expected kill switch active immediately after Kill")
	}
	d := g.Evaluate(validCandidate())
	if d.Allow {
		t.Error("expected evaluate to reject while kill switch active")
	}

	time.Sleep(60 * time.Millisecond)
	if g.IsKillSwitchActive() {
		t.Error("expected kill switch to clear after cooldown")
	}

	select {
	case sig := <-g.KillCh():
		if sig.Reason != "test kill" {
			t.Errorf("sig.Reason = %q, want %q", sig.Reason, "test kill")
		}
	default:
		t.Error("expected a kill signal on KillCh")
	}
}

func TestCooldownBlocksEvaluate(t *testing.T) {
	g := testGuard()
	g.BeginCooldown()
	d := g.Evaluate(validCandidate())
	if d.Allow {
		t.Error("expected rejection during cooldown")
	}
	time.Sleep(20 * time.Millisecond)
	d = g.Evaluate(validCandidate())
	if !d.Allow {
		t.Errorf("expected allow after cooldown expires, got reject: %s", d.Reason)
	}
}

func TestEvaluateRejectsOnOpenOrderBound(t *testing.T) {
	g := testGuard()
	c := validCandidate()
	c.OpenOrdersP = 2
	d := g.Evaluate(c)
	if d.Allow {
		t.Error("expected rejection at venue P open-order bound")
	}
}

func TestEvaluateRejectsTooCloseToRollover(t *testing.T) {
	g := testGuard()
	c := validCandidate()
	c.MsUntilRollover = 1000
	d := g.Evaluate(c)
	if d.Allow {
		t.Error("expected rejection too close to rollover")
	}
}

func TestEvaluateRejectsOnNotionalCap(t *testing.T) {
	g := testGuard()
	c := validCandidate()
	c.TotalNotionalOpen = dec("995")
	c.Notional = dec("10")
	d := g.Evaluate(c)
	if d.Allow {
		t.Error("expected rejection for exceeding notional cap")
	}
}
