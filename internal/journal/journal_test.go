package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/settlement"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func readLines(t *testing.T, j *Journal) []map[string]any {
	t.Helper()
	j.mu.Lock()
	path := j.f.Name()
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func testInterval() interval.Key {
	start := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	return interval.Key{Start: start, End: start.Add(15 * time.Minute)}
}

func TestSessionStartRoundTrips(t *testing.T) {
	j := openTestJournal(t)
	evt := NewSessionStart("live", true, decimal.NewFromInt(500), 50000)
	if err := j.Log(evt); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, j)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["type"] != "session_start" {
		t.Errorf("type = %v, want session_start", lines[0]["type"])
	}
	if lines[0]["balance_p"] != "500" {
		t.Errorf("balance_p = %v, want 500", lines[0]["balance_p"])
	}
}

func TestLegFillCapturesVenueAndLeg(t *testing.T) {
	j := openTestJournal(t)
	fill := execution.Fill{OrderID: "ord-1", Price: decimal.NewFromFloat(0.45), Qty: decimal.NewFromInt(10), Fee: decimal.Zero, At: time.Now()}
	evt := NewLegFill("exec-1", testInterval(), "a", quote.VenueP, "yes", fill, false)
	if err := j.Log(evt); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, j)
	if lines[0]["venue"] != "P" || lines[0]["leg"] != "a" || lines[0]["side"] != "yes" {
		t.Errorf("unexpected leg fill event: %+v", lines[0])
	}
	if lines[0]["order_id"] != "ord-1" {
		t.Errorf("order_id = %v, want ord-1", lines[0]["order_id"])
	}
}

func TestExecutionOutcomeHandlesNilUnwindFill(t *testing.T) {
	j := openTestJournal(t)
	rec := execution.ExecutionRecord{
		ID:          "exec-2",
		Status:      execution.StatusSuccess,
		RealizedPnL: decimal.NewFromFloat(1.25),
	}
	evt := NewExecutionOutcome(rec, true)
	if err := j.Log(evt); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, j)
	if lines[0]["status"] != "success" {
		t.Errorf("status = %v, want success", lines[0]["status"])
	}
	if _, present := lines[0]["unwound_order_id"]; present {
		t.Errorf("unwound_order_id should be omitted when UnwindFill is nil")
	}
}

func TestSettlementRecordsDeadZone(t *testing.T) {
	j := openTestJournal(t)
	res := settlement.Result{
		Pending: settlement.Pending{
			ExecutionID: "exec-3",
			Interval:    testInterval(),
			Qty:         decimal.NewFromInt(20),
			YesVenue:    quote.VenueP,
			NoVenue:     quote.VenueK,
		},
		RealizedPnL:  decimal.NewFromFloat(-0.5),
		OraclesAgree: false,
		DeadZoneHit:  true,
	}
	evt := NewSettlement(res)
	if err := j.Log(evt); err != nil {
		t.Fatalf("Log: %v", err)
	}

	lines := readLines(t, j)
	if lines[0]["dead_zone_hit"] != true {
		t.Errorf("dead_zone_hit = %v, want true", lines[0]["dead_zone_hit"])
	}
	if lines[0]["yes_venue"] != "P" || lines[0]["no_venue"] != "K" {
		t.Errorf("unexpected venue fields: %+v", lines[0])
	}
}

func TestConcurrentLogWritesDoNotInterleave(t *testing.T) {
	j := openTestJournal(t)
	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			j.Log(NewSessionStart("test", true, decimal.NewFromInt(int64(i)), int64(i)))
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	lines := readLines(t, j)
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d (a line was corrupted by concurrent writes)", len(lines), n)
	}
}
