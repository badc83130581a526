package pnl

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestUpdatePositionPnL(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	pnl := tr.UpdatePositionPnL("AAPL", 100, 150.0, 155.0)
	if pnl != 500.0 {
		t.Fatalf("got %v, want 500.0", pnl)
	}
	if tr.GetUnrealizedPnL() != 500.0 {
		t.Fatalf("got unrealized %v, want 500.0", tr.GetUnrealizedPnL())
	}
}

func TestUpdatePositionPnLZeroQuantityClears(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	tr.UpdatePositionPnL("AAPL", 100, 150.0, 155.0)
	tr.UpdatePositionPnL("AAPL", 0, 150.0, 155.0)
	if tr.GetUnrealizedPnL() != 0 {
		t.Fatalf("got %v, want 0", tr.GetUnrealizedPnL())
	}
}

func TestRecordTradeLongComputesNetPnL(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	entry := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	exit := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	record := tr.RecordTrade("AAPL", entry, exit, 150.0, 155.0, 100, types.TradeLong, 5.0)

	// gross = (155-150)*100 = 500, net = 500 - 5 = 495
	netPnL, _ := record.NetPnL.Float64()
	if netPnL != 495.0 {
		t.Fatalf("got net pnl %v, want 495.0", netPnL)
	}
	if tr.GetTotalPnL() != 495.0 {
		t.Fatalf("got total pnl %v, want 495.0", tr.GetTotalPnL())
	}
}

func TestRecordTradeShortComputesNetPnL(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	entry := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	exit := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	record := tr.RecordTrade("AAPL", entry, exit, 150.0, 145.0, 100, types.TradeShort, 5.0)

	// gross = (150-145)*100 = 500, net = 495
	netPnL, _ := record.NetPnL.Float64()
	if netPnL != 495.0 {
		t.Fatalf("got net pnl %v, want 495.0", netPnL)
	}
}

func TestDailyPnLBucketsByUTCDay(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	d1 := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2026, 1, 2, 0, 30, 0, 0, time.UTC)

	tr.RecordTrade("AAPL", d1.Add(-time.Hour), d1, 100, 110, 10, types.TradeLong, 0)
	tr.RecordTrade("AAPL", d2.Add(-time.Hour), d2, 100, 90, 10, types.TradeLong, 0)

	day1 := tr.GetDailyPnL(d1)
	day2 := tr.GetDailyPnL(d2)

	if day1.TotalTrades != 1 || day2.TotalTrades != 1 {
		t.Fatalf("expected one trade per UTC day bucket, got day1=%d day2=%d", day1.TotalTrades, day2.TotalTrades)
	}
	if !day1.Date.Equal(utcDay(d1)) {
		t.Fatalf("day1 bucket date mismatch: %v vs %v", day1.Date, utcDay(d1))
	}
}

func TestMaxDrawdownIsFractionNotPercentage(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	entry := time.Now().Add(-time.Hour)

	// Win first, to set a peak above initial capital.
	tr.RecordTrade("AAPL", entry, time.Now(), 100, 200, 100, types.TradeLong, 0)
	// Then a large loss.
	tr.RecordTrade("AAPL", entry, time.Now(), 100, 50, 100, types.TradeLong, 0)

	snapshot := tr.GetSnapshot()
	if snapshot.MaxDrawdown <= 0 || snapshot.MaxDrawdown >= 1 {
		t.Fatalf("expected drawdown expressed as a fraction in (0,1), got %v", snapshot.MaxDrawdown)
	}
}

func TestRecordFillEntryOnlyAccountsCommission(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	fill := types.Fill{
		OrderID:    "o1",
		Symbol:     "AAPL",
		Side:       types.Buy,
		Quantity:   decimal.NewFromInt(10),
		Price:      decimal.NewFromFloat(150),
		Commission: decimal.NewFromFloat(1.5),
		Timestamp:  time.Now(),
	}
	record := tr.RecordFill(fill, true, nil, time.Time{})
	if record != nil {
		t.Fatal("expected no trade record for an entry fill")
	}

	snapshot := tr.GetSnapshot()
	if snapshot.TotalCommission != 1.5 {
		t.Fatalf("got commission %v, want 1.5", snapshot.TotalCommission)
	}
}

func TestRecordFillExitProducesTradeWithExplicitEntryTime(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	entryTime := time.Now().Add(-30 * time.Minute)
	entryPrice := 150.0

	fill := types.Fill{
		OrderID:    "o2",
		Symbol:     "AAPL",
		Side:       types.Sell,
		Quantity:   decimal.NewFromInt(10),
		Price:      decimal.NewFromFloat(160),
		Commission: decimal.NewFromFloat(1.0),
		Timestamp:  time.Now(),
	}
	record := tr.RecordFill(fill, false, &entryPrice, entryTime)
	if record == nil {
		t.Fatal("expected a completed trade record for an exit fill")
	}
	if !record.EntryTime.Equal(entryTime) {
		t.Fatalf("got entry time %v, want the explicitly supplied %v", record.EntryTime, entryTime)
	}
}

func TestGetTradesOrdersMostRecentFirstAndLimits(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	base := time.Now().Add(-time.Hour)
	tr.RecordTrade("A", base, base.Add(10*time.Minute), 100, 110, 1, types.TradeLong, 0)
	tr.RecordTrade("B", base, base.Add(20*time.Minute), 100, 110, 1, types.TradeLong, 0)
	tr.RecordTrade("C", base, base.Add(30*time.Minute), 100, 110, 1, types.TradeLong, 0)

	trades := tr.GetTrades(2)
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Symbol != "C" || trades[1].Symbol != "B" {
		t.Fatalf("expected most-recent-first order, got %v then %v", trades[0].Symbol, trades[1].Symbol)
	}
}

func TestGetPerformanceSummaryZeroTrades(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	summary := tr.GetPerformanceSummary()
	if summary["total_trades"] != 0 {
		t.Fatalf("got %v, want 0", summary["total_trades"])
	}
}

func TestGetPerformanceSummaryProfitFactor(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	base := time.Now().Add(-time.Hour)
	tr.RecordTrade("A", base, base.Add(time.Minute), 100, 110, 10, types.TradeLong, 0) // +100
	tr.RecordTrade("B", base, base.Add(2*time.Minute), 100, 95, 10, types.TradeLong, 0) // -50

	summary := tr.GetPerformanceSummary()
	pf, ok := summary["profit_factor"].(float64)
	if !ok || pf != 2.0 {
		t.Fatalf("got profit_factor %v, want 2.0", summary["profit_factor"])
	}
}

func TestEquityCurveGrowsWithTrades(t *testing.T) {
	t.Parallel()

	tr := New(100000, testLogger())
	base := time.Now().Add(-time.Hour)
	tr.RecordTrade("A", base, base.Add(time.Minute), 100, 110, 10, types.TradeLong, 0)

	curve := tr.GetEquityCurve()
	if len(curve) != 2 {
		t.Fatalf("got %d equity points, want 2 (seed + one trade)", len(curve))
	}
	if curve[1].Equity <= curve[0].Equity {
		t.Fatalf("expected equity to grow after a winning trade, got %v then %v", curve[0].Equity, curve[1].Equity)
	}
}
