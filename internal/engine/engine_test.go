package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/broker"
	"polymarket-mm/internal/bus"
	"polymarket-mm/internal/orders"
	"polymarket-mm/internal/pnl"
	"polymarket-mm/internal/possync"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, withStore bool) (*Engine, *broker.Paper, *strategy.NoOp) {
	t.Helper()
	logger := testLogger()

	brk := broker.NewPaper("paper-test", broker.DefaultPaperConfig(), logger)
	if err := brk.Connect(); err != nil {
		t.Fatalf("connect paper broker: %v", err)
	}
	brk.UpdatePrices(map[string]float64{"BTC-USD": 50000})

	eventBus := bus.New(bus.Config{MaxQueueSize: 1000}, logger)
	ordersMgr := orders.New(brk, true, logger)
	riskSup := risk.New(types.RiskLimits{
		MaxPositionSize:    1_000_000,
		MaxPositionPct:     1,
		MaxOrdersPerSecond: 100,
		MaxOrdersPerMinute: 1000,
		MaxDailyLossPct:    1,
		MaxDrawdown:        1,
	}, logger)
	sync := possync.New(brk, false, 0, logger)
	pnlTrk := pnl.New(100000, logger)
	strat := strategy.NewNoOp("test-strategy")

	var st *store.Store
	if withStore {
		dir := t.TempDir()
		var err error
		st, err = store.Open(filepath.Join(dir, "state.db"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
	}

	cfg := DefaultConfig()
	cfg.PositionSyncInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond

	e := New(cfg, eventBus, brk, ordersMgr, riskSup, sync, pnlTrk, st, strat, logger)
	return e, brk, strat
}

func TestStartTransitionsToRunning(t *testing.T) {
	e, _, strat := testEngine(t, false)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)

	if e.State() != StateRunning {
		t.Errorf("got state %q, want running", e.State())
	}
	if !strat.IsStarted() {
		t.Error("expected strategy OnStart to have run")
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	e, _, _ := testEngine(t, false)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)

	if err := e.Start(); err == nil {
		t.Error("expected second Start to be rejected while already running")
	}
}

func TestStopIsIdempotentAndStopsStrategy(t *testing.T) {
	e, _, strat := testEngine(t, false)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.Stop(time.Second)
	e.Stop(time.Second) // must not block or panic

	if e.State() != StateStopped {
		t.Errorf("got state %q, want stopped", e.State())
	}
	if strat.IsStarted() {
		t.Error("expected strategy OnStop to have run")
	}
}

func TestPauseAndResume(t *testing.T) {
	e, _, _ := testEngine(t, false)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)

	e.Pause()
	if e.State() != StatePaused {
		t.Fatalf("got state %q, want paused", e.State())
	}

	e.Resume()
	if e.State() != StateRunning {
		t.Fatalf("got state %q, want running", e.State())
	}
}

func TestPauseWhileNotRunningIsNoOp(t *testing.T) {
	e, _, _ := testEngine(t, false)
	e.Pause()
	if e.State() != StateCreated {
		t.Errorf("got state %q, want created (Pause should be a no-op)", e.State())
	}
}

func TestSignalSubmitsOrderAndSynthesizesFill(t *testing.T) {
	e, _, strat := testEngine(t, false)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)

	evt := types.Event{
		Kind:      types.EventSignal,
		Timestamp: time.Now(),
		Source:    "test-strategy",
		Payload: types.Signal{
			Symbol:   "BTC-USD",
			Action:   types.Buy,
			Quantity: decimal.NewFromFloat(0.1),
			Price:    nil, // market order, fills immediately against the paper broker
		},
	}

	if err := e.onSignal(evt); err != nil {
		t.Fatalf("onSignal: %v", err)
	}

	stats := e.GetStatistics()
	if stats.Engine.SignalsReceived != 1 {
		t.Errorf("got %d signals received, want 1", stats.Engine.SignalsReceived)
	}
	if stats.Orders.OrdersSubmitted != 1 {
		t.Errorf("got %d orders submitted, want 1", stats.Orders.OrdersSubmitted)
	}

	// Wait for the bus dispatcher to deliver the fill so the onFill handler
	// (and the strategy's own position bookkeeping) has run before asserting.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(strat.Positions()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	positions := strat.Positions()
	if qty, ok := positions["BTC-USD"]; !ok || qty <= 0 {
		t.Errorf("expected strategy to record a positive BTC-USD position from the synthesized fill, got %v", positions)
	}
}

func TestSignalIgnoredWhenPaused(t *testing.T) {
	e, _, _ := testEngine(t, false)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)
	e.Pause()

	evt := types.Event{
		Kind:      types.EventSignal,
		Timestamp: time.Now(),
		Source:    "test-strategy",
		Payload: types.Signal{
			Symbol:   "BTC-USD",
			Action:   types.Buy,
			Quantity: decimal.NewFromFloat(0.1),
		},
	}
	if err := e.onSignal(evt); err != nil {
		t.Fatalf("onSignal: %v", err)
	}

	if stats := e.GetStatistics(); stats.Orders.OrdersSubmitted != 0 {
		t.Errorf("got %d orders submitted while paused, want 0", stats.Orders.OrdersSubmitted)
	}
}

func TestCrashMarkerWrittenOnStartAndClearedOnCleanStop(t *testing.T) {
	e, _, _ := testEngine(t, true)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	has, err := e.st.HasUnrecoveredCrash(context.Background())
	if err != nil {
		t.Fatalf("HasUnrecoveredCrash: %v", err)
	}
	if !has {
		t.Error("expected a crash marker to be written on Start")
	}

	e.Stop(time.Second)

	has, err = e.st.HasUnrecoveredCrash(context.Background())
	if err != nil {
		t.Fatalf("HasUnrecoveredCrash: %v", err)
	}
	if has {
		t.Error("expected the crash marker to be cleared on a clean Stop")
	}

	latest, err := e.st.GetLatestState(context.Background())
	if err != nil {
		t.Fatalf("GetLatestState: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a state snapshot to have been saved on Stop")
	}
	if latest.State != string(StateStopped) {
		t.Errorf("got saved state %q, want %q", latest.State, StateStopped)
	}
}

func TestRiskViolationPublishedOnOverLimitSignal(t *testing.T) {
	logger := testLogger()
	brk := broker.NewPaper("paper-test", broker.DefaultPaperConfig(), logger)
	brk.Connect()
	brk.UpdatePrices(map[string]float64{"BTC-USD": 50000})

	eventBus := bus.New(bus.Config{MaxQueueSize: 1000}, logger)
	ordersMgr := orders.New(brk, true, logger)
	riskSup := risk.New(types.RiskLimits{
		MaxPositionSize: 1, // any order will exceed this
		MaxOrdersPerSecond: 100,
		MaxOrdersPerMinute: 1000,
	}, logger)
	sync := possync.New(brk, false, 0, logger)
	pnlTrk := pnl.New(100000, logger)
	strat := strategy.NewNoOp("test-strategy")

	e := New(DefaultConfig(), eventBus, brk, ordersMgr, riskSup, sync, pnlTrk, nil, strat, logger)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(time.Second)

	var violationSeen bool
	eventBus.Subscribe(types.EventRiskViolation, func(evt types.Event) error {
		violationSeen = true
		return nil
	})

	price := decimal.NewFromFloat(50000)
	evt := types.Event{
		Kind:      types.EventSignal,
		Timestamp: time.Now(),
		Source:    "test-strategy",
		Payload: types.Signal{
			Symbol:   "BTC-USD",
			Action:   types.Buy,
			Quantity: decimal.NewFromFloat(10),
			Price:    &price, // a priced signal so the risk check evaluates notional-based limits
		},
	}
	if err := e.onSignal(evt); err != nil {
		t.Fatalf("onSignal: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !violationSeen {
		time.Sleep(5 * time.Millisecond)
	}
	if !violationSeen {
		t.Error("expected a risk violation event to be published")
	}
}
