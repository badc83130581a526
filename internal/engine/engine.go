// Package engine is the central orchestrator of the live trading execution
// core. It wires the broker, order manager, risk supervisor, position
// synchronizer, P&L tracker, and state store around the event bus, and
// drives a single attached strategy through its lifecycle.
//
// Lifecycle: New() -> Start() -> [running, Pause()/Resume()] -> Stop(timeout)
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

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

// State is one of the engine's lifecycle states.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Config tunes the engine's background workers and startup behavior.
type Config struct {
	PositionSyncInterval time.Duration
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DryRun               bool
}

// DefaultConfig mirrors the source engine's defaults.
func DefaultConfig() Config {
	return Config{
		PositionSyncInterval: 60 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
	}
}

// Counters are the engine's running statistics.
type Counters struct {
	SignalsReceived int64
	OrdersSubmitted int64
	OrdersFilled    int64
	OrdersRejected  int64
}

// Status is a point-in-time snapshot returned by GetStatus.
type Status struct {
	State           State
	Uptime          time.Duration
	BrokerConnected bool
	Strategy        string
	BusStats        bus.Stats
}

// Statistics is the full statistics payload returned by GetStatistics.
type Statistics struct {
	Engine          Counters
	EngineState     State
	Uptime          time.Duration
	Account         types.Account
	PositionCount   int
	PositionSymbols []string
	Orders          orders.Stats
	Risk            risk.RiskMetrics
}

// StatusCallback receives a Status snapshot; fired once per heartbeat tick.
type StatusCallback func(Status)

// ErrorCallback receives the error that caused a start failure.
type ErrorCallback func(error)

// OrderRejection is the payload published on EventOrderRejected, whether the
// rejection came from the risk supervisor, a failed validation, or the
// broker itself.
type OrderRejection struct {
	Order      types.Order
	Reason     string
	Violations []types.Violation
}

// Engine orchestrates every component of the execution core around a single
// attached strategy.
type Engine struct {
	cfg      Config
	eventBus *bus.Bus
	brk      broker.Broker
	orders   *orders.Manager
	risk     *risk.Supervisor
	sync     *possync.Synchronizer
	pnlTrk   *pnl.Tracker
	st       *store.Store
	strat    strategy.Strategy
	logger   *slog.Logger

	mu          sync.RWMutex
	state       State
	startTime   time.Time
	stats       Counters
	crashMarker *int64

	callbackMu      sync.Mutex
	statusCallbacks []StatusCallback
	errorCallbacks  []ErrorCallback

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires an engine around its components. st may be nil to disable
// crash-safe persistence (e.g. in tests).
func New(cfg Config, eventBus *bus.Bus, brk broker.Broker, ordersMgr *orders.Manager,
	riskSup *risk.Supervisor, sync *possync.Synchronizer, pnlTrk *pnl.Tracker,
	st *store.Store, strat strategy.Strategy, logger *slog.Logger) *Engine {

	e := &Engine{
		cfg:      cfg,
		eventBus: eventBus,
		brk:      brk,
		orders:   ordersMgr,
		risk:     riskSup,
		sync:     sync,
		pnlTrk:   pnlTrk,
		st:       st,
		strat:    strat,
		logger:   logger.With("component", "engine"),
		state:    StateCreated,
	}

	e.orders.RegisterCallback("order_submitted", func(args ...any) {
		order := args[0].(types.Order)
		e.publish(types.EventOrderSubmitted, order, 3)
	})
	e.orders.RegisterCallback("order_rejected", func(args ...any) {
		order := args[0].(types.Order)
		reason, _ := args[1].(string)
		e.publish(types.EventOrderRejected, OrderRejection{Order: order, Reason: reason}, 2)
	})
	e.risk.RegisterCallback("violation", func(payload any) {
		v := payload.(types.Violation)
		e.publish(types.EventRiskViolation, v, 0)
	})

	return e
}

func (e *Engine) publish(kind types.EventKind, payload any, priority int) {
	if err := e.eventBus.Publish(types.Event{
		Priority:  priority,
		Kind:      kind,
		Timestamp: time.Now(),
		Source:    "engine",
		Payload:   payload,
	}); err != nil {
		e.logger.Warn("dropped event, bus queue full", "kind", kind, "error", err)
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start runs the engine's start sequence: connect the broker, start the bus,
// attach and start the strategy, perform an initial position sync, launch
// the background workers, and publish a system-start event. Any failure
// transitions to Error and fires the registered error callbacks.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StateStarting {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running or starting")
	}
	e.state = StateStarting
	e.mu.Unlock()

	if err := e.doStart(); err != nil {
		e.setState(StateError)
		e.notifyError(err)
		return err
	}
	return nil
}

func (e *Engine) doStart() error {
	if !e.brk.IsConnected() {
		e.logger.Info("connecting to broker")
		if err := e.brk.Connect(); err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
	}

	e.eventBus.Start()
	e.subscribeEvents()

	e.strat.SetEventBus(e.eventBus)
	if err := e.strat.OnStart(); err != nil {
		return fmt.Errorf("strategy on_start: %w", err)
	}

	if e.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if hasCrash, err := e.st.HasUnrecoveredCrash(ctx); err != nil {
			e.logger.Error("crash check failed", "error", err)
		} else if hasCrash {
			e.logger.Warn("recovering from an unclean previous shutdown")
		}
		if markerID, err := e.st.MarkCrash(ctx, nil); err != nil {
			e.logger.Error("failed to write crash marker", "error", err)
		} else {
			e.crashMarker = &markerID
		}
		cancel()
	}

	if err := e.syncPositions(); err != nil {
		e.logger.Warn("initial position sync failed", "error", err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(e.ctx)
	e.group = g
	g.Go(func() error { return e.positionSyncWorker(gctx) })
	g.Go(func() error { return e.heartbeatWorker(gctx) })

	e.mu.Lock()
	e.state = StateRunning
	e.startTime = time.Now()
	e.mu.Unlock()

	e.publish(types.EventSystemStart, map[string]any{"engine": "live_execution"}, 0)
	e.logger.Info("engine started", "strategy", e.strat.Name(), "broker", e.brk.Name())
	return nil
}

// Stop runs the engine's stop sequence, bounded by timeout for the
// background-worker join and the bus's own shutdown.
func (e *Engine) Stop(timeout time.Duration) {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateStopping {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	e.mu.Unlock()
	e.logger.Info("stopping engine")

	if err := e.strat.OnStop(); err != nil {
		e.logger.Error("strategy on_stop failed", "error", err)
	}

	for _, o := range e.orders.GetOpenOrders() {
		e.logger.Info("cancelling open order", "order_id", o.ID)
		if err := e.orders.CancelOrder(o.ID); err != nil {
			e.logger.Error("failed to cancel order on shutdown", "order_id", o.ID, "error", err)
		}
	}

	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		if err := e.waitGroup(timeout / 2); err != nil {
			e.logger.Error("background workers reported an error", "error", err)
		}
	}

	// Publish before stopping the bus: Bus.Stop shuts down the dispatcher
	// goroutine, so anything published afterward is enqueued but never
	// delivered to subscribers.
	e.publish(types.EventSystemStop, e.statisticsLocked(), 0)
	e.eventBus.Stop(timeout / 2)

	if err := e.syncPositions(); err != nil {
		e.logger.Error("final position sync failed", "error", err)
	}

	if e.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		snap := e.snapshot()
		snap.State = string(StateStopped)
		if _, err := e.st.SaveState(ctx, snap); err != nil {
			e.logger.Error("failed to save final state", "error", err)
		}
		if e.crashMarker != nil {
			if err := e.st.MarkCrashRecovered(ctx, *e.crashMarker); err != nil {
				e.logger.Error("failed to clear crash marker", "error", err)
			}
		}
		cancel()
	}

	e.setState(StateStopped)
	e.logger.Info("engine stopped")
}

func (e *Engine) waitGroup(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		e.logger.Warn("background workers did not join within timeout")
		return nil
	}
}

// Pause stops new signal-driven order submission while leaving positions and
// background workers untouched.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		e.logger.Warn("cannot pause, engine not running")
		return
	}
	e.state = StatePaused
	e.mu.Unlock()
	e.logger.Info("engine paused")
}

// Resume resumes signal-driven order submission after a Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		e.logger.Warn("cannot resume, engine not paused")
		return
	}
	e.state = StateRunning
	e.mu.Unlock()
	e.logger.Info("engine resumed")
}

func (e *Engine) subscribeEvents() {
	e.eventBus.Subscribe(types.EventSignal, e.onSignal)
	e.eventBus.Subscribe(types.EventFill, e.onFill)
	e.eventBus.Subscribe(types.EventOrderSubmitted, e.onOrderSubmitted)
	e.eventBus.Subscribe(types.EventOrderRejected, e.onOrderRejected)
	e.eventBus.Subscribe(types.EventMarketData, e.onMarketData)
	e.eventBus.Subscribe(types.EventTick, e.onMarketData)
	e.eventBus.Subscribe(types.EventRiskViolation, e.onRiskViolation)
	e.eventBus.Subscribe(types.EventSystemStop, e.onSystemStop)
}

func (e *Engine) onSignal(evt types.Event) error {
	e.mu.Lock()
	e.stats.SignalsReceived++
	running := e.state == StateRunning
	e.mu.Unlock()

	signal, ok := evt.Payload.(types.Signal)
	if !ok {
		return fmt.Errorf("engine: signal event with unexpected payload type %T", evt.Payload)
	}

	if !running {
		e.logger.Debug("ignoring signal, engine not running", "symbol", signal.Symbol)
		return nil
	}

	e.logger.Info("signal received", "action", signal.Action, "symbol", signal.Symbol, "quantity", signal.Quantity)
	order := signalToOrder(signal, evt.Source, evt.Timestamp)

	if e.cfg.DryRun {
		e.logger.Info("dry run: would place order", "symbol", order.Symbol, "side", order.Side, "quantity", order.Quantity)
		return nil
	}

	account, err := e.brk.GetAccount()
	if err != nil {
		return e.rejectOrder(order, fmt.Sprintf("fetch account: %v", err), nil)
	}
	positionList, err := e.brk.GetPositions()
	if err != nil {
		return e.rejectOrder(order, fmt.Sprintf("fetch positions: %v", err), nil)
	}
	positions := make(map[string]types.Position, len(positionList))
	for _, p := range positionList {
		positions[p.Symbol] = p
	}

	if ok, violations := e.risk.CheckOrder(order, account, positions); !ok {
		return e.rejectOrder(order, "risk check failed", violations)
	}

	orderID, err := e.orders.SubmitOrder(order)
	if err != nil {
		e.logger.Error("order submission failed", "error", err)
		return nil
	}

	e.mu.Lock()
	e.stats.OrdersSubmitted++
	e.mu.Unlock()

	e.applyImmediateFill(orderID)
	return nil
}

func (e *Engine) rejectOrder(order types.Order, reason string, violations []types.Violation) error {
	e.mu.Lock()
	e.stats.OrdersRejected++
	e.mu.Unlock()
	e.publish(types.EventOrderRejected, OrderRejection{Order: order, Reason: reason, Violations: violations}, 2)
	e.logger.Warn("order rejected before submission", "symbol", order.Symbol, "reason", reason)
	return nil
}

// applyImmediateFill accounts for brokers (the paper simulator, a dry-run
// venue) that execute market orders synchronously inside PlaceOrder: by the
// time SubmitOrder returns, the order is already filled and its
// FilledQuantity/AvgFillPrice already reflect the broker's own bookkeeping.
// Routing that fact back through orders.Manager.ProcessFill would double
// count it, since ProcessFill adds its fill's quantity on top of whatever
// FilledQuantity already holds. So instead of re-deriving a fill event
// through the order manager, the engine publishes EventFill directly from
// the order's already-settled state, the same event shape an asynchronous
// venue fill would eventually produce. Commission is left at zero here: the
// Broker interface doesn't expose it, only the paper simulator's internal
// fill log does.
func (e *Engine) applyImmediateFill(orderID string) {
	order, ok := e.orders.GetOrder(orderID)
	if !ok || order.FilledQuantity.Sign() <= 0 {
		return
	}
	e.publish(types.EventFill, types.Fill{
		ID:        "fill_" + uuid.NewString(),
		OrderID:   orderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.FilledQuantity,
		Price:     order.AvgFillPrice,
		Timestamp: time.Now(),
	}, 1)
}

func (e *Engine) onFill(evt types.Event) error {
	e.mu.Lock()
	e.stats.OrdersFilled++
	e.mu.Unlock()

	fill, ok := evt.Payload.(types.Fill)
	if !ok {
		return fmt.Errorf("engine: fill event with unexpected payload type %T", evt.Payload)
	}

	e.logger.Info("fill received", "symbol", fill.Symbol, "quantity", fill.Quantity, "price", fill.Price)
	e.strat.OnFill(evt)

	if positions, err := e.brk.GetPositions(); err == nil {
		e.pnlTrk.UpdateFromPositions(positions)
	}

	if err := e.syncPositions(); err != nil {
		e.logger.Error("post-fill position sync failed", "error", err)
	}
	return nil
}

func (e *Engine) onOrderSubmitted(evt types.Event) error {
	e.logger.Debug("order submitted", "payload", evt.Payload)
	return nil
}

func (e *Engine) onOrderRejected(evt types.Event) error {
	e.logger.Warn("order rejected", "payload", evt.Payload)
	return nil
}

func (e *Engine) onMarketData(evt types.Event) error {
	e.strat.OnData(evt)
	return nil
}

func (e *Engine) onRiskViolation(evt types.Event) error {
	v, ok := evt.Payload.(types.Violation)
	if !ok {
		return fmt.Errorf("engine: risk violation event with unexpected payload type %T", evt.Payload)
	}
	e.logger.Warn("risk violation", "rule", v.Rule, "severity", v.Severity, "message", v.Message)
	if v.Severity == types.SeverityCritical {
		e.logger.Error("critical risk violation, pausing engine")
		e.Pause()
	}
	return nil
}

// onSystemStop reacts to an EventSystemStop published by a component other
// than the engine itself — most notably the market data stream giving up
// after exhausting its reconnect attempts. The engine's own Stop publishes
// this same event kind while still StateStopping, just before the bus stops
// dispatching; the state guard below ignores that notice.
// Stop cannot be called synchronously from within a bus-dispatched handler:
// it blocks on eventBus.Stop, which waits for the dispatcher goroutine
// calling this handler to return, so it is spawned the same way the
// heartbeat worker's reconnect-exhaustion path spawns it.
func (e *Engine) onSystemStop(evt types.Event) error {
	e.mu.RLock()
	alreadyStopping := e.state == StateStopping || e.state == StateStopped
	e.mu.RUnlock()
	if alreadyStopping {
		return nil
	}
	e.logger.Error("upstream component requested system stop, stopping engine", "payload", evt.Payload)
	go e.Stop(30 * time.Second)
	return nil
}

// signalToOrder translates a strategy signal into a broker order. The
// metadata carries the originating strategy tag and the signal's own bus
// timestamp, matching the source engine's translation exactly.
func signalToOrder(sig types.Signal, strategyTag string, signalTime time.Time) types.Order {
	orderType := types.OrderTypeMarket
	if sig.Price != nil {
		orderType = types.OrderTypeLimit
	}
	return types.Order{
		Symbol:    sig.Symbol,
		Side:      sig.Action,
		Type:      orderType,
		Quantity:  sig.Quantity,
		Price:     sig.Price,
		Status:    types.OrderStatusCreated,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"strategy":         strategyTag,
			"signal_timestamp": signalTime,
		},
	}
}

func (e *Engine) positionSyncWorker(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PositionSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.syncPositions(); err != nil {
				e.logger.Error("position sync failed", "error", err)
			}
		}
	}
}

// heartbeatWorker publishes a periodic heartbeat, persists a state
// snapshot, and checks broker connectivity. If reconnection is exhausted it
// must stop the engine, but calling Stop synchronously from inside a worker
// this errgroup is waiting on would deadlock Stop's own waitGroup.Wait, so
// it spawns Stop in an untracked goroutine and returns the error that
// triggered it, letting the group's context cancellation unwind the other
// worker on its own.
func (e *Engine) heartbeatWorker(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := e.GetStatus()
			e.publish(types.EventHeartbeat, map[string]any{
				"state":  status.State,
				"uptime": status.Uptime.Seconds(),
			}, 5)
			e.notifyStatus(status)

			if e.st != nil {
				saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if _, err := e.st.SaveState(saveCtx, e.snapshot()); err != nil {
					e.logger.Error("periodic state save failed", "error", err)
				}
				cancel()
			}

			if status.State == StateRunning && !e.brk.IsConnected() {
				e.logger.Warn("broker connection lost, attempting to reconnect")
				if err := e.handleDisconnect(ctx); err != nil {
					e.logger.Error("max reconnection attempts reached, stopping engine", "error", err)
					go e.Stop(30 * time.Second)
					return err
				}
			}
		}
	}
}

func (e *Engine) handleDisconnect(ctx context.Context) error {
	for attempt := 1; attempt <= e.cfg.MaxReconnectAttempts; attempt++ {
		e.logger.Info("reconnection attempt", "attempt", attempt, "max", e.cfg.MaxReconnectAttempts)
		if err := e.brk.Connect(); err == nil {
			e.logger.Info("reconnected to broker")
			if err := e.syncPositions(); err != nil {
				e.logger.Error("resync after reconnect failed", "error", err)
			}
			return nil
		} else {
			e.logger.Error("reconnection attempt failed", "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.ReconnectDelay):
		}
	}
	return fmt.Errorf("exhausted %d reconnect attempts", e.cfg.MaxReconnectAttempts)
}

// syncPositions reconciles the strategy's local position view against the
// broker's, logging (but not failing on) any discrepancies the synchronizer
// finds.
func (e *Engine) syncPositions() error {
	report := e.sync.SyncPositions(e.strat.Positions(), nil)
	if report.HasDiscrepancies() {
		e.logger.Warn("position discrepancies found", "count", len(report.Discrepancies))
	}
	return nil
}

func (e *Engine) snapshot() types.EngineStateSnapshot {
	e.mu.RLock()
	state := e.state
	stats := e.stats
	e.mu.RUnlock()

	positions := make(map[string]types.Position)
	if posList, err := e.brk.GetPositions(); err == nil {
		for _, p := range posList {
			positions[p.Symbol] = p
		}
	}

	var pending []string
	for _, o := range e.orders.GetOpenOrders() {
		pending = append(pending, o.ID)
	}

	return types.EngineStateSnapshot{
		Timestamp:     time.Now(),
		State:         string(state),
		StrategyName:  e.strat.Name(),
		BrokerName:    e.brk.Name(),
		Positions:     positions,
		PendingOrders: pending,
		Statistics: map[string]int64{
			"signals_received": stats.SignalsReceived,
			"orders_submitted": stats.OrdersSubmitted,
			"orders_filled":    stats.OrdersFilled,
			"orders_rejected":  stats.OrdersRejected,
		},
	}
}

// GetStatus returns a lightweight snapshot suitable for frequent polling.
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	state := e.state
	start := e.startTime
	e.mu.RUnlock()

	var uptime time.Duration
	if !start.IsZero() {
		uptime = time.Since(start)
	}

	return Status{
		State:           state,
		Uptime:          uptime,
		BrokerConnected: e.brk.IsConnected(),
		Strategy:        e.strat.Name(),
		BusStats:        e.eventBus.Stats(),
	}
}

// GetStatistics returns the full statistics payload: engine counters,
// account, positions, order manager, and risk metrics.
func (e *Engine) GetStatistics() Statistics {
	return e.statisticsLocked()
}

func (e *Engine) statisticsLocked() Statistics {
	e.mu.RLock()
	state := e.state
	start := e.startTime
	stats := e.stats
	e.mu.RUnlock()

	var uptime time.Duration
	if !start.IsZero() {
		uptime = time.Since(start)
	}

	account, _ := e.brk.GetAccount()
	positionList, _ := e.brk.GetPositions()
	symbols := make([]string, 0, len(positionList))
	for _, p := range positionList {
		symbols = append(symbols, p.Symbol)
	}

	return Statistics{
		Engine:          stats,
		EngineState:     state,
		Uptime:          uptime,
		Account:         account,
		PositionCount:   len(positionList),
		PositionSymbols: symbols,
		Orders:          e.orders.GetStatistics(),
		Risk:            e.risk.GetRiskMetrics(),
	}
}

// RegisterStatusCallback subscribes fn to be invoked with a status snapshot
// on every heartbeat tick.
func (e *Engine) RegisterStatusCallback(fn StatusCallback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.statusCallbacks = append(e.statusCallbacks, fn)
}

// RegisterErrorCallback subscribes fn to be invoked when Start fails.
func (e *Engine) RegisterErrorCallback(fn ErrorCallback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.errorCallbacks = append(e.errorCallbacks, fn)
}

func (e *Engine) notifyStatus(status Status) {
	e.callbackMu.Lock()
	callbacks := append([]StatusCallback(nil), e.statusCallbacks...)
	e.callbackMu.Unlock()
	for _, fn := range callbacks {
		e.safeNotifyStatus(fn, status)
	}
}

func (e *Engine) safeNotifyStatus(fn StatusCallback, status Status) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in status callback", "recover", r)
		}
	}()
	fn(status)
}

func (e *Engine) notifyError(err error) {
	e.callbackMu.Lock()
	callbacks := append([]ErrorCallback(nil), e.errorCallbacks...)
	e.callbackMu.Unlock()
	for _, fn := range callbacks {
		e.safeNotifyError(fn, err)
	}
}

func (e *Engine) safeNotifyError(fn ErrorCallback, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in error callback", "recover", r)
		}
	}()
	fn(err)
}
