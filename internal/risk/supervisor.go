// Package risk implements pre-trade risk supervision: a synchronous
// check_order call evaluated against configurable limits, a recent-order-rate
// ring, running daily P&L, peak equity/drawdown tracking, and a kill switch
// latch that blocks all order flow once triggered.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// CallbackFunc receives a violation or kill-switch notification. It must
// never panic into the caller; Supervisor recovers from callback panics.
type CallbackFunc func(any)

// Supervisor evaluates orders against risk limits and maintains the
// supervisor-wide kill switch.
type Supervisor struct {
	limits types.RiskLimits
	logger *slog.Logger

	mu               sync.Mutex
	orderTimestamps  []time.Time
	dailyPnL         float64
	peakEquity       float64
	killSwitchActive bool
	killReason       string

	callbacks map[string][]CallbackFunc
}

// New creates a risk supervisor with the given limits.
func New(limits types.RiskLimits, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		limits:    limits,
		logger:    logger.With("component", "risk"),
		callbacks: make(map[string][]CallbackFunc),
	}
}

// RegisterCallback subscribes fn to be called for the named event
// ("violation" or "kill_switch").
func (s *Supervisor) RegisterCallback(event string, fn CallbackFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[event] = append(s.callbacks[event], fn)
}

// IsKillSwitchActive reports whether the kill switch is currently latched.
func (s *Supervisor) IsKillSwitchActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitchActive
}

// TriggerKillSwitch latches the kill switch. All subsequent orders will be
// rejected with a Critical violation until DeactivateKillSwitch is called.
func (s *Supervisor) TriggerKillSwitch(reason string) {
	s.mu.Lock()
	s.killSwitchActive = true
	s.killReason = reason
	s.mu.Unlock()

	s.logger.Error("kill switch triggered", "reason", reason)
	s.notify("kill_switch", reason)
}

// DeactivateKillSwitch releases the latch.
func (s *Supervisor) DeactivateKillSwitch() {
	s.mu.Lock()
	s.killSwitchActive = false
	s.killReason = ""
	s.mu.Unlock()

	s.logger.Info("kill switch deactivated")
}

// UpdateDailyPnL sets the running daily P&L used by the daily-loss checks.
func (s *Supervisor) UpdateDailyPnL(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL = value
}

// ResetDailyMetrics clears daily P&L and the order-rate ring; call at
// session boundaries (e.g. start of trading day).
func (s *Supervisor) ResetDailyMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL = 0
	s.orderTimestamps = nil
}

// RiskMetrics is a point-in-time snapshot of supervisor state.
type RiskMetrics struct {
	KillSwitchActive bool
	KillReason       string
	DailyPnL         float64
	PeakEquity       float64
}

// GetRiskMetrics returns a snapshot of current supervisor bookkeeping.
func (s *Supervisor) GetRiskMetrics() RiskMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RiskMetrics{
		KillSwitchActive: s.killSwitchActive,
		KillReason:       s.killReason,
		DailyPnL:         s.dailyPnL,
		PeakEquity:       s.peakEquity,
	}
}

// CheckOrder evaluates order against the current account and position book
// and returns whether it is safe to submit along with every violation found.
// An order is safe iff no violation carries Critical severity. A latched
// kill switch short-circuits every other rule: only the kill_switch_active
// violation is returned.
func (s *Supervisor) CheckOrder(order types.Order, account types.Account, positions map[string]types.Position) (bool, []types.Violation) {
	s.mu.Lock()

	now := time.Now()

	if s.killSwitchActive {
		v := types.Violation{
			Severity:  types.SeverityCritical,
			Rule:      "kill_switch_active",
			Message:   "kill switch is active: " + s.killReason,
			Timestamp: now,
		}
		s.recordTimestampLocked(now)
		s.mu.Unlock()
		s.notify("violation", v)
		return false, []types.Violation{v}
	}

	var violations []types.Violation
	addViolation := func(v types.Violation) {
		violations = append(violations, v)
	}

	if v, ok := s.checkOrderRateLocked(now); ok {
		addViolation(v)
	}
	if v, ok := s.checkOrderRateMinuteLocked(now); ok {
		addViolation(v)
	}

	notional, hasPrice := orderNotional(order)

	if hasPrice {
		if v, ok := checkMaxPositionSize(notional, s.limits); ok {
			addViolation(v)
		}
		if v, ok := checkMaxPositionPct(notional, account, s.limits); ok {
			addViolation(v)
		}
	}

	if v, ok := checkMaxDailyLoss(s.dailyPnL, s.limits); ok {
		addViolation(v)
	}
	if v, ok := checkMaxDailyLossPct(s.dailyPnL, account, s.limits); ok {
		addViolation(v)
	}

	if hasPrice {
		if v, ok := checkExposure(order, notional, positions, s.limits); ok {
			for _, vv := range v {
				addViolation(vv)
			}
		}
	}

	if v, ok := s.checkDrawdownLocked(account); ok {
		addViolation(v)
	}

	// The new submission timestamp is recorded after evaluating this order's
	// rate checks, but unconditionally regardless of the final safe/unsafe
	// outcome — preserving the source's ordering.
	s.recordTimestampLocked(now)

	safe := true
	for _, v := range violations {
		if v.Severity == types.SeverityCritical {
			safe = false
			break
		}
	}

	s.mu.Unlock()

	// Notify callbacks without holding s.mu: a callback that calls back into
	// the Supervisor (GetRiskMetrics, IsKillSwitchActive, CheckOrder) would
	// otherwise deadlock on this non-reentrant mutex, the same reason
	// TriggerKillSwitch notifies after releasing its lock.
	for _, v := range violations {
		s.notify("violation", v)
	}

	return safe, violations
}

func (s *Supervisor) recordTimestampLocked(now time.Time) {
	s.orderTimestamps = append(s.orderTimestamps, now)
}

func (s *Supervisor) checkOrderRateLocked(now time.Time) (types.Violation, bool) {
	s.pruneTimestampsLocked(now)

	count := 0
	for _, ts := range s.orderTimestamps {
		if now.Sub(ts) < time.Second {
			count++
		}
	}
	if count >= s.limits.MaxOrdersPerSecond {
		return types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "order_rate_per_second",
			Message:   "order rate per second limit reached",
			Timestamp: now,
		}, true
	}
	return types.Violation{}, false
}

func (s *Supervisor) checkOrderRateMinuteLocked(now time.Time) (types.Violation, bool) {
	if len(s.orderTimestamps) >= s.limits.MaxOrdersPerMinute {
		return types.Violation{
			Severity:  types.SeverityMedium,
			Rule:      "order_rate_per_minute",
			Message:   "order rate per minute limit reached",
			Timestamp: now,
		}, true
	}
	return types.Violation{}, false
}

// pruneTimestampsLocked drops ring entries older than one minute.
func (s *Supervisor) pruneTimestampsLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(s.orderTimestamps); i++ {
		if s.orderTimestamps[i].After(cutoff) {
			break
		}
	}
	s.orderTimestamps = s.orderTimestamps[i:]
}

func (s *Supervisor) checkDrawdownLocked(account types.Account) (types.Violation, bool) {
	equity, _ := account.Equity.Float64()
	if equity > s.peakEquity {
		s.peakEquity = equity
	}
	if s.peakEquity == 0 {
		return types.Violation{}, false
	}
	drawdown := (s.peakEquity - equity) / s.peakEquity
	if drawdown >= s.limits.MaxDrawdown {
		return types.Violation{
			Severity:  types.SeverityCritical,
			Rule:      "max_drawdown",
			Message:   "max drawdown exceeded",
			Timestamp: time.Now(),
		}, true
	}
	return types.Violation{}, false
}

func orderNotional(order types.Order) (float64, bool) {
	if order.Price == nil {
		return 0, false
	}
	qty, _ := order.Quantity.Float64()
	price, _ := order.Price.Float64()
	return qty * price, true
}

func checkMaxPositionSize(notional float64, limits types.RiskLimits) (types.Violation, bool) {
	if limits.MaxPositionSize > 0 && notional > limits.MaxPositionSize {
		return types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "max_position_size",
			Message:   "order notional exceeds max position size",
			Timestamp: time.Now(),
		}, true
	}
	return types.Violation{}, false
}

func checkMaxPositionPct(notional float64, account types.Account, limits types.RiskLimits) (types.Violation, bool) {
	equity, _ := account.Equity.Float64()
	if equity <= 0 || limits.MaxPositionPct <= 0 {
		return types.Violation{}, false
	}
	if notional/equity > limits.MaxPositionPct {
		return types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "max_position_pct",
			Message:   "order notional exceeds max position percentage of equity",
			Timestamp: time.Now(),
		}, true
	}
	return types.Violation{}, false
}

func checkMaxDailyLoss(dailyPnL float64, limits types.RiskLimits) (types.Violation, bool) {
	if limits.MaxDailyLoss > 0 && abs(dailyPnL) >= limits.MaxDailyLoss {
		return types.Violation{
			Severity:  types.SeverityCritical,
			Rule:      "max_daily_loss",
			Message:   "max daily loss exceeded",
			Timestamp: time.Now(),
		}, true
	}
	return types.Violation{}, false
}

func checkMaxDailyLossPct(dailyPnL float64, account types.Account, limits types.RiskLimits) (types.Violation, bool) {
	initial, _ := account.InitialCapital.Float64()
	if initial <= 0 || limits.MaxDailyLossPct <= 0 {
		return types.Violation{}, false
	}
	if abs(dailyPnL)/initial >= limits.MaxDailyLossPct {
		return types.Violation{
			Severity:  types.SeverityCritical,
			Rule:      "max_daily_loss_pct",
			Message:   "max daily loss percentage exceeded",
			Timestamp: time.Now(),
		}, true
	}
	return types.Violation{}, false
}

func checkExposure(order types.Order, notional float64, positions map[string]types.Position, limits types.RiskLimits) ([]types.Violation, bool) {
	var totalLong, totalShort float64
	for _, pos := range positions {
		qty, _ := pos.Quantity.Float64()
		mv, _ := pos.MarketValue.Float64()
		value := mv
		if value == 0 {
			price, _ := pos.CurrentPrice.Float64()
			value = qty * price
		}
		if qty > 0 {
			totalLong += value
		} else if qty < 0 {
			totalShort += -value
		}
	}

	if order.Side == types.Buy {
		totalLong += notional
	} else {
		totalShort += notional
	}

	var out []types.Violation
	if limits.MaxLongExposure > 0 && totalLong > limits.MaxLongExposure {
		out = append(out, types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "max_long_exposure",
			Message:   "prospective long exposure exceeds cap",
			Timestamp: time.Now(),
		})
	}
	if limits.MaxShortExposure > 0 && totalShort > limits.MaxShortExposure {
		out = append(out, types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "max_short_exposure",
			Message:   "prospective short exposure exceeds cap",
			Timestamp: time.Now(),
		})
	}
	if limits.MaxTotalExposure > 0 && totalLong+totalShort > limits.MaxTotalExposure {
		out = append(out, types.Violation{
			Severity:  types.SeverityHigh,
			Rule:      "max_total_exposure",
			Message:   "prospective total exposure exceeds cap",
			Timestamp: time.Now(),
		})
	}
	return out, len(out) > 0
}

func (s *Supervisor) notify(event string, payload any) {
	handlers := s.callbacks[event]
	for _, h := range handlers {
		s.safeCall(h, payload)
	}
}

func (s *Supervisor) safeCall(fn CallbackFunc, payload any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in risk callback", "recover", r)
		}
	}()
	fn(payload)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
