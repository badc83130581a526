// Package pnl tracks real-time profit and loss: mark-to-market unrealized
// P&L per position, realized P&L from completed trades, an equity curve,
// and daily aggregates bucketed by UTC calendar day.
package pnl

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Snapshot is a point-in-time summary of tracker state.
type Snapshot struct {
	Timestamp       time.Time
	UnrealizedPnL   float64
	RealizedPnL     float64
	TotalPnL        float64
	DailyPnL        float64
	TotalCommission float64
	OpenPositions   int
	ClosedTrades    int
	WinRate         float64
	MaxDrawdown     float64 // fraction, e.g. 0.10 == 10%
	CurrentDrawdown float64 // fraction
}

// Tracker accumulates P&L for a live trading session.
type Tracker struct {
	initialCapital float64
	startTime      time.Time
	logger         *slog.Logger

	mu              sync.Mutex
	realizedPnL     float64
	totalCommission float64
	positionPnL     map[string]float64
	dailyPnL        map[time.Time]*types.DailyPnL // keyed by UTC day
	trades          []types.TradeRecord
	equityCurve     []EquityPoint
	peakEquity      float64
	maxDrawdown     float64
}

// New creates a P&L tracker seeded with initialCapital.
func New(initialCapital float64, logger *slog.Logger) *Tracker {
	now := time.Now()
	return &Tracker{
		initialCapital: initialCapital,
		startTime:      now,
		logger:         logger.With("component", "pnl"),
		positionPnL:    make(map[string]float64),
		dailyPnL:       make(map[time.Time]*types.DailyPnL),
		equityCurve:    []EquityPoint{{Timestamp: now, Equity: initialCapital}},
		peakEquity:     initialCapital,
	}
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// UpdatePositionPnL recomputes and stores the unrealized P&L for symbol and
// returns it. A zero quantity resets the symbol's contribution to zero.
func (t *Tracker) UpdatePositionPnL(symbol string, quantity, averagePrice, currentPrice float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if quantity == 0 {
		t.positionPnL[symbol] = 0
		return 0
	}

	pnl := (currentPrice - averagePrice) * quantity
	t.positionPnL[symbol] = pnl
	return pnl
}

// UpdateFromPositions refreshes unrealized P&L for every position supplied.
func (t *Tracker) UpdateFromPositions(positions []types.Position) {
	for _, p := range positions {
		qty, _ := p.Quantity.Float64()
		avg, _ := p.AvgPrice.Float64()
		cur, _ := p.CurrentPrice.Float64()
		t.UpdatePositionPnL(p.Symbol, qty, avg, cur)
	}
}

// RecordTrade records a completed round-trip trade and updates realized
// P&L, commission, the daily bucket, and the equity curve/drawdown.
func (t *Tracker) RecordTrade(symbol string, entryTime, exitTime time.Time, entryPrice, exitPrice, quantity float64, side types.TradeSide, commission float64) types.TradeRecord {
	var grossPnL float64
	if side == types.TradeLong {
		grossPnL = (exitPrice - entryPrice) * quantity
	} else {
		grossPnL = (entryPrice - exitPrice) * quantity
	}

	var pnlPct float64
	if denom := entryPrice * quantity; denom != 0 {
		pnlPct = grossPnL / denom * 100
	}
	netPnL := grossPnL - commission

	record := types.TradeRecord{
		Symbol:     symbol,
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		EntryPrice: decimal.NewFromFloat(entryPrice),
		ExitPrice:  decimal.NewFromFloat(exitPrice),
		Quantity:   decimal.NewFromFloat(quantity),
		Side:       side,
		GrossPnL:   decimal.NewFromFloat(grossPnL),
		PnLPct:     pnlPct,
		Commission: decimal.NewFromFloat(commission),
		NetPnL:     decimal.NewFromFloat(netPnL),
	}

	t.mu.Lock()
	t.realizedPnL += netPnL
	t.totalCommission += commission

	day := t.dailyBucketLocked(utcDay(exitTime))
	day.RealizedPnL = day.RealizedPnL.Add(decimal.NewFromFloat(netPnL))
	day.Commission = day.Commission.Add(decimal.NewFromFloat(commission))
	day.TotalTrades++
	if netPnL > 0 {
		day.WinningTrades++
	} else if netPnL < 0 {
		day.LosingTrades++
	}

	t.trades = append(t.trades, record)

	equity := t.totalEquityLocked()
	t.equityCurve = append(t.equityCurve, EquityPoint{Timestamp: exitTime, Equity: equity})
	if equity > t.peakEquity {
		t.peakEquity = equity
	}
	if t.peakEquity > 0 {
		drawdown := (t.peakEquity - equity) / t.peakEquity
		if drawdown > t.maxDrawdown {
			t.maxDrawdown = drawdown
		}
	}
	t.mu.Unlock()

	t.logger.Info("trade recorded", "symbol", symbol, "side", side, "net_pnl", netPnL, "pnl_pct", pnlPct)
	return record
}

// RecordFill records a fill, completing a trade when it closes a position.
// entryTime and entryPrice must be supplied by the caller for exits (the
// order manager/engine tracks the original entry explicitly rather than
// this package approximating it). isEntry fills are commission-accounted
// only; nil is returned since no trade closes on entry.
func (t *Tracker) RecordFill(fill types.Fill, isEntry bool, entryPrice *float64, entryTime time.Time) *types.TradeRecord {
	commission, _ := fill.Commission.Float64()

	t.mu.Lock()
	t.totalCommission += commission
	t.mu.Unlock()

	if isEntry || entryPrice == nil {
		return nil
	}

	side := types.TradeShort
	if fill.Side == types.Sell {
		side = types.TradeLong
	}
	exitPrice, _ := fill.Price.Float64()
	qty, _ := fill.Quantity.Float64()

	record := t.RecordTrade(fill.Symbol, entryTime, fill.Timestamp, *entryPrice, exitPrice, qty, side, commission)
	return &record
}

// GetUnrealizedPnL returns the sum of unrealized P&L across all positions.
func (t *Tracker) GetUnrealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unrealizedLocked()
}

func (t *Tracker) unrealizedLocked() float64 {
	var sum float64
	for _, v := range t.positionPnL {
		sum += v
	}
	return sum
}

// GetTotalPnL returns realized plus unrealized P&L.
func (t *Tracker) GetTotalPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realizedPnL + t.unrealizedLocked()
}

// GetTotalEquity returns initial capital plus total P&L.
func (t *Tracker) GetTotalEquity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalEquityLocked()
}

func (t *Tracker) totalEquityLocked() float64 {
	return t.initialCapital + t.realizedPnL + t.unrealizedLocked()
}

// GetCurrentDrawdown returns the current drawdown from peak equity as a
// fraction in [0, 1].
func (t *Tracker) GetCurrentDrawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peakEquity == 0 {
		return 0
	}
	equity := t.totalEquityLocked()
	return (t.peakEquity - equity) / t.peakEquity
}

// GetDailyPnL returns the aggregate for the UTC calendar day containing
// targetDate. If targetDate is the zero value, today (UTC) is used. The
// unrealized component is refreshed only for today's bucket.
func (t *Tracker) GetDailyPnL(targetDate time.Time) types.DailyPnL {
	t.mu.Lock()
	defer t.mu.Unlock()

	if targetDate.IsZero() {
		targetDate = time.Now()
	}
	day := utcDay(targetDate)
	daily := t.dailyBucketLocked(day)

	if day.Equal(utcDay(time.Now())) {
		daily.UnrealizedPnL = decimal.NewFromFloat(t.unrealizedLocked())
	}
	return *daily
}

func (t *Tracker) dailyBucketLocked(day time.Time) *types.DailyPnL {
	d, ok := t.dailyPnL[day]
	if !ok {
		d = &types.DailyPnL{Date: day}
		t.dailyPnL[day] = d
	}
	return d
}

// GetSnapshot returns the current point-in-time P&L summary.
func (t *Tracker) GetSnapshot() Snapshot {
	t.mu.Lock()
	unrealized := t.unrealizedLocked()
	total := t.realizedPnL + unrealized
	daily := t.dailyBucketLocked(utcDay(time.Now()))

	var winning, totalTrades int
	for _, tr := range t.trades {
		totalTrades++
		if tr.NetPnL.Sign() > 0 {
			winning++
		}
	}
	var winRate float64
	if totalTrades > 0 {
		winRate = float64(winning) / float64(totalTrades)
	}

	var openPositions int
	for _, v := range t.positionPnL {
		if v != 0 {
			openPositions++
		}
	}

	netDaily := daily.RealizedPnL.Add(decimal.NewFromFloat(unrealized)).Sub(daily.Commission)
	netDailyF, _ := netDaily.Float64()

	snapshot := Snapshot{
		Timestamp:       time.Now(),
		UnrealizedPnL:   unrealized,
		RealizedPnL:     t.realizedPnL,
		TotalPnL:        total,
		DailyPnL:        netDailyF,
		TotalCommission: t.totalCommission,
		OpenPositions:   openPositions,
		ClosedTrades:    totalTrades,
		WinRate:         winRate,
		MaxDrawdown:     t.maxDrawdown,
	}
	t.mu.Unlock()

	snapshot.CurrentDrawdown = t.GetCurrentDrawdown()
	return snapshot
}

// GetPerformanceSummary returns a comprehensive, map-shaped summary
// suitable for logging or a status endpoint.
func (t *Tracker) GetPerformanceSummary() map[string]any {
	snapshot := t.GetSnapshot()

	t.mu.Lock()
	totalTrades := len(t.trades)
	if totalTrades == 0 {
		t.mu.Unlock()
		return map[string]any{
			"total_pnl":      snapshot.TotalPnL,
			"realized_pnl":   snapshot.RealizedPnL,
			"unrealized_pnl": snapshot.UnrealizedPnL,
			"total_trades":   0,
		}
	}

	var winSum, lossSum float64
	var winCount, lossCount int
	for _, tr := range t.trades {
		net, _ := tr.NetPnL.Float64()
		if net > 0 {
			winSum += net
			winCount++
		} else if net < 0 {
			lossSum += net
			lossCount++
		}
	}
	t.mu.Unlock()

	var avgWin, avgLoss, profitFactor float64
	if winCount > 0 {
		avgWin = winSum / float64(winCount)
	}
	if lossCount > 0 {
		avgLoss = lossSum / float64(lossCount)
	}
	if lossCount > 0 && lossSum != 0 {
		profitFactor = abs(winSum) / abs(lossSum)
	}

	var returnPct float64
	if t.initialCapital > 0 {
		returnPct = snapshot.TotalPnL / t.initialCapital * 100
	}

	return map[string]any{
		"total_pnl":        snapshot.TotalPnL,
		"realized_pnl":     snapshot.RealizedPnL,
		"unrealized_pnl":   snapshot.UnrealizedPnL,
		"daily_pnl":        snapshot.DailyPnL,
		"total_commission": snapshot.TotalCommission,
		"net_pnl":          snapshot.TotalPnL - snapshot.TotalCommission,
		"return_pct":       returnPct,
		"total_trades":     totalTrades,
		"winning_trades":   winCount,
		"losing_trades":    lossCount,
		"win_rate":         snapshot.WinRate,
		"avg_win":          avgWin,
		"avg_loss":         avgLoss,
		"profit_factor":    profitFactor,
		"max_drawdown":     snapshot.MaxDrawdown,
		"current_drawdown": snapshot.CurrentDrawdown,
		"equity":           t.GetTotalEquity(),
		"open_positions":   snapshot.OpenPositions,
	}
}

// GetTrades returns trade history sorted most-recent-exit-first, optionally
// limited to the most recent `limit` trades.
func (t *Tracker) GetTrades(limit int) []types.TradeRecord {
	t.mu.Lock()
	trades := make([]types.TradeRecord, len(t.trades))
	copy(trades, t.trades)
	t.mu.Unlock()

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ExitTime.After(trades[j].ExitTime)
	})
	if limit > 0 && limit < len(trades) {
		trades = trades[:limit]
	}
	return trades
}

// GetEquityCurve returns a copy of the recorded equity curve.
func (t *Tracker) GetEquityCurve() []EquityPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EquityPoint, len(t.equityCurve))
	copy(out, t.equityCurve)
	return out
}

// ResetDaily ensures today's bucket exists; call at the start of a new
// trading day.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	today := utcDay(time.Now())
	if _, ok := t.dailyPnL[today]; !ok {
		t.dailyPnL[today] = &types.DailyPnL{Date: today}
		t.logger.Info("started new trading day", "date", today.Format("2006-01-02"))
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
