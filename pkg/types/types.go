// Package types holds the data model shared across the execution core:
// orders, fills, positions, accounts, trades and the event envelope that
// components pass between each other. Nothing in this package imports any
// other internal package, so every component can depend on it without
// creating import cycles.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus enumerates the order lifecycle states (see the state machine
// owned by the order manager).
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// TradeSide is the round-trip direction of a closed trade.
type TradeSide string

const (
	TradeLong  TradeSide = "long"
	TradeShort TradeSide = "short"
)

// Order is a trading order tracked end-to-end by the order manager.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          *decimal.Decimal // set for Limit orders
	StopPrice      *decimal.Decimal // set for Stop/StopLimit orders
	Status         OrderStatus
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	CreatedAt      time.Time
	SubmittedAt    *time.Time
	FilledAt       *time.Time
	Metadata       map[string]any
}

// IsFilled reports whether the order has been completely filled.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsOpen reports whether the order can still receive fills or be cancelled.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// RemainingQuantity returns the unfilled portion of the order.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill is a single execution against an order.
type Fill struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
	Metadata   map[string]any
}

// TotalCost returns the notional value of the fill plus commission.
func (f Fill) TotalCost() decimal.Decimal {
	return f.Quantity.Mul(f.Price).Add(f.Commission)
}

// Position is the current holding in a single symbol.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal // signed: positive long, negative short
	AvgPrice      decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// CostBasis returns quantity times average entry price.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AvgPrice)
}

// IsFlat reports whether the position carries no quantity.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Account is the broker-reported account state.
type Account struct {
	AccountID      string
	Cash           decimal.Decimal
	Equity         decimal.Decimal
	BuyingPower    decimal.Decimal
	PositionsValue decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	InitialCapital decimal.Decimal
}

// TotalPnL is the sum of unrealized and realized P&L.
func (a Account) TotalPnL() decimal.Decimal {
	return a.UnrealizedPnL.Add(a.RealizedPnL)
}

// ReturnPct is the percentage return on initial capital; zero if initial
// capital is zero.
func (a Account) ReturnPct() float64 {
	if a.InitialCapital.IsZero() {
		return 0
	}
	ret := a.Equity.Sub(a.InitialCapital).Div(a.InitialCapital)
	f, _ := ret.Mul(decimal.NewFromInt(100)).Float64()
	return f
}

// Quote is a simple bid/ask/last snapshot for a symbol.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
}

// Tick is a single market data update for one symbol, as published onto
// the event bus by the market data stream.
type Tick struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// Mid returns (Bid+Ask)/2, or false if either side is zero.
func (t Tick) Mid() (float64, bool) {
	if t.Bid == 0 || t.Ask == 0 {
		return 0, false
	}
	return (t.Bid + t.Ask) / 2, true
}

// TradeRecord is a closed round-trip trade.
type TradeRecord struct {
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	Side       TradeSide
	GrossPnL   decimal.Decimal
	PnLPct     float64
	Commission decimal.Decimal
	NetPnL     decimal.Decimal
}

// DailyPnL is a per-calendar-day aggregate of trading activity.
type DailyPnL struct {
	Date          time.Time
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Commission    decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
}

// NetPnL is realized plus unrealized P&L minus commission for the day.
func (d DailyPnL) NetPnL() decimal.Decimal {
	return d.RealizedPnL.Add(d.UnrealizedPnL).Sub(d.Commission)
}

// WinRate returns the fraction of winning trades, zero if no trades closed.
func (d DailyPnL) WinRate() float64 {
	if d.TotalTrades == 0 {
		return 0
	}
	return float64(d.WinningTrades) / float64(d.TotalTrades)
}

// EngineStateSnapshot is the durable representation of engine state used by
// the state store for crash recovery.
type EngineStateSnapshot struct {
	Timestamp     time.Time
	State         string
	StrategyName  string
	BrokerName    string
	Positions     map[string]Position
	PendingOrders []string
	Statistics    map[string]int64
}

// RiskLimits enumerates every numeric cap the risk supervisor checks.
type RiskLimits struct {
	MaxPositionSize    float64 // absolute notional
	MaxPositionPct     float64 // fraction of equity
	MaxLeverage        float64
	MaxPortfolioRisk   float64
	MaxDrawdown        float64 // fraction, e.g. 0.10
	MaxDailyLoss       float64 // absolute
	MaxDailyLossPct    float64 // fraction of initial capital
	MaxTotalExposure   float64
	MaxLongExposure    float64
	MaxShortExposure   float64
	MaxOrdersPerSecond int
	MaxOrdersPerMinute int
	UseStopLoss        bool
	DefaultStopLossPct float64
}

// Severity classifies how serious a risk violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation describes a single risk rule breach.
type Violation struct {
	Severity  Severity
	Rule      string
	Message   string
	Timestamp time.Time
}

// Signal is what a strategy publishes to request an order be placed.
type Signal struct {
	Symbol   string
	Action   Side
	Quantity decimal.Decimal
	Price    *decimal.Decimal
	Metadata map[string]any
}
